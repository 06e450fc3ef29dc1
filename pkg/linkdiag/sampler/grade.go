package sampler

import (
	"fmt"
	"math"

	"github.com/shsakib0002/smart-noc/models"
)

// Spread thresholds in dB separating the stability grades.
const (
	StableSpread  = 2.5
	JitterySpread = 6.0
)

// DefaultDivisor converts tenths-of-dB counters to dB.
const DefaultDivisor = 10

// ToDbm converts a raw counter to dBm. Radios report the magnitude in tenths
// of a dB with inconsistent sign, so the result is always -|raw/divisor|.
// A zero reading means the chain is idle and is reported as not ok.
func ToDbm(raw int64, divisor float64) (float64, bool) {
	if raw == 0 {
		return 0, false
	}
	if divisor <= 0 {
		divisor = DefaultDivisor
	}
	return -math.Abs(float64(raw) / divisor), true
}

// Grade reduces a window of dBm samples to a SignalReading. An empty window
// grades UNKNOWN.
func Grade(window []float64) models.SignalReading {
	if len(window) == 0 {
		return models.SignalReading{
			Grade:   models.GradeUnknown,
			Display: models.SignalNotAvailable,
		}
	}

	lo, hi, sum := window[0], window[0], 0.0
	for _, v := range window {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		sum += v
	}
	avg := sum / float64(len(window))
	spread := hi - lo

	r := models.SignalReading{
		AverageDbm: &avg,
		MinDbm:     &lo,
		MaxDbm:     &hi,
		Samples:    len(window),
	}
	switch {
	case spread < StableSpread:
		r.Grade = models.GradeStable
		r.Display = fmt.Sprintf("%.1f dBm", avg)
	case spread < JitterySpread:
		r.Grade = models.GradeJittery
		r.Display = fmt.Sprintf("%.1f ± %.1f dBm", avg, spread/2)
	default:
		r.Grade = models.GradeUnstable
		r.Display = fmt.Sprintf("%.1f ~ %.1f dBm", lo, hi)
	}
	return r
}
