package localizer_test

import (
	"fmt"
	"testing"

	"github.com/shsakib0002/smart-noc/models"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/localizer"
)

func hop(label models.HopLabel, up bool, grade models.StabilityGrade) models.HopHealth {
	status := models.ProbeDown
	if up {
		status = models.ProbeUp
	}
	return models.HopHealth{
		Target: models.HopTarget{Label: label},
		Probe:  models.ProbeResult{Status: status},
		Signal: &models.SignalReading{Grade: grade},
	}
}

// TestLocalize_AllCombinations covers every up/down combination of the three
// hops, each with a stable and an unstable client signal.
func TestLocalize_AllCombinations(t *testing.T) {
	for _, clientUp := range []bool{true, false} {
		for _, baseUp := range []bool{true, false} {
			for _, gwUp := range []bool{true, false} {
				for _, grade := range []models.StabilityGrade{models.GradeStable, models.GradeUnstable} {
					name := fmt.Sprintf("client=%v/base=%v/gw=%v/%s", clientUp, baseUp, gwUp, grade)
					t.Run(name, func(t *testing.T) {
						hops := [3]models.HopHealth{
							hop(models.ClientRadio, clientUp, grade),
							hop(models.BaseRadio, baseUp, models.GradeStable),
							hop(models.Gateway, gwUp, models.GradeUnknown),
						}

						var wantCode models.DiagnosisCode
						var wantCause string
						switch {
						case clientUp && grade == models.GradeUnstable:
							wantCode, wantCause = models.CodeUnstable, "Signal Fluctuating"
						case clientUp:
							wantCode, wantCause = models.CodeLinkUp, "Link Optimal."
						case baseUp:
							wantCode, wantCause = models.CodeClientDown, "Base UP. Client Unreachable."
						case gwUp:
							wantCode, wantCause = models.CodeSectorDown, "Gateway UP. Base DOWN."
						default:
							wantCode, wantCause = models.CodePopIssue, "Gateway Unreachable."
						}

						code, cause := localizer.Localize(hops)
						if code != wantCode || cause != wantCause {
							t.Errorf("got %s %q, want %s %q", code, cause, wantCode, wantCause)
						}
					})
				}
			}
		}
	}
}

func TestLocalize_JitteryClientIsLinkUp(t *testing.T) {
	hops := [3]models.HopHealth{
		hop(models.ClientRadio, true, models.GradeJittery),
		hop(models.BaseRadio, true, models.GradeStable),
		hop(models.Gateway, true, models.GradeUnknown),
	}
	if code, _ := localizer.Localize(hops); code != models.CodeLinkUp {
		t.Errorf("code = %s, want LINK UP", code)
	}
}

func TestLocalize_UpstreamOutageWithClientUpIsLinkUp(t *testing.T) {
	hops := [3]models.HopHealth{
		hop(models.ClientRadio, true, models.GradeStable),
		hop(models.BaseRadio, false, models.GradeOffline),
		hop(models.Gateway, false, models.GradeOffline),
	}
	if code, _ := localizer.Localize(hops); code != models.CodeLinkUp {
		t.Errorf("code = %s, want LINK UP", code)
	}
}

func TestLocalize_SkippedHopsCountAsNotUp(t *testing.T) {
	hops := [3]models.HopHealth{
		{Target: models.HopTarget{Label: models.ClientRadio}, Probe: models.ProbeResult{Status: models.ProbeTimeout}},
		{Target: models.HopTarget{Label: models.BaseRadio}, Probe: models.ProbeResult{Status: models.ProbeSkipped}},
		{Target: models.HopTarget{Label: models.Gateway}, Probe: models.ProbeResult{Status: models.ProbeSkipped}},
	}
	code, cause := localizer.Localize(hops)
	if code != models.CodePopIssue || cause != "Gateway Unreachable." {
		t.Errorf("got %s %q, want POP ISSUE", code, cause)
	}
}

func TestLocalize_PartialLoss(t *testing.T) {
	withStatus := func(label models.HopLabel, status models.ProbeStatus, grade models.StabilityGrade) models.HopHealth {
		return models.HopHealth{
			Target: models.HopTarget{Label: label},
			Probe:  models.ProbeResult{Status: status},
			Signal: &models.SignalReading{Grade: grade},
		}
	}
	tests := []struct {
		name      string
		hops      [3]models.HopHealth
		wantCode  models.DiagnosisCode
		wantCause string
	}{
		{
			name: "lossy client",
			hops: [3]models.HopHealth{
				withStatus(models.ClientRadio, models.ProbeUnstable, models.GradeStable),
				withStatus(models.BaseRadio, models.ProbeUp, models.GradeStable),
				withStatus(models.Gateway, models.ProbeUp, models.GradeUnknown),
			},
			wantCode: models.CodeUnstable, wantCause: "Client Packet Loss.",
		},
		{
			name: "lossy client with fluctuating signal",
			hops: [3]models.HopHealth{
				withStatus(models.ClientRadio, models.ProbeUnstable, models.GradeUnstable),
				withStatus(models.BaseRadio, models.ProbeUp, models.GradeStable),
				withStatus(models.Gateway, models.ProbeUp, models.GradeUnknown),
			},
			wantCode: models.CodeUnstable, wantCause: "Signal Fluctuating",
		},
		{
			name: "lossy base answers for a dead client",
			hops: [3]models.HopHealth{
				withStatus(models.ClientRadio, models.ProbeDown, models.GradeOffline),
				withStatus(models.BaseRadio, models.ProbeUnstable, models.GradeStable),
				withStatus(models.Gateway, models.ProbeUp, models.GradeUnknown),
			},
			wantCode: models.CodeClientDown, wantCause: "Base UP. Client Unreachable.",
		},
		{
			name: "lossy gateway answers for a dead sector",
			hops: [3]models.HopHealth{
				withStatus(models.ClientRadio, models.ProbeDown, models.GradeOffline),
				withStatus(models.BaseRadio, models.ProbeTimeout, models.GradeOffline),
				withStatus(models.Gateway, models.ProbeUnstable, models.GradeUnknown),
			},
			wantCode: models.CodeSectorDown, wantCause: "Gateway UP. Base DOWN.",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, cause := localizer.Localize(tc.hops)
			if code != tc.wantCode || cause != tc.wantCause {
				t.Errorf("got %s %q, want %s %q", code, cause, tc.wantCode, tc.wantCause)
			}
		})
	}
}
