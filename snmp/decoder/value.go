// Package decoder turns raw gosnmp variable bindings into the plain integers
// the telemetry sampler works with. Radios disagree on how they encode signal
// counters (Integer, Gauge32, or a numeric OctetString), so every form is
// normalised here rather than at the call sites.
package decoder

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gosnmp/gosnmp"
)

// IsErrorType reports whether the PDU carries a retrieval error instead of a
// value.
func IsErrorType(t gosnmp.Asn1BER) bool {
	switch t {
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		return true
	}
	return false
}

// NormaliseOID strips the leading dot gosnmp puts on response names.
func NormaliseOID(oid string) string {
	return strings.TrimPrefix(strings.TrimSpace(oid), ".")
}

// Int64 converts a numeric varbind. Floats are rounded; numeric OctetStrings
// such as "-605" or "-60.5 dBm" are parsed.
func Int64(pdu gosnmp.SnmpPDU) (int64, error) {
	if IsErrorType(pdu.Type) {
		return 0, fmt.Errorf("decoder: %s is %s", pdu.Name, pdu.Type)
	}
	switch pdu.Type {
	case gosnmp.OctetString, gosnmp.ObjectDescription:
		return numericText(pdu.Value)
	case gosnmp.OpaqueFloat:
		if f, ok := pdu.Value.(float32); ok {
			return int64(math.Round(float64(f))), nil
		}
	case gosnmp.OpaqueDouble:
		if f, ok := pdu.Value.(float64); ok {
			return int64(math.Round(f)), nil
		}
	}
	return integer(pdu.Value)
}

// integer widens whatever integer type gosnmp decoded the value into.
func integer(v interface{}) (int64, error) {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
	default:
		return 0, fmt.Errorf("decoder: %T is not numeric", v)
	}
	n := gosnmp.ToBigInt(v)
	if !n.IsInt64() {
		return 0, fmt.Errorf("decoder: %s overflows int64", n)
	}
	return n.Int64(), nil
}

// numericText reads the leading number of a display string, dropping a unit
// suffix and NUL padding.
func numericText(v interface{}) (int64, error) {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case []byte:
		s = string(x)
	default:
		return 0, fmt.Errorf("decoder: %T is not text", v)
	}
	s = strings.TrimSpace(strings.TrimRight(s, "\x00"))
	end := strings.IndexFunc(s, func(r rune) bool {
		return r != '-' && r != '+' && r != '.' && (r < '0' || r > '9')
	})
	if end >= 0 {
		s = strings.TrimSpace(s[:end])
	}
	if s == "" {
		return 0, fmt.Errorf("decoder: no number in text value")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("decoder: parse %q: %w", s, err)
	}
	return int64(math.Round(f)), nil
}
