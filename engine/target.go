package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// TARGET - Parsed form of an indicator's stored target encoding
// =============================================================================

// Target is the parsed form of a stored target value. Value is always set;
// Range is set for range encodings (Value is then the range maximum).
type Target struct {
	Value float64
	Range *Range
}

// ParseTarget accepts every stored target encoding:
//
//	"80"                   plain number
//	"80%"                  percentage string
//	"3-5", "3% - 5%"       min-max string
//	{"min": 3, "max": 5}   JSON range
//	"true", "false"        boolean as 1/0
//
// An empty string returns ok=false with no error.
func ParseTarget(raw string) (Target, bool, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Target{}, false, nil
	}

	switch strings.ToLower(s) {
	case "true", "yes":
		return Target{Value: 1}, true, nil
	case "false", "no":
		return Target{Value: 0}, true, nil
	}

	if strings.HasPrefix(s, "{") {
		var r struct {
			Min *float64 `json:"min"`
			Max *float64 `json:"max"`
		}
		if err := json.Unmarshal([]byte(s), &r); err != nil || r.Min == nil || r.Max == nil {
			return Target{}, false, fmt.Errorf("%w: %q", ErrInvalidTarget, raw)
		}
		rng := Range{Min: *r.Min, Max: *r.Max}.Normalize()
		return Target{Value: rng.Max, Range: &rng}, true, nil
	}

	if n, ok := parsePercentNumber(s); ok {
		return Target{Value: n}, true, nil
	}

	// Range separator: a '-' that is not a leading sign.
	if i := strings.Index(s[1:], "-"); i >= 0 {
		lo, okLo := parsePercentNumber(s[:i+1])
		hi, okHi := parsePercentNumber(s[i+2:])
		if okLo && okHi {
			rng := Range{Min: lo, Max: hi}.Normalize()
			return Target{Value: rng.Max, Range: &rng}, true, nil
		}
	}

	return Target{}, false, fmt.Errorf("%w: %q", ErrInvalidTarget, raw)
}

func parsePercentNumber(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return finite(f), true
}
