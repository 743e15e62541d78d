package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseEstimateOptions parses a comma-separated option string ("1, 2, 3")
// into its numeric values, skipping entries that do not parse.
func ParseEstimateOptions(raw string) []float64 {
	parts := strings.Split(raw, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// ValidateEstimateOptions checks that the raw option string contains at least
// two unique, ascending, non-negative decimal values.
func ValidateEstimateOptions(raw string) error {
	parts := strings.Split(raw, ",")
	if len(parts) < 2 {
		return fmt.Errorf("estimate options need at least two values")
	}
	prev := -1.0
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		v, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return fmt.Errorf("estimate option %q is not a number", trimmed)
		}
		if v < 0 {
			return fmt.Errorf("estimate option %v is negative", v)
		}
		if v <= prev {
			return fmt.Errorf("estimate options must be unique and ascending")
		}
		prev = v
	}
	return nil
}
