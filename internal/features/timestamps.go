package features

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/verte-zerg/keyprint/internal/model"
)

// FormatTimestamps encodes timestamps as a bracketed list, e.g. "[0, 50.5, 100]".
func FormatTimestamps(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ParseTimestamps decodes a bracketed or bare comma-separated list of numbers.
// Blank input yields an empty list. Failures wrap model.ErrParse.
func ParseTimestamps(text string) ([]float64, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "[") != strings.HasSuffix(trimmed, "]") {
		return nil, fmt.Errorf("%w: unbalanced brackets in %q", model.ErrParse, text)
	}
	trimmed = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(trimmed, "["), "]"))
	if trimmed == "" {
		return []float64{}, nil
	}
	parts := strings.Split(trimmed, ",")
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", model.ErrParse, strings.TrimSpace(part))
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %q is not finite", model.ErrParse, strings.TrimSpace(part))
		}
		out = append(out, v)
	}
	return out, nil
}
