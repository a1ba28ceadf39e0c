package scheduler

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

var durationRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)(ms|s|m|h|d)?$`)

// ParseDurationMs parses a compact human-authored duration string ("30m",
// "1h", "2d") into milliseconds, defaulting to defaultUnit when the string
// carries no unit suffix. Grounded on the teacher's pkg/cron/duration.go.
func ParseDurationMs(raw string, defaultUnit string) (int64, error) {
	trimmed := strings.TrimSpace(strings.ToLower(raw))
	if trimmed == "" {
		return 0, fmt.Errorf("invalid duration (empty)")
	}
	matches := durationRe.FindStringSubmatch(trimmed)
	if matches == nil {
		return 0, fmt.Errorf("invalid duration: %s", raw)
	}
	value := 0.0
	if _, err := fmt.Sscanf(matches[1], "%f", &value); err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, fmt.Errorf("invalid duration: %s", raw)
	}
	unit := matches[2]
	if unit == "" {
		unit = defaultUnit
	}
	switch unit {
	case "ms":
	case "s":
		value *= 1000
	case "m":
		value *= 60_000
	case "h":
		value *= 3_600_000
	case "d":
		value *= 86_400_000
	default:
		return 0, fmt.Errorf("invalid duration: %s", raw)
	}
	ms := math.Round(value)
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return 0, fmt.Errorf("invalid duration: %s", raw)
	}
	return int64(ms), nil
}
