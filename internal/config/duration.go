package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// maxConfigDuration bounds every duration knob. Anything longer is a typo.
const maxConfigDuration = 366 * 24 * time.Hour

// ParseDurationField parses a config duration. Empty input yields 0.
//
// Besides time.ParseDuration syntax it accepts a "d" unit of 24h, so dedup
// windows and retention read naturally: "7d", "1d12h", "1.5d".
// path is the dotted config key used in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, nil
	}
	expanded, err := expandDays(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	d, err := time.ParseDuration(expanded)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	case d > maxConfigDuration:
		return 0, fmt.Errorf("%s: duration %s exceeds %s", path, d, maxConfigDuration)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for empty or zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// expandDays rewrites every "<n>d" term as hours.
func expandDays(s string) (string, error) {
	if !strings.ContainsRune(s, 'd') {
		return s, nil
	}
	var b strings.Builder
	start := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9' || c == '.':
			if start < 0 {
				start = i
			}
			continue
		case c == 'd':
			if start < 0 {
				return "", fmt.Errorf("missing number before unit d")
			}
			days, err := strconv.ParseFloat(s[start:i], 64)
			if err != nil {
				return "", err
			}
			b.WriteString(strconv.FormatFloat(days*24, 'f', -1, 64))
			b.WriteByte('h')
		default:
			if start >= 0 {
				b.WriteString(s[start:i])
			}
			b.WriteByte(c)
		}
		start = -1
	}
	if start >= 0 {
		b.WriteString(s[start:])
	}
	return b.String(), nil
}
