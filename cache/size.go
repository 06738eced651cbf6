package cache

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseSize parses a byte count with an optional power-of-1024 suffix
// (b, k, m, g, t, p; case-insensitive). "0" and "512" parse as bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("cache: empty size")
	}
	mult := int64(1)
	numPart := s
	switch s[len(s)-1] {
	case 'b', 'B':
		numPart = s[:len(s)-1]
	case 'k', 'K':
		mult = 1 << 10
		numPart = s[:len(s)-1]
	case 'm', 'M':
		mult = 1 << 20
		numPart = s[:len(s)-1]
	case 'g', 'G':
		mult = 1 << 30
		numPart = s[:len(s)-1]
	case 't', 'T':
		mult = 1 << 40
		numPart = s[:len(s)-1]
	case 'p', 'P':
		mult = 1 << 50
		numPart = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(numPart), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cache: invalid size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("cache: negative size %q", s)
	}
	return n * mult, nil
}

// ParseDuration parses a duration with a required suffix of s, m, h, d, or
// w (seconds, minutes, hours, days, weeks). Unlike time.ParseDuration it
// accepts day/week suffixes and rejects a missing unit.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("cache: empty duration")
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("cache: duration %q missing unit suffix", s)
	}
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cache: invalid duration %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("cache: negative duration %q", s)
	}
	return time.Duration(n) * unit, nil
}
