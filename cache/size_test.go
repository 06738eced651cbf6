package cache

import (
	"testing"
	"time"
)

func TestParseSize(t *testing.T) {
	var table = []struct {
		input  string
		output int64
	}{
		{"0", 0},
		{"512", 512},
		{"10k", 10 * 1024},
		{"10K", 10 * 1024},
		{"1m", 1 << 20},
		{"2g", 2 << 30},
		{"1t", 1 << 40},
		{"1b", 1},
	}

	for _, row := range table {
		result, err := ParseSize(row.input)
		if err != nil {
			t.Errorf("ParseSize(%q) returned error %v", row.input, err)
			continue
		}
		if result != row.output {
			t.Errorf("ParseSize(%q) = %d, expected %d", row.input, result, row.output)
		}
	}
}

func TestParseSizeErrors(t *testing.T) {
	for _, input := range []string{"", "k", "-5", "abc"} {
		if _, err := ParseSize(input); err == nil {
			t.Errorf("ParseSize(%q) expected an error", input)
		}
	}
}

func TestParseDuration(t *testing.T) {
	var table = []struct {
		input  string
		output time.Duration
	}{
		{"1s", time.Second},
		{"5m", 5 * time.Minute},
		{"2h", 2 * time.Hour},
		{"1d", 24 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
	}

	for _, row := range table {
		result, err := ParseDuration(row.input)
		if err != nil {
			t.Errorf("ParseDuration(%q) returned error %v", row.input, err)
			continue
		}
		if result != row.output {
			t.Errorf("ParseDuration(%q) = %v, expected %v", row.input, result, row.output)
		}
	}
}

func TestParseDurationErrors(t *testing.T) {
	for _, input := range []string{"", "5", "1x"} {
		if _, err := ParseDuration(input); err == nil {
			t.Errorf("ParseDuration(%q) expected an error", input)
		}
	}
}
