package utils

import (
	"testing"
	"time"
)

func TestHumanize(t *testing.T) {
	cases := []struct {
		input time.Duration
		want  string
	}{
		{0, "0ms"},
		{1500 * time.Millisecond, "1s 500ms"},
		{26*time.Hour + 3*time.Minute + 4*time.Second, "1d 2h 3m 4s"},
		{time.Minute + 5*time.Millisecond, "1m 5ms"},
	}
	for _, tc := range cases {
		if got := Humanize(tc.input); got != tc.want {
			t.Fatalf("expected %q for %v, got %q", tc.want, tc.input, got)
		}
	}
}

func TestAddCommas(t *testing.T) {
	cases := map[int64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		123456:   "123,456",
		1234567:  "1,234,567",
		-9876543: "-9,876,543",
	}
	for input, want := range cases {
		if got := AddCommas(input); got != want {
			t.Fatalf("expected %q for %d, got %q", want, input, got)
		}
	}
}

func TestFormatPercent(t *testing.T) {
	if got := FormatPercent(0, 0); got != "0.00%" {
		t.Fatalf("expected 0.00%%, got %s", got)
	}
	if got := FormatPercent(1, 3); got != "33.33%" {
		t.Fatalf("expected 33.33%%, got %s", got)
	}
}

func TestFormatMegabytes(t *testing.T) {
	if got := FormatMegabytes(1_234_567_890); got != "1,234.57 MB" {
		t.Fatalf("expected 1,234.57 MB, got %s", got)
	}
}
