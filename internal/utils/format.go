package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var durationUnits = []struct {
	size time.Duration
	unit string
}{
	{24 * time.Hour, "d"},
	{time.Hour, "h"},
	{time.Minute, "m"},
	{time.Second, "s"},
	{time.Millisecond, "ms"},
}

// Humanize renders d as "1d 2h 3m 4s 5ms", omitting zero units.
func Humanize(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	var parts []string
	for _, u := range durationUnits {
		value := d / u.size
		if value > 0 {
			parts = append(parts, fmt.Sprintf("%d%s", value, u.unit))
		}
		d -= value * u.size
	}
	if len(parts) == 0 {
		return "0ms"
	}
	return strings.Join(parts, " ")
}

func AddCommas(n int64) string {
	digits := strconv.FormatInt(n, 10)
	sign := ""
	if strings.HasPrefix(digits, "-") {
		sign, digits = "-", digits[1:]
	}
	if len(digits) <= 3 {
		return sign + digits
	}

	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return sign + b.String()
}

// FormatPercent renders part/total with two decimals; a zero total is 0.00%.
func FormatPercent(part, total int) string {
	if total <= 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", float64(part)*100/float64(total))
}

// FormatMegabytes renders a byte count in MB with two decimals and commas.
func FormatMegabytes(bytes uint64) string {
	mb := float64(bytes) / 1_000_000
	whole := int64(mb)
	frac := int64((mb-float64(whole))*100 + 0.5)
	if frac >= 100 {
		whole++
		frac -= 100
	}
	return fmt.Sprintf("%s.%02d MB", AddCommas(whole), frac)
}
