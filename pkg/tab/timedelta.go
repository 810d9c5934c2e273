package tab

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseTimedelta parses the compact durations used by time-pass offerings
// ("30s", "1m", "2h", "1d", "1w"). A bare integer is read as seconds.
func ParseTimedelta(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timedelta")
	}

	unit := time.Second
	number := s
	switch s[len(s)-1] {
	case 's':
		number = s[:len(s)-1]
	case 'm':
		unit, number = time.Minute, s[:len(s)-1]
	case 'h':
		unit, number = time.Hour, s[:len(s)-1]
	case 'd':
		unit, number = 24*time.Hour, s[:len(s)-1]
	case 'w':
		unit, number = 7*24*time.Hour, s[:len(s)-1]
	}

	n, err := strconv.ParseInt(number, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timedelta %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid timedelta %q: must be positive", s)
	}
	if n > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("invalid timedelta %q: out of range", s)
	}
	return time.Duration(n) * unit, nil
}

// FormatTimedelta is the inverse of ParseTimedelta, using the largest unit
// that divides d exactly.
func FormatTimedelta(d time.Duration) string {
	units := []struct {
		suffix string
		size   time.Duration
	}{
		{"w", 7 * 24 * time.Hour},
		{"d", 24 * time.Hour},
		{"h", time.Hour},
		{"m", time.Minute},
	}
	for _, u := range units {
		if d >= u.size && d%u.size == 0 {
			return strconv.FormatInt(int64(d/u.size), 10) + u.suffix
		}
	}
	return strconv.FormatInt(int64(d/time.Second), 10) + "s"
}
