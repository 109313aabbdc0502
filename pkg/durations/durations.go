// Package durations parses and formats session lengths.
//
// Accepted input is anything time.ParseDuration understands ("2h", "30m",
// "1h30m", "45s") plus a bare number, which is read as minutes.
package durations

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var ErrInvalid = errors.New("invalid duration")

var indefiniteWords = map[string]bool{
	"":           true,
	"indefinite": true,
	"forever":    true,
	"inf":        true,
	"∞":          true,
}

// Presets are the durations offered in menus, in seconds. Zero means
// indefinite.
var Presets = []uint64{30 * 60, 60 * 60, 2 * 60 * 60, 4 * 60 * 60, 0}

// Parse returns the number of whole seconds in s.
func Parse(s string) (uint64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalid)
	}

	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		if n > math.MaxUint64/60 {
			return 0, fmt.Errorf("%w: %q is too large", ErrInvalid, s)
		}
		return n * 60, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalid, s)
	}
	return uint64(d / time.Second), nil
}

// ParseOptional is like Parse but maps "indefinite", "forever", "inf",
// "∞", the empty string and zero to nil.
func ParseOptional(s string) (*uint64, error) {
	if indefiniteWords[strings.ToLower(strings.TrimSpace(s))] {
		return nil, nil
	}
	n, err := Parse(s)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return &n, nil
}

// Format renders seconds for humans: "1h 30m", "2 hours", "5 minutes".
// Anything under a minute is shown in seconds.
func Format(secs uint64) string {
	h := secs / 3600
	m := (secs % 3600) / 60

	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return plural(h, "hour")
	case m > 0:
		return plural(m, "minute")
	default:
		return plural(secs, "second")
	}
}

// FormatOptional is Format with nil rendered as "indefinitely".
func FormatOptional(secs *uint64) string {
	if secs == nil {
		return "indefinitely"
	}
	return Format(*secs)
}

// Countdown renders the remaining time of a session for the menubar:
// "h:mm" from one hour up, "Nm" below (rounded up, so a running session
// never shows 0m), "∞" for an indefinite session.
func Countdown(remaining *uint64) string {
	if remaining == nil {
		return "∞"
	}
	secs := *remaining
	if secs >= 3600 {
		return fmt.Sprintf("%d:%02d", secs/3600, (secs%3600)/60)
	}
	return fmt.Sprintf("%dm", (secs+59)/60)
}

// Clock renders seconds as "h:mm:ss", or "m:ss" under an hour.
func Clock(secs uint64) string {
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func plural(n uint64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
