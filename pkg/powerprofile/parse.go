package powerprofile

import (
	"strconv"
	"strings"
)

const (
	SourceAC      = "AC Power"
	SourceBattery = "Battery"
	SourceUnknown = "Unknown"

	listedByOwnerMarker = "Listed by owning process"
)

// Profile is a point-in-time read of the power configuration.
type Profile struct {
	Source       string   `json:"source"`
	DisplaySleep *uint32  `json:"display_sleep"`
	DiskSleep    *uint32  `json:"disk_sleep"`
	SystemSleep  *uint32  `json:"system_sleep"`
	Assertions   []string `json:"assertions"`
}

// ParseSettings fills the power source and sleep timers from `pmset -g`.
func ParseSettings(out string) Profile {
	return Profile{
		Source:       ParseSource(out),
		DisplaySleep: ParseValue(out, "displaysleep"),
		DiskSleep:    ParseValue(out, "disksleep"),
		SystemSleep:  ParseValue(out, "sleep"),
		Assertions:   []string{},
	}
}

// ParseSource looks for the power source name anywhere in the output.
func ParseSource(out string) string {
	switch {
	case strings.Contains(out, "AC Power"):
		return SourceAC
	case strings.Contains(out, "Battery Power"):
		return SourceBattery
	default:
		return SourceUnknown
	}
}

// ParseValue returns the number following key on the first line that
// starts with key, e.g. "displaysleep         10".
func ParseValue(out, key string) *uint32 {
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, key) {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 2 {
			return nil
		}
		v, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil
		}
		u := uint32(v)
		return &u
	}
	return nil
}

// ParseAssertions extracts "<Type>: PID <n>" entries from the per-process
// section of `pmset -g assertions`. Lines that do not look like
//
//	pid 123(name): [0x0000000100008c3e] 00:10:02 PreventUserIdleSystemSleep named: "..."
//
// are skipped.
func ParseAssertions(out string) []string {
	assertions := []string{}
	inListed := false

	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, listedByOwnerMarker) {
			inListed = true
			continue
		}
		if !inListed || !strings.HasPrefix(strings.TrimSpace(line), "pid") {
			continue
		}

		start := strings.Index(line, "):")
		if start < 0 {
			continue
		}
		rest := line[start+2:]
		end := strings.Index(rest, "]")
		if end < 0 {
			continue
		}
		parts := strings.SplitN(strings.TrimSpace(rest[end+1:]), " ", 3)
		if len(parts) < 2 {
			continue
		}

		owner, _, _ := strings.Cut(line, "(")
		owner = strings.ReplaceAll(strings.TrimSpace(owner), "pid ", "PID ")
		assertions = append(assertions, parts[1]+": "+owner)
	}

	return assertions
}
