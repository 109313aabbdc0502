package assertion

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Mode selects which kind of sleep an assertion prevents.
type Mode string

const (
	NoIdleSleep        Mode = "NoIdleSleep"
	NoDisplaySleep     Mode = "NoDisplaySleep"
	PreventSystemSleep Mode = "PreventSystemSleep"
	NetworkActive      Mode = "NetworkActive"
	BackgroundTask     Mode = "BackgroundTask"
)

type modeInfo struct {
	label string
	// assertionType is the IOKit assertion type string (kIOPMAssertionType*).
	assertionType string
	flag          string
	description   string
}

var modes = map[Mode]modeInfo{
	NoIdleSleep: {
		label:         "Idle",
		assertionType: "PreventUserIdleSystemSleep",
		flag:          "i",
		description:   "Prevent the system from idle sleeping",
	},
	NoDisplaySleep: {
		label:         "Display",
		assertionType: "PreventUserIdleDisplaySleep",
		flag:          "d",
		description:   "Prevent the display from sleeping",
	},
	PreventSystemSleep: {
		label:         "System",
		assertionType: "PreventSystemSleep",
		flag:          "s",
		description:   "Prevent system sleep (AC power only)",
	},
	NetworkActive: {
		label:         "Network",
		assertionType: "NetworkClientActive",
		flag:          "n",
		description:   "Keep the system awake for network clients",
	},
	BackgroundTask: {
		label:         "Background",
		assertionType: "BackgroundTask",
		flag:          "b",
		description:   "Keep the system awake for a background task",
	},
}

// AllModes lists every mode in display order.
var AllModes = []Mode{NoIdleSleep, NoDisplaySleep, PreventSystemSleep, NetworkActive, BackgroundTask}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	_, ok := modes[m]
	return ok
}

// Label is the short human readable name, e.g. "Idle".
func (m Mode) Label() string {
	return modes[m].label
}

// AssertionType is the IOKit assertion type passed to IOPMAssertionCreateWithName.
func (m Mode) AssertionType() string {
	return modes[m].assertionType
}

// Flag is the caffeinate(8) style single letter for the mode.
func (m Mode) Flag() string {
	return modes[m].flag
}

func (m Mode) Description() string {
	return modes[m].description
}

// Reason is the human readable reason attached to the assertion. It shows
// up in `pmset -g assertions`.
func (m Mode) Reason() string {
	return fmt.Sprintf("Caffeinator: Preventing %s sleep", m.Label())
}

func (m Mode) String() string {
	return string(m)
}

// ParseMode accepts the wire name, the label or the short flag, ignoring case.
func ParseMode(s string) (Mode, error) {
	in := strings.TrimPrefix(strings.TrimSpace(s), "-")
	for _, m := range AllModes {
		info := modes[m]
		if strings.EqualFold(in, string(m)) || strings.EqualFold(in, info.label) || in == info.flag {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

func (m Mode) MarshalJSON() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("unknown mode %q", string(m))
	}
	return json.Marshal(string(m))
}

func (m *Mode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
