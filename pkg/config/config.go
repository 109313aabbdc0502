package config

import (
	"time"

	"github.com/caffeinator/caffeinator/pkg/assertion"
)

type Config interface {
	DefaultMode() assertion.Mode
	// DefaultDurationSecs is 0 for indefinite sessions.
	DefaultDurationSecs() uint64
	AllowNonRootAccess() bool
	Schedule() string
	ScheduleMode() assertion.Mode
	ScheduleDurationSecs() uint64
	ExpiryPollInterval() time.Duration

	SetDefaultMode(assertion.Mode)
	SetDefaultDurationSecs(uint64)
	SetAllowNonRootAccess(bool)
	SetSchedule(cron string, mode assertion.Mode, durationSecs uint64)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}

// DurationPtr maps the config convention (0 = indefinite) to the session
// convention (nil = indefinite).
func DurationPtr(secs uint64) *uint64 {
	if secs == 0 {
		return nil
	}
	return &secs
}
