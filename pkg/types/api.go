package types

import (
	"time"

	"github.com/caffeinator/caffeinator/pkg/assertion"
	"github.com/caffeinator/caffeinator/pkg/procwatch"
	"github.com/caffeinator/caffeinator/pkg/session"
)

// ActivateRequest is the body of PUT /activate and PUT /toggle.
// A missing mode means the configured default mode. A null duration means
// an indefinite session unless UseDefaultDuration is set.
type ActivateRequest struct {
	Mode               *assertion.Mode `json:"mode,omitempty"`
	DurationSecs       *uint64         `json:"duration_secs"`
	UseDefaultDuration bool            `json:"use_default_duration,omitempty"`
}

// WatchRequest is the body of PUT /watch. Exactly one of PID or Name is set.
type WatchRequest struct {
	PID  int32           `json:"pid,omitempty"`
	Name string          `json:"name,omitempty"`
	Mode *assertion.Mode `json:"mode,omitempty"`
}

// WatchStatus is served by GET /watch.
type WatchStatus struct {
	Process *procwatch.Process `json:"process"`
	Status  session.Status     `json:"status"`
}

// ModeInfo describes one assertion mode.
type ModeInfo struct {
	Mode          assertion.Mode `json:"mode"`
	Label         string         `json:"label"`
	AssertionType string         `json:"assertion_type"`
	Flag          string         `json:"flag"`
	Description   string         `json:"description"`
}

// ScheduleRequest is the body of PUT /schedule. An empty Cron clears the
// schedule.
type ScheduleRequest struct {
	Cron         string          `json:"cron"`
	Mode         *assertion.Mode `json:"mode,omitempty"`
	DurationSecs *uint64         `json:"duration_secs,omitempty"`
}

// PostponeRequest is the body of POST /schedule/postpone.
type PostponeRequest struct {
	DurationSecs uint64 `json:"duration_secs"`
}

// ScheduleStatus is served by GET /schedule.
type ScheduleStatus struct {
	Cron         string         `json:"cron"`
	Mode         assertion.Mode `json:"mode"`
	DurationSecs uint64         `json:"duration_secs"`
	NextRuns     []time.Time    `json:"next_runs"`
}
