package events

import (
	"encoding/json"

	"github.com/caffeinator/caffeinator/pkg/session"
)

// Event name constants
const (
	SessionChanged = "session.changed"
	ScheduleAction = "schedule.action"
)

// Causes of a session.changed event.
const (
	CauseActivate   = "activate"
	CauseDeactivate = "deactivate"
	CauseExpire     = "expire"
	CauseWatchExit  = "watch-exit"
	CauseSchedule   = "schedule"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// SessionChangedEvent is the typed payload for session.changed.
type SessionChangedEvent struct {
	Status session.Status `json:"status"`
	Cause  string         `json:"cause"`
	Ts     int64          `json:"ts"`
}

// ScheduleActionEvent is the typed payload for schedule.action.
type ScheduleActionEvent struct {
	Action  string `json:"action"` // run, skip, postpone, set, clear
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
