package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/caffeinator/caffeinator/pkg/assertion"
	"github.com/caffeinator/caffeinator/pkg/durations"
)

// ErrUnknownMode is returned when activating with a mode that has no
// assertion type.
var ErrUnknownMode = errors.New("unknown assertion mode")

// Status is the externally visible projection of the session.
type Status struct {
	IsActive         bool            `json:"is_active"`
	Mode             *assertion.Mode `json:"mode"`
	RemainingSeconds *uint64         `json:"remaining_seconds"`
	TotalSeconds     *uint64         `json:"total_seconds"`
}

// Session is a copy of the session record.
type Session struct {
	ID       assertion.ID
	Mode     assertion.Mode
	Start    time.Time
	// DurationSecs is nil for an indefinite session.
	DurationSecs *uint64
	// Generation changes every time a session is started, so callers can
	// tell whether the session they looked at has been replaced.
	Generation uint64
}

// Manager owns the single power assertion held by this process.
//
// One lock covers the whole record and the calls into the binding, so
// status reads never observe a half updated session and two activations
// can never hold two assertions at once.
type Manager struct {
	binding assertion.Binding
	now     func() time.Time

	mu         sync.Mutex
	id         assertion.ID
	mode       assertion.Mode
	start      time.Time
	duration   *uint64 // seconds, kept whole so any u64 is representable
	generation uint64
}

func NewManager(binding assertion.Binding) *Manager {
	if binding == nil {
		panic("binding cannot be nil")
	}
	return &Manager{
		binding: binding,
		now:     time.Now,
	}
}

// Activate releases any held assertion and takes a new one for mode.
// A nil durationSecs keeps the session until it is deactivated.
func (m *Manager) Activate(mode assertion.Mode, durationSecs *uint64) (Status, error) {
	st, _, err := m.ActivateSession(mode, durationSecs)
	return st, err
}

// ActivateSession is Activate that also returns the generation of the new
// session, for use with DeactivateIf.
func (m *Manager) ActivateSession(mode assertion.Mode, durationSecs *uint64) (Status, uint64, error) {
	if !mode.Valid() {
		return m.Status(), 0, fmt.Errorf("%w: %q", ErrUnknownMode, string(mode))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.id != assertion.NullID {
		old := m.id
		err := m.binding.Release(old)
		m.clearLocked()
		if err != nil {
			logrus.WithError(err).WithField("id", uint32(old)).Error("failed to release previous assertion")
			return m.statusLocked(), 0, fmt.Errorf("failed to release previous assertion %d: %w", old, err)
		}
	}

	id, err := m.binding.Create(mode, mode.Reason())
	if err != nil {
		return m.statusLocked(), 0, err
	}

	m.id = id
	m.mode = mode
	m.start = m.now()
	m.duration = nil
	if durationSecs != nil {
		d := *durationSecs
		m.duration = &d
	}
	m.generation++

	logrus.WithFields(logrus.Fields{
		"id":       uint32(id),
		"mode":     mode,
		"duration": durations.FormatOptional(m.duration),
	}).Info("session activated")
	logrus.WithField("lastOSAssertion", uint32(assertion.LastID())).Debug("assertion tracked")

	return m.statusLocked(), m.generation, nil
}

// Deactivate releases the held assertion, if any, and clears the session.
// The session is cleared even when the release fails; the error is still
// returned so the caller knows an assertion may have leaked.
func (m *Manager) Deactivate() (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deactivateLocked()
}

// DeactivateIf deactivates only if the current session is still the one
// identified by generation. It reports whether a deactivation happened.
func (m *Manager) DeactivateIf(generation uint64) (bool, Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.id == assertion.NullID || m.generation != generation {
		return false, m.statusLocked(), nil
	}
	st, err := m.deactivateLocked()
	return true, st, err
}

func (m *Manager) deactivateLocked() (Status, error) {
	id := m.id
	var err error
	if id != assertion.NullID {
		err = m.binding.Release(id)
	}
	m.clearLocked()

	if id != assertion.NullID {
		if err != nil {
			logrus.WithError(err).WithField("id", uint32(id)).Error("failed to release assertion, session cleared anyway")
		} else {
			logrus.WithField("id", uint32(id)).Info("session deactivated")
		}
		logrus.WithField("lastOSAssertion", uint32(assertion.LastID())).Debug("assertion tracked")
	}

	return m.statusLocked(), err
}

// Toggle deactivates an active session, or activates a new one.
// The status read and the dispatch are two separate steps.
func (m *Manager) Toggle(mode assertion.Mode, durationSecs *uint64) (Status, error) {
	if m.Status().IsActive {
		return m.Deactivate()
	}
	return m.Activate(mode, durationSecs)
}

// Status projects the current session.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// Snapshot returns a copy of the session record.
func (m *Manager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Session{
		ID:         m.id,
		Mode:       m.mode,
		Start:      m.start,
		Generation: m.generation,
	}
	if m.duration != nil {
		d := *m.duration
		s.DurationSecs = &d
	}
	return s
}

// Expired reports whether an active timed session has run out.
func (m *Manager) Expired() bool {
	st := m.Status()
	return st.IsActive && st.RemainingSeconds != nil && *st.RemainingSeconds == 0
}

func (m *Manager) statusLocked() Status {
	st := Status{IsActive: m.id != assertion.NullID}

	if m.mode != "" {
		mode := m.mode
		st.Mode = &mode
	}

	if m.duration != nil {
		total := *m.duration
		st.TotalSeconds = &total

		if st.IsActive {
			remaining := remainingSecs(total, m.now().Sub(m.start))
			st.RemainingSeconds = &remaining
		}
	}

	return st
}

func (m *Manager) clearLocked() {
	m.id = assertion.NullID
	m.mode = ""
	m.start = time.Time{}
	m.duration = nil
}

// remainingSecs is total minus elapsed, truncated to whole seconds and
// saturating at zero. A partial elapsed second counts as a full one.
func remainingSecs(total uint64, elapsed time.Duration) uint64 {
	if elapsed <= 0 {
		return total
	}
	used := uint64(elapsed / time.Second)
	if elapsed%time.Second != 0 {
		used++
	}
	if used >= total {
		return 0
	}
	return total - used
}
