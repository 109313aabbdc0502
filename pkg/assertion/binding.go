// Package assertion binds the IOKit power assertion API.
//
// Only two calls are needed: create an assertion of a given type and
// release it again. Both are exposed through Binding so the session
// manager can be exercised against a fake.
package assertion

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ID is an IOPMAssertionID. Zero means no assertion.
type ID uint32

// NullID is kIOPMNullAssertionID.
const NullID ID = 0

// Binding creates and releases OS power assertions.
type Binding interface {
	// Create takes a new assertion preventing the sleep described by mode.
	Create(mode Mode, reason string) (ID, error)
	// Release drops an assertion. Releasing NullID always succeeds.
	Release(id ID) error
}

// ErrUnsupported is returned by the default binding on platforms without IOKit.
var ErrUnsupported = errors.New("power assertions are only supported on macOS")

// Error carries the IOReturn code of a failed IOKit call.
type Error struct {
	Op   string
	Code int32
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to %s power assertion: error code %d (0x%x)", e.Op, e.Code, uint32(e.Code))
}

// lastID mirrors the most recent assertion created through the IOKit
// binding. It is kept apart from the session record and only used for
// diagnostics.
var lastID atomic.Uint32

// LastID returns the last assertion created by this process that has not
// been released, or NullID.
func LastID() ID {
	return ID(lastID.Load())
}

func trackCreated(id ID) {
	lastID.Store(uint32(id))
}

func trackReleased(id ID) {
	lastID.CompareAndSwap(uint32(id), uint32(NullID))
}
