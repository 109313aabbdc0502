//go:build darwin

package assertion

/*
#cgo LDFLAGS: -framework CoreFoundation -framework IOKit

#include <stdlib.h>
#include <CoreFoundation/CoreFoundation.h>
#include <IOKit/pwr_mgt/IOPMLib.h>
*/
import "C"

import (
	"unsafe"

	"github.com/sirupsen/logrus"
)

type iokit struct{}

// New returns the IOKit backed binding.
func New() Binding {
	return iokit{}
}

func cfString(s string) C.CFStringRef {
	cs := C.CString(s)
	defer C.free(unsafe.Pointer(cs))
	return C.CFStringCreateWithCString(C.kCFAllocatorDefault, cs, C.kCFStringEncodingUTF8)
}

func (iokit) Create(mode Mode, reason string) (ID, error) {
	cfType := cfString(mode.AssertionType())
	cfReason := cfString(reason)
	defer C.CFRelease(C.CFTypeRef(cfType))
	defer C.CFRelease(C.CFTypeRef(cfReason))

	var id C.IOPMAssertionID
	status := C.IOPMAssertionCreateWithName(
		cfType,
		C.kIOPMAssertionLevelOn,
		cfReason,
		&id,
	)
	if status != C.kIOReturnSuccess {
		return NullID, &Error{Op: "create", Code: int32(status)}
	}

	trackCreated(ID(id))
	logrus.WithFields(logrus.Fields{
		"id":   uint32(id),
		"type": mode.AssertionType(),
	}).Debug("power assertion created")

	return ID(id), nil
}

func (iokit) Release(id ID) error {
	if id == NullID {
		return nil
	}

	status := C.IOPMAssertionRelease(C.IOPMAssertionID(id))
	if status != C.kIOReturnSuccess {
		return &Error{Op: "release", Code: int32(status)}
	}

	trackReleased(id)
	logrus.WithField("id", uint32(id)).Debug("power assertion released")

	return nil
}
