package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"syscall"
)

var (
	// ErrDaemonNotRunning is returned when the daemon is not running
	ErrDaemonNotRunning = errors.New("daemon not running")

	// ErrPermissionDenied is returned when the user does not have permission to perform the requested action
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when 404 is returned from the daemon
	ErrNotFound = errors.New("404 not found")
)

// ResponseError is a non-2xx answer from the daemon. Body is the error
// message the daemon sent.
type ResponseError struct {
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("got %d: %s", e.StatusCode, e.Body)
}

// unquote turns the JSON string bodies the daemon sends for errors into
// plain text. Anything else is returned as is.
func unquote(body string) string {
	body = strings.TrimSpace(body)
	var s string
	if err := json.Unmarshal([]byte(body), &s); err == nil {
		return s
	}
	return body
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
