// Package powerprofile reports the current power source, sleep timers and
// active assertions by scraping pmset(1).
//
// The output format of pmset is not stable across macOS versions; parsing
// is best effort and silently skips lines it does not understand.
package powerprofile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

const defaultPmsetPath = "/usr/bin/pmset"

// Runner runs an external command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ToolError is returned when pmset cannot be run or exits non-zero.
type ToolError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("failed to run %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	stderr := &bytes.Buffer{}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, &ToolError{
			Args:   append([]string{name}, args...),
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return out, nil
}

// Reporter queries pmset. The zero value uses /usr/bin/pmset and os/exec.
type Reporter struct {
	Runner Runner
	Pmset  string
}

func (r *Reporter) run(ctx context.Context, args ...string) (string, error) {
	runner := r.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	pmset := r.Pmset
	if pmset == "" {
		pmset = defaultPmsetPath
	}

	out, err := runner.Run(ctx, pmset, args...)
	if err != nil {
		var te *ToolError
		if errors.As(err, &te) {
			return "", err
		}
		return "", &ToolError{Args: append([]string{pmset}, args...), Err: err}
	}
	return string(out), nil
}

// Get runs `pmset -g` and `pmset -g assertions` and parses both.
func (r *Reporter) Get(ctx context.Context) (*Profile, error) {
	settings, err := r.run(ctx, "-g")
	if err != nil {
		return nil, err
	}
	profile := ParseSettings(settings)

	assertions, err := r.run(ctx, "-g", "assertions")
	if err != nil {
		return nil, err
	}
	profile.Assertions = ParseAssertions(assertions)

	logrus.WithFields(logrus.Fields{
		"source":     profile.Source,
		"assertions": len(profile.Assertions),
	}).Debug("read power profile")

	return &profile, nil
}
