// Package procwatch finds a running process and waits for it to exit.
package procwatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

const defaultInterval = time.Second

var ErrNotFound = errors.New("no matching process")

// Process identifies a running process.
type Process struct {
	PID  int32  `json:"pid"`
	Name string `json:"name"`
}

func (p Process) String() string {
	if p.Name == "" {
		return fmt.Sprintf("PID %d", p.PID)
	}
	return fmt.Sprintf("%s (PID %d)", p.Name, p.PID)
}

// Watcher resolves processes and polls for their exit.
// The zero value queries the system through gopsutil once a second.
type Watcher struct {
	Interval time.Duration

	// Overridable in tests.
	exists func(ctx context.Context, pid int32) (bool, error)
	list   func(ctx context.Context) ([]Process, error)
}

func (w *Watcher) pidExists(ctx context.Context, pid int32) (bool, error) {
	if w.exists != nil {
		return w.exists(ctx, pid)
	}
	return process.PidExistsWithContext(ctx, pid)
}

func (w *Watcher) processes(ctx context.Context) ([]Process, error) {
	if w.list != nil {
		return w.list(ctx)
	}
	return listProcesses(ctx)
}

// Find resolves query, which is either a PID or a process name.
// Names match case-insensitively: an exact match wins over a substring
// match, and the lowest PID wins among equals.
func (w *Watcher) Find(ctx context.Context, query string) (Process, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Process{}, fmt.Errorf("%w: empty query", ErrNotFound)
	}

	if pid, err := strconv.ParseInt(query, 10, 32); err == nil {
		return w.FindPID(ctx, int32(pid))
	}

	procs, err := w.processes(ctx)
	if err != nil {
		return Process{}, fmt.Errorf("failed to list processes: %w", err)
	}
	return MatchName(procs, query)
}

// FindPID checks that pid is running and looks up its name.
func (w *Watcher) FindPID(ctx context.Context, pid int32) (Process, error) {
	if pid <= 0 {
		return Process{}, fmt.Errorf("%w: invalid pid %d", ErrNotFound, pid)
	}
	ok, err := w.pidExists(ctx, pid)
	if err != nil {
		return Process{}, fmt.Errorf("failed to check pid %d: %w", pid, err)
	}
	if !ok {
		return Process{}, fmt.Errorf("%w: pid %d", ErrNotFound, pid)
	}

	p := Process{PID: pid}
	if w.exists == nil {
		if proc, err := process.NewProcessWithContext(ctx, pid); err == nil {
			p.Name, _ = proc.NameWithContext(ctx)
		}
	}
	return p, nil
}

// MatchName picks the process that best matches name.
func MatchName(procs []Process, name string) (Process, error) {
	sorted := make([]Process, len(procs))
	copy(sorted, procs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PID < sorted[j].PID })

	want := strings.ToLower(name)
	for _, p := range sorted {
		if strings.ToLower(p.Name) == want {
			return p, nil
		}
	}
	for _, p := range sorted {
		if strings.Contains(strings.ToLower(p.Name), want) {
			return p, nil
		}
	}
	return Process{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Wait blocks until pid is gone or ctx is done. It returns nil once the
// process has exited and ctx.Err() on cancellation.
func (w *Watcher) Wait(ctx context.Context, pid int32) error {
	interval := w.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		ok, err := w.pidExists(ctx, pid)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logrus.WithError(err).WithField("pid", pid).Warn("failed to check process, retrying")
		} else if !ok {
			logrus.WithField("pid", pid).Debug("watched process exited")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func listProcesses(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	ret := make([]Process, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// Processes can exit while we iterate.
			continue
		}
		ret = append(ret, Process{PID: p.Pid, Name: name})
	}
	return ret, nil
}
