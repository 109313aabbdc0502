package session

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultPollInterval = time.Second

// Watcher deactivates timed sessions once their remaining time reaches zero.
type Watcher struct {
	Manager  *Manager
	Interval time.Duration
	// OnExpire is called after an expired session has been deactivated.
	OnExpire func(Status)
}

// Run polls the manager until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	snap := w.Manager.Snapshot()
	if !w.Manager.Expired() {
		return
	}

	done, st, err := w.Manager.DeactivateIf(snap.Generation)
	if err != nil {
		logrus.WithError(err).Error("failed to deactivate expired session")
	}
	if !done {
		return
	}

	logrus.WithField("mode", snap.Mode).Info("session expired")
	if w.OnExpire != nil {
		w.OnExpire(st)
	}
}
