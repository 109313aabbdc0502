package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const reloadDebounce = 200 * time.Millisecond

// Watch calls onChange after the config file is written, created, renamed
// or removed, until ctx is done. The parent directory is watched rather
// than the file itself so editors that save by renaming are picked up.
// Bursts of events within a short window produce a single call.
func (f *File) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return pkgerrors.Wrap(err, "failed to create file watcher")
	}

	// The directory does not exist before the first Save.
	dir := filepath.Dir(f.filepath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		_ = w.Close()
		return pkgerrors.Wrapf(err, "failed to create config directory %s", dir)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return pkgerrors.Wrapf(err, "failed to watch %s", dir)
	}

	go func() {
		defer w.Close()

		name := filepath.Clean(f.filepath)
		var timer *time.Timer
		var fire <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != name || ev.Op == fsnotify.Chmod {
					continue
				}
				logrus.WithFields(logrus.Fields{
					"file": ev.Name,
					"op":   ev.Op.String(),
				}).Debug("config file changed")
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				fire = timer.C
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logrus.WithError(err).Warn("config watcher error")
			case <-fire:
				fire = nil
				onChange()
			}
		}
	}()

	return nil
}
