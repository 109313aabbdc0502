package main

import (
	"bytes"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/caffeinator/caffeinator/pkg/assertion"
	"github.com/caffeinator/caffeinator/pkg/config"
	"github.com/caffeinator/caffeinator/pkg/daemon"
	"github.com/caffeinator/caffeinator/pkg/session"
	"github.com/caffeinator/caffeinator/pkg/utils/ptr"
)

type fakeBinding struct {
	mu   sync.Mutex
	next assertion.ID
	held map[assertion.ID]assertion.Mode
}

func (b *fakeBinding) Create(mode assertion.Mode, _ string) (assertion.ID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.held[b.next] = mode
	return b.next, nil
}

func (b *fakeBinding) Release(id assertion.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.held, id)
	return nil
}

// startDaemon serves a daemon with a fake binding and points the CLI at it.
func startDaemon(t *testing.T) (*daemon.Daemon, string) {
	t.Helper()
	color.NoColor = true

	// unix socket paths are limited to about 100 bytes on macOS.
	dir, err := os.MkdirTemp("", "caff")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	conf := config.NewFileFromConfig(nil, filepath.Join(dir, "config.json"))
	d := daemon.New(conf, &fakeBinding{held: map[assertion.ID]assertion.Mode{}})
	t.Cleanup(d.Shutdown)

	sock := filepath.Join(dir, "d.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)
	srv := &http.Server{Handler: d.Router()}
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	return d, sock
}

func run(t *testing.T, sock string, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	cmd := NewCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--daemon-socket", sock, "--log-level", "error"}, args...))
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func TestOnOff(t *testing.T) {
	d, sock := startDaemon(t)

	out := run(t, sock, "on", "30m", "-d")
	require.Contains(t, out, "caffeinator is on (Display)")

	st := d.Manager().Status()
	require.True(t, st.IsActive)
	require.Equal(t, assertion.NoDisplaySleep, *st.Mode)
	require.Equal(t, uint64(1800), *st.TotalSeconds)

	out = run(t, sock, "status")
	require.Contains(t, out, "Mode: Display")
	require.Contains(t, out, "30 minutes")

	out = run(t, sock, "off")
	require.Contains(t, out, "caffeinator is off")
	require.False(t, d.Manager().Status().IsActive)
}

func TestOnDefaultsAndIndefinite(t *testing.T) {
	d, sock := startDaemon(t)

	run(t, sock, "on")
	st := d.Manager().Status()
	require.Equal(t, assertion.NoIdleSleep, *st.Mode)
	require.Equal(t, uint64(3600), ptr.Deref(st.TotalSeconds, 0))

	out := run(t, sock, "on", "indefinite", "--mode", "system")
	require.Contains(t, out, "indefinitely")
	st = d.Manager().Status()
	require.Equal(t, assertion.PreventSystemSleep, *st.Mode)
	require.Nil(t, st.TotalSeconds)
}

func TestToggleTwice(t *testing.T) {
	d, sock := startDaemon(t)

	run(t, sock, "toggle")
	require.True(t, d.Manager().Status().IsActive)
	run(t, sock, "toggle")
	require.Equal(t, session.Status{}, d.Manager().Status())
}

func TestStatusJSON(t *testing.T) {
	_, sock := startDaemon(t)

	out := run(t, sock, "status", "--json")
	require.JSONEq(t, `{"is_active": false, "mode": null, "remaining_seconds": null, "total_seconds": null}`, out)
}

func TestModesAndSchedule(t *testing.T) {
	_, sock := startDaemon(t)

	out := run(t, sock, "modes")
	for _, m := range assertion.AllModes {
		require.Contains(t, out, string(m))
	}

	out = run(t, sock, "schedule", "0 9 * * 1-5", "--duration", "8h", "-n")
	require.Contains(t, out, "Scheduled Network sessions for 8 hours")
	require.Contains(t, out, "Next 5 run(s)")

	out = run(t, sock, "schedule", "show")
	require.Contains(t, out, "0 9 * * 1-5")

	out = run(t, sock, "schedule", "clear")
	require.Contains(t, out, "Schedule cleared")
	require.True(t, strings.Contains(run(t, sock, "schedule"), "not set"))
}

func TestConfigCommands(t *testing.T) {
	_, sock := startDaemon(t)

	run(t, sock, "config", "default-mode", "display")
	run(t, sock, "config", "default-duration", "2h")

	out := run(t, sock, "config")
	require.Contains(t, out, `"defaultMode": "NoDisplaySleep"`)
	require.Contains(t, out, `"defaultDurationSecs": 7200`)
}
