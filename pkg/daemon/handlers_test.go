package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/distatus/battery"
	"github.com/stretchr/testify/require"

	"github.com/caffeinator/caffeinator/pkg/assertion"
	"github.com/caffeinator/caffeinator/pkg/config"
	"github.com/caffeinator/caffeinator/pkg/events"
	"github.com/caffeinator/caffeinator/pkg/powerprofile"
	"github.com/caffeinator/caffeinator/pkg/procwatch"
	"github.com/caffeinator/caffeinator/pkg/session"
	"github.com/caffeinator/caffeinator/pkg/types"
	"github.com/caffeinator/caffeinator/pkg/version"
)

type fakeBinding struct {
	mu          sync.Mutex
	next        assertion.ID
	outstanding map[assertion.ID]assertion.Mode
	createErr   error
	releaseErr  error
}

func (b *fakeBinding) Create(mode assertion.Mode, _ string) (assertion.ID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return assertion.NullID, b.createErr
	}
	b.next++
	b.outstanding[b.next] = mode
	return b.next, nil
}

func (b *fakeBinding) Release(id assertion.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.releaseErr != nil {
		return b.releaseErr
	}
	delete(b.outstanding, id)
	return nil
}

func (b *fakeBinding) held() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.outstanding)
}

type fakeReporter struct {
	profile *powerprofile.Profile
	err     error
}

func (r *fakeReporter) Get(context.Context) (*powerprofile.Profile, error) {
	return r.profile, r.err
}

func newTestDaemon(t *testing.T) (*Daemon, *fakeBinding, http.Handler) {
	t.Helper()

	conf := config.NewFileFromConfig(nil, filepath.Join(t.TempDir(), "config.json"))
	b := &fakeBinding{next: 100, outstanding: map[assertion.ID]assertion.Mode{}}
	d := New(conf, b)
	d.procs = &procwatch.Watcher{Interval: 10 * time.Millisecond}
	t.Cleanup(d.Shutdown)

	return d, b, d.Router()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) session.Status {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var st session.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	return st
}

func TestStatusInactive(t *testing.T) {
	_, _, h := newTestDaemon(t)

	w := do(t, h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"is_active": false, "mode": null, "remaining_seconds": null, "total_seconds": null}`, w.Body.String())
}

func TestActivate(t *testing.T) {
	u := func(v uint64) *uint64 { return &v }

	tests := []struct {
		name      string
		body      string
		wantMode  assertion.Mode
		wantTotal *uint64
	}{
		{name: "empty body", body: "", wantMode: assertion.NoIdleSleep, wantTotal: nil},
		{name: "null duration", body: `{"mode": "NoDisplaySleep", "duration_secs": null}`, wantMode: assertion.NoDisplaySleep, wantTotal: nil},
		{name: "explicit", body: `{"mode": "PreventSystemSleep", "duration_secs": 90}`, wantMode: assertion.PreventSystemSleep, wantTotal: u(90)},
		{name: "default duration", body: `{"use_default_duration": true}`, wantMode: assertion.NoIdleSleep, wantTotal: u(3600)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, b, h := newTestDaemon(t)

			st := decodeStatus(t, do(t, h, http.MethodPut, "/activate", tt.body))
			require.True(t, st.IsActive)
			require.Equal(t, tt.wantMode, *st.Mode)
			require.Equal(t, tt.wantTotal, st.TotalSeconds)
			if tt.wantTotal != nil {
				require.LessOrEqual(t, *st.RemainingSeconds, *tt.wantTotal)
			} else {
				require.Nil(t, st.RemainingSeconds)
			}
			require.Equal(t, 1, b.held())
		})
	}
}

func TestActivateBadRequest(t *testing.T) {
	_, b, h := newTestDaemon(t)

	for _, body := range []string{`{"mode": "Sleepy"}`, `{"duration_secs": -1}`, `not json`} {
		w := do(t, h, http.MethodPut, "/activate", body)
		require.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	require.Equal(t, 0, b.held())
}

func TestActivateBindingFailure(t *testing.T) {
	_, b, h := newTestDaemon(t)
	b.createErr = &assertion.Error{Op: "create", Code: -536870199}

	w := do(t, h, http.MethodPut, "/activate", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "failed to create power assertion")

	st := decodeStatus(t, do(t, h, http.MethodGet, "/status", ""))
	require.False(t, st.IsActive)
}

func TestToggleAndDeactivate(t *testing.T) {
	d, b, h := newTestDaemon(t)
	ch := d.hub.Subscribe()

	st := decodeStatus(t, do(t, h, http.MethodPut, "/toggle", `{"mode": "NetworkActive"}`))
	require.True(t, st.IsActive)
	require.Equal(t, assertion.NetworkActive, *st.Mode)

	st = decodeStatus(t, do(t, h, http.MethodPut, "/toggle", `{"mode": "NetworkActive"}`))
	require.False(t, st.IsActive)
	require.Equal(t, 0, b.held())

	// Deactivating an inactive session is fine.
	st = decodeStatus(t, do(t, h, http.MethodPut, "/deactivate", ""))
	require.False(t, st.IsActive)

	var causes []string
	for i := 0; i < 3; i++ {
		ev := <-ch
		require.Equal(t, events.SessionChanged, ev.Name)
		payload, err := events.DecodeAs[events.SessionChangedEvent](ev)
		require.NoError(t, err)
		causes = append(causes, payload.Cause)
	}
	require.Equal(t, []string{events.CauseActivate, events.CauseDeactivate, events.CauseDeactivate}, causes)
}

func TestPowerProfile(t *testing.T) {
	d, _, h := newTestDaemon(t)

	ten := uint32(10)
	d.profiles = &fakeReporter{profile: &powerprofile.Profile{
		Source:       powerprofile.SourceBattery,
		DisplaySleep: &ten,
		Assertions:   []string{"PreventUserIdleSystemSleep: PID 412"},
	}}

	w := do(t, h, http.MethodGet, "/power-profile", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{
		"source": "Battery",
		"display_sleep": 10,
		"disk_sleep": null,
		"system_sleep": null,
		"assertions": ["PreventUserIdleSystemSleep: PID 412"]
	}`, w.Body.String())

	d.profiles = &fakeReporter{err: &powerprofile.ToolError{Args: []string{"pmset", "-g"}, Err: exec.ErrNotFound}}
	w = do(t, h, http.MethodGet, "/power-profile", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "pmset -g")
}

func TestModes(t *testing.T) {
	_, _, h := newTestDaemon(t)

	w := do(t, h, http.MethodGet, "/modes", "")
	require.Equal(t, http.StatusOK, w.Code)

	var modes []types.ModeInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &modes))
	require.Len(t, modes, len(assertion.AllModes))
	require.Equal(t, assertion.NoIdleSleep, modes[0].Mode)
	require.Equal(t, "PreventUserIdleSystemSleep", modes[0].AssertionType)
}

func TestConfigEndpoints(t *testing.T) {
	d, _, h := newTestDaemon(t)

	w := do(t, h, http.MethodPut, "/config/default-mode", `"NoDisplaySleep"`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = do(t, h, http.MethodPut, "/config/default-duration", `0`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/config/default-mode", `"Sleepy"`).Code)
	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/config/default-duration", `"1h"`).Code)

	w = do(t, h, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	var raw config.RawFileConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	require.Equal(t, assertion.NoDisplaySleep, *raw.DefaultMode)
	require.Equal(t, uint64(0), *raw.DefaultDurationSecs)

	// Saved to disk.
	saved, err := config.NewFile(d.conf.Path())
	require.NoError(t, err)
	require.Equal(t, assertion.NoDisplaySleep, saved.DefaultMode())

	// The new default applies to activation.
	st := decodeStatus(t, do(t, h, http.MethodPut, "/activate", `{"use_default_duration": true}`))
	require.Equal(t, assertion.NoDisplaySleep, *st.Mode)
	require.Nil(t, st.TotalSeconds)
}

func TestScheduleEndpoints(t *testing.T) {
	d, _, h := newTestDaemon(t)

	decodeSchedule := func(w *httptest.ResponseRecorder) types.ScheduleStatus {
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var s types.ScheduleStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
		return s
	}

	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/schedule", `{"cron": "whenever"}`).Code)
	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/schedule/skip", "").Code)

	s := decodeSchedule(do(t, h, http.MethodPut, "/schedule", `{"cron": "@every 1h", "mode": "BackgroundTask", "duration_secs": 600}`))
	require.Equal(t, "@every 1h", s.Cron)
	require.Equal(t, assertion.BackgroundTask, s.Mode)
	require.Equal(t, uint64(600), s.DurationSecs)
	require.Len(t, s.NextRuns, scheduleListLength)
	first := s.NextRuns[0]
	require.Equal(t, "@every 1h", d.conf.Schedule())

	s = decodeSchedule(do(t, h, http.MethodPost, "/schedule/postpone", `{"duration_secs": 600}`))
	require.True(t, s.NextRuns[0].Equal(first.Add(10*time.Minute)), "%v", s.NextRuns[0])

	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/schedule/postpone", `{"duration_secs": 7200}`).Code)

	s = decodeSchedule(do(t, h, http.MethodPost, "/schedule/skip", ""))
	require.True(t, s.NextRuns[0].After(first.Add(10*time.Minute)))

	w := do(t, h, http.MethodGet, "/schedule", "")
	require.Equal(t, http.StatusOK, w.Code)

	s = decodeSchedule(do(t, h, http.MethodPut, "/schedule", `{"cron": ""}`))
	require.Empty(t, s.NextRuns)
	require.Equal(t, "", d.conf.Schedule())
}

func TestRunScheduledSession(t *testing.T) {
	d, b, _ := newTestDaemon(t)
	d.conf.SetSchedule("@daily", assertion.PreventSystemSleep, 120)

	require.NoError(t, d.runScheduledSession(time.Now()))

	st := d.manager.Status()
	require.True(t, st.IsActive)
	require.Equal(t, assertion.PreventSystemSleep, *st.Mode)
	require.Equal(t, uint64(120), *st.TotalSeconds)
	require.Equal(t, 1, b.held())

	b.createErr = errors.New("boom")
	require.Error(t, d.runScheduledSession(time.Now()))
}

func TestBattery(t *testing.T) {
	d, _, h := newTestDaemon(t)

	d.batteries = func() ([]*battery.Battery, error) {
		return []*battery.Battery{{
			State:      battery.Discharging,
			Current:    25000,
			Full:       50000,
			ChargeRate: 8000,
		}}, nil
	}
	w := do(t, h, http.MethodGet, "/battery", "")
	require.Equal(t, http.StatusOK, w.Code)
	var info types.BatteryInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	require.InDelta(t, 50.0, info.Percent, 0.001)
	require.Equal(t, -8000.0, info.ChargeRate)

	d.batteries = func() ([]*battery.Battery, error) { return nil, nil }
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/battery", "").Code)

	d.batteries = func() ([]*battery.Battery, error) { return nil, errors.New("no ioreg") }
	require.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodGet, "/battery", "").Code)
}

func TestVersion(t *testing.T) {
	_, _, h := newTestDaemon(t)

	w := do(t, h, http.MethodGet, "/version", "")
	require.Equal(t, http.StatusOK, w.Code)
	var v string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	require.Equal(t, version.Version, v)
}

func TestWatchBadRequest(t *testing.T) {
	_, b, h := newTestDaemon(t)

	for _, body := range []string{`{}`, `{"pid": 1, "name": "x"}`, `{"name": "no-such-process-caffeinator-test"}`, `{"pid": 2147483000}`} {
		w := do(t, h, http.MethodPut, "/watch", body)
		require.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	require.Equal(t, 0, b.held())
}

func TestWatchEndsSessionWhenProcessExits(t *testing.T) {
	d, b, h := newTestDaemon(t)

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid

	st := decodeStatus(t, do(t, h, http.MethodPut, "/watch", `{"pid": `+strconv.Itoa(pid)+`, "mode": "NoDisplaySleep"}`))
	require.True(t, st.IsActive)
	require.Nil(t, st.TotalSeconds)

	w := do(t, h, http.MethodGet, "/watch", "")
	require.Equal(t, http.StatusOK, w.Code)
	var ws types.WatchStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ws))
	require.NotNil(t, ws.Process)
	require.Equal(t, int32(pid), ws.Process.PID)

	require.NoError(t, cmd.Process.Signal(os.Kill))
	_ = cmd.Wait()

	require.Eventually(t, func() bool {
		return !d.manager.Status().IsActive
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 0, b.held())
	require.Nil(t, d.watchedProcess())
}

func TestWatchDoesNotEndReplacedSession(t *testing.T) {
	d, _, h := newTestDaemon(t)

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	decodeStatus(t, do(t, h, http.MethodPut, "/watch", `{"pid": `+strconv.Itoa(cmd.Process.Pid)+`}`))
	require.NotNil(t, d.watchedProcess())

	// A manual activation replaces the watched session and ends the watch.
	decodeStatus(t, do(t, h, http.MethodPut, "/activate", `{"mode": "BackgroundTask"}`))
	require.Nil(t, d.watchedProcess())

	require.NoError(t, cmd.Process.Kill())
	_ = cmd.Wait()
	time.Sleep(50 * time.Millisecond)

	st := d.manager.Status()
	require.True(t, st.IsActive)
	require.Equal(t, assertion.BackgroundTask, *st.Mode)
}

func TestShutdownReleasesAssertion(t *testing.T) {
	d, b, h := newTestDaemon(t)

	decodeStatus(t, do(t, h, http.MethodPut, "/activate", ""))
	require.Equal(t, 1, b.held())

	d.Shutdown()
	require.Equal(t, 0, b.held())
	require.False(t, d.manager.Status().IsActive)
}

func TestExpiryPublishesEvent(t *testing.T) {
	d, b, h := newTestDaemon(t)
	d.conf.SetDefaultDurationSecs(0)
	ch := d.hub.Subscribe()

	// A zero second session is due for expiry right away.
	decodeStatus(t, do(t, h, http.MethodPut, "/activate", `{"duration_secs": 0}`))
	d.Start()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			payload, err := events.DecodeAs[events.SessionChangedEvent](ev)
			require.NoError(t, err)
			if payload.Cause != events.CauseExpire {
				continue
			}
			require.False(t, payload.Status.IsActive)
			require.Equal(t, 0, b.held())
			return
		case <-deadline:
			t.Fatal("no expire event")
		}
	}
}

func TestEventStream(t *testing.T) {
	d, _, h := newTestDaemon(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return d.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	_, err = d.manager.Activate(assertion.NoIdleSleep, nil)
	require.NoError(t, err)
	d.publishSession(d.manager.Status(), events.CauseActivate)

	sc := bufio.NewScanner(resp.Body)
	var name, data string
	for sc.Scan() {
		line := sc.Text()
		if v, ok := strings.CutPrefix(line, "event:"); ok {
			name = strings.TrimSpace(v)
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = strings.TrimSpace(v)
		}
		if line == "" && name != "" {
			break
		}
	}
	require.Equal(t, events.SessionChanged, name)

	var payload events.SessionChangedEvent
	require.NoError(t, json.Unmarshal([]byte(data), &payload))
	require.True(t, payload.Status.IsActive)
	require.Equal(t, events.CauseActivate, payload.Cause)
}


func TestReleaseFailurePublishesClearedSession(t *testing.T) {
	for _, path := range []string{"/deactivate", "/activate", "/toggle"} {
		t.Run(path, func(t *testing.T) {
			d, b, h := newTestDaemon(t)

			w := do(t, h, http.MethodPut, "/activate", "")
			require.Equal(t, http.StatusOK, w.Code)

			ch := d.hub.Subscribe()
			b.mu.Lock()
			b.releaseErr = &assertion.Error{Op: "release", Code: -536870199}
			b.mu.Unlock()

			w = do(t, h, http.MethodPut, path, "")
			require.Equal(t, http.StatusInternalServerError, w.Code)
			require.Contains(t, w.Body.String(), "failed to release power assertion")

			select {
			case ev := <-ch:
				payload, err := events.DecodeAs[events.SessionChangedEvent](ev)
				require.NoError(t, err)
				require.Equal(t, events.CauseDeactivate, payload.Cause)
				require.False(t, payload.Status.IsActive)
			case <-time.After(time.Second):
				t.Fatal("no session.changed event after failed release")
			}

			require.False(t, d.Manager().Status().IsActive)

			// Shutdown must not fail on the leaked fake assertion.
			b.mu.Lock()
			b.releaseErr = nil
			b.mu.Unlock()
		})
	}
}
