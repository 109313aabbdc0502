package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/caffeinator/caffeinator/pkg/assertion"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDefaultsWhenFileMissing(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	require.Equal(t, assertion.NoIdleSleep, f.DefaultMode())
	require.Equal(t, uint64(3600), f.DefaultDurationSecs())
	require.False(t, f.AllowNonRootAccess())
	require.Equal(t, "", f.Schedule())
	require.Equal(t, time.Second, f.ExpiryPollInterval())
}

func TestEmptyFileIsDefault(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(p, []byte("  \n"), 0644))

	f, err := NewFile(p)
	require.NoError(t, err)
	require.Equal(t, assertion.NoIdleSleep, f.DefaultMode())
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name:    "json",
			file:    "config.json",
			content: `{"defaultMode": "NoDisplaySleep", "defaultDurationSecs": 0, "schedule": "0 9 * * 1-5", "expiryPollMillis": 250}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			content: `defaultMode: NoDisplaySleep
defaultDurationSecs: 0
schedule: "0 9 * * 1-5"
expiryPollMillis: 250
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(p, []byte(tt.content), 0644))

			f, err := NewFile(p)
			require.NoError(t, err)
			require.Equal(t, assertion.NoDisplaySleep, f.DefaultMode())
			require.Equal(t, uint64(0), f.DefaultDurationSecs())
			require.Nil(t, DurationPtr(f.DefaultDurationSecs()))
			require.Equal(t, "0 9 * * 1-5", f.Schedule())
			require.Equal(t, 250*time.Millisecond, f.ExpiryPollInterval())
			// Unset fields fall back to defaults.
			require.Equal(t, assertion.NoIdleSleep, f.ScheduleMode())
		})
	}
}

func TestLoadRejectsBadMode(t *testing.T) {
	for _, name := range []string{"config.json", "config.yml"} {
		p := filepath.Join(t.TempDir(), name)
		content := `{"defaultMode": "Sleepy"}`
		if filepath.Ext(name) == ".yml" {
			content = "defaultMode: Sleepy\n"
		}
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))

		_, err := NewFile(p)
		require.Error(t, err, name)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"nested/config.json", "nested/config.yaml"} {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), name)
			f := NewFileFromConfig(nil, p)

			f.SetDefaultMode(assertion.PreventSystemSleep)
			f.SetDefaultDurationSecs(1800)
			f.SetAllowNonRootAccess(true)
			f.SetSchedule("@daily", assertion.BackgroundTask, 600)
			require.NoError(t, f.Save())

			g, err := NewFile(p)
			require.NoError(t, err)
			require.Equal(t, f.LogrusFields(), g.LogrusFields())
			require.Equal(t, assertion.BackgroundTask, g.ScheduleMode())
			require.Equal(t, uint64(600), g.ScheduleDurationSecs())
		})
	}
}

func TestRawFromConfig(t *testing.T) {
	f := NewFileFromConfig(nil, "unused.json")
	raw, err := NewRawFileConfigFromConfig(f)
	require.NoError(t, err)
	require.Equal(t, assertion.NoIdleSleep, *raw.DefaultMode)
	require.Equal(t, uint64(1000), *raw.ExpiryPollMillis)

	_, err = NewRawFileConfigFromConfig(nil)
	require.Error(t, err)
}

func TestSetInvalidModePanics(t *testing.T) {
	f := NewFileFromConfig(nil, "unused.json")
	require.Panics(t, func() { f.SetDefaultMode("bogus") })
}

func TestWatchReportsChanges(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.json")
	f := NewFileFromConfig(nil, p)

	changed := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.Watch(ctx, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}))

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(p), "other.json"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(p, []byte(`{"defaultMode": "NoDisplaySleep"}`), 0644))

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}

	require.NoError(t, f.Load())
	require.Equal(t, assertion.NoDisplaySleep, f.DefaultMode())
}

func TestWatchCreatesMissingDirectory(t *testing.T) {
	p := filepath.Join(t.TempDir(), "caffeinator", "config.json")
	f, err := NewFile(p)
	require.NoError(t, err)

	changed := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.Watch(ctx, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}))

	f.SetDefaultDurationSecs(120)
	require.NoError(t, f.Save())

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification for the first save")
	}
}
