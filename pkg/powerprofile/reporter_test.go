package powerprofile

import (
	"context"
	"errors"
	"os/exec"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, key)
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	return []byte(f.outputs[key]), nil
}

func TestReporterGet(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"pmset -g": "Now drawing from 'Battery Power'\n displaysleep 10\n",
		"pmset -g assertions": `Listed by owning process:
   pid 321(Safari): [0x0000000100008c3e] 00:10:02 PreventUserIdleDisplaySleep named: "Playing video"
   pid oops this line is malformed
`,
	}}
	r := &Reporter{Runner: runner, Pmset: "pmset"}

	p, err := r.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, SourceBattery, p.Source)
	require.NotNil(t, p.DisplaySleep)
	require.Equal(t, uint32(10), *p.DisplaySleep)
	require.Nil(t, p.DiskSleep)
	require.Nil(t, p.SystemSleep)
	require.Len(t, p.Assertions, 1)
	require.Regexp(t, regexp.MustCompile(`^\w+: PID \d+$`), p.Assertions[0])
	require.Equal(t, "PreventUserIdleDisplaySleep: PID 321", p.Assertions[0])
	require.Equal(t, []string{"pmset -g", "pmset -g assertions"}, runner.calls)
}

func TestReporterToolFailure(t *testing.T) {
	tests := []struct {
		name    string
		failKey string
	}{
		{name: "settings", failKey: "pmset -g"},
		{name: "assertions", failKey: "pmset -g assertions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{
				outputs: map[string]string{},
				errs:    map[string]error{tt.failKey: exec.ErrNotFound},
			}
			r := &Reporter{Runner: runner, Pmset: "pmset"}

			p, err := r.Get(context.Background())
			require.Nil(t, p)
			require.Error(t, err)

			var te *ToolError
			require.True(t, errors.As(err, &te))
			require.Equal(t, strings.Fields(tt.failKey), te.Args)
			require.ErrorIs(t, err, exec.ErrNotFound)
		})
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), "/nonexistent/pmset", "-g")
	require.Error(t, err)

	var te *ToolError
	require.True(t, errors.As(err, &te))
	require.Contains(t, te.Error(), "/nonexistent/pmset -g")
}
