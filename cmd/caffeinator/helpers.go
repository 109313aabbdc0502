package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/caffeinator/caffeinator/pkg/assertion"
	"github.com/caffeinator/caffeinator/pkg/durations"
	"github.com/caffeinator/caffeinator/pkg/session"
)

// modeFlags registers --mode and one boolean shorthand per mode
// (-i, -d, -s, -n, -b).
type modeFlags struct {
	mode  string
	short map[assertion.Mode]*bool
}

func addModeFlags(cmd *cobra.Command) *modeFlags {
	mf := &modeFlags{short: make(map[assertion.Mode]*bool)}
	f := cmd.Flags()
	f.StringVarP(&mf.mode, "mode", "m", "", "assertion mode (see 'caffeinator modes'), defaults to the configured default mode")
	for _, m := range assertion.AllModes {
		mf.short[m] = f.BoolP(strings.ToLower(m.Label()), m.Flag(), false, m.Description())
	}
	return mf
}

// resolve returns the selected mode, or nil to let the daemon pick its
// default.
func (mf *modeFlags) resolve() (*assertion.Mode, error) {
	var selected []assertion.Mode
	if mf.mode != "" {
		m, err := assertion.ParseMode(mf.mode)
		if err != nil {
			return nil, err
		}
		selected = append(selected, m)
	}
	for _, m := range assertion.AllModes {
		if p := mf.short[m]; p != nil && *p {
			selected = append(selected, m)
		}
	}

	switch len(selected) {
	case 0:
		return nil, nil
	case 1:
		return &selected[0], nil
	default:
		return nil, fmt.Errorf("only one mode can be selected, got %v", selected)
	}
}

// parseDurationArg parses an optional positional duration. ok is false
// when no duration was given.
func parseDurationArg(args []string) (secs *uint64, ok bool, err error) {
	if len(args) == 0 {
		return nil, false, nil
	}
	if len(args) > 1 {
		return nil, false, fmt.Errorf("invalid number of arguments")
	}
	secs, err = durations.ParseOptional(args[0])
	if err != nil {
		return nil, false, err
	}
	return secs, true, nil
}

func describeStatus(st *session.Status) string {
	if !st.IsActive || st.Mode == nil {
		return "caffeinator is " + color.New(color.Bold, color.FgRed).Sprint("off") + ", your Mac can sleep normally."
	}
	msg := fmt.Sprintf("caffeinator is %s (%s)", color.New(color.Bold, color.FgGreen).Sprint("on"), st.Mode.Label())
	if st.RemainingSeconds == nil {
		return msg + ", indefinitely."
	}
	return msg + fmt.Sprintf(", %s left of %s.", durations.Clock(*st.RemainingSeconds), durations.FormatOptional(st.TotalSeconds))
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func parsePID(s string) (int32, error) {
	pid, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, err
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid %d", pid)
	}
	return int32(pid), nil
}
