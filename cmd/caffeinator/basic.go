package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/caffeinator/caffeinator/pkg/types"
	"github.com/caffeinator/caffeinator/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewOnCommand() *cobra.Command {
	var mf *modeFlags

	cmd := &cobra.Command{
		Use:     "on [duration]",
		Short:   "Keep your Mac awake",
		GroupID: gBasic,
		Long: `Keep your Mac awake.

Without a duration the configured default duration is used. Durations look
like 30m, 2h, 1h30m or 45s; a bare number is minutes. Use 0 or
"indefinite" to stay awake until 'caffeinator off'.

Starting a new session replaces the running one.`,
		Example: `  caffeinator on            (default mode and duration)
  caffeinator on 2h -d      (keep the display on for 2 hours)
  caffeinator on indefinite --mode PreventSystemSleep`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := mf.resolve()
			if err != nil {
				return err
			}
			secs, given, err := parseDurationArg(args)
			if err != nil {
				return err
			}

			st, err := apiClient.Activate(types.ActivateRequest{
				Mode:               mode,
				DurationSecs:       secs,
				UseDefaultDuration: !given,
			})
			if err != nil {
				return err
			}

			logrus.WithFields(logrus.Fields{
				"mode":         st.Mode,
				"totalSeconds": st.TotalSeconds,
			}).Debug("session started")
			cmd.Println(describeStatus(st))
			return nil
		},
	}

	mf = addModeFlags(cmd)
	return cmd
}

func NewOffCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "off",
		Short:   "Let your Mac sleep again",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.Deactivate()
			if err != nil {
				return err
			}
			cmd.Println(describeStatus(st))
			return nil
		},
	}
}

func NewToggleCommand() *cobra.Command {
	var mf *modeFlags

	cmd := &cobra.Command{
		Use:     "toggle [duration]",
		Short:   "Turn caffeinator on if it is off, off if it is on",
		GroupID: gBasic,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := mf.resolve()
			if err != nil {
				return err
			}
			secs, given, err := parseDurationArg(args)
			if err != nil {
				return err
			}

			st, err := apiClient.Toggle(types.ActivateRequest{
				Mode:               mode,
				DurationSecs:       secs,
				UseDefaultDuration: !given,
			})
			if err != nil {
				return err
			}
			cmd.Println(describeStatus(st))
			return nil
		},
	}

	mf = addModeFlags(cmd)
	return cmd
}

func NewModesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "modes",
		Short:   "List assertion modes",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			modes, err := apiClient.GetModes()
			if err != nil {
				return err
			}

			for _, m := range modes {
				cmd.Printf("  -%s  %s\n", m.Flag, bold("%-20s", m.Mode))
				cmd.Printf("      %s (%s)\n", m.Description, m.AssertionType)
			}
			return nil
		},
	}
}

func NewWatchCommand() *cobra.Command {
	var mf *modeFlags

	cmd := &cobra.Command{
		Use:     "watch <pid|name>",
		Short:   "Stay awake until a process exits",
		GroupID: gBasic,
		Long: `Stay awake until a process exits.

The argument is a PID or a process name. Names match exactly first, then
by substring; the lowest PID wins. Starting or stopping another session
cancels the watch.`,
		Example: `  caffeinator watch 4242
  caffeinator watch rsync -s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := mf.resolve()
			if err != nil {
				return err
			}

			req := types.WatchRequest{Mode: mode}
			if pid, perr := parsePID(args[0]); perr == nil {
				req.PID = pid
			} else {
				req.Name = args[0]
			}

			if _, err := apiClient.Watch(req); err != nil {
				return err
			}
			w, err := apiClient.GetWatch()
			if err != nil {
				return err
			}
			if w.Process == nil {
				return fmt.Errorf("process %s already exited", args[0])
			}
			cmd.Printf("Staying awake until %s exits.\n", bold("%s", w.Process.String()))
			return nil
		},
	}

	mf = addModeFlags(cmd)
	return cmd
}
