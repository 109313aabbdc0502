package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/caffeinator/caffeinator/pkg/durations"
	"github.com/caffeinator/caffeinator/pkg/types"
)

func NewScheduleCommand() *cobra.Command {
	var (
		mf       *modeFlags
		duration string
	)

	cmd := &cobra.Command{
		Use:     "schedule [cron-expression]",
		Aliases: []string{"sch", "sched"},
		Short:   "Manage scheduled sessions",
		Long: `Manage scheduled sessions.

The schedule command can be used in multiple ways:
  caffeinator schedule 'minute hour day month weekday' Set schedule with cron expression
  caffeinator schedule clear                           Clear the schedule
  caffeinator schedule postpone [duration]             Postpone next run
  caffeinator schedule skip                            Skip next run
  caffeinator schedule show                            Show current schedule

A scheduled run starts a session like 'caffeinator on' and replaces any
running session.`,
		Example: `  caffeinator schedule '0 9 * * 1-5' --duration 8h   (At 09:00 on weekdays, for 8 hours)
  caffeinator schedule '@daily' -d                    (At midnight, keep the display on)`,
		GroupID: gAdvanced,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// If no arguments, show the current schedule
			if len(args) == 0 {
				return runScheduleShow(cmd)
			}

			req := types.ScheduleRequest{Cron: args[0]}
			mode, err := mf.resolve()
			if err != nil {
				return err
			}
			req.Mode = mode
			if duration != "" {
				secs, err := durations.Parse(duration)
				if err != nil {
					return err
				}
				req.DurationSecs = &secs
			}
			return runScheduleSet(cmd, req)
		},
	}

	cmd.Flags().StringVar(&duration, "duration", "", "session duration for scheduled runs, 0 for indefinite")
	mf = addModeFlags(cmd)

	// Add subcommands
	cmd.AddCommand(
		newScheduleClearCommand(),
		newSchedulePostponeCommand(),
		newScheduleSkipCommand(),
		newScheduleShowCommand(),
	)

	return cmd
}

func newScheduleClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "clear",
		Aliases: []string{"disable"},
		Short:   "Clear the schedule",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := apiClient.SetSchedule(types.ScheduleRequest{}); err != nil {
				return err
			}
			cmd.Println("Schedule cleared.")
			return nil
		},
	}
}

func newSchedulePostponeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "postpone [duration]",
		Short: "Postpone the next scheduled run",
		Example: `  caffeinator schedule postpone      (Postpone by 1 hour)
  caffeinator schedule postpone 90m  (Postpone by 90 minutes)`,
		Long: `Postpone the next scheduled run by a specified duration.
If no duration is provided, defaults to 1 hour. The run cannot be
postponed past the one after it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secs := uint64(time.Hour / time.Second)
			if len(args) > 0 {
				parsed, err := durations.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", args[0], err)
				}
				secs = parsed
			}

			sch, err := apiClient.PostponeSchedule(secs)
			if err != nil {
				return err
			}
			cmd.Printf("Next run postponed by %s.\n", durations.Format(secs))
			printNextRuns(cmd, sch)
			return nil
		},
	}
}

func newScheduleSkipCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "skip",
		Short: "Skip the next scheduled run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sch, err := apiClient.SkipSchedule()
			if err != nil {
				return err
			}
			cmd.Println("Next scheduled run skipped.")
			printNextRuns(cmd, sch)
			return nil
		},
	}
}

func newScheduleShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current schedule",
		Long:  "Show the current schedule and next run times.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleShow(cmd)
		},
	}
}

func runScheduleSet(cmd *cobra.Command, req types.ScheduleRequest) error {
	sch, err := apiClient.SetSchedule(req)
	if err != nil {
		return err
	}
	cmd.Printf("Scheduled %s sessions for %s.\n", sch.Mode.Label(), durations.FormatOptional(configDuration(sch.DurationSecs)))
	printNextRuns(cmd, sch)
	return nil
}

func runScheduleShow(cmd *cobra.Command) error {
	sch, err := apiClient.GetSchedule()
	if err != nil {
		return err
	}
	if sch.Cron == "" {
		cmd.Println("Schedule is not set.")
		return nil
	}
	cmd.Printf("Schedule: %s (%s for %s)\n", bold("%s", sch.Cron), sch.Mode.Label(),
		durations.FormatOptional(configDuration(sch.DurationSecs)))
	printNextRuns(cmd, sch)
	return nil
}

func printNextRuns(cmd *cobra.Command, sch *types.ScheduleStatus) {
	if len(sch.NextRuns) == 0 {
		return
	}
	cmd.Printf("Next %d run(s):\n", len(sch.NextRuns))
	for _, run := range sch.NextRuns {
		cmd.Printf("  - %s\n", run.Local().Format(time.DateTime))
	}
}
