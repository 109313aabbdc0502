package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/caffeinator/caffeinator/pkg/durations"
	"github.com/caffeinator/caffeinator/pkg/powerprofile"
	"github.com/caffeinator/caffeinator/pkg/session"
	"github.com/caffeinator/caffeinator/pkg/types"
)

type statusData struct {
	status   *session.Status
	watch    *types.WatchStatus
	schedule *types.ScheduleStatus
	battery  *types.BatteryInfo
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	st, err := apiClient.GetStatus()
	if err != nil {
		return nil, fmt.Errorf("failed to get session status: %w", err)
	}

	w, err := apiClient.GetWatch()
	if err != nil {
		return nil, fmt.Errorf("failed to get watched process: %w", err)
	}

	sch, err := apiClient.GetSchedule()
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	// Desktop Macs have no battery.
	bat, _ := apiClient.GetBattery()

	return &statusData{
		status:   st,
		watch:    w,
		schedule: sch,
		battery:  bat,
	}, nil
}

func NewStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of caffeinator",
		Long:    `Get the current session, the watched process, the schedule and battery info.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if asJSON {
				st, err := apiClient.GetStatus()
				if err != nil {
					return err
				}
				return printJSON(cmd, st)
			}

			data, err := fetchStatusData()
			if err != nil {
				return err
			}
			printStatus(cmd, data)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the session status as JSON")
	return cmd
}

func printStatus(cmd *cobra.Command, data *statusData) {
	st := data.status

	cmd.Println(bold("Session:"))
	cmd.Println("  Active: " + bool2Text(st.IsActive))
	if st.IsActive && st.Mode != nil {
		cmd.Printf("  Mode: %s (%s)\n", bold("%s", st.Mode.Label()), st.Mode.AssertionType())
		cmd.Printf("  Duration: %s\n", durations.FormatOptional(st.TotalSeconds))
		if st.RemainingSeconds != nil {
			cmd.Printf("  Remaining: %s\n", bold("%s", durations.Clock(*st.RemainingSeconds)))
		}
	}
	if data.watch != nil && data.watch.Process != nil {
		cmd.Printf("  Until process exits: %s\n", data.watch.Process.String())
	}
	cmd.Println()

	cmd.Println(bold("Schedule:"))
	if data.schedule == nil || data.schedule.Cron == "" {
		cmd.Println("  Not set")
	} else {
		cmd.Printf("  %s, %s for %s\n", bold("%s", data.schedule.Cron), data.schedule.Mode.Label(),
			durations.FormatOptional(configDuration(data.schedule.DurationSecs)))
		if len(data.schedule.NextRuns) > 0 {
			cmd.Printf("  Next run: %s\n", data.schedule.NextRuns[0].Local().Format(time.DateTime))
		}
	}

	if data.battery != nil {
		cmd.Println()
		cmd.Println(bold("Battery:"))
		cmd.Printf("  Charge: %s (%s)\n", bold("%.0f%%", data.battery.Percent), data.battery.State)
	}
}

func NewProfileCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "profile",
		GroupID: gBasic,
		Short:   "Show the power source, sleep timers and assertions held by processes",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := apiClient.GetPowerProfile()
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, p)
			}
			printProfile(cmd, p)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the power profile as JSON")
	return cmd
}

func printProfile(cmd *cobra.Command, p *powerprofile.Profile) {
	cmd.Printf("%s %s\n", bold("Power source:"), p.Source)
	cmd.Println(bold("Sleep timers:"))
	cmd.Printf("  Display: %s\n", minutesText(p.DisplaySleep))
	cmd.Printf("  Disk:    %s\n", minutesText(p.DiskSleep))
	cmd.Printf("  System:  %s\n", minutesText(p.SystemSleep))

	cmd.Println(bold("Assertions held by processes:"))
	if len(p.Assertions) == 0 {
		cmd.Println("  None")
	}
	for _, a := range p.Assertions {
		cmd.Printf("  %s\n", a)
	}
}

func minutesText(v *uint32) string {
	switch {
	case v == nil:
		return "unknown"
	case *v == 0:
		return "never"
	case *v == 1:
		return "1 minute"
	default:
		return fmt.Sprintf("%d minutes", *v)
	}
}

// configDuration maps the config convention (0 = indefinite) to a pointer.
func configDuration(secs uint64) *uint64 {
	if secs == 0 {
		return nil
	}
	return &secs
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(b))
	return nil
}
