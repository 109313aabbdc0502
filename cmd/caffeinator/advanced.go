package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/caffeinator/caffeinator/pkg/assertion"
	"github.com/caffeinator/caffeinator/pkg/durations"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Show or change daemon defaults",
		GroupID: gAdvanced,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := apiClient.GetConfig()
			if err != nil {
				return err
			}
			return printJSON(cmd, conf)
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "default-mode <mode>",
			Short: "Set the mode used when none is given",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				m, err := assertion.ParseMode(args[0])
				if err != nil {
					return err
				}

				ret, err := apiClient.SetDefaultMode(m)
				if err != nil {
					return err
				}
				if ret != "" {
					logrus.Infof("daemon responded: %s", ret)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "default-duration <duration>",
			Short: "Set the duration used when none is given, 0 for indefinite",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				secs, err := durations.ParseOptional(args[0])
				if err != nil {
					return err
				}

				var v uint64
				if secs != nil {
					v = *secs
				}
				ret, err := apiClient.SetDefaultDuration(v)
				if err != nil {
					return err
				}
				if ret != "" {
					logrus.Infof("daemon responded: %s", ret)
				}
				return nil
			},
		},
	)

	return cmd
}
