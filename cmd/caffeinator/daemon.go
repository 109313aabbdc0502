package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/caffeinator/caffeinator/pkg/daemon"
	"github.com/caffeinator/caffeinator/pkg/version"
)

var (
	// alwaysAllowNonRootAccess indicates whether to let other users access the daemon socket.
	alwaysAllowNonRootAccess = false
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "daemon",
		Short:   "Run caffeinator daemon in the foreground",
		GroupID: gAdvanced,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("caffeinator daemon starting")
			return daemon.Run(configPath, unixSocketPath, alwaysAllowNonRootAccess)
		},
	}

	f := cmd.Flags()

	f.BoolVar(&alwaysAllowNonRootAccess, "always-allow-non-root-access", false,
		"Let every user on this Mac access the daemon socket.")

	return cmd
}
