package main

import (
	"fmt"
	"os"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/caffeinator/caffeinator/pkg/config"
	"github.com/caffeinator/caffeinator/pkg/launchd"
)

func newAgent() (*launchd.Agent, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve the path to the current executable: %w", err)
	}

	return &launchd.Agent{
		Executable: exe,
		Args: []string{
			"daemon",
			"--config", configPath,
			"--daemon-socket", unixSocketPath,
			"--log-level", logLevel,
		},
	}, nil
}

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	allowNonRootAccess := false

	cmd := &cobra.Command{
		Use:     "install",
		Short:   "Start caffeinator daemon at login",
		GroupID: gInstallation,
		Long: `Install caffeinator daemon as a launchd agent for the current user.

This makes the daemon run in the background and start automatically when you
log in. No root access is needed.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}
			conf.SetAllowNonRootAccess(allowNonRootAccess)
			if allowNonRootAccess {
				logrus.Info("other users are allowed to access the caffeinator daemon.")
			}
			// Save before loading the agent so the daemon starts with it.
			if err := conf.Save(); err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}

			agent, err := newAgent()
			if err != nil {
				return err
			}
			if err := agent.Install(); err != nil {
				return fmt.Errorf("failed to install daemon: %w", err)
			}

			logrus.Infof("installation succeeded")
			return nil
		},
	}

	cmd.Flags().BoolVar(&allowNonRootAccess, "allow-non-root-access", false, "Let every user on this Mac access the daemon socket.")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall",
		Short:   "Stop starting caffeinator daemon at login",
		GroupID: gInstallation,
		Long: `Uninstall caffeinator daemon from launchd.

This stops the daemon, which releases any power assertion it holds, and
removes the launchd agent. The config file is kept.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			agent, err := newAgent()
			if err != nil {
				return err
			}
			if err := agent.Uninstall(); err != nil {
				return fmt.Errorf("failed to uninstall daemon: %w", err)
			}

			logrus.Infof("successfully uninstalled caffeinator")
			return nil
		},
	}
}
