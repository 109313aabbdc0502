package gui

import (
	"github.com/getlantern/systray"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/caffeinator/caffeinator/pkg/client"
	"github.com/caffeinator/caffeinator/pkg/version"
)

func NewGUICommand(unixSocketPath *string, groupID string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "gui",
		Short:   "Start the caffeinator menubar app",
		GroupID: groupID,
		Long: `Start the caffeinator menubar app.

The menubar app talks to the caffeinator daemon, so the daemon must be running.`,
		Run: func(_ *cobra.Command, _ []string) {
			Run(*unixSocketPath)
		},
	}

	return cmd
}

// Run blocks until the user quits from the menu.
func Run(unixSocketPath string) {
	logrus.WithField("version", version.Version).WithField("gitCommit", version.GitCommit).Info("caffeinator gui")

	m := newMenuController(client.NewClient(unixSocketPath))
	systray.Run(m.onReady, m.onExit)
}
