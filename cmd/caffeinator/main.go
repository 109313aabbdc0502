package main

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/caffeinator/caffeinator/pkg/client"
	"github.com/caffeinator/caffeinator/pkg/config"
	"github.com/caffeinator/caffeinator/pkg/gui"
	"github.com/caffeinator/caffeinator/pkg/version"
)

var (
	logLevel       = "info"
	unixSocketPath = filepath.Join(os.TempDir(), "caffeinator.sock")
	configPath     = config.DefaultPath()

	apiClient *client.Client
)

var (
	gBasic        = "Basic:"
	gAdvanced     = "Advanced:"
	gInstallation = "Installation:"
	commandGroups = []string{
		gBasic,
		gAdvanced,
		gInstallation,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	if errors.Is(err, client.ErrDaemonNotRunning) {
		fmt.Fprintln(os.Stderr, "\nError: caffeinator daemon is not running")
		fmt.Fprintln(os.Stderr, "  - Start it in the foreground with 'caffeinator daemon'")
		fmt.Fprintln(os.Stderr, "  - Or install it as a login agent with 'caffeinator install'")
	} else if errors.Is(err, client.ErrPermissionDenied) {
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - The daemon socket belongs to another user")
		fmt.Fprintln(os.Stderr, "  - Restart the daemon with '--always-allow-non-root-access' to let other users connect")
	}
}

func main() {
	// caffeinator does not need many threads.
	if os.Getenv("GOMAXPROCS") == "" {
		runtime.GOMAXPROCS(2)
	}
	// AppKit (menubar) must run on the main thread.
	runtime.LockOSThread()

	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "caffeinator",
		Short: "caffeinator keeps your Mac awake",
		Long: `caffeinator keeps your Mac awake.

It holds a macOS power assertion for as long as you ask it to: for a fixed
time, indefinitely, on a schedule, or until a process exits.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			err := setupLogger()
			if err != nil {
				return err
			}

			apiClient = client.NewClient(unixSocketPath)

			// The daemon and the installer do not talk to a running daemon.
			if cmd.Name() == "daemon" || cmd.Name() == "install" || cmd.Name() == "uninstall" {
				return nil
			}

			if daemonVersion, err := apiClient.GetVersion(); err == nil {
				if daemonVersion != version.Version {
					logrus.WithFields(logrus.Fields{
						"clientVersion": version.Version,
						"daemonVersion": daemonVersion,
					}).Warn("Version mismatch between client and daemon. Reinstall the daemon with 'caffeinator install' so both are the same version.")
				}
			} else if errors.Is(err, client.ErrNotFound) {
				logrus.Error("caffeinator daemon is too old to report its version. Reinstall it with 'caffeinator install'.")
			}

			return nil
		},
	}

	if os.Getenv("CAFFEINATOR_RUN_GUI") != "" || path.Base(os.Args[0]) == "caffeinator-gui" {
		cmd.Run = func(_ *cobra.Command, _ []string) {
			gui.Run(unixSocketPath)
		}
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path (.json, .yaml or .yml)")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "caffeinator daemon unix socket path")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewVersionCommand(),
		NewOnCommand(),
		NewOffCommand(),
		NewToggleCommand(),
		NewStatusCommand(),
		NewProfileCommand(),
		NewWatchCommand(),
		NewModesCommand(),
		NewScheduleCommand(),
		NewConfigCommand(),
		NewDaemonCommand(),
		NewInstallCommand(),
		NewUninstallCommand(),
		gui.NewGUICommand(&unixSocketPath, gAdvanced),
	)

	return cmd
}
