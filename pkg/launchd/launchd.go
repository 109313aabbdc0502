// Package launchd installs the daemon as a per-user LaunchAgent.
package launchd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/sirupsen/logrus"
)

const Label = "com.caffeinator.daemon"

var plistTemplate = template.Must(template.New("plist").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{ .Label }}</string>
	<key>ProgramArguments</key>
	<array>
{{- range .Args }}
		<string>{{ . }}</string>
{{- end }}
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
	<key>StandardOutPath</key>
	<string>{{ .LogPath }}</string>
	<key>StandardErrorPath</key>
	<string>{{ .LogPath }}</string>
</dict>
</plist>
`))

// Agent describes the LaunchAgent to install.
type Agent struct {
	// Executable is the absolute path of the caffeinator binary.
	Executable string
	// Args are passed after the executable, e.g. "daemon --config ...".
	Args []string
	// Dir is the LaunchAgents directory. Empty means ~/Library/LaunchAgents.
	Dir     string
	LogPath string

	// launchctl is replaced in tests.
	launchctl func(args ...string) error
}

func (a *Agent) dir() (string, error) {
	if a.Dir != "" {
		return a.Dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, "Library", "LaunchAgents"), nil
}

// PlistPath returns where the agent plist lives.
func (a *Agent) PlistPath() (string, error) {
	dir, err := a.dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, Label+".plist"), nil
}

// Render returns the plist document.
func (a *Agent) Render() ([]byte, error) {
	logPath := a.LogPath
	if logPath == "" {
		logPath = filepath.Join(os.TempDir(), "caffeinator.log")
	}

	var buf bytes.Buffer
	err := plistTemplate.Execute(&buf, struct {
		Label   string
		Args    []string
		LogPath string
	}{
		Label:   Label,
		Args:    append([]string{a.Executable}, a.Args...),
		LogPath: logPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render plist: %w", err)
	}
	return buf.Bytes(), nil
}

func (a *Agent) run(args ...string) error {
	if a.launchctl != nil {
		return a.launchctl(args...)
	}
	out, err := exec.Command("/bin/launchctl", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("launchctl %v: %w: %s", args, err, bytes.TrimSpace(out))
	}
	return nil
}

// Install writes the plist and loads it.
func (a *Agent) Install() error {
	if !filepath.IsAbs(a.Executable) {
		return fmt.Errorf("executable path %q is not absolute", a.Executable)
	}

	p, err := a.PlistPath()
	if err != nil {
		return err
	}
	doc, err := a.Render()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(p), err)
	}

	if _, err := os.Stat(p); err == nil {
		logrus.Warnf("%s already exists, replacing it", p)
		// Unload the old agent first, it may point at another binary.
		if err := a.run("unload", p); err != nil {
			logrus.WithError(err).Debug("failed to unload old agent")
		}
	}

	logrus.Infof("writing launch agent to %s", p)
	if err := os.WriteFile(p, doc, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}

	logrus.Info("starting caffeinator daemon")
	if err := a.run("load", p); err != nil {
		return fmt.Errorf("failed to load %s: %w", p, err)
	}
	return nil
}

// Uninstall unloads the agent and removes the plist. A missing plist is
// not an error.
func (a *Agent) Uninstall() error {
	p, err := a.PlistPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			logrus.Infof("%s does not exist, nothing to uninstall", p)
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", p, err)
	}

	logrus.Info("stopping caffeinator daemon")
	if err := a.run("unload", p); err != nil {
		return fmt.Errorf("failed to unload %s: %w", p, err)
	}

	logrus.Info("removing launch agent")
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}
	return nil
}

// Installed reports whether the plist exists.
func (a *Agent) Installed() bool {
	p, err := a.PlistPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}
