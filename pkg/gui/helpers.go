package gui

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// showNotification posts a user notification. Best-effort, async.
func showNotification(title, body string) {
	go func() {
		script := fmt.Sprintf("display notification \"%s\" with title \"%s\"",
			escapeAppleScript(body), escapeAppleScript(title))

		output := &bytes.Buffer{}
		cmd := exec.Command("/usr/bin/osascript", "-e", script)
		cmd.Stdout = output
		cmd.Stderr = output
		if err := cmd.Run(); err != nil {
			logrus.WithError(err).Debugf("failed to show notification: %s", output.String())
		}
	}()
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
