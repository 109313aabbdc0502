package gui

import (
	"context"
	"fmt"
	"time"

	"github.com/getlantern/systray"
	"github.com/sirupsen/logrus"

	"github.com/caffeinator/caffeinator/pkg/assertion"
	"github.com/caffeinator/caffeinator/pkg/client"
	"github.com/caffeinator/caffeinator/pkg/durations"
	"github.com/caffeinator/caffeinator/pkg/events"
	"github.com/caffeinator/caffeinator/pkg/powerprofile"
	"github.com/caffeinator/caffeinator/pkg/session"
	"github.com/caffeinator/caffeinator/pkg/types"
	"github.com/caffeinator/caffeinator/pkg/utils/ptr"
)

const (
	pollInterval  = time.Second
	powerInterval = 15 * time.Second
)

type menuController struct {
	api *client.Client

	mStatus    *systray.MenuItem
	mPower     *systray.MenuItem
	mToggle    *systray.MenuItem
	modeItems  map[assertion.Mode]*systray.MenuItem
	presetItem map[uint64]*systray.MenuItem
	mQuit      *systray.MenuItem

	actions chan func() error
	refresh chan struct{}
	cancel  context.CancelFunc

	// last status, used to pick the mode for duration presets
	status    session.Status
	lastPower time.Time
}

func newMenuController(api *client.Client) *menuController {
	return &menuController{
		api:        api,
		modeItems:  make(map[assertion.Mode]*systray.MenuItem),
		presetItem: make(map[uint64]*systray.MenuItem),
		actions:    make(chan func() error, 1),
		refresh:    make(chan struct{}, 1),
	}
}

func (m *menuController) onReady() {
	systray.SetTitle(menubarGlyph)
	systray.SetTooltip("caffeinator - keep your Mac awake")

	m.mStatus = systray.AddMenuItem("Connecting...", "Current session")
	m.mStatus.Disable()
	m.mPower = systray.AddMenuItem("Power: -", "Current power source")
	m.mPower.Disable()

	systray.AddSeparator()

	m.mToggle = systray.AddMenuItem("Turn On", "Toggle with the default mode and duration")

	mModes := systray.AddMenuItem("Mode", "Start a session in a specific mode")
	for _, mode := range assertion.AllModes {
		item := mModes.AddSubMenuItem(mode.Label(), mode.Description())
		m.modeItems[mode] = item
		m.onClick(item, m.activateMode(mode))
	}

	mDurations := systray.AddMenuItem("Duration", "Start a session for a fixed time")
	for _, secs := range durations.Presets {
		item := mDurations.AddSubMenuItem(presetTitle(secs), "")
		m.presetItem[secs] = item
		m.onClick(item, m.activatePreset(secs))
	}

	systray.AddSeparator()
	m.mQuit = systray.AddMenuItem("Quit", "Quit the menubar app. The daemon keeps running.")

	m.onClick(m.mToggle, func() error {
		_, err := m.api.Toggle(types.ActivateRequest{UseDefaultDuration: true})
		return err
	})

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.loop(ctx)
	go m.watchEvents(ctx)
}

func (m *menuController) onExit() {
	if m.cancel != nil {
		m.cancel()
	}
	logrus.Info("caffeinator gui exiting")
}

// onClick forwards clicks on item to the main loop.
func (m *menuController) onClick(item *systray.MenuItem, action func() error) {
	go func() {
		for range item.ClickedCh {
			m.actions <- action
		}
	}()
}

func (m *menuController) activateMode(mode assertion.Mode) func() error {
	return func() error {
		_, err := m.api.Activate(types.ActivateRequest{Mode: ptr.To(mode), UseDefaultDuration: true})
		return err
	}
}

// activatePreset keeps the active mode, if any.
func (m *menuController) activatePreset(secs uint64) func() error {
	return func() error {
		req := types.ActivateRequest{Mode: m.status.Mode}
		if secs > 0 {
			req.DurationSecs = ptr.To(secs)
		}
		_, err := m.api.Activate(req)
		return err
	}
}

func (m *menuController) loop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	m.update()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.mQuit.ClickedCh:
			systray.Quit()
			return
		case action := <-m.actions:
			if err := action(); err != nil {
				logrus.WithError(err).Error("menu action failed")
				showNotification("Caffeinator", err.Error())
			}
			m.update()
		case <-m.refresh:
			m.update()
		case <-ticker.C:
			m.update()
		}
	}
}

func (m *menuController) update() {
	st, err := m.api.GetStatus()
	if err != nil {
		logrus.Debugf("cannot connect to daemon: %v", err)
		systray.SetTitle(menubarGlyph + " !")
		m.mStatus.SetTitle("Daemon not running")
		m.mToggle.Disable()
		return
	}
	m.status = *st
	m.mToggle.Enable()

	systray.SetTitle(displayTitle(*st))
	m.mStatus.SetTitle(statusLine(*st))
	if st.IsActive {
		m.mToggle.SetTitle("Turn Off")
	} else {
		m.mToggle.SetTitle("Turn On")
	}
	for mode, item := range m.modeItems {
		if st.IsActive && st.Mode != nil && *st.Mode == mode {
			item.Check()
		} else {
			item.Uncheck()
		}
	}
	for secs, item := range m.presetItem {
		if st.IsActive && ptr.Deref(st.TotalSeconds, 0) == secs {
			item.Check()
		} else {
			item.Uncheck()
		}
	}

	if time.Since(m.lastPower) >= powerInterval {
		m.updatePower()
	}
}

func (m *menuController) updatePower() {
	m.lastPower = time.Now()

	profile, err := m.api.GetPowerProfile()
	if err != nil {
		logrus.WithError(err).Debug("failed to get power profile")
		m.mPower.SetTitle("Power: -")
		return
	}

	var bat *types.BatteryInfo
	if b, err := m.api.GetBattery(); err == nil {
		bat = b
	}
	m.mPower.SetTitle(powerLine(profile, bat))
}

// watchEvents refreshes the menu as soon as the daemon reports a change.
func (m *menuController) watchEvents(ctx context.Context) {
	for ev := range m.api.SubscribeEvents(ctx) {
		logrus.WithFields(logrus.Fields{
			"event": ev.Name,
			"data":  string(ev.Data),
		}).Debug("new event")

		if msg := notificationFor(ev); msg != "" {
			showNotification("Caffeinator", msg)
		}

		select {
		case m.refresh <- struct{}{}:
		default:
		}
	}
}

// notificationFor returns the text to show for ev, or "" if the event
// is not worth a notification.
func notificationFor(ev events.Event) string {
	switch ev.Name {
	case events.SessionChanged:
		payload, err := events.DecodeAs[events.SessionChangedEvent](ev)
		if err != nil {
			logrus.WithError(err).Error("failed to decode session.changed event")
			return ""
		}
		switch payload.Cause {
		case events.CauseExpire:
			return "Session ended, your Mac can sleep again."
		case events.CauseWatchExit:
			return "Watched process exited, your Mac can sleep again."
		case events.CauseSchedule:
			return "Scheduled session started."
		}
	case events.ScheduleAction:
		payload, err := events.DecodeAs[events.ScheduleActionEvent](ev)
		if err != nil {
			logrus.WithError(err).Error("failed to decode schedule.action event")
			return ""
		}
		if payload.Action == "upcoming" || payload.Action == "error" {
			return payload.Message
		}
	}
	return ""
}

func presetTitle(secs uint64) string {
	if secs == 0 {
		return "Indefinitely"
	}
	return durations.Format(secs)
}

func powerLine(p *powerprofile.Profile, bat *types.BatteryInfo) string {
	line := "Power: " + p.Source
	if bat != nil {
		line += fmt.Sprintf(" (%.0f%%)", bat.Percent)
	}
	return line
}
