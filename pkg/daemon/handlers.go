package daemon

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/distatus/battery"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/caffeinator/caffeinator/pkg/assertion"
	"github.com/caffeinator/caffeinator/pkg/config"
	"github.com/caffeinator/caffeinator/pkg/events"
	"github.com/caffeinator/caffeinator/pkg/procwatch"
	"github.com/caffeinator/caffeinator/pkg/session"
	"github.com/caffeinator/caffeinator/pkg/types"
	"github.com/caffeinator/caffeinator/pkg/version"
)

const scheduleListLength = 5

func (d *Daemon) getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.manager.Status())
}

// sessionArgs resolves the mode and duration of an activate or toggle
// request against the configured defaults.
func (d *Daemon) sessionArgs(req types.ActivateRequest) (assertion.Mode, *uint64) {
	mode := d.conf.DefaultMode()
	if req.Mode != nil {
		mode = *req.Mode
	}
	dur := req.DurationSecs
	if dur == nil && req.UseDefaultDuration {
		dur = config.DurationPtr(d.conf.DefaultDurationSecs())
	}
	return mode, dur
}

func (d *Daemon) activate(c *gin.Context) {
	var req types.ActivateRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}

	d.stopWatch()
	mode, dur := d.sessionArgs(req)
	wasActive := d.manager.Status().IsActive
	st, err := d.manager.Activate(mode, dur)
	if err != nil {
		d.publishFailure(wasActive, st)
		sessionError(c, "activate", err)
		return
	}

	d.publishSession(st, events.CauseActivate)
	c.IndentedJSON(http.StatusOK, st)
}

func (d *Daemon) deactivate(c *gin.Context) {
	d.stopWatch()
	wasActive := d.manager.Status().IsActive
	st, err := d.manager.Deactivate()
	if err != nil {
		d.publishFailure(wasActive, st)
		sessionError(c, "deactivate", err)
		return
	}

	d.publishSession(st, events.CauseDeactivate)
	c.IndentedJSON(http.StatusOK, st)
}

func (d *Daemon) toggle(c *gin.Context) {
	var req types.ActivateRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}

	d.stopWatch()
	mode, dur := d.sessionArgs(req)
	wasActive := d.manager.Status().IsActive
	st, err := d.manager.Toggle(mode, dur)
	if err != nil {
		d.publishFailure(wasActive, st)
		sessionError(c, "toggle", err)
		return
	}

	cause := events.CauseDeactivate
	if st.IsActive {
		cause = events.CauseActivate
	}
	d.publishSession(st, cause)
	c.IndentedJSON(http.StatusOK, st)
}

func (d *Daemon) getPowerProfile(c *gin.Context) {
	p, err := d.profiles.Get(c.Request.Context())
	if err != nil {
		logrus.Errorf("getPowerProfile failed: %v", err)
		internalError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, p)
}

func (d *Daemon) getWatch(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, types.WatchStatus{
		Process: d.watchedProcess(),
		Status:  d.manager.Status(),
	})
}

func (d *Daemon) setWatch(c *gin.Context) {
	var req types.WatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var (
		p   procwatch.Process
		err error
	)
	switch {
	case req.PID != 0 && req.Name != "":
		badRequest(c, errors.New("only one of pid and name can be set"))
		return
	case req.PID != 0:
		p, err = d.procs.FindPID(c.Request.Context(), req.PID)
	case req.Name != "":
		p, err = d.procs.Find(c.Request.Context(), req.Name)
	default:
		badRequest(c, errors.New("pid or name is required"))
		return
	}
	if err != nil {
		if errors.Is(err, procwatch.ErrNotFound) {
			badRequest(c, err)
			return
		}
		internalError(c, err)
		return
	}

	mode := d.conf.DefaultMode()
	if req.Mode != nil {
		mode = *req.Mode
	}

	st, err := d.startWatch(p, mode)
	if err != nil {
		sessionError(c, "activate", err)
		return
	}
	c.IndentedJSON(http.StatusOK, st)
}

func (d *Daemon) getModes(c *gin.Context) {
	modes := make([]types.ModeInfo, 0, len(assertion.AllModes))
	for _, m := range assertion.AllModes {
		modes = append(modes, types.ModeInfo{
			Mode:          m,
			Label:         m.Label(),
			AssertionType: m.AssertionType(),
			Flag:          m.Flag(),
			Description:   m.Description(),
		})
	}
	c.IndentedJSON(http.StatusOK, modes)
}

func (d *Daemon) getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(d.conf)
	if err != nil {
		internalError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func (d *Daemon) setDefaultMode(c *gin.Context) {
	var m assertion.Mode
	if err := c.ShouldBindJSON(&m); err != nil {
		badRequest(c, err)
		return
	}

	d.conf.SetDefaultMode(m)
	if !d.saveConfig(c) {
		return
	}

	logrus.Infof("set default mode to %s", m)
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("default mode set to %s", m.Label()))
}

func (d *Daemon) setDefaultDuration(c *gin.Context) {
	var secs uint64
	if err := c.ShouldBindJSON(&secs); err != nil {
		badRequest(c, err)
		return
	}

	d.conf.SetDefaultDurationSecs(secs)
	if !d.saveConfig(c) {
		return
	}

	logrus.Infof("set default duration to %ds", secs)
	msg := "default duration set to indefinite"
	if secs > 0 {
		msg = fmt.Sprintf("default duration set to %s", time.Duration(secs)*time.Second)
	}
	c.IndentedJSON(http.StatusCreated, msg)
}

func (d *Daemon) scheduleStatus() types.ScheduleStatus {
	expr, _, _ := d.scheduler.Status()
	return types.ScheduleStatus{
		Cron:         expr,
		Mode:         d.conf.ScheduleMode(),
		DurationSecs: d.conf.ScheduleDurationSecs(),
		NextRuns:     d.scheduler.NextRuns(scheduleListLength),
	}
}

func (d *Daemon) getSchedule(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.scheduleStatus())
}

func (d *Daemon) setSchedule(c *gin.Context) {
	var req types.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if req.Cron != "" {
		if _, err := ParseCron(req.Cron); err != nil {
			badRequest(c, fmt.Errorf("invalid cron expression %q: %w", req.Cron, err))
			return
		}
	}

	mode := d.conf.ScheduleMode()
	if req.Mode != nil {
		mode = *req.Mode
	}
	dur := d.conf.ScheduleDurationSecs()
	if req.DurationSecs != nil {
		dur = *req.DurationSecs
	}

	d.conf.SetSchedule(req.Cron, mode, dur)
	if !d.saveConfig(c) {
		return
	}
	if err := d.scheduler.Schedule(req.Cron); err != nil {
		internalError(c, err)
		return
	}

	action := "set"
	if req.Cron == "" {
		action = "clear"
	}
	d.publishSchedule(action, req.Cron)
	c.IndentedJSON(http.StatusCreated, d.scheduleStatus())
}

func (d *Daemon) skipSchedule(c *gin.Context) {
	if err := d.scheduler.Skip(); err != nil {
		badRequest(c, err)
		return
	}

	d.publishSchedule("skip", "")
	c.IndentedJSON(http.StatusCreated, d.scheduleStatus())
}

func (d *Daemon) postponeSchedule(c *gin.Context) {
	var req types.PostponeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := d.scheduler.Postpone(time.Duration(req.DurationSecs) * time.Second); err != nil {
		badRequest(c, err)
		return
	}

	d.publishSchedule("postpone", "")
	c.IndentedJSON(http.StatusCreated, d.scheduleStatus())
}

func (d *Daemon) getBattery(c *gin.Context) {
	batteries, err := d.batteries()
	if err != nil && len(batteries) == 0 {
		logrus.Errorf("getBattery failed: %v", err)
		internalError(c, err)
		return
	}

	if len(batteries) == 0 || batteries[0] == nil {
		c.IndentedJSON(http.StatusNotFound, "no batteries found")
		_ = c.AbortWithError(http.StatusNotFound, errors.New("no batteries found"))
		return
	}

	bat := batteries[0] // Macs have at most one battery.
	info := types.BatteryInfo{
		State:      bat.State.String(),
		ChargeRate: bat.ChargeRate,
	}
	if bat.Full > 0 {
		info.Percent = bat.Current / bat.Full * 100
	}
	if bat.State == battery.Discharging {
		info.ChargeRate = -info.ChargeRate
	}

	c.IndentedJSON(http.StatusOK, info)
}

func (d *Daemon) streamEvents(c *gin.Context) {
	ch := d.hub.Subscribe()
	defer d.hub.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-ctx.Done():
			return false
		case <-d.ctx.Done():
			return false
		}
	})
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}

func (d *Daemon) saveConfig(c *gin.Context) bool {
	if err := d.conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		internalError(c, err)
		return false
	}
	return true
}

// bindOptionalJSON decodes the request body into v, accepting an empty
// body as "all defaults".
func bindOptionalJSON(c *gin.Context, v any) error {
	b, err := c.GetRawData()
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func badRequest(c *gin.Context, err error) {
	c.IndentedJSON(http.StatusBadRequest, err.Error())
	_ = c.AbortWithError(http.StatusBadRequest, err)
}

func internalError(c *gin.Context, err error) {
	c.IndentedJSON(http.StatusInternalServerError, err.Error())
	_ = c.AbortWithError(http.StatusInternalServerError, err)
}

func sessionError(c *gin.Context, op string, err error) {
	logrus.Errorf("%s failed: %v", op, err)
	if errors.Is(err, session.ErrUnknownMode) {
		badRequest(c, err)
		return
	}
	internalError(c, err)
}
