package client

import (
	"encoding/json"

	pkgerrors "github.com/pkg/errors"

	"github.com/caffeinator/caffeinator/pkg/assertion"
	"github.com/caffeinator/caffeinator/pkg/config"
	"github.com/caffeinator/caffeinator/pkg/powerprofile"
	"github.com/caffeinator/caffeinator/pkg/session"
	"github.com/caffeinator/caffeinator/pkg/types"
)

func decode[T any](ret string, what string) (*T, error) {
	var v T
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return &v, nil
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *Client) GetStatus() (*session.Status, error) {
	ret, err := c.Get("/status")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get status")
	}
	return decode[session.Status](ret, "status")
}

func (c *Client) sessionRequest(path string, req types.ActivateRequest) (*session.Status, error) {
	payload, err := marshal(req)
	if err != nil {
		return nil, err
	}
	ret, err := c.Put(path, payload)
	if err != nil {
		return nil, err
	}
	return decode[session.Status](ret, "status")
}

// Activate starts a session. An empty mode uses the daemon's default mode.
func (c *Client) Activate(req types.ActivateRequest) (*session.Status, error) {
	st, err := c.sessionRequest("/activate", req)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to activate")
	}
	return st, nil
}

func (c *Client) Deactivate() (*session.Status, error) {
	ret, err := c.Put("/deactivate", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to deactivate")
	}
	return decode[session.Status](ret, "status")
}

func (c *Client) Toggle(req types.ActivateRequest) (*session.Status, error) {
	st, err := c.sessionRequest("/toggle", req)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to toggle")
	}
	return st, nil
}

func (c *Client) GetPowerProfile() (*powerprofile.Profile, error) {
	ret, err := c.Get("/power-profile")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get power profile")
	}
	return decode[powerprofile.Profile](ret, "power profile")
}

func (c *Client) Watch(req types.WatchRequest) (*session.Status, error) {
	payload, err := marshal(req)
	if err != nil {
		return nil, err
	}
	ret, err := c.Put("/watch", payload)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to watch process")
	}
	return decode[session.Status](ret, "status")
}

func (c *Client) GetWatch() (*types.WatchStatus, error) {
	ret, err := c.Get("/watch")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get watched process")
	}
	return decode[types.WatchStatus](ret, "watch status")
}

func (c *Client) GetModes() ([]types.ModeInfo, error) {
	ret, err := c.Get("/modes")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get modes")
	}
	modes, err := decode[[]types.ModeInfo](ret, "modes")
	if err != nil {
		return nil, err
	}
	return *modes, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}
	return decode[config.RawFileConfig](ret, "config")
}

func (c *Client) SetDefaultMode(m assertion.Mode) (string, error) {
	payload, err := marshal(m)
	if err != nil {
		return "", err
	}
	ret, err := c.Put("/config/default-mode", payload)
	return unquote(ret), err
}

func (c *Client) SetDefaultDuration(secs uint64) (string, error) {
	payload, err := marshal(secs)
	if err != nil {
		return "", err
	}
	ret, err := c.Put("/config/default-duration", payload)
	return unquote(ret), err
}

func (c *Client) GetSchedule() (*types.ScheduleStatus, error) {
	ret, err := c.Get("/schedule")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get schedule")
	}
	return decode[types.ScheduleStatus](ret, "schedule")
}

func (c *Client) SetSchedule(req types.ScheduleRequest) (*types.ScheduleStatus, error) {
	payload, err := marshal(req)
	if err != nil {
		return nil, err
	}
	ret, err := c.Put("/schedule", payload)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set schedule")
	}
	return decode[types.ScheduleStatus](ret, "schedule")
}

func (c *Client) SkipSchedule() (*types.ScheduleStatus, error) {
	ret, err := c.Post("/schedule/skip", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to skip scheduled run")
	}
	return decode[types.ScheduleStatus](ret, "schedule")
}

func (c *Client) PostponeSchedule(secs uint64) (*types.ScheduleStatus, error) {
	payload, err := marshal(types.PostponeRequest{DurationSecs: secs})
	if err != nil {
		return nil, err
	}
	ret, err := c.Post("/schedule/postpone", payload)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to postpone scheduled run")
	}
	return decode[types.ScheduleStatus](ret, "schedule")
}

func (c *Client) GetBattery() (*types.BatteryInfo, error) {
	ret, err := c.Get("/battery")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get battery info")
	}
	return decode[types.BatteryInfo](ret, "battery info")
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	return unquote(ret), nil
}
