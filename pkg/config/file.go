package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/caffeinator/caffeinator/pkg/assertion"
	"github.com/caffeinator/caffeinator/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		DefaultMode:          ptr.To(assertion.NoIdleSleep),
		DefaultDurationSecs:  ptr.To(uint64(3600)),
		AllowNonRootAccess:   ptr.To(false),
		Schedule:             ptr.To(""),
		ScheduleMode:         ptr.To(assertion.NoIdleSleep),
		ScheduleDurationSecs: ptr.To(uint64(3600)),
		ExpiryPollMillis:     ptr.To(uint64(1000)),
	}
)

var _ Config = &File{}

// DefaultPath is ~/Library/Application Support/caffeinator/config.json on
// macOS, and the XDG equivalent elsewhere.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "caffeinator", "config.json")
}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

type RawFileConfig struct {
	DefaultMode          *assertion.Mode `json:"defaultMode,omitempty" yaml:"defaultMode,omitempty"`
	DefaultDurationSecs  *uint64         `json:"defaultDurationSecs,omitempty" yaml:"defaultDurationSecs,omitempty"`
	AllowNonRootAccess   *bool           `json:"allowNonRootAccess,omitempty" yaml:"allowNonRootAccess,omitempty"`
	Schedule             *string         `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	ScheduleMode         *assertion.Mode `json:"scheduleMode,omitempty" yaml:"scheduleMode,omitempty"`
	ScheduleDurationSecs *uint64         `json:"scheduleDurationSecs,omitempty" yaml:"scheduleDurationSecs,omitempty"`
	ExpiryPollMillis     *uint64         `json:"expiryPollMillis,omitempty" yaml:"expiryPollMillis,omitempty"`
}

func (r *RawFileConfig) validate() error {
	for name, m := range map[string]*assertion.Mode{
		"defaultMode":  r.DefaultMode,
		"scheduleMode": r.ScheduleMode,
	} {
		if m != nil && !m.Valid() {
			return pkgerrors.Errorf("invalid %s %q", name, string(*m))
		}
	}
	return nil
}

func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	return &RawFileConfig{
		DefaultMode:          ptr.To(c.DefaultMode()),
		DefaultDurationSecs:  ptr.To(c.DefaultDurationSecs()),
		AllowNonRootAccess:   ptr.To(c.AllowNonRootAccess()),
		Schedule:             ptr.To(c.Schedule()),
		ScheduleMode:         ptr.To(c.ScheduleMode()),
		ScheduleDurationSecs: ptr.To(c.ScheduleDurationSecs()),
		ExpiryPollMillis:     ptr.To(uint64(c.ExpiryPollInterval() / time.Millisecond)),
	}, nil
}

func (f *File) raw() *RawFileConfig {
	if f.c == nil {
		panic("config is nil")
	}
	return f.c
}

// Path is the file this config is loaded from and saved to.
func (f *File) Path() string {
	return f.filepath
}

func (f *File) DefaultMode() assertion.Mode {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().DefaultMode, *defaultFileConfig.DefaultMode)
}

func (f *File) DefaultDurationSecs() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().DefaultDurationSecs, *defaultFileConfig.DefaultDurationSecs)
}

func (f *File) AllowNonRootAccess() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().AllowNonRootAccess, *defaultFileConfig.AllowNonRootAccess)
}

func (f *File) Schedule() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().Schedule, *defaultFileConfig.Schedule)
}

func (f *File) ScheduleMode() assertion.Mode {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().ScheduleMode, *defaultFileConfig.ScheduleMode)
}

func (f *File) ScheduleDurationSecs() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().ScheduleDurationSecs, *defaultFileConfig.ScheduleDurationSecs)
}

func (f *File) ExpiryPollInterval() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ms := ptr.Deref(f.raw().ExpiryPollMillis, *defaultFileConfig.ExpiryPollMillis)
	if ms == 0 {
		ms = *defaultFileConfig.ExpiryPollMillis
	}
	return time.Duration(ms) * time.Millisecond
}

func (f *File) SetDefaultMode(m assertion.Mode) {
	if !m.Valid() {
		panic("invalid assertion mode " + string(m))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().DefaultMode = &m
}

func (f *File) SetDefaultDurationSecs(secs uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().DefaultDurationSecs = &secs
}

func (f *File) SetAllowNonRootAccess(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().AllowNonRootAccess = &b
}

func (f *File) SetSchedule(cron string, mode assertion.Mode, durationSecs uint64) {
	if !mode.Valid() {
		panic("invalid assertion mode " + string(mode))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	c := f.raw()
	c.Schedule = &cron
	c.ScheduleMode = &mode
	c.ScheduleDurationSecs = &durationSecs
}

func (f *File) isYAML() bool {
	switch strings.ToLower(filepath.Ext(f.filepath)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	if f.isYAML() {
		err = yaml.Unmarshal(b, &conf)
	} else {
		err = json.Unmarshal(b, &conf)
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	if err := conf.validate(); err != nil {
		return pkgerrors.Wrapf(err, "bad config in file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	var (
		b   []byte
		err error
	)
	if f.isYAML() {
		b, err = yaml.Marshal(f.c)
	} else {
		b, err = json.MarshalIndent(f.c, "", "  ")
		b = append(b, '\n')
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config for file %s", f.filepath)
	}

	if err := os.MkdirAll(filepath.Dir(f.filepath), 0755); err != nil {
		return pkgerrors.Wrapf(err, "failed to create config directory for %s", f.filepath)
	}
	if err := os.WriteFile(f.filepath, b, 0644); err != nil {
		return pkgerrors.Wrapf(err, "failed to write file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"defaultMode":          f.DefaultMode(),
		"defaultDurationSecs":  f.DefaultDurationSecs(),
		"allowNonRootAccess":   f.AllowNonRootAccess(),
		"schedule":             f.Schedule(),
		"scheduleMode":         f.ScheduleMode(),
		"scheduleDurationSecs": f.ScheduleDurationSecs(),
		"expiryPollInterval":   f.ExpiryPollInterval().String(),
	}
}
