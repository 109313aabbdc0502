package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/distatus/battery"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/caffeinator/caffeinator/pkg/assertion"
	"github.com/caffeinator/caffeinator/pkg/config"
	"github.com/caffeinator/caffeinator/pkg/events"
	"github.com/caffeinator/caffeinator/pkg/powerprofile"
	"github.com/caffeinator/caffeinator/pkg/procwatch"
	"github.com/caffeinator/caffeinator/pkg/session"
)

const (
	scheduleLead    = time.Minute
	shutdownTimeout = 5 * time.Second
)

// ProfileReporter reads the current power profile.
type ProfileReporter interface {
	Get(ctx context.Context) (*powerprofile.Profile, error)
}

// Daemon owns the session manager and everything that changes it: the
// HTTP API, the expiry watcher, process watches and the scheduler.
type Daemon struct {
	conf      *config.File
	manager   *session.Manager
	profiles  ProfileReporter
	hub       *events.Hub
	scheduler *Scheduler
	procs     *procwatch.Watcher
	batteries func() ([]*battery.Battery, error)

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	watchMu     sync.Mutex
	watched     *procwatch.Process
	watchCancel context.CancelFunc
}

func New(conf *config.File, binding assertion.Binding) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		conf:      conf,
		manager:   session.NewManager(binding),
		profiles:  &powerprofile.Reporter{},
		hub:       events.NewHub(),
		procs:     &procwatch.Watcher{},
		batteries: battery.GetAll,
		ctx:       ctx,
		cancel:    cancel,
	}

	d.scheduler = NewScheduler(d.runScheduledSession)
	d.scheduler.Lead = scheduleLead
	d.scheduler.OnUpcoming = func(runAt time.Time) {
		d.publishSchedule("upcoming", "scheduled session starts at "+runAt.Format(time.DateTime))
	}
	d.scheduler.OnError = func(err error) {
		d.publishSchedule("error", err.Error())
	}

	return d
}

// Manager exposes the session manager, mostly for tests.
func (d *Daemon) Manager() *session.Manager {
	return d.manager
}

func (d *Daemon) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))

	router.GET("/status", d.getStatus)
	router.PUT("/activate", d.activate)
	router.PUT("/deactivate", d.deactivate)
	router.PUT("/toggle", d.toggle)
	router.GET("/power-profile", d.getPowerProfile)
	router.GET("/watch", d.getWatch)
	router.PUT("/watch", d.setWatch)
	router.GET("/modes", d.getModes)
	router.GET("/config", d.getConfig)
	router.PUT("/config/default-mode", d.setDefaultMode)
	router.PUT("/config/default-duration", d.setDefaultDuration)
	router.GET("/schedule", d.getSchedule)
	router.PUT("/schedule", d.setSchedule)
	router.POST("/schedule/skip", d.skipSchedule)
	router.POST("/schedule/postpone", d.postponeSchedule)
	router.GET("/battery", d.getBattery)
	router.GET("/events", d.streamEvents)
	router.GET("/version", getVersion)

	return router
}

// Start launches the background goroutines: expiry watcher, scheduler and
// config file watcher.
func (d *Daemon) Start() {
	w := &session.Watcher{
		Manager:  d.manager,
		Interval: d.conf.ExpiryPollInterval(),
		OnExpire: func(st session.Status) {
			d.publishSession(st, events.CauseExpire)
		},
	}
	d.bg.Add(1)
	go func() {
		defer d.bg.Done()
		w.Run(d.ctx)
	}()

	if err := d.applySchedule(); err != nil {
		logrus.WithError(err).Error("failed to apply schedule from config")
	}
	d.scheduler.Start()

	if err := d.conf.Watch(d.ctx, d.Reload); err != nil {
		logrus.WithError(err).Warn("config hot reload disabled")
	}
}

// Reload re-reads the config file and applies the schedule in it.
func (d *Daemon) Reload() {
	if err := d.conf.Load(); err != nil {
		logrus.Errorf("failed to reload config: %v", err)
		return
	}
	if err := d.applySchedule(); err != nil {
		logrus.WithError(err).Error("failed to apply schedule from config")
	}
	logrus.WithFields(d.conf.LogrusFields()).Info("config reloaded")
}

// Shutdown stops all background work and releases the assertion.
func (d *Daemon) Shutdown() {
	d.cancel()
	d.scheduler.Stop()
	d.stopWatch()
	d.bg.Wait()

	if st, err := d.manager.Deactivate(); err != nil {
		logrus.Errorf("failed to release power assertion before exiting: %v", err)
	} else if !st.IsActive {
		logrus.Debug("no power assertion held")
	}
}

// applySchedule is a no-op when the expression is unchanged, so that
// saving unrelated settings keeps a skipped or postponed run as it is.
func (d *Daemon) applySchedule() error {
	expr := d.conf.Schedule()
	if current, _, _ := d.scheduler.Status(); current == expr {
		return nil
	}
	return d.scheduler.Schedule(expr)
}

func (d *Daemon) runScheduledSession(time.Time) error {
	d.stopWatch()
	wasActive := d.manager.Status().IsActive
	st, err := d.manager.Activate(d.conf.ScheduleMode(), config.DurationPtr(d.conf.ScheduleDurationSecs()))
	if err != nil {
		d.publishFailure(wasActive, st)
		return err
	}
	d.publishSession(st, events.CauseSchedule)
	d.publishSchedule("run", "")
	return nil
}

// startWatch activates an indefinite session that ends when p exits.
func (d *Daemon) startWatch(p procwatch.Process, mode assertion.Mode) (session.Status, error) {
	d.stopWatch()

	wasActive := d.manager.Status().IsActive
	st, gen, err := d.manager.ActivateSession(mode, nil)
	if err != nil {
		d.publishFailure(wasActive, st)
		return st, err
	}
	d.publishSession(st, events.CauseActivate)

	ctx, cancel := context.WithCancel(d.ctx)
	d.watchMu.Lock()
	d.watched = &p
	d.watchCancel = cancel
	d.watchMu.Unlock()

	logger := logrus.WithFields(logrus.Fields{
		"pid":  p.PID,
		"name": p.Name,
	})
	logger.Info("watching process")

	d.bg.Add(1)
	go func() {
		defer d.bg.Done()

		if err := d.procs.Wait(ctx, p.PID); err != nil {
			logger.Debug("process watch cancelled")
			return
		}

		d.watchMu.Lock()
		if d.watched != nil && *d.watched == p {
			d.watched = nil
			d.watchCancel = nil
		}
		d.watchMu.Unlock()
		cancel()

		done, st, err := d.manager.DeactivateIf(gen)
		if err != nil {
			logger.WithError(err).Error("failed to deactivate after watched process exited")
		}
		if done {
			logger.Info("watched process exited, session ended")
			d.publishSession(st, events.CauseWatchExit)
		}
	}()

	return st, nil
}

func (d *Daemon) stopWatch() {
	d.watchMu.Lock()
	cancel := d.watchCancel
	d.watched = nil
	d.watchCancel = nil
	d.watchMu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (d *Daemon) watchedProcess() *procwatch.Process {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()
	if d.watched == nil {
		return nil
	}
	p := *d.watched
	return &p
}

func (d *Daemon) publishSession(st session.Status, cause string) {
	d.hub.Publish(events.SessionChanged, events.SessionChangedEvent{
		Status: st,
		Cause:  cause,
		Ts:     time.Now().Unix(),
	})
}

// publishFailure reports a session ended by a failed call. The manager
// clears the record even when releasing the old assertion fails.
func (d *Daemon) publishFailure(wasActive bool, st session.Status) {
	if wasActive && !st.IsActive {
		d.publishSession(st, events.CauseDeactivate)
	}
}

func (d *Daemon) publishSchedule(action, msg string) {
	d.hub.Publish(events.ScheduleAction, events.ScheduleActionEvent{
		Action:  action,
		Message: msg,
		Ts:      time.Now().Unix(),
	})
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	conf, err := config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	d := New(conf, assertion.New())
	router := d.Router()

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			d.Reload()
		}
	}()

	srv := &http.Server{
		Handler: router,
	}

	// A stale socket from a crashed daemon would make Listen fail.
	if _, err := os.Stat(unixSocketPath); err == nil {
		logrus.Warnf("removing stale socket %s", unixSocketPath)
		_ = os.Remove(unixSocketPath)
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	d.Start()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	// Open event streams end with the daemon context and would otherwise
	// hold up the HTTP shutdown.
	d.cancel()

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	err = srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	d.Shutdown()

	logrus.Info("exiting")
	return nil
}
