package daemon

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// idleWait is how long the loop sleeps when nothing is scheduled. Any
// schedule change wakes it earlier.
const idleWait = 10000 * time.Hour

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron validates a cron expression. Five or six fields and
// descriptors such as "@daily" or "@every 1h" are accepted.
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler runs Task at the times given by a cron expression. The next
// run can be skipped or postponed.
type Scheduler struct {
	Task func(runAt time.Time) error
	// OnUpcoming is called Lead before each run.
	OnUpcoming func(runAt time.Time)
	OnError    func(err error)
	Lead       time.Duration

	mu       sync.Mutex
	expr     string
	schedule cron.Schedule
	nextRun  time.Time
	notified time.Time
	running  bool

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

func NewScheduler(task func(runAt time.Time) error) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}

	return &Scheduler{
		Task:   task,
		wakeCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start runs the scheduling loop in a goroutine. It is a no-op if the
// loop is already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.loop()
}

// Stop ends the loop and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	select {
	case <-s.stopCh: // already closed
	default:
		close(s.stopCh)
	}
	if running {
		<-s.doneCh
	}
}

// Schedule replaces the current schedule. An empty expression clears it.
func (s *Scheduler) Schedule(expr string) error {
	if expr == "" {
		s.Clear()
		return nil
	}

	sh, err := ParseCron(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	s.mu.Lock()
	s.expr = expr
	s.schedule = sh
	s.nextRun = sh.Next(time.Now())
	s.notified = time.Time{}
	s.mu.Unlock()

	logrus.WithField("cron", expr).Info("schedule set")
	s.wake()
	return nil
}

func (s *Scheduler) Clear() {
	s.mu.Lock()
	s.expr = ""
	s.schedule = nil
	s.nextRun = time.Time{}
	s.notified = time.Time{}
	s.mu.Unlock()

	s.wake()
}

// Postpone moves the next run d later. The postponed run must still come
// before the one after it.
func (s *Scheduler) Postpone(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("postpone duration must be positive")
	}

	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return fmt.Errorf("no active schedule to postpone")
	}
	following := s.schedule.Next(s.nextRun)
	pp := s.nextRun.Add(d)
	if !pp.Before(following) {
		s.mu.Unlock()
		return fmt.Errorf("postpone duration too long, the next run after that is at %s", following.Format(time.DateTime))
	}
	s.nextRun = pp
	s.notified = time.Time{}
	s.mu.Unlock()

	s.wake()
	return nil
}

// Skip drops the next run.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return fmt.Errorf("no active schedule to skip")
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	s.notified = time.Time{}
	s.mu.Unlock()

	s.wake()
	return nil
}

// Status returns the cron expression and the next run, both zero when
// nothing is scheduled.
func (s *Scheduler) Status() (expr string, nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expr, s.nextRun, s.running
}

// NextRuns lists up to n upcoming runs, starting with the next one.
func (s *Scheduler) NextRuns(n int) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := []time.Time{}
	if s.schedule == nil || s.nextRun.IsZero() {
		return runs
	}
	t := s.nextRun
	for i := 0; i < n; i++ {
		runs = append(runs, t)
		t = s.schedule.Next(t)
	}
	return runs
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.doneCh)
		logrus.Debug("scheduler stopped")
	}()

	logrus.Debug("scheduler started")

	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	for {
		timer.Reset(s.tick(time.Now()))

		select {
		case <-s.stopCh:
			return
		case <-s.wakeCh:
		case <-timer.C:
		}
	}
}

// tick does whatever is due at now and returns how long to wait until
// something else is.
func (s *Scheduler) tick(now time.Time) time.Duration {
	s.mu.Lock()

	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return idleWait
	}

	runAt := s.nextRun
	if !now.Before(runAt) {
		s.nextRun = s.schedule.Next(now)
		s.mu.Unlock()

		logrus.WithField("runAt", runAt.Format(time.DateTime)).Info("running scheduled task")
		if err := s.Task(runAt); err != nil {
			logrus.WithError(err).Error("scheduled task failed")
			if s.OnError != nil {
				s.OnError(fmt.Errorf("task failed: %w", err))
			}
		}
		return 0
	}

	if s.Lead > 0 && !s.notified.Equal(runAt) {
		upcoming := runAt.Add(-s.Lead)
		if now.Before(upcoming) {
			s.mu.Unlock()
			return upcoming.Sub(now)
		}
		s.notified = runAt
		s.mu.Unlock()

		logrus.Debugf("upcoming scheduled task at %s", runAt.Format(time.DateTime))
		if s.OnUpcoming != nil {
			s.OnUpcoming(runAt)
		}
		return runAt.Sub(now)
	}

	s.mu.Unlock()
	return runAt.Sub(now)
}
