package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
)

const (
	// jitterFrom is the shortest interval that gets spread out.
	jitterFrom = 40 * time.Minute
	// jitterMax bounds how much earlier a long interval may fire.
	jitterMax = 4 * time.Minute
)

// ErrBadInterval is returned for non-positive test intervals.
var ErrBadInterval = errors.New("test interval must be positive")

// Runner executes scheduled commands; the gateway service implements it.
type Runner interface {
	Execute(ctx context.Context, req alarm.CommandRequest) (*alarm.DeviceState, error)
}

// Scheduler owns the cron entries of one gateway.
type Scheduler struct {
	cron            *cron.Cron
	runner          Runner
	defaultInterval time.Duration
	jitter          func(time.Duration) time.Duration

	mu    sync.Mutex
	ctx   context.Context //nolint:containedctx // Cron jobs run without a caller context.
	tests map[int]cron.EntryID
	arms  map[int][]cron.EntryID
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocation sets the time zone cron expressions are read in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.cron = newCron(loc)
	}
}

// WithDefaultInterval sets the test period of devices without their own.
func WithDefaultInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.defaultInterval = d
	}
}

// WithJitter replaces the interval spreading function.
func WithJitter(f func(time.Duration) time.Duration) Option {
	return func(s *Scheduler) {
		s.jitter = f
	}
}

// New creates a stopped scheduler.
func New(runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:            newCron(time.Local),
		runner:          runner,
		defaultInterval: 2 * time.Hour,
		jitter:          spread,
		ctx:             context.Background(),
		tests:           make(map[int]cron.EntryID),
		arms:            make(map[int][]cron.EntryID),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func newCron(loc *time.Location) *cron.Cron {
	l := cronLogger{}

	return cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
}

// spread fires long intervals up to jitterMax early so devices do not test in lockstep.
func spread(d time.Duration) time.Duration {
	if d < jitterFrom {
		return d
	}

	return d - rand.N(jitterMax) //nolint:gosec // Load spreading only.
}

// Start runs the cron loop until ctx is done; jobs inherit ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = logger.WithName(ctx, "scheduler")
	s.mu.Unlock()

	s.cron.Start()

	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
}

// Sync applies a device configuration: its repeating test and its arm-control jobs.
func (s *Scheduler) Sync(cfg *alarm.DeviceConfig) error {
	if err := s.ScheduleRepeatingTest(cfg.DeviceID, cfg.Interval(s.defaultInterval)); err != nil {
		return err
	}

	_, err := s.SetArmControl(cfg)

	return err
}

// Remove drops every job of a device.
func (s *Scheduler) Remove(deviceID int) {
	s.CancelRepeatingTest(deviceID)
	s.CancelArmControl(deviceID)
}

// ScheduleRepeatingTest (re)starts the periodic test of a device.
func (s *Scheduler) ScheduleRepeatingTest(deviceID int, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrBadInterval, interval)
	}

	every := s.jitter(interval)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.tests[deviceID]; ok {
		s.cron.Remove(id)
	}

	s.tests[deviceID] = s.cron.Schedule(cron.Every(every), s.job(alarm.CommandRequest{
		DeviceID: deviceID,
		Kind:     alarm.CommandTest,
		UserID:   alarm.NoUser,
	}))

	logger.DebugKV(s.ctx, "Repeating test scheduled", "device_id", deviceID, "every", every)

	return nil
}

// CancelRepeatingTest stops the periodic test of a device.
func (s *Scheduler) CancelRepeatingTest(deviceID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.tests[deviceID]
	if ok {
		s.cron.Remove(id)
		delete(s.tests, deviceID)
	}

	return ok
}

// ScheduleArmControlJob adds one automatic arm or disarm of zones on a cron expression.
func (s *Scheduler) ScheduleArmControlJob(deviceID int, spec string, kind alarm.CommandKind,
	zones alarm.ZoneVector,
) error {
	id, err := s.cron.AddJob(spec, s.job(alarm.CommandRequest{
		DeviceID: deviceID,
		Kind:     kind,
		Zones:    zones.Clone(),
		UserID:   alarm.AutoUserID,
		Auto:     true,
	}))
	if err != nil {
		return fmt.Errorf("arm control job %q: %w", spec, err)
	}

	s.mu.Lock()
	s.arms[deviceID] = append(s.arms[deviceID], id)
	s.mu.Unlock()

	return nil
}

// SetArmControl replaces the arm-control jobs of a device and returns how many were added.
func (s *Scheduler) SetArmControl(cfg *alarm.DeviceConfig) (int, error) {
	s.CancelArmControl(cfg.DeviceID)

	ctx := logger.WithKV(s.context(), "device_id", cfg.DeviceID)
	added := 0

	var errs []error

	for _, j := range ArmControlJobs(cfg) {
		if err := s.ScheduleArmControlJob(cfg.DeviceID, j.Spec, j.Kind, j.Zones); err != nil {
			errs = append(errs, err)

			continue
		}

		logger.InfoKV(ctx, "Arm control job scheduled", "spec", j.Spec, "command", j.Kind.String(),
			"zones", j.Zones.String())

		added++
	}

	return added, errors.Join(errs...)
}

// CancelArmControl removes the arm-control jobs of a device.
func (s *Scheduler) CancelArmControl(deviceID int) int {
	s.mu.Lock()
	ids := s.arms[deviceID]
	delete(s.arms, deviceID)
	s.mu.Unlock()

	for _, id := range ids {
		s.cron.Remove(id)
	}

	return len(ids)
}

// Entries returns the number of scheduled jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) job(req alarm.CommandRequest) cron.Job {
	return cron.FuncJob(func() {
		ctx := logger.WithKV(s.context(), "device_id", req.DeviceID, "command", req.Kind.String())
		if ctx.Err() != nil {
			return
		}

		if _, err := s.runner.Execute(ctx, req); err != nil {
			logger.WarnKV(ctx, "Scheduled command failed", "error", err)
		}
	})
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ctx
}

// cronLogger forwards cron's own log lines.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logger.DebugKV(logger.WithName(context.Background(), "cron"), msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.ErrorKV(logger.WithName(context.Background(), "cron"), msg, append(keysAndValues, "error", err)...)
}
