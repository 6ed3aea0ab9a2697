package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oshokin/alarm-bridge/internal/adapter"
	"github.com/oshokin/alarm-bridge/internal/config"
	"github.com/oshokin/alarm-bridge/internal/correlation"
	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
	"github.com/oshokin/alarm-bridge/internal/reconcile"
	repo "github.com/oshokin/alarm-bridge/internal/repository/state"
)

// Jobs keeps the scheduled work of devices in line with their configuration.
type Jobs interface {
	Sync(cfg *alarm.DeviceConfig) error
	Remove(deviceID int)
}

// Params wires a Service.
type Params struct {
	Adapter   adapter.ProtocolAdapter
	Repo      repo.Repository
	Publisher reconcile.Publisher
	Timing    config.Timing
	// AllowedUsers extends the built-in list of users that may arm or disarm.
	AllowedUsers []int
	// Location evaluates arm-control schedules, time.Local when nil.
	Location *time.Location
	// Clock drives command timers, the wall clock when nil.
	Clock correlation.Clock
}

// Service connects one protocol adapter with the state cache and the command engine.
// It is the adapter.Sink of its adapter and the command surface of MQTT, gRPC and the scheduler.
type Service struct {
	ctx context.Context //nolint:containedctx // Base context of timer-driven retests.

	adapter   adapter.ProtocolAdapter
	repo      repo.Repository
	publisher reconcile.Publisher
	commands  *correlation.Engine
	reconcile *reconcile.Engine
	timing    config.Timing
	clock     correlation.Clock

	// online is the panel link state last reported by the adapter.
	online   atomic.Bool
	reported atomic.Bool

	mu       sync.Mutex
	jobs     Jobs
	inflight map[int]alarm.CommandRequest
	retests  map[int]correlation.Timer
}

// New creates a service; ctx bounds timer-driven work such as retests.
func New(ctx context.Context, p Params) *Service {
	clock := p.Clock
	if clock == nil {
		clock = correlation.SystemClock()
	}

	loc := p.Location
	if loc == nil {
		loc = time.Local
	}

	s := &Service{
		ctx:       logger.WithName(ctx, p.Adapter.Name()),
		adapter:   p.Adapter,
		repo:      p.Repo,
		publisher: p.Publisher,
		timing:    p.Timing,
		clock:     clock,
		inflight:  make(map[int]alarm.CommandRequest),
		retests:   make(map[int]correlation.Timer),
	}

	s.commands = correlation.NewEngine(s.ctx, p.Adapter, correlation.WithClock(clock))
	s.reconcile = reconcile.New(p.Repo, p.Publisher,
		reconcile.WithPolicy(p.Adapter.Policy()),
		reconcile.WithZoneCount(p.Adapter.ZoneCount()),
		reconcile.WithAllowedUsers(p.AllowedUsers...),
		reconcile.WithDedupWindow(p.Timing.DedupWindow),
		reconcile.WithRetest(s, p.Timing.RetestDelay),
		reconcile.WithLocation(loc),
		reconcile.WithClock(clock.Now),
	)

	return s
}

// AttachJobs sets the scheduler that follows device configurations.
func (s *Service) AttachJobs(jobs Jobs) {
	s.mu.Lock()
	s.jobs = jobs
	s.mu.Unlock()
}

// Bootstrap schedules every configured device.
func (s *Service) Bootstrap(ctx context.Context) error {
	ids, err := s.repo.DeviceIDs(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}

	jobs := s.currentJobs()

	for _, id := range ids {
		cfg, err := s.repo.DeviceConfig(ctx, id)
		if err != nil {
			return fmt.Errorf("load config of device %d: %w", id, err)
		}

		if jobs == nil {
			continue
		}

		if err = jobs.Sync(cfg); err != nil {
			logger.WarnKV(ctx, "Failed to schedule device", "device_id", id, "error", err)
		}
	}

	logger.InfoKV(ctx, "Devices loaded", "count", len(ids))

	return nil
}

// Execute sends a test, arm or disarm and waits until the device confirms it.
// Arm and disarm are checked against the user list and arm-control schedule before sending.
func (s *Service) Execute(ctx context.Context, req alarm.CommandRequest) (*alarm.DeviceState, error) {
	ctx = logger.WithKV(ctx, "device_id", req.DeviceID, "command", req.Kind.String())

	if req.Kind != alarm.CommandTest {
		err := s.reconcile.Permit(ctx, reconcile.ActionRequest{
			DeviceID: req.DeviceID,
			Kind:     req.Kind,
			Zones:    req.Zones,
			Actor:    alarm.Actor{UserID: req.UserID, Auto: req.Auto},
			Time:     s.clock.Now(),
		})
		if err != nil {
			return nil, err
		}
	}

	if err := s.claim(req); err != nil {
		return nil, err
	}
	defer s.release(req.DeviceID)

	encoded, err := s.adapter.EncodeCommand(adapter.Command{
		DeviceID: req.DeviceID,
		Kind:     req.Kind,
		Zones:    req.Zones,
		UserID:   req.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", req.Kind, err)
	}

	results, err := s.commands.Send(ctx, correlation.Request{
		DeviceID:      req.DeviceID,
		Kind:          req.Kind,
		Zones:         req.Zones,
		UserID:        req.UserID,
		CorrelationID: encoded.CorrelationID,
		Frame:         encoded.Frame,
		RetryInterval: s.retryInterval(encoded),
		Timeout:       s.timing.RequestTimeout,
		MaxAttempts:   s.timing.RequestAttempts,
	})
	if err != nil {
		return nil, err
	}

	res, err := correlation.Wait(ctx, results)
	if err != nil {
		if ctx.Err() != nil {
			s.commands.Cancel(req.DeviceID)

			return nil, err
		}

		// A dropped connection says nothing about the device.
		if errors.Is(err, correlation.ErrNoResponse) && !errors.Is(err, correlation.ErrTransportReset) &&
			req.Kind == alarm.CommandTest {
			s.noAnswer(ctx, req.DeviceID)
		}

		return nil, err
	}

	logger.InfoKV(ctx, "Command confirmed", "outcome", res.Outcome.String(), "attempts", res.Command.Attempt)

	current, err := s.reconcile.State(ctx, req.DeviceID)
	if errors.Is(err, repo.ErrNotFound) && res.Completion != nil && res.Completion.State != nil {
		return res.Completion.State, nil
	}

	return current, err
}

// DeviceState returns the cached state of a device.
func (s *Service) DeviceState(ctx context.Context, deviceID int) (*alarm.DeviceState, error) {
	return s.reconcile.State(ctx, deviceID)
}

// DeviceConfig returns the stored configuration of a device.
func (s *Service) DeviceConfig(ctx context.Context, deviceID int) (*alarm.DeviceConfig, error) {
	return s.repo.DeviceConfig(ctx, deviceID)
}

// SaveDeviceConfig stores a configuration and reschedules the device.
// A device without cached state is tested right away.
func (s *Service) SaveDeviceConfig(ctx context.Context, cfg *alarm.DeviceConfig) error {
	if cfg.ZoneCount <= 0 {
		cfg.ZoneCount = s.adapter.ZoneCount()
	}

	if err := s.repo.SaveDeviceConfig(ctx, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	if jobs := s.currentJobs(); jobs != nil {
		if err := jobs.Sync(cfg); err != nil {
			return fmt.Errorf("schedule device %d: %w", cfg.DeviceID, err)
		}
	}

	if _, err := s.repo.DeviceState(ctx, cfg.DeviceID); errors.Is(err, repo.ErrNotFound) {
		s.Retest(ctx, cfg.DeviceID, 0)
	}

	logger.InfoKV(ctx, "Device configured", "device_id", cfg.DeviceID, "zones", cfg.ZoneCount)

	return nil
}

// DeleteDevice forgets a device and everything scheduled for it.
func (s *Service) DeleteDevice(ctx context.Context, deviceID int) error {
	if jobs := s.currentJobs(); jobs != nil {
		jobs.Remove(deviceID)
	}

	s.stopRetest(deviceID)
	s.commands.Cancel(deviceID)
	s.reconcile.Forget(deviceID)

	if err := s.repo.DeleteDevice(ctx, deviceID); err != nil {
		return fmt.Errorf("delete device: %w", err)
	}

	logger.InfoKV(ctx, "Device deleted", "device_id", deviceID)

	return nil
}

// SetIgnoreNoAnswer toggles the suppression of no-answer alarms.
func (s *Service) SetIgnoreNoAnswer(ctx context.Context, ignore bool) error {
	return s.repo.SetIgnoreNoAnswer(ctx, ignore)
}

// LinkOnline reports whether the adapter is connected to its panel server.
func (s *Service) LinkOnline() bool {
	return s.online.Load()
}

// Retest runs a test command for the device after the delay, replacing an earlier one.
func (s *Service) Retest(_ context.Context, deviceID int, after time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.retests[deviceID]; ok {
		t.Stop()
	}

	var timer correlation.Timer

	timer = s.clock.AfterFunc(after, func() {
		s.mu.Lock()
		if s.retests[deviceID] == timer {
			delete(s.retests, deviceID)
		}
		s.mu.Unlock()

		if s.ctx.Err() != nil {
			return
		}

		ctx := logger.WithKV(s.ctx, "retest", true)

		_, err := s.Execute(ctx, alarm.CommandRequest{DeviceID: deviceID, Kind: alarm.CommandTest, UserID: alarm.NoUser})
		switch {
		case err == nil, errors.Is(err, correlation.ErrBusy):
		default:
			logger.WarnKV(ctx, "Retest failed", "device_id", deviceID, "error", err)
		}
	})

	s.retests[deviceID] = timer
}

func (s *Service) stopRetest(deviceID int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.retests[deviceID]; ok {
		t.Stop()
		delete(s.retests, deviceID)
	}
}

// claim records the command so device events can be attributed to it.
func (s *Service) claim(req alarm.CommandRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if busy, ok := s.inflight[req.DeviceID]; ok {
		return fmt.Errorf("%w: %s pending for device %d", correlation.ErrBusy, busy.Kind, req.DeviceID)
	}

	s.inflight[req.DeviceID] = req

	return nil
}

func (s *Service) release(deviceID int) {
	s.mu.Lock()
	delete(s.inflight, deviceID)
	s.mu.Unlock()
}

func (s *Service) command(deviceID int) (alarm.CommandRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.inflight[deviceID]

	return req, ok
}

func (s *Service) currentJobs() Jobs {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.jobs
}

// retryInterval spreads the attempts over the timeout when the protocol has no acknowledgement.
func (s *Service) retryInterval(encoded adapter.Encoded) time.Duration {
	if encoded.CorrelationID != "" || s.timing.RequestAttempts < 2 {
		return s.timing.RequestRetry
	}

	return s.timing.RequestTimeout / time.Duration(s.timing.RequestAttempts)
}

func (s *Service) noAnswer(ctx context.Context, deviceID int) {
	now := s.clock.Now()

	_, err := s.reconcile.RaiseAlarm(ctx, reconcile.AlarmEvent{
		DeviceID: deviceID,
		Type:     alarm.AlarmNoAnswer,
		Message:  "device did not answer the test",
		Time:     now,
	})
	if err != nil {
		logger.WarnKV(ctx, "Failed to raise no-answer alarm", "error", err)
	}

	s.setOnline(ctx, deviceID, false, now)
}

func (s *Service) setOnline(ctx context.Context, deviceID int, online bool, at time.Time) {
	if err := s.reconcile.SetOnline(ctx, deviceID, online, at); err != nil {
		logger.WarnKV(ctx, "Failed to update device status", "device_id", deviceID, "error", err)
	}
}
