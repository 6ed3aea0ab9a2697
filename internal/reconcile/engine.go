package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
	"github.com/oshokin/alarm-bridge/internal/repository/state"
)

var (
	// ErrArmPeriodViolation vetoes an action forbidden by the arm-control schedule.
	ErrArmPeriodViolation = errors.New("action forbidden by arm-control schedule")
	// ErrUnauthorizedUser vetoes an action of a user outside the allowed list.
	ErrUnauthorizedUser = errors.New("user is not allowed to arm or disarm")
)

// Engine reconciles the cached state of the devices of one adapter.
type Engine struct {
	repo      state.Repository
	publisher Publisher

	policy       MismatchPolicy
	now          func() time.Time
	location     *time.Location
	allowedUsers []int
	dedupWindow  time.Duration
	retester     Retester
	retestDelay  time.Duration
	zoneCount    int

	// mu guards locks and dedup.
	mu    sync.Mutex
	locks map[int]*sync.Mutex
	dedup map[int]appliedAction
}

type appliedAction struct {
	kind  alarm.CommandKind
	zones string
	at    time.Time
}

// New creates an engine over repo publishing to publisher.
func New(repo state.Repository, publisher Publisher, opts ...Option) *Engine {
	e := &Engine{
		repo:         repo,
		publisher:    publisher,
		policy:       WaitForCommand,
		now:          time.Now,
		location:     time.Local,
		allowedUsers: slices.Clone(BuiltinAllowedUsers),
		dedupWindow:  DefaultDedupWindow,
		zoneCount:    alarm.MaxZones,
		locks:        make(map[int]*sync.Mutex),
		dedup:        make(map[int]appliedAction),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Policy returns the mismatch policy of the engine.
func (e *Engine) Policy() MismatchPolicy {
	return e.policy
}

// Observation is a full zone state reported by a device.
type Observation struct {
	DeviceID int
	Armed    alarm.ZoneVector
	Active   alarm.ZoneVector
	// Mismatched flags zones the adapter could not observe, nil when every zone was reported.
	// Under AutoCorrect a flagged zone that disagrees with the cache takes the observed value.
	Mismatched alarm.ZoneVector
	Time       time.Time
}

// ApplyObservedZones merges an observation into the cached state and returns the new state.
func (e *Engine) ApplyObservedZones(ctx context.Context, obs Observation) (*alarm.DeviceState, error) {
	ctx = logger.WithKV(ctx, "device_id", obs.DeviceID)

	if obs.Time.IsZero() {
		obs.Time = e.now()
	}

	unlock := e.lock(obs.DeviceID)
	defer unlock()

	cfg, err := e.config(ctx, obs.DeviceID)
	if err != nil {
		return nil, err
	}

	n := e.zonesOf(cfg, len(obs.Armed))
	observed := obs.Armed.Resize(n)
	hint := obs.Mismatched.Resize(n)

	current, err := e.repo.DeviceState(ctx, obs.DeviceID)

	switch {
	case errors.Is(err, state.ErrNotFound):
		current = alarm.NewDeviceState(obs.DeviceID, n, obs.Time)
		current.Armed = observed
		current.Active = obs.Active.Resize(n)

		logger.InfoKV(ctx, "Device state initialized", "zones", current.Armed.String())

		return current, e.store(ctx, current)
	case err != nil:
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	current.Normalize(n)

	var (
		conflicts = alarm.NewZoneVector(n)
		raised    = alarm.NewZoneVector(n)
	)

	for z := range n {
		if observed[z] == current.Armed[z] {
			current.Mismatched[z] = 0

			continue
		}

		conflicts[z] = 1

		if e.policy == AutoCorrect && hint[z] == 1 {
			current.Armed[z] = observed[z]
			current.Mismatched[z] = 0

			continue
		}

		if current.Mismatched[z] == 0 {
			raised[z] = 1
		}

		current.Mismatched[z] = 1
	}

	current.Active = obs.Active.Resize(n)
	current.ObservedAtMs = obs.Time.UnixMilli()

	if conflicts.Any() {
		logger.WarnKV(ctx, "Observed armed state disagrees with cache",
			"cached", current.Armed.String(),
			"observed", observed.String(),
			"policy", e.policy.String())
	}

	if err = e.store(ctx, current); err != nil {
		return nil, err
	}

	if raised.Any() {
		err = e.publish(ctx, alarm.AlarmNotification(alarm.AlarmRecord{
			DeviceID: obs.DeviceID,
			Type:     alarm.AlarmMismatch,
			TimeMs:   obs.Time.UnixMilli(),
			Active:   raised,
			Message:  "armed state mismatch",
		}))
	}

	return current, err
}

// ActionRequest is an arm or disarm reported by a device or confirmed for a command.
type ActionRequest struct {
	DeviceID int
	Kind     alarm.CommandKind
	// Zones lists the affected zones; an empty vector means every zone.
	Zones  alarm.ZoneVector
	Actor  alarm.Actor
	Source string
	// CommandUserID replaces the remote-control user number when the action answers a gateway command.
	CommandUserID int
	Time          time.Time
}

// ApplyAction validates and applies an action. A vetoed action returns ErrUnauthorizedUser or
// ErrArmPeriodViolation after raising its alarm. A device without cached state is retested and
// the action is dropped with a nil state.
func (e *Engine) ApplyAction(ctx context.Context, req ActionRequest) (*alarm.DeviceState, error) {
	ctx = logger.WithKV(ctx, "device_id", req.DeviceID, "action", req.Kind.String())

	if req.Kind != alarm.CommandArm && req.Kind != alarm.CommandDisarm {
		return nil, fmt.Errorf("%w: %s is not an action", alarm.ErrUnknownCommand, req.Kind)
	}

	if req.Time.IsZero() {
		req.Time = e.now()
	}

	unlock := e.lock(req.DeviceID)
	defer unlock()

	current, err := e.repo.DeviceState(ctx, req.DeviceID)
	if errors.Is(err, state.ErrNotFound) {
		logger.WarnKV(ctx, "Action for a device without state, retesting")
		e.retest(ctx, req.DeviceID, 0)

		return nil, nil //nolint:nilnil // Missing state is compensated by the retest.
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	cfg, err := e.config(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}

	n := e.zonesOf(cfg, current.ZoneCount())
	current.Normalize(n)

	zones := req.Zones.Resize(n)
	if !zones.Any() {
		zones = alarm.FilledZoneVector(n, 1)
	}

	if e.retestDelay > 0 {
		defer e.retest(ctx, req.DeviceID, e.retestDelay)
	}

	if err = e.checkUser(ctx, cfg, req); err != nil {
		return nil, err
	}

	if req.Actor.UserID == alarm.AutoUserID && req.CommandUserID > 0 {
		req.Actor.UserID = req.CommandUserID
	}

	// The schedule is judged at the time the bridge applies the action, not at the event time.
	if !req.Actor.Auto {
		at := e.now().In(e.location)

		verdict := CheckArmControl(cfg, req.Kind, zones, current.Mismatched, at)
		if !verdict.Allowed() {
			return nil, e.vetoArmPeriod(ctx, req, verdict)
		}
	}

	for _, z := range zones.Indices() {
		current.Armed[z] = req.Kind.Target()
		current.Mismatched[z] = 0

		if req.Kind == alarm.CommandArm {
			current.Active[z] = 0
		}
	}

	current.ObservedAtMs = req.Time.UnixMilli()

	if err = e.repo.SaveDeviceState(ctx, current); err != nil {
		return nil, fmt.Errorf("failed to save state: %w", err)
	}

	if e.duplicate(req.DeviceID, req.Kind, zones, req.Time) {
		logger.DebugKV(ctx, "Duplicate action suppressed", "zones", zones.String())

		return current, nil
	}

	logger.InfoKV(ctx, "Action applied",
		"zones", zones.String(),
		"user_id", req.Actor.UserID,
		"auto", req.Actor.Auto,
		"source", req.Source)

	err = e.publish(ctx, alarm.ActionNotification(alarm.Action{
		DeviceID: req.DeviceID,
		Kind:     req.Kind,
		Zones:    zones,
		Actor:    req.Actor,
		Source:   req.Source,
		TimeMs:   req.Time.UnixMilli(),
	}))
	if err != nil {
		return current, err
	}

	return current, e.publish(ctx, alarm.StateNotification(current))
}

// State returns the cached state of a device.
func (e *Engine) State(ctx context.Context, deviceID int) (*alarm.DeviceState, error) {
	return e.repo.DeviceState(ctx, deviceID)
}

// Permit checks a command before it is sent: the user list and the arm-control schedule.
// Unlike ApplyAction it raises no alarms; the device's own report is judged again later.
func (e *Engine) Permit(ctx context.Context, req ActionRequest) error {
	if req.Kind != alarm.CommandArm && req.Kind != alarm.CommandDisarm {
		return nil
	}

	if req.Time.IsZero() {
		req.Time = e.now()
	}

	cfg, err := e.config(ctx, req.DeviceID)
	if err != nil {
		return err
	}

	if !req.Actor.Auto && req.Actor.UserID != alarm.NoUser && req.Actor.UserID != alarm.AutoUserID &&
		!slices.Contains(e.allowedUsers, req.Actor.UserID) && !slices.Contains(cfg.AllowedUsers, req.Actor.UserID) {
		return fmt.Errorf("%w: %d", ErrUnauthorizedUser, req.Actor.UserID)
	}

	if req.Actor.Auto {
		return nil
	}

	var mismatched alarm.ZoneVector

	n := e.zonesOf(cfg, len(req.Zones))
	if current, err := e.repo.DeviceState(ctx, req.DeviceID); err == nil {
		n = e.zonesOf(cfg, current.ZoneCount())
		mismatched = current.Mismatched
	}

	zones := req.Zones.Resize(n)
	if !zones.Any() {
		zones = alarm.FilledZoneVector(n, 1)
	}

	if v := CheckArmControl(cfg, req.Kind, zones, mismatched.Resize(n), e.now().In(e.location)); !v.Allowed() {
		return fmt.Errorf("%w: zones %s", ErrArmPeriodViolation, v.Rejected)
	}

	return nil
}

// SetOnline records a connectivity change and publishes it when the status flips.
func (e *Engine) SetOnline(ctx context.Context, deviceID int, online bool, at time.Time) error {
	unlock := e.lock(deviceID)
	defer unlock()

	prev, err := e.repo.DeviceStatus(ctx, deviceID)

	switch {
	case err == nil && prev.Online == online:
		return nil
	case err != nil && !errors.Is(err, state.ErrNotFound):
		return fmt.Errorf("failed to load status: %w", err)
	}

	status := alarm.DeviceStatus{DeviceID: deviceID, Online: online, TimeMs: at.UnixMilli()}
	if err = e.repo.SaveDeviceStatus(ctx, status); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}

	logger.InfoKV(ctx, "Device status changed", "device_id", deviceID, "online", online)

	return e.publish(ctx, alarm.StatusNotification(status))
}

func (e *Engine) checkUser(ctx context.Context, cfg *alarm.DeviceConfig, req ActionRequest) error {
	if req.Actor.Auto || req.Actor.UserID == alarm.NoUser {
		return nil
	}

	if slices.Contains(e.allowedUsers, req.Actor.UserID) || slices.Contains(cfg.AllowedUsers, req.Actor.UserID) {
		return nil
	}

	logger.WarnKV(ctx, "Action by a user outside the allowed list", "user_id", req.Actor.UserID)

	err := e.publish(ctx, alarm.AlarmNotification(alarm.AlarmRecord{
		DeviceID: req.DeviceID,
		Type:     alarm.AlarmUnauthorizedUser,
		TimeMs:   req.Time.UnixMilli(),
		Message:  fmt.Sprintf("%s by unauthorized user %d", req.Kind, req.Actor.UserID),
	}))

	return errors.Join(fmt.Errorf("%w: %d", ErrUnauthorizedUser, req.Actor.UserID), err)
}

func (e *Engine) vetoArmPeriod(ctx context.Context, req ActionRequest, v Verdict) error {
	logger.WarnKV(ctx, "Action outside the arm-control window", "rejected", v.Rejected.String())

	var err error

	if v.Alarm {
		err = e.publish(ctx, alarm.AlarmNotification(alarm.AlarmRecord{
			DeviceID: req.DeviceID,
			Type:     alarm.AlarmArmPeriod,
			TimeMs:   req.Time.UnixMilli(),
			Active:   v.Rejected,
			Message:  "arm during the disarm period",
		}))
	}

	return errors.Join(fmt.Errorf("%w: zones %s", ErrArmPeriodViolation, v.Rejected), err)
}

// duplicate records the action and reports whether the same action was seen within the window.
func (e *Engine) duplicate(deviceID int, kind alarm.CommandKind, zones alarm.ZoneVector, at time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := zones.String()
	last, ok := e.dedup[deviceID]

	if ok && last.kind == kind && last.zones == key && at.Sub(last.at) < e.dedupWindow && !at.Before(last.at) {
		return true
	}

	e.dedup[deviceID] = appliedAction{kind: kind, zones: key, at: at}

	return false
}

// Forget drops per-device bookkeeping of a removed device.
func (e *Engine) Forget(deviceID int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.dedup, deviceID)
	delete(e.locks, deviceID)
}

func (e *Engine) lock(deviceID int) func() {
	e.mu.Lock()

	l, ok := e.locks[deviceID]
	if !ok {
		l = new(sync.Mutex)
		e.locks[deviceID] = l
	}

	e.mu.Unlock()

	l.Lock()

	return l.Unlock
}

// config returns the device config or an empty one when the device was never configured.
func (e *Engine) config(ctx context.Context, deviceID int) (*alarm.DeviceConfig, error) {
	cfg, err := e.repo.DeviceConfig(ctx, deviceID)

	switch {
	case errors.Is(err, state.ErrNotFound):
		return &alarm.DeviceConfig{DeviceID: deviceID}, nil
	case err != nil:
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

func (e *Engine) zonesOf(cfg *alarm.DeviceConfig, observed int) int {
	switch {
	case cfg != nil && cfg.ZoneCount > 0:
		return min(cfg.ZoneCount, alarm.MaxZones)
	case observed > 0:
		return observed
	default:
		return e.zoneCount
	}
}

func (e *Engine) store(ctx context.Context, s *alarm.DeviceState) error {
	if err := e.repo.SaveDeviceState(ctx, s); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	return e.publish(ctx, alarm.StateNotification(s))
}

func (e *Engine) publish(ctx context.Context, n alarm.Notification) error {
	if e.publisher == nil {
		return nil
	}

	if err := e.publisher.Publish(ctx, n); err != nil {
		return fmt.Errorf("failed to publish %s: %w", n.Kind, err)
	}

	return nil
}

func (e *Engine) retest(ctx context.Context, deviceID int, after time.Duration) {
	if e.retester == nil || after < 0 {
		return
	}

	e.retester.Retest(ctx, deviceID, after)
}
