package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
	"github.com/oshokin/alarm-bridge/internal/repository/state"
)

// AlarmEvent is an alarm reported by an adapter before filtering.
type AlarmEvent struct {
	DeviceID int
	Type     alarm.AlarmType
	// Active flags the violated zones; nil for device-level alarms.
	Active  alarm.ZoneVector
	Message string
	Time    time.Time
}

// FilterAlarm drops the zones that are not armed and reports whether anything is left.
func FilterAlarm(active, cachedArmed alarm.ZoneVector) (alarm.ZoneVector, bool) {
	out := alarm.NewZoneVector(len(active))

	for _, z := range active.Indices() {
		if z < len(cachedArmed) && cachedArmed[z] == 1 {
			out[z] = 1
		}
	}

	return out, out.Any()
}

// RaiseAlarm filters an alarm and publishes what survives. Zone alarms mark the surviving
// zones active in the cache. It returns the emitted record or nil when the alarm was suppressed.
func (e *Engine) RaiseAlarm(ctx context.Context, ev AlarmEvent) (*alarm.AlarmRecord, error) {
	ctx = logger.WithKV(ctx, "device_id", ev.DeviceID, "alarm_type", int(ev.Type))

	if ev.Time.IsZero() {
		ev.Time = e.now()
	}

	record := alarm.AlarmRecord{
		DeviceID: ev.DeviceID,
		Type:     ev.Type,
		TimeMs:   ev.Time.UnixMilli(),
		Message:  ev.Message,
	}

	if ev.Type == alarm.AlarmNoAnswer {
		ignore, err := e.repo.IgnoreNoAnswer(ctx)
		if err != nil && !errors.Is(err, state.ErrNotFound) {
			return nil, fmt.Errorf("failed to read ignore flag: %w", err)
		}

		if ignore {
			logger.DebugKV(ctx, "No-answer alarm ignored")

			return nil, nil //nolint:nilnil // Suppressed.
		}

		return &record, e.publish(ctx, alarm.AlarmNotification(record))
	}

	if ev.Active == nil {
		return &record, e.publish(ctx, alarm.AlarmNotification(record))
	}

	unlock := e.lock(ev.DeviceID)
	defer unlock()

	current, err := e.repo.DeviceState(ctx, ev.DeviceID)
	if errors.Is(err, state.ErrNotFound) {
		logger.WarnKV(ctx, "Alarm for a device without state, retesting")
		e.retest(ctx, ev.DeviceID, 0)

		return nil, nil //nolint:nilnil // Missing state is compensated by the retest.
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	active, ok := FilterAlarm(ev.Active.Resize(current.ZoneCount()), current.Armed)
	if !ok {
		logger.DebugKV(ctx, "Alarm on disarmed zones suppressed", "zones", ev.Active.String())

		return nil, nil //nolint:nilnil // Suppressed.
	}

	record.Active = active

	for _, z := range active.Indices() {
		current.Active[z] = 1
	}

	if err = e.store(ctx, current); err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Alarm raised", "zones", active.String(), "message", ev.Message)

	return &record, e.publish(ctx, alarm.AlarmNotification(record))
}

// ApplyBattery records the battery flag. A low battery raises an alarm on an armed device
// unless the battery was already known to be low.
func (e *Engine) ApplyBattery(ctx context.Context, deviceID int, healthy bool, at time.Time) error {
	ctx = logger.WithKV(ctx, "device_id", deviceID)

	prev, err := e.swapFlag(ctx, deviceID, state.FlagBattery, healthy)
	if err != nil {
		return err
	}

	if healthy {
		logger.InfoKV(ctx, "Battery restored")

		return nil
	}

	if prev != nil && !*prev {
		return nil
	}

	current, err := e.repo.DeviceState(ctx, deviceID)
	if errors.Is(err, state.ErrNotFound) || (err == nil && current.Arm() == 0) {
		logger.InfoKV(ctx, "Battery low on a disarmed device")

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	return e.publish(ctx, alarm.AlarmNotification(alarm.AlarmRecord{
		DeviceID: deviceID,
		Type:     alarm.AlarmBattery,
		TimeMs:   at.UnixMilli(),
		Message:  "battery low",
	}))
}

// ApplyPower records the mains power flag.
func (e *Engine) ApplyPower(ctx context.Context, deviceID int, powered bool) error {
	ctx = logger.WithKV(ctx, "device_id", deviceID)

	prev, err := e.swapFlag(ctx, deviceID, state.FlagPower, powered)
	if err != nil {
		return err
	}

	if prev == nil || *prev != powered {
		logger.InfoKV(ctx, "Mains power changed", "powered", powered)
	}

	return nil
}

// swapFlag stores value and returns the previous one, nil when it was never set.
func (e *Engine) swapFlag(ctx context.Context, deviceID int, name string, value bool) (*bool, error) {
	unlock := e.lock(deviceID)
	defer unlock()

	var prev *bool

	old, err := e.repo.Flag(ctx, deviceID, name)

	switch {
	case err == nil:
		prev = &old
	case !errors.Is(err, state.ErrNotFound):
		return nil, fmt.Errorf("failed to read %s flag: %w", name, err)
	}

	if err = e.repo.SetFlag(ctx, deviceID, name, value); err != nil {
		return nil, fmt.Errorf("failed to save %s flag: %w", name, err)
	}

	return prev, nil
}
