package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/repository/state"
)

// monday2300 is a Monday; schedules index it as day 0.
var monday2300 = time.Date(2024, time.January, 1, 23, 0, 0, 0, time.UTC)

type collector struct {
	mu    sync.Mutex
	items []alarm.Notification
}

func (c *collector) Publish(_ context.Context, n alarm.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = append(c.items, n)

	return nil
}

func (c *collector) of(kind alarm.NotificationKind) []alarm.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []alarm.Notification

	for _, n := range c.items {
		if n.Kind == kind {
			out = append(out, n)
		}
	}

	return out
}

type retests struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *retests) Retest(_ context.Context, _ int, after time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.delays = append(r.delays, after)
}

func (r *retests) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.delays)
}

func nightSchedule() *alarm.DeviceConfig {
	zc := alarm.ZoneControl{
		Zone:          0,
		ArmControl:    true,
		DisarmControl: true,
		ArmAlarm:      true,
	}

	for d := range zc.Schedule {
		zc.Schedule[d] = alarm.ScheduleEntry{Mode: alarm.ScheduleTimer, Start: 79200, End: 21600}
	}

	return &alarm.DeviceConfig{DeviceID: 7, ZoneCount: 4, ArmControl: []alarm.ZoneControl{zc}}
}

func newEngine(t *testing.T, opts ...Option) (*Engine, *state.MemoryRepository, *collector) {
	t.Helper()

	repo := state.NewMemoryRepository()
	pub := new(collector)
	opts = append([]Option{WithLocation(time.UTC), WithClock(func() time.Time { return monday2300 })}, opts...)

	return New(repo, pub, opts...), repo, pub
}

func seed(t *testing.T, repo state.Repository, armed alarm.ZoneVector) {
	t.Helper()

	s := alarm.NewDeviceState(7, len(armed), monday2300)
	s.Armed = armed.Clone()

	require.NoError(t, repo.SaveDeviceState(context.Background(), s))
	require.NoError(t, repo.SaveDeviceConfig(context.Background(), &alarm.DeviceConfig{DeviceID: 7, ZoneCount: len(armed)}))
}

// TestMismatchConservatism verifies that a conflicting observation keeps the cached value.
func TestMismatchConservatism(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, repo, pub := newEngine(t)
	seed(t, repo, alarm.ZoneVector{1, 0, 0, 0})

	got, err := e.ApplyObservedZones(ctx, Observation{DeviceID: 7, Armed: alarm.ZoneVector{0, 0, 0, 0}})
	require.NoError(t, err)
	require.Equal(t, alarm.ZoneVector{1, 0, 0, 0}, got.Armed)
	require.Equal(t, alarm.ZoneVector{1, 0, 0, 0}, got.Mismatched)

	alarms := pub.of(alarm.NotifyAlarm)
	require.Len(t, alarms, 1)
	require.Equal(t, alarm.AlarmMismatch, alarms[0].Alarm.Type)

	_, err = e.ApplyObservedZones(ctx, Observation{DeviceID: 7, Armed: alarm.ZoneVector{0, 0, 0, 0}})
	require.NoError(t, err)
	require.Len(t, pub.of(alarm.NotifyAlarm), 1)

	got, err = e.ApplyObservedZones(ctx, Observation{DeviceID: 7, Armed: alarm.ZoneVector{1, 0, 0, 0}})
	require.NoError(t, err)
	require.Equal(t, alarm.ZoneVector{0, 0, 0, 0}, got.Mismatched)
}

// TestMismatchAutoCorrect verifies that AutoCorrect adopts unobserved zones and flags the other conflicts.
func TestMismatchAutoCorrect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, repo, pub := newEngine(t, WithPolicy(AutoCorrect))
	seed(t, repo, alarm.ZoneVector{1, 1, 0, 0})

	got, err := e.ApplyObservedZones(ctx, Observation{
		DeviceID:   7,
		Armed:      alarm.ZoneVector{0, 0, 0, 1},
		Mismatched: alarm.ZoneVector{1, 0, 1, 0},
	})
	require.NoError(t, err)
	require.Equal(t, alarm.ZoneVector{0, 1, 0, 0}, got.Armed)
	require.Equal(t, alarm.ZoneVector{0, 1, 0, 1}, got.Mismatched)

	alarms := pub.of(alarm.NotifyAlarm)
	require.Len(t, alarms, 1)
	require.Equal(t, alarm.ZoneVector{0, 1, 0, 1}, alarms[0].Alarm.Active)

	got, err = e.ApplyObservedZones(ctx, Observation{
		DeviceID:   7,
		Armed:      alarm.ZoneVector{0, 1, 0, 0},
		Mismatched: alarm.ZoneVector{0, 0, 0, 1},
	})
	require.NoError(t, err)
	require.Equal(t, alarm.ZoneVector{0, 1, 0, 0}, got.Armed)
	require.Equal(t, alarm.ZoneVector{0, 0, 0, 0}, got.Mismatched)
	require.Len(t, pub.of(alarm.NotifyAlarm), 1)
}

// TestColdStart verifies that the first observation is adopted without mismatches.
func TestColdStart(t *testing.T) {
	t.Parallel()

	e, _, pub := newEngine(t)

	got, err := e.ApplyObservedZones(context.Background(), Observation{
		DeviceID:   3,
		Armed:      alarm.ZoneVector{0, 1, 1, 0},
		Active:     alarm.ZoneVector{0, 0, 1, 0},
		Mismatched: alarm.ZoneVector{0, 0, 0, 1},
	})
	require.NoError(t, err)
	require.Equal(t, alarm.ZoneVector{0, 1, 1, 0}, got.Armed)
	require.Equal(t, alarm.ZoneVector{0, 0, 1, 0}, got.Active)
	require.Equal(t, alarm.ZoneVector{0, 0, 0, 0}, got.Mismatched)
	require.Equal(t, monday2300.UnixMilli(), got.ObservedAtMs)
	require.Len(t, pub.of(alarm.NotifyDeviceState), 1)
	require.Empty(t, pub.of(alarm.NotifyAlarm))
}

// TestCheckArmControl verifies the schedule modes, including a window that wraps midnight.
func TestCheckArmControl(t *testing.T) {
	t.Parallel()

	noon := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)
	zones := alarm.ZoneVector{1, 0, 0, 0}
	none := alarm.NewZoneVector(4)
	cfg := nightSchedule()

	require.True(t, CheckArmControl(cfg, alarm.CommandDisarm, zones, none, monday2300).Allowed())
	require.False(t, CheckArmControl(cfg, alarm.CommandDisarm, zones, none, noon).Allowed())

	v := CheckArmControl(cfg, alarm.CommandArm, zones, none, monday2300)
	require.Equal(t, alarm.ZoneVector{1, 0, 0, 0}, v.Rejected)
	require.True(t, v.Alarm)
	require.True(t, CheckArmControl(cfg, alarm.CommandArm, zones, none, noon).Allowed())

	require.True(t, CheckArmControl(cfg, alarm.CommandDisarm, zones, alarm.ZoneVector{1, 0, 0, 0}, noon).Allowed())
	require.True(t, CheckArmControl(cfg, alarm.CommandDisarm, alarm.ZoneVector{0, 1, 0, 0}, none, noon).Allowed())

	cfg.ArmControl[0].Schedule[0] = alarm.ScheduleEntry{Mode: alarm.ScheduleContinuous}
	require.False(t, CheckArmControl(cfg, alarm.CommandDisarm, zones, none, monday2300).Allowed())
	require.True(t, CheckArmControl(cfg, alarm.CommandArm, zones, none, monday2300).Allowed())

	cfg.ArmControl[0].Schedule[0] = alarm.ScheduleEntry{Mode: alarm.ScheduleIgnore}
	require.True(t, CheckArmControl(cfg, alarm.CommandDisarm, zones, none, noon).Allowed())
	require.True(t, CheckArmControl(nil, alarm.CommandDisarm, zones, none, noon).Allowed())
}

// TestApplyActionArmPeriodVeto verifies that a vetoed action leaves the state alone and is retested.
func TestApplyActionArmPeriodVeto(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rt := new(retests)
	now := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)
	e, repo, pub := newEngine(t, WithRetest(rt, DefaultRetestDelay), WithClock(func() time.Time { return now }))
	seed(t, repo, alarm.ZoneVector{1, 0, 0, 0})
	require.NoError(t, repo.SaveDeviceConfig(ctx, nightSchedule()))

	_, err := e.ApplyAction(ctx, ActionRequest{
		DeviceID: 7,
		Kind:     alarm.CommandDisarm,
		Zones:    alarm.ZoneVector{1, 0, 0, 0},
		Actor:    alarm.Actor{UserID: 114},
		Source:   alarm.SourceCommand,
		Time:     monday2300,
	})
	require.ErrorIs(t, err, ErrArmPeriodViolation)

	cached, err := repo.DeviceState(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, alarm.ZoneVector{1, 0, 0, 0}, cached.Armed)
	require.Empty(t, pub.of(alarm.NotifyAction))
	require.Equal(t, 1, rt.count())

	now = monday2300

	_, err = e.ApplyAction(ctx, ActionRequest{
		DeviceID: 7,
		Kind:     alarm.CommandArm,
		Zones:    alarm.ZoneVector{1, 0, 0, 0},
		Actor:    alarm.Actor{UserID: 114},
	})
	require.ErrorIs(t, err, ErrArmPeriodViolation)

	alarms := pub.of(alarm.NotifyAlarm)
	require.Len(t, alarms, 1)
	require.Equal(t, alarm.AlarmArmPeriod, alarms[0].Alarm.Type)

	_, err = e.ApplyAction(ctx, ActionRequest{
		DeviceID: 7,
		Kind:     alarm.CommandArm,
		Zones:    alarm.ZoneVector{1, 0, 0, 0},
		Actor:    alarm.Actor{UserID: alarm.AutoUserID, Auto: true},
	})
	require.NoError(t, err)
}

// TestApplyActionUnauthorizedUser verifies the allowed user list and its per-device extension.
func TestApplyActionUnauthorizedUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, repo, pub := newEngine(t)
	seed(t, repo, alarm.ZoneVector{0, 0, 0, 0})

	req := ActionRequest{DeviceID: 7, Kind: alarm.CommandArm, Actor: alarm.Actor{UserID: 5}}

	_, err := e.ApplyAction(ctx, req)
	require.ErrorIs(t, err, ErrUnauthorizedUser)

	alarms := pub.of(alarm.NotifyAlarm)
	require.Len(t, alarms, 1)
	require.Equal(t, alarm.AlarmUnauthorizedUser, alarms[0].Alarm.Type)

	require.NoError(t, repo.SaveDeviceConfig(ctx, &alarm.DeviceConfig{DeviceID: 7, ZoneCount: 4, AllowedUsers: []int{5}}))

	got, err := e.ApplyAction(ctx, req)
	require.NoError(t, err)
	require.Equal(t, alarm.ZoneVector{1, 1, 1, 1}, got.Armed)

	req.Actor.UserID = alarm.NoUser
	req.Kind = alarm.CommandDisarm

	got, err = e.ApplyAction(ctx, req)
	require.NoError(t, err)
	require.Equal(t, alarm.ZoneVector{0, 0, 0, 0}, got.Armed)
}

// TestApplyActionDedup verifies the state update and the 45 second notification de-duplication.
func TestApplyActionDedup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, repo, pub := newEngine(t)
	seed(t, repo, alarm.ZoneVector{0, 0, 0, 0})

	st, err := repo.DeviceState(ctx, 7)
	require.NoError(t, err)

	st.Active = alarm.ZoneVector{1, 0, 1, 0}
	require.NoError(t, repo.SaveDeviceState(ctx, st))

	req := ActionRequest{
		DeviceID:      7,
		Kind:          alarm.CommandArm,
		Zones:         alarm.ZoneVector{1, 1, 0, 0},
		Actor:         alarm.Actor{UserID: alarm.AutoUserID},
		Source:        alarm.SourcePanel,
		CommandUserID: 42,
		Time:          monday2300,
	}

	got, err := e.ApplyAction(ctx, req)
	require.NoError(t, err)
	require.Equal(t, alarm.ZoneVector{1, 1, 0, 0}, got.Armed)
	require.Equal(t, alarm.ZoneVector{0, 0, 1, 0}, got.Active)

	actions := pub.of(alarm.NotifyAction)
	require.Len(t, actions, 1)
	require.Equal(t, 42, actions[0].Action.Actor.UserID)

	req.Time = monday2300.Add(10 * time.Second)
	_, err = e.ApplyAction(ctx, req)
	require.NoError(t, err)
	require.Len(t, pub.of(alarm.NotifyAction), 1)

	req.Time = monday2300.Add(46 * time.Second)
	_, err = e.ApplyAction(ctx, req)
	require.NoError(t, err)
	require.Len(t, pub.of(alarm.NotifyAction), 2)
}

// TestArmControlUsesBridgeClock verifies that a stale event time does not move the schedule check.
func TestArmControlUsesBridgeClock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, repo, pub := newEngine(t)
	seed(t, repo, alarm.ZoneVector{1, 0, 0, 0})
	require.NoError(t, repo.SaveDeviceConfig(ctx, nightSchedule()))

	got, err := e.ApplyAction(ctx, ActionRequest{
		DeviceID: 7,
		Kind:     alarm.CommandDisarm,
		Zones:    alarm.ZoneVector{1, 0, 0, 0},
		Actor:    alarm.Actor{UserID: 114},
		Source:   alarm.SourcePanel,
		Time:     time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, alarm.ZoneVector{0, 0, 0, 0}, got.Armed)
	require.Len(t, pub.of(alarm.NotifyAction), 1)
	require.Empty(t, pub.of(alarm.NotifyAlarm))
}

// TestDisarmKeepsActive verifies that disarming does not clear a violation.
func TestDisarmKeepsActive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, repo, _ := newEngine(t)
	seed(t, repo, alarm.ZoneVector{1, 1, 0, 0})

	st, err := repo.DeviceState(ctx, 7)
	require.NoError(t, err)

	st.Active = alarm.ZoneVector{1, 0, 0, 0}
	st.Mismatched = alarm.ZoneVector{1, 0, 0, 0}
	require.NoError(t, repo.SaveDeviceState(ctx, st))

	got, err := e.ApplyAction(ctx, ActionRequest{
		DeviceID: 7,
		Kind:     alarm.CommandDisarm,
		Zones:    alarm.ZoneVector{1, 0, 0, 0},
		Actor:    alarm.Actor{UserID: 114},
	})
	require.NoError(t, err)
	require.Equal(t, alarm.ZoneVector{0, 1, 0, 0}, got.Armed)
	require.Equal(t, alarm.ZoneVector{1, 0, 0, 0}, got.Active)
	require.Equal(t, alarm.ZoneVector{0, 0, 0, 0}, got.Mismatched)
}

// TestApplyActionMissingState verifies that an unknown device is retested instead of failing.
func TestApplyActionMissingState(t *testing.T) {
	t.Parallel()

	rt := new(retests)
	e, _, pub := newEngine(t, WithRetest(rt, DefaultRetestDelay))

	got, err := e.ApplyAction(context.Background(), ActionRequest{DeviceID: 9, Kind: alarm.CommandArm})
	require.NoError(t, err)
	require.Nil(t, got)
	require.Equal(t, []time.Duration{0}, rt.delays)
	require.Empty(t, pub.items)
}

// TestPermit verifies the pre-send checks raise no alarms.
func TestPermit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, repo, pub := newEngine(t)
	require.NoError(t, repo.SaveDeviceConfig(ctx, nightSchedule()))

	arm := ActionRequest{DeviceID: 7, Kind: alarm.CommandArm, Zones: alarm.ZoneVector{1, 0, 0, 0}, Actor: alarm.Actor{UserID: 114}}
	require.ErrorIs(t, e.Permit(ctx, arm), ErrArmPeriodViolation)

	arm.Actor.Auto = true
	require.NoError(t, e.Permit(ctx, arm))

	disarm := ActionRequest{DeviceID: 7, Kind: alarm.CommandDisarm, Actor: alarm.Actor{UserID: 42}}
	require.ErrorIs(t, e.Permit(ctx, disarm), ErrUnauthorizedUser)

	disarm.Actor.UserID = alarm.NoUser
	require.NoError(t, e.Permit(ctx, disarm))

	require.NoError(t, e.Permit(ctx, ActionRequest{DeviceID: 7, Kind: alarm.CommandTest}))
	require.Empty(t, pub.items)
}
