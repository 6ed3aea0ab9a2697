package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

type runner struct {
	mu   sync.Mutex
	reqs []alarm.CommandRequest
}

func (r *runner) Execute(_ context.Context, req alarm.CommandRequest) (*alarm.DeviceState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reqs = append(r.reqs, req)

	return nil, nil
}

func nightConfig(zones ...int) *alarm.DeviceConfig {
	cfg := &alarm.DeviceConfig{DeviceID: 7, ZoneCount: 4, IntervalMs: 60_000}

	for _, z := range zones {
		zc := alarm.ZoneControl{Zone: z, Auto: true, DisarmControl: true}
		for day := range zc.Schedule {
			zc.Schedule[day] = alarm.ScheduleEntry{Mode: alarm.ScheduleTimer, Start: 79200, End: 21600}
		}

		cfg.ArmControl = append(cfg.ArmControl, zc)
	}

	return cfg
}

func identity(d time.Duration) time.Duration { return d }

// TestCronSpec verifies minute, hour and weekday mapping with Monday = 0.
func TestCronSpec(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0 22 * * 1", CronSpec(79200, 0))
	require.Equal(t, "30 6 * * 0", CronSpec(23400, 6))
	require.Equal(t, "59 23 * * 3", CronSpec(86399, 2))
}

// TestArmControlJobs verifies merged zones and windows that close on the next day.
func TestArmControlJobs(t *testing.T) {
	t.Parallel()

	jobs := ArmControlJobs(nightConfig(0, 1))
	require.Len(t, jobs, 14)

	byKey := make(map[string]Job, len(jobs))
	for _, j := range jobs {
		require.Equal(t, "1100", j.Zones.String())
		byKey[j.Spec+"/"+j.Kind.String()] = j
	}

	require.Contains(t, byKey, "0 22 * * 1/disarm")
	require.Contains(t, byKey, "0 6 * * 2/arm")
	require.Contains(t, byKey, "0 22 * * 0/disarm")
	require.Contains(t, byKey, "0 6 * * 1/arm")

	cfg := nightConfig(0)
	cfg.ArmControl[0].Auto = false
	require.Empty(t, ArmControlJobs(cfg))
	require.Empty(t, ArmControlJobs(nil))
}

// TestSchedulerEntries verifies that jobs are replaced and removed per device.
func TestSchedulerEntries(t *testing.T) {
	t.Parallel()

	s := New(new(runner), WithJitter(identity))

	require.NoError(t, s.Sync(nightConfig(0)))
	require.Equal(t, 15, s.Entries())

	require.NoError(t, s.ScheduleRepeatingTest(7, time.Minute))
	require.Equal(t, 15, s.Entries())

	n, err := s.SetArmControl(nightConfig(0, 1))
	require.NoError(t, err)
	require.Equal(t, 14, n)
	require.Equal(t, 15, s.Entries())

	require.True(t, s.CancelRepeatingTest(7))
	require.False(t, s.CancelRepeatingTest(7))
	require.Equal(t, 14, s.Entries())

	s.Remove(7)
	require.Zero(t, s.Entries())

	require.ErrorIs(t, s.ScheduleRepeatingTest(7, 0), ErrBadInterval)
	require.Error(t, s.ScheduleArmControlJob(7, "not a spec", alarm.CommandArm, nil))
}

// TestSchedulerJobs verifies the commands scheduled jobs issue.
func TestSchedulerJobs(t *testing.T) {
	t.Parallel()

	r := new(runner)
	s := New(r, WithJitter(identity))

	require.NoError(t, s.ScheduleRepeatingTest(7, time.Hour))
	s.cron.Entry(s.tests[7]).Job.Run()

	require.NoError(t, s.ScheduleArmControlJob(7, "0 6 * * 2", alarm.CommandArm, alarm.ZoneVector{1, 0, 0, 0}))
	s.cron.Entry(s.arms[7][0]).Job.Run()

	require.Equal(t, []alarm.CommandRequest{
		{DeviceID: 7, Kind: alarm.CommandTest, UserID: alarm.NoUser},
		{DeviceID: 7, Kind: alarm.CommandArm, Zones: alarm.ZoneVector{1, 0, 0, 0}, UserID: alarm.AutoUserID, Auto: true},
	}, r.reqs)
}

// TestSpread verifies that only long intervals are pulled earlier, by at most four minutes.
func TestSpread(t *testing.T) {
	t.Parallel()

	require.Equal(t, 10*time.Minute, spread(10*time.Minute))

	for range 100 {
		d := spread(2 * time.Hour)
		require.LessOrEqual(t, d, 2*time.Hour)
		require.Greater(t, d, 2*time.Hour-jitterMax)
	}
}
