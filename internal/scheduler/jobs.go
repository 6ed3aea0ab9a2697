package scheduler

import (
	"fmt"
	"sort"

	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

// Job is one arm-control cron entry.
type Job struct {
	// Spec is a five-field cron expression "min hour * * dow".
	Spec  string
	Kind  alarm.CommandKind
	Zones alarm.ZoneVector
}

// CronSpec renders a time of day on a weekday (Monday = 0) as a cron expression.
func CronSpec(secondOfDay, weekday int) string {
	return fmt.Sprintf("%d %d * * %d", secondOfDay/60%60, secondOfDay/3600, (weekday+1)%7)
}

// ArmControlJobs derives the jobs of a device: for every zone with Auto set and every Timer
// weekday, a disarm when the window opens and an arm when it closes. Zones sharing a tick
// are merged into one job. A window that wraps midnight closes on the next weekday.
func ArmControlJobs(cfg *alarm.DeviceConfig) []Job {
	if cfg == nil {
		return nil
	}

	zoneCount := cfg.ZoneCount
	for _, zc := range cfg.ArmControl {
		if zc.Zone >= zoneCount {
			zoneCount = zc.Zone + 1
		}
	}

	type key struct {
		spec string
		kind alarm.CommandKind
	}

	merged := make(map[key]alarm.ZoneVector)

	add := func(spec string, kind alarm.CommandKind, zone int) {
		k := key{spec: spec, kind: kind}

		zones, ok := merged[k]
		if !ok {
			zones = alarm.NewZoneVector(zoneCount)
			merged[k] = zones
		}

		zones[zone] = 1
	}

	for _, zc := range cfg.ArmControl {
		if !zc.Auto || zc.Zone < 0 {
			continue
		}

		for day, entry := range zc.Schedule {
			if entry.Mode != alarm.ScheduleTimer || !validOffset(entry.Start) || !validOffset(entry.End) {
				continue
			}

			closeDay := day
			if entry.End < entry.Start {
				closeDay = (day + 1) % len(zc.Schedule)
			}

			add(CronSpec(entry.Start, day), alarm.CommandDisarm, zc.Zone)
			add(CronSpec(entry.End, closeDay), alarm.CommandArm, zc.Zone)
		}
	}

	jobs := make([]Job, 0, len(merged))
	for k, zones := range merged {
		jobs = append(jobs, Job{Spec: k.spec, Kind: k.kind, Zones: zones})
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Spec != jobs[j].Spec {
			return jobs[i].Spec < jobs[j].Spec
		}

		return jobs[i].Kind < jobs[j].Kind
	})

	return jobs
}

func validOffset(s int) bool {
	return s >= 0 && s < alarm.SecondsPerDay
}
