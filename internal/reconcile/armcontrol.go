package reconcile

import (
	"time"

	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

// Verdict is the result of an arm-control check.
type Verdict struct {
	// Rejected flags the zones the schedule forbids.
	Rejected alarm.ZoneVector
	// Alarm is set when a rejected arm must raise an arm-period alarm.
	Alarm bool
}

// Allowed reports whether no zone was rejected.
func (v Verdict) Allowed() bool {
	return !v.Rejected.Any()
}

// CheckArmControl evaluates the schedules of the requested zones at the local time at.
// Zones flagged in mismatched are exempt: an action on them resolves an unknown state.
func CheckArmControl(
	cfg *alarm.DeviceConfig,
	kind alarm.CommandKind,
	zones, mismatched alarm.ZoneVector,
	at time.Time,
) Verdict {
	v := Verdict{Rejected: alarm.NewZoneVector(len(zones))}

	if cfg == nil {
		return v
	}

	var (
		day    = alarm.WeekdayIndex(at.Weekday())
		second = alarm.SecondOfDay(at)
	)

	for _, z := range zones.Indices() {
		if z < len(mismatched) && mismatched[z] == 1 {
			continue
		}

		zc := cfg.ZoneControlFor(z)
		if zc == nil {
			continue
		}

		entry := zc.Schedule[day]

		switch kind {
		case alarm.CommandDisarm:
			if zc.DisarmControl && disarmForbidden(entry, second) {
				v.Rejected[z] = 1
			}
		case alarm.CommandArm:
			if zc.ArmControl && armForbidden(entry, second) {
				v.Rejected[z] = 1
				v.Alarm = v.Alarm || zc.ArmAlarm
			}
		case alarm.CommandTest:
		}
	}

	return v
}

// disarmForbidden: outside the timer window, or always for continuous guard.
func disarmForbidden(e alarm.ScheduleEntry, second int) bool {
	switch e.Mode {
	case alarm.ScheduleTimer:
		return !e.Contains(second)
	case alarm.ScheduleContinuous:
		return true
	default:
		return false
	}
}

// armForbidden: inside the timer window only.
func armForbidden(e alarm.ScheduleEntry, second int) bool {
	return e.Mode == alarm.ScheduleTimer && e.Contains(second)
}
