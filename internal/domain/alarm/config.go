package alarm

import "time"

// ScheduleMode selects how one weekday entry restricts commands.
type ScheduleMode int

// Schedule modes.
const (
	// ScheduleTimer permits disarm only inside [Start, End], wrapping past midnight when End < Start.
	ScheduleTimer ScheduleMode = 0
	// ScheduleContinuous keeps the zone under guard all day.
	ScheduleContinuous ScheduleMode = 1
	// ScheduleIgnore never restricts.
	ScheduleIgnore ScheduleMode = 2
)

// SecondsPerDay bounds schedule offsets.
const SecondsPerDay = 24 * 60 * 60

// ScheduleEntry is one weekday of an arm-control schedule.
type ScheduleEntry struct {
	Mode ScheduleMode `json:"type" yaml:"type"`
	// Start and End are seconds since local midnight.
	Start int `json:"startTime" yaml:"start"`
	End   int `json:"endTime" yaml:"end"`
}

// Contains reports whether secondOfDay lies in the entry's window, wrapping midnight when End < Start.
func (e ScheduleEntry) Contains(secondOfDay int) bool {
	if e.End < e.Start {
		return secondOfDay >= e.Start || secondOfDay <= e.End
	}

	return secondOfDay >= e.Start && secondOfDay <= e.End
}

// ZoneControl is the arm-control policy of one zone.
type ZoneControl struct {
	// Zone is the zero-based zone index.
	Zone int `json:"zone" yaml:"zone"`
	// Auto enables scheduled auto-arm and auto-disarm jobs.
	Auto bool `json:"auto" yaml:"auto"`
	// ArmControl and DisarmControl enable the schedule veto for each direction.
	ArmControl    bool `json:"armControl" yaml:"arm_control"`
	DisarmControl bool `json:"disarmControl" yaml:"disarm_control"`
	// ArmAlarm raises an arm-period alarm when an arm is vetoed.
	ArmAlarm bool `json:"armAlarm" yaml:"arm_alarm"`
	// Schedule is indexed by weekday, Monday = 0.
	Schedule [7]ScheduleEntry `json:"schedule" yaml:"schedule"`
}

// DeviceConfig is the per-device configuration kept in the state cache.
type DeviceConfig struct {
	DeviceID  int    `json:"deviceId"`
	ZoneCount int    `json:"zoneCount"`
	Region    string `json:"region,omitempty"`
	// IntervalMs is the repeating test period, zero for the gateway default.
	IntervalMs   int64         `json:"interval,omitempty"`
	AllowedUsers []int         `json:"allowedUsers,omitempty"`
	ArmControl   []ZoneControl `json:"armControlSetting,omitempty"`
}

// Interval returns the repeating test period or def when unset.
func (c *DeviceConfig) Interval(def time.Duration) time.Duration {
	if c == nil || c.IntervalMs <= 0 {
		return def
	}

	return time.Duration(c.IntervalMs) * time.Millisecond
}

// ZoneControlFor returns the policy of a zone, nil when the zone is unrestricted.
func (c *DeviceConfig) ZoneControlFor(zone int) *ZoneControl {
	if c == nil {
		return nil
	}

	for i := range c.ArmControl {
		if c.ArmControl[i].Zone == zone {
			return &c.ArmControl[i]
		}
	}

	return nil
}

// Clone returns a deep copy.
func (c *DeviceConfig) Clone() *DeviceConfig {
	if c == nil {
		return nil
	}

	cloned := *c
	cloned.AllowedUsers = append([]int(nil), c.AllowedUsers...)
	cloned.ArmControl = append([]ZoneControl(nil), c.ArmControl...)

	return &cloned
}

// WeekdayIndex converts time.Weekday to the Monday = 0 index schedules use.
func WeekdayIndex(d time.Weekday) int {
	if d == time.Sunday {
		return 6
	}

	return int(d) - 1
}

// SecondOfDay returns seconds since local midnight of t.
func SecondOfDay(t time.Time) int {
	h, m, s := t.Clock()

	return h*3600 + m*60 + s
}
