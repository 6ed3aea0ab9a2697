package alarm

// Category is the semantic class of a protocol event code.
type Category int

// Event categories.
const (
	CategoryUnknown Category = iota
	CategoryArm
	CategoryDisarm
	CategoryAlarmActive
	CategoryAlarmForcedEntry
	CategoryAlarmForcedExit
	CategoryBatteryLow
	CategoryBatteryRestored
	CategoryMainsPowerLost
	CategoryMainsPowerRestored
	CategoryDeviceOnline
	CategoryDeviceOffline
	CategoryUnauthorizedAction
	CategoryIgnorable
)

//nolint:gochecknoglobals // Read-only lookup table.
var categoryNames = map[Category]string{
	CategoryUnknown:            "unknown",
	CategoryArm:                "arm",
	CategoryDisarm:             "disarm",
	CategoryAlarmActive:        "alarm_active",
	CategoryAlarmForcedEntry:   "alarm_forced_entry",
	CategoryAlarmForcedExit:    "alarm_forced_exit",
	CategoryBatteryLow:         "battery_low",
	CategoryBatteryRestored:    "battery_restored",
	CategoryMainsPowerLost:     "mains_power_lost",
	CategoryMainsPowerRestored: "mains_power_restored",
	CategoryDeviceOnline:       "device_online",
	CategoryDeviceOffline:      "device_offline",
	CategoryUnauthorizedAction: "unauthorized_action",
	CategoryIgnorable:          "ignorable",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}

	return "unknown"
}

// IsAlarm reports whether the category raises a zone alarm.
func (c Category) IsAlarm() bool {
	return c == CategoryAlarmActive || c == CategoryAlarmForcedEntry || c == CategoryAlarmForcedExit
}

// IsAction reports whether the category is an arm or disarm.
func (c Category) IsAction() bool {
	return c == CategoryArm || c == CategoryDisarm
}
