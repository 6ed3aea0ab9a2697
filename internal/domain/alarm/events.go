package alarm

import "time"

// AlarmType is the numeric alarm class consumers expect on the ALARM topic.
type AlarmType int

// Alarm types. Gaps are kept to stay compatible with existing consumers.
const (
	AlarmNoAnswer         AlarmType = 0
	AlarmBattery          AlarmType = 1
	AlarmActive           AlarmType = 2
	AlarmArmTime          AlarmType = 3
	AlarmUnauthorizedUser AlarmType = 4
	AlarmArmPeriod        AlarmType = 5
	AlarmAuto             AlarmType = 7
	AlarmManual           AlarmType = 8
	AlarmMismatch         AlarmType = 10 // raised once when a zone becomes mismatched
	AlarmDuress           AlarmType = 11
)

// AlarmRecord is emitted to the notification sink, never persisted by the gateway.
type AlarmRecord struct {
	DeviceID int        `json:"deviceId"`
	Type     AlarmType  `json:"type"`
	TimeMs   int64      `json:"time"`
	Active   ZoneVector `json:"active,omitempty"`
	Message  string     `json:"message"`
}

// Action is an applied arm or disarm.
type Action struct {
	DeviceID int         `json:"deviceId"`
	Kind     CommandKind `json:"-"`
	Zones    ZoneVector  `json:"zones"`
	Actor    Actor       `json:"actor"`
	// Source names the path the action came from: "command", "panel" or "schedule".
	Source string `json:"source"`
	TimeMs int64  `json:"time"`
}

// Action sources.
const (
	SourceCommand  = "command"
	SourcePanel    = "panel"
	SourceSchedule = "schedule"
)

// DeviceStatus is a device connectivity transition.
type DeviceStatus struct {
	DeviceID int   `json:"deviceId"`
	Online   bool  `json:"online"`
	TimeMs   int64 `json:"time"`
}

// GatewayStatus is the connectivity of the gateway to its panel server.
type GatewayStatus struct {
	Online bool  `json:"online"`
	TimeMs int64 `json:"time"`
}

// Millis converts t to epoch milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
