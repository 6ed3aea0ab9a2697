package mqtt

import (
	"github.com/oshokin/alarm-bridge/internal/codec/zonebits"
	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

// statePayload is the retained STATE document. Bit fields pack zone i into bit i.
type statePayload struct {
	Zones         alarm.ZoneVector `json:"zones"`
	Active        alarm.ZoneVector `json:"active"`
	Mismatched    alarm.ZoneVector `json:"mismatched"`
	Arm           int              `json:"arm"`
	ZonesBit      byte             `json:"zonesBit"`
	ActiveBit     byte             `json:"activeBit"`
	MismatchedBit byte             `json:"mismatchedBit"`
	Time          int64            `json:"time"`
}

func newStatePayload(s *alarm.DeviceState) statePayload {
	return statePayload{
		Zones:         s.Armed,
		Active:        s.Active,
		Mismatched:    s.Mismatched,
		Arm:           s.Arm(),
		ZonesBit:      zonebits.Mask(s.Armed),
		ActiveBit:     zonebits.Mask(s.Active),
		MismatchedBit: zonebits.Mask(s.Mismatched),
		Time:          s.ObservedAtMs,
	}
}

type alarmPayload struct {
	Type      alarm.AlarmType  `json:"type"`
	Active    alarm.ZoneVector `json:"active,omitempty"`
	ActiveBit byte             `json:"activeBit"`
	Message   string           `json:"message"`
	Server    int              `json:"server"`
	Time      int64            `json:"time"`
}

func newAlarmPayload(a *alarm.AlarmRecord) alarmPayload {
	return alarmPayload{
		Type:      a.Type,
		Active:    a.Active,
		ActiveBit: zonebits.Mask(a.Active),
		Message:   a.Message,
		Server:    1,
		Time:      a.TimeMs,
	}
}

type actionPayload struct {
	Action   string           `json:"action"`
	Zones    alarm.ZoneVector `json:"zones"`
	ZonesBit byte             `json:"zonesBit"`
	Actor    alarm.Actor      `json:"actor"`
	Source   string           `json:"source"`
	Time     int64            `json:"time"`
}

func newActionPayload(a *alarm.Action) actionPayload {
	return actionPayload{
		Action:   a.Kind.String(),
		Zones:    a.Zones,
		ZonesBit: zonebits.Mask(a.Zones),
		Actor:    a.Actor,
		Source:   a.Source,
		Time:     a.TimeMs,
	}
}

type statusPayload struct {
	Status int   `json:"status"`
	Time   int64 `json:"time"`
}

// gatewayStatusPayload reports the process (status) and the panel link (connectionStatus).
type gatewayStatusPayload struct {
	Status           int   `json:"status"`
	ConnectionStatus int   `json:"connectionStatus"`
	Time             int64 `json:"time"`
}

func boolFlag(b bool) int {
	if b {
		return 1
	}

	return 0
}
