package alarm

// NotificationKind selects the populated field of a Notification.
type NotificationKind int

// Notification kinds.
const (
	NotifyAlarm NotificationKind = iota
	NotifyAction
	NotifyDeviceStatus
	NotifyDeviceState
	NotifyGatewayStatus
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyAlarm:
		return "alarm"
	case NotifyAction:
		return "action"
	case NotifyDeviceStatus:
		return "device_status"
	case NotifyDeviceState:
		return "device_state"
	case NotifyGatewayStatus:
		return "gateway_status"
	default:
		return "unknown"
	}
}

// Notification is one entry of the outbound event stream.
type Notification struct {
	Kind    NotificationKind
	Alarm   *AlarmRecord
	Action  *Action
	Status  *DeviceStatus
	State   *DeviceState
	Gateway *GatewayStatus
}

// AlarmNotification wraps an alarm record.
func AlarmNotification(r AlarmRecord) Notification {
	return Notification{Kind: NotifyAlarm, Alarm: &r}
}

// ActionNotification wraps an applied action.
func ActionNotification(a Action) Notification {
	return Notification{Kind: NotifyAction, Action: &a}
}

// StatusNotification wraps a device connectivity change.
func StatusNotification(s DeviceStatus) Notification {
	return Notification{Kind: NotifyDeviceStatus, Status: &s}
}

// StateNotification wraps a copy of a device state.
func StateNotification(s *DeviceState) Notification {
	return Notification{Kind: NotifyDeviceState, State: s.Clone()}
}

// GatewayNotification wraps a gateway connectivity change.
func GatewayNotification(g GatewayStatus) Notification {
	return Notification{Kind: NotifyGatewayStatus, Gateway: &g}
}

// DeviceID returns the device the notification concerns, zero for gateway status.
func (n Notification) DeviceID() int {
	switch {
	case n.Alarm != nil:
		return n.Alarm.DeviceID
	case n.Action != nil:
		return n.Action.DeviceID
	case n.Status != nil:
		return n.Status.DeviceID
	case n.State != nil:
		return n.State.DeviceID
	default:
		return 0
	}
}
