package adapter

import (
	"context"
	"time"

	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/reconcile"
)

// InboundKind selects the meaning of an Inbound.
type InboundKind int

// Inbound kinds.
const (
	// InboundEvent carries a device event.
	InboundEvent InboundKind = iota
	// InboundAck confirms delivery of the command with CorrelationID.
	InboundAck
	// InboundResend asks for the pending command of DeviceID to be sent again.
	InboundResend
)

// Inbound is one decoded unit handed to the gateway.
type Inbound struct {
	Kind          InboundKind
	CorrelationID string
	DeviceID      int
	Event         *Event
}

// Event is a classified device event.
type Event struct {
	DeviceID int
	Category alarm.Category
	// Code is the protocol event code, kept for logs.
	Code string
	// Armed and Active are set when the event carries a full zone state.
	Armed  alarm.ZoneVector
	Active alarm.ZoneVector
	// Mismatched flags zones the adapter could not observe.
	Mismatched alarm.ZoneVector
	// Zones are the zones an action or alarm concerns.
	Zones  alarm.ZoneVector
	UserID int
	// AlarmType overrides the alarm type derived from the category.
	AlarmType *alarm.AlarmType
	Message   string
	Time      time.Time
}

// HasState reports whether the event carries a full zone state.
func (e *Event) HasState() bool {
	return e.Armed != nil
}

// Type returns the alarm type of an alarm event.
func (e *Event) Type() alarm.AlarmType {
	if e.AlarmType != nil {
		return *e.AlarmType
	}

	return alarm.AlarmActive
}

// Command is a command the gateway wants encoded.
type Command struct {
	DeviceID int
	Kind     alarm.CommandKind
	Zones    alarm.ZoneVector
	UserID   int
}

// Encoded is a command ready for the correlation engine.
type Encoded struct {
	// CorrelationID is matched against InboundAck, empty when the protocol never acknowledges.
	CorrelationID string
	Frame         []byte
}

// Sink receives what an adapter decodes.
type Sink interface {
	Deliver(ctx context.Context, in Inbound)
	// GatewayOnline reports the connectivity of the adapter to its panel server.
	GatewayOnline(ctx context.Context, online bool)
	// TransportReset tells the gateway that pending commands will never be answered.
	TransportReset(ctx context.Context, reason error)
}

// ProtocolAdapter is implemented once per protocol family.
type ProtocolAdapter interface {
	// Name is the lowercase family name used in logs.
	Name() string
	// Policy is how the family resolves conflicting zone observations.
	Policy() reconcile.MismatchPolicy
	// ZoneCount is the zone count of devices of this family.
	ZoneCount() int
	EncodeCommand(cmd Command) (Encoded, error)
	// Transmit writes an encoded frame to the panel side.
	Transmit(ctx context.Context, frame []byte) error
	// Run owns the transport until ctx is done.
	Run(ctx context.Context, sink Sink) error
}

// EventInbound wraps an event.
func EventInbound(e *Event) Inbound {
	return Inbound{Kind: InboundEvent, DeviceID: e.DeviceID, Event: e}
}

// AckInbound wraps a delivery acknowledgement.
func AckInbound(correlationID string) Inbound {
	return Inbound{Kind: InboundAck, CorrelationID: correlationID}
}

// ResendInbound wraps a resend request.
func ResendInbound(deviceID int) Inbound {
	return Inbound{Kind: InboundResend, DeviceID: deviceID}
}
