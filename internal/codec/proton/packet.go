package proton

import (
	"fmt"
	"time"
)

// Command is the 16-bit command word opening a frame body.
type Command uint16

// Frame commands.
const (
	CommandCloseRequest Command = 0x0001
	CommandPing         Command = 0x0002
	CommandAck          Command = 0x2001
	CommandAuth         Command = 0xC002
	CommandEvent        Command = 0xE002
	CommandControl      Command = 0xE003
)

func (c Command) String() string {
	switch c {
	case CommandCloseRequest:
		return "close_request"
	case CommandPing:
		return "ping"
	case CommandAck:
		return "ack"
	case CommandAuth:
		return "auth"
	case CommandEvent:
		return "event"
	case CommandControl:
		return "control"
	default:
		return fmt.Sprintf("0x%04X", uint16(c))
	}
}

// RemoteCommand is the operation carried inside a control body.
type RemoteCommand uint16

// Remote commands.
const (
	RemoteDisarm RemoteCommand = 0x3001
	RemoteArm    RemoteCommand = 0x3002
	RemoteTest   RemoteCommand = 0x3003
)

// Channel is the delivery channel requested for a control packet.
type Channel uint8

// Delivery channels.
const (
	ChannelAny   Channel = 0
	ChannelGPRS  Channel = 1
	ChannelGSM   Channel = 2
	ChannelRadio Channel = 3
)

// AckResult is the status byte of an ACK body.
type AckResult uint8

// Acknowledgement results.
const (
	AckOK            AckResult = 0
	AckChecksumError AckResult = 1
	AckAuthError     AckResult = 2
)

// Kind is the coarse packet class the gateway dispatches on.
type Kind int

// Packet kinds.
const (
	KindOther Kind = iota
	KindEvent
	KindAck
	KindPing
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindAck:
		return "ack"
	case KindPing:
		return "ping"
	default:
		return "other"
	}
}

// Event is the decoded TLV payload of an event frame.
type Event struct {
	ObjectNumber int
	SystemNumber int
	Code         int
	// Data is the event-specific payload after the two code bytes.
	Data    []byte
	Channel Channel
	// Time is the panel timestamp clamped to the receive time, zero when absent.
	Time time.Time
	// SIM is 1 or 2, zero when absent.
	SIM    int
	Signal int
	// HasSignal distinguishes a zero signal level from an absent one.
	HasSignal bool
}

// Packet is an immutable decoded frame.
type Packet struct {
	// ID is the correlation id echoed in acknowledgements.
	ID      string
	Command Command
	// ChecksumValid is the recompute-and-compare verdict.
	ChecksumValid bool
	// Raw is the complete frame as received.
	Raw []byte
	// Event is set for CommandEvent frames.
	Event *Event
	// AckResult is set for CommandAck frames.
	AckResult AckResult
}

// Kind classifies the packet for dispatch.
func (p *Packet) Kind() Kind {
	switch p.Command {
	case CommandEvent:
		return KindEvent
	case CommandAck:
		return KindAck
	case CommandPing:
		return KindPing
	default:
		return KindOther
	}
}
