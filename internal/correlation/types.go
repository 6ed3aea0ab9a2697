package correlation

import (
	"context"
	"errors"
	"time"

	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

// Outcome is how a pending command ended.
type Outcome int

// Outcomes.
const (
	OutcomeConfirmed Outcome = iota
	OutcomeRejected
	OutcomeNoResponse
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeNoResponse:
		return "no_response"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var (
	// ErrBusy is returned by Send when the device already has a pending command.
	ErrBusy = errors.New("device is busy with another command")
	// ErrNoResponse resolves commands that were never confirmed in time.
	ErrNoResponse = errors.New("device did not respond")
	// ErrCancelled resolves commands cancelled by the caller.
	ErrCancelled = errors.New("command cancelled")
	// ErrRejected resolves commands the device refused to execute.
	ErrRejected = errors.New("command rejected by device")
	// ErrTransportReset explains a NoResponse caused by a dropped connection.
	ErrTransportReset = errors.New("transport reset")
	// ErrInvalidRequest is returned for requests without a frame or timeout.
	ErrInvalidRequest = errors.New("invalid command request")
)

// Transmitter writes a frame to the device side of the transport.
type Transmitter interface {
	Transmit(ctx context.Context, frame []byte) error
}

// TransmitterFunc adapts a function to Transmitter.
type TransmitterFunc func(ctx context.Context, frame []byte) error

// Transmit calls f.
func (f TransmitterFunc) Transmit(ctx context.Context, frame []byte) error {
	return f(ctx, frame)
}

// Request describes a command to send.
type Request struct {
	DeviceID int
	Kind     alarm.CommandKind
	Zones    alarm.ZoneVector
	UserID   int
	// CorrelationID is echoed by the transport acknowledgement. It may be empty when the
	// protocol never acknowledges.
	CorrelationID string
	// Frame is the encoded command; retransmissions resend it unchanged.
	Frame []byte
	// RetryInterval is the wait for an acknowledgement before retransmitting.
	RetryInterval time.Duration
	// Timeout is the absolute time budget of the command.
	Timeout time.Duration
	// MaxAttempts counts the first transmission.
	MaxAttempts int
}

// PendingCommand is the engine's view of an in-flight command.
type PendingCommand struct {
	DeviceID      int
	Kind          alarm.CommandKind
	Zones         alarm.ZoneVector
	UserID        int
	CorrelationID string
	IssuedAt      time.Time
	Attempt       int
	Delivered     bool
}

// Completion is a device observation offered to the engine.
type Completion struct {
	Category alarm.Category
	// Zones are the zones the device acted on, when known.
	Zones alarm.ZoneVector
	// State is set when the observation carries a full zone state.
	State  *alarm.DeviceState
	UserID int
	Time   time.Time
}

// Result resolves a pending command.
type Result struct {
	Outcome    Outcome
	Command    PendingCommand
	Completion *Completion
	Err        error
}

// Wait blocks until the result arrives or ctx is done.
func Wait(ctx context.Context, results <-chan Result) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res, ok := <-results:
		if !ok {
			return Result{}, ErrCancelled
		}

		return res, res.Err
	}
}
