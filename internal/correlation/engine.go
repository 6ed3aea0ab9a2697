package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
)

// Engine tracks pending commands of one adapter.
type Engine struct {
	// ctx carries the engine logger into timer callbacks.
	ctx   context.Context //nolint:containedctx // Timer callbacks have no caller context.
	tx    Transmitter
	clock Clock
	// mu guards pending and byID.
	mu      sync.Mutex
	pending map[int]*entry
	byID    map[string]int
}

type entry struct {
	cmd      PendingCommand
	frame    []byte
	retry    time.Duration
	deadline time.Time
	maxTries int
	// timer is the single timer of the command: retransmission while Sent,
	// the absolute deadline once Delivered.
	timer Timer
	// gen identifies the current timer; callbacks of replaced timers compare it and return.
	gen     uint64
	results chan Result
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// NewEngine creates an engine transmitting through tx.
func NewEngine(ctx context.Context, tx Transmitter, opts ...Option) *Engine {
	e := &Engine{
		ctx:     logger.WithName(ctx, "correlation"),
		tx:      tx,
		clock:   SystemClock(),
		pending: make(map[int]*entry),
		byID:    make(map[string]int),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Send registers the command, transmits it and returns a channel that receives exactly one Result.
func (e *Engine) Send(ctx context.Context, req Request) (<-chan Result, error) {
	if len(req.Frame) == 0 || req.Timeout <= 0 {
		return nil, ErrInvalidRequest
	}

	if req.MaxAttempts < 1 {
		req.MaxAttempts = 1
	}

	if req.RetryInterval <= 0 || req.RetryInterval > req.Timeout {
		req.RetryInterval = req.Timeout
	}

	e.mu.Lock()

	if busy, ok := e.pending[req.DeviceID]; ok {
		e.mu.Unlock()

		return nil, fmt.Errorf("%w: %s pending for device %d", ErrBusy, busy.cmd.Kind, req.DeviceID)
	}

	now := e.clock.Now()
	en := &entry{
		cmd: PendingCommand{
			DeviceID:      req.DeviceID,
			Kind:          req.Kind,
			Zones:         req.Zones.Clone(),
			UserID:        req.UserID,
			CorrelationID: req.CorrelationID,
			IssuedAt:      now,
			Attempt:       1,
		},
		frame:    req.Frame,
		retry:    req.RetryInterval,
		deadline: now.Add(req.Timeout),
		maxTries: req.MaxAttempts,
		results:  make(chan Result, 1),
	}

	e.pending[req.DeviceID] = en
	if req.CorrelationID != "" {
		e.byID[req.CorrelationID] = req.DeviceID
	}

	e.arm(en, req.RetryInterval)
	e.mu.Unlock()

	logger.DebugKV(ctx, "Command sent", "device_id", req.DeviceID, "kind", req.Kind, "id", req.CorrelationID)
	e.transmit(en.frame, req.DeviceID)

	return en.results, nil
}

// Acknowledge records transport delivery of the command with the given correlation id.
// It never resolves the caller; it only stops retransmission.
func (e *Engine) Acknowledge(correlationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	deviceID, ok := e.byID[correlationID]
	if !ok {
		return false
	}

	en := e.pending[deviceID]
	if en == nil || en.cmd.Delivered {
		return en != nil
	}

	en.cmd.Delivered = true
	en.timer.Stop()
	e.arm(en, en.deadline.Sub(e.clock.Now()))

	return true
}

// Observe offers a device observation. It resolves the pending command of the device when the
// observation completes it and reports whether it did.
func (e *Engine) Observe(deviceID int, c Completion) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	en, ok := e.pending[deviceID]
	if !ok {
		return false
	}

	switch {
	case en.cmd.Kind == alarm.CommandTest && c.State != nil:
		e.resolve(en, OutcomeConfirmed, &c, nil)
	case en.cmd.Kind != alarm.CommandTest && c.Category == en.cmd.Kind.CompletionCategory():
		e.resolve(en, OutcomeConfirmed, &c, nil)
	case en.cmd.Kind != alarm.CommandTest && c.Category == alarm.CategoryUnauthorizedAction:
		e.resolve(en, OutcomeRejected, &c, ErrRejected)
	default:
		return false
	}

	return true
}

// Retransmit resends the pending frame of a device on the peer's request.
func (e *Engine) Retransmit(deviceID int) bool {
	e.mu.Lock()
	en, ok := e.pending[deviceID]
	e.mu.Unlock()

	if !ok {
		return false
	}

	e.transmit(en.frame, deviceID)

	return true
}

// Cancel resolves the pending command of a device with OutcomeCancelled.
func (e *Engine) Cancel(deviceID int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	en, ok := e.pending[deviceID]
	if !ok {
		return false
	}

	e.resolve(en, OutcomeCancelled, nil, ErrCancelled)

	return true
}

// CancelAll fails every pending command early with NoResponse; used when the transport resets.
// The result error always wraps ErrTransportReset next to reason.
func (e *Engine) CancelAll(reason error) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cause := ErrTransportReset
	if reason != nil && !errors.Is(reason, ErrTransportReset) {
		cause = fmt.Errorf("%w: %w", ErrTransportReset, reason)
	}

	n := 0
	for _, en := range e.pending {
		e.resolve(en, OutcomeNoResponse, nil, fmt.Errorf("%w: %w", ErrNoResponse, cause))
		n++
	}

	return n
}

// Pending returns a copy of the device's pending command.
func (e *Engine) Pending(deviceID int) (PendingCommand, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	en, ok := e.pending[deviceID]
	if !ok {
		return PendingCommand{}, false
	}

	cmd := en.cmd
	cmd.Zones = cmd.Zones.Clone()

	return cmd, true
}

// Len returns the number of pending commands.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.pending)
}

// arm starts the entry's timer; mu must be held.
func (e *Engine) arm(en *entry, d time.Duration) {
	if d < 0 {
		d = 0
	}

	en.gen++
	gen := en.gen
	en.timer = e.clock.AfterFunc(d, func() { e.expire(en, gen) })
}

func (e *Engine) expire(en *entry, gen uint64) {
	e.mu.Lock()

	if e.pending[en.cmd.DeviceID] != en || en.gen != gen {
		e.mu.Unlock()

		return
	}

	now := e.clock.Now()

	switch {
	case en.cmd.Delivered, !now.Before(en.deadline), en.cmd.Attempt >= en.maxTries:
		logger.WarnKV(e.ctx, "Command not confirmed",
			"device_id", en.cmd.DeviceID, "kind", en.cmd.Kind, "attempts", en.cmd.Attempt, "delivered", en.cmd.Delivered)
		e.resolve(en, OutcomeNoResponse, nil, ErrNoResponse)
		e.mu.Unlock()

		return
	}

	en.cmd.Attempt++
	e.arm(en, min(en.retry, en.deadline.Sub(now)))
	attempt := en.cmd.Attempt
	e.mu.Unlock()

	logger.WarnKV(e.ctx, "Retransmitting command", "device_id", en.cmd.DeviceID, "attempt", attempt)
	e.transmit(en.frame, en.cmd.DeviceID)
}

// resolve delivers the result and forgets the entry; mu must be held.
func (e *Engine) resolve(en *entry, outcome Outcome, c *Completion, err error) {
	en.timer.Stop()
	delete(e.pending, en.cmd.DeviceID)

	if en.cmd.CorrelationID != "" {
		delete(e.byID, en.cmd.CorrelationID)
	}

	cmd := en.cmd
	en.results <- Result{Outcome: outcome, Command: cmd, Completion: c, Err: err}
	close(en.results)
}

func (e *Engine) transmit(frame []byte, deviceID int) {
	if err := e.tx.Transmit(e.ctx, frame); err != nil {
		logger.ErrorKV(e.ctx, "Failed to transmit command", "device_id", deviceID, "error", err)
	}
}
