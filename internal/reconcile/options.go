package reconcile

import (
	"context"
	"time"

	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

// Default timers.
const (
	DefaultDedupWindow = 45 * time.Second
	DefaultRetestDelay = 30 * time.Second
)

// BuiltinAllowedUsers may always arm and disarm.
//
//nolint:gochecknoglobals // Read-only list.
var BuiltinAllowedUsers = []int{114, 128, 115, alarm.AutoUserID}

// MismatchPolicy decides what a conflicting observation does to the cached armed state.
type MismatchPolicy int

const (
	// WaitForCommand keeps the cached value and flags the zone until an action resolves it.
	WaitForCommand MismatchPolicy = iota
	// AutoCorrect adopts the observed value for zones the adapter could not observe.
	// Conflicts on observed zones are kept and flagged as under WaitForCommand.
	AutoCorrect
)

func (p MismatchPolicy) String() string {
	if p == AutoCorrect {
		return "auto_correct"
	}

	return "wait_for_command"
}

// Publisher receives notifications. bus.Stream[alarm.Notification] implements it.
type Publisher interface {
	Publish(ctx context.Context, n alarm.Notification) error
}

// Retester queues a test command for a device after a delay.
type Retester interface {
	Retest(ctx context.Context, deviceID int, after time.Duration)
}

// RetesterFunc adapts a function to Retester.
type RetesterFunc func(ctx context.Context, deviceID int, after time.Duration)

// Retest calls f.
func (f RetesterFunc) Retest(ctx context.Context, deviceID int, after time.Duration) {
	f(ctx, deviceID, after)
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the mismatch policy, WaitForCommand by default.
func WithPolicy(p MismatchPolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLocation sets the zone schedules are evaluated in, time.Local by default.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		e.location = loc
	}
}

// WithAllowedUsers extends BuiltinAllowedUsers.
func WithAllowedUsers(users ...int) Option {
	return func(e *Engine) {
		e.allowedUsers = append(e.allowedUsers, users...)
	}
}

// WithDedupWindow sets how long an identical action is suppressed.
func WithDedupWindow(d time.Duration) Option {
	return func(e *Engine) {
		e.dedupWindow = d
	}
}

// WithRetest schedules a test command delay after every action, zero disables it.
func WithRetest(r Retester, delay time.Duration) Option {
	return func(e *Engine) {
		e.retester = r
		e.retestDelay = delay
	}
}

// WithZoneCount sets the zone count used when neither the config nor the observation has one.
func WithZoneCount(n int) Option {
	return func(e *Engine) {
		e.zoneCount = n
	}
}
