package alarm

import "time"

// Actor identifies who requested an action.
type Actor struct {
	// UserID is the panel user number, NoUser when unknown.
	UserID int `json:"userId"`
	// Auto marks actions issued by the arm-control scheduler.
	Auto bool `json:"auto"`
}

// NoUser marks an action without a known panel user.
const NoUser = -1

// AutoUserID is the user number panels report for remote and scheduled commands.
const AutoUserID = 250

// Clone returns a deep copy of the actor.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// DeviceState is the canonical per-zone view of one device.
type DeviceState struct {
	// DeviceID is the panel object number.
	DeviceID int `json:"deviceId"`
	// Armed holds 1 for zones under guard.
	Armed ZoneVector `json:"zones"`
	// Active holds 1 for zones whose sensor reports a violation.
	Active ZoneVector `json:"active"`
	// Mismatched holds 1 for zones with an unresolved armed-state conflict.
	Mismatched ZoneVector `json:"mismatched"`
	// ObservedAtMs is the epoch millisecond time of the last applied observation.
	ObservedAtMs int64 `json:"time"`
}

// NewDeviceState creates an all-clear state for a device with n zones.
func NewDeviceState(deviceID, n int, observedAt time.Time) *DeviceState {
	return &DeviceState{
		DeviceID:     deviceID,
		Armed:        NewZoneVector(n),
		Active:       NewZoneVector(n),
		Mismatched:   NewZoneVector(n),
		ObservedAtMs: observedAt.UnixMilli(),
	}
}

// Arm is the derived device-level flag: 1 when any zone is armed.
func (s *DeviceState) Arm() int {
	if s.Armed.Any() {
		return 1
	}

	return 0
}

// ZoneCount returns the length of the armed vector.
func (s *DeviceState) ZoneCount() int {
	return len(s.Armed)
}

// ObservedAt converts ObservedAtMs back to time.
func (s *DeviceState) ObservedAt() time.Time {
	return time.UnixMilli(s.ObservedAtMs)
}

// Normalize pads or truncates every vector to n zones.
func (s *DeviceState) Normalize(n int) {
	if len(s.Armed) != n {
		s.Armed = s.Armed.Resize(n)
	}

	if len(s.Active) != n {
		s.Active = s.Active.Resize(n)
	}

	if len(s.Mismatched) != n {
		s.Mismatched = s.Mismatched.Resize(n)
	}
}

// Clone returns a copy of the state to avoid leaking internal references.
func (s *DeviceState) Clone() *DeviceState {
	if s == nil {
		return nil
	}

	return &DeviceState{
		DeviceID:     s.DeviceID,
		Armed:        s.Armed.Clone(),
		Active:       s.Active.Clone(),
		Mismatched:   s.Mismatched.Clone(),
		ObservedAtMs: s.ObservedAtMs,
	}
}
