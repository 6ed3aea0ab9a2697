// Package reconcile owns every transition of the cached device state.
//
// Observations, applied actions and alarms flow through the Engine, which merges them into the
// per-zone armed, active and mismatched vectors, enforces arm-control schedules and the allowed
// user list, and decides what reaches the notification stream.
package reconcile
