// Package alarm contains the canonical device model shared by every protocol adapter.
//
// ZoneVector carries one 0/1 flag per zone. DeviceState groups the armed, active and
// mismatched vectors of a device; the device-level arm flag is derived, never stored.
// DeviceConfig and ZoneControl describe the arm-control schedule checked before any
// arm or disarm is applied. Clone helpers keep callers from sharing slices.
package alarm
