// Package correlation matches commands sent to devices with their eventual confirmation.
//
// The Engine holds at most one pending command per device. A pending command moves through
//
//	Sent -> (Delivered) -> Confirmed | Rejected | NoResponse | Cancelled
//
// While Sent, the frame is retransmitted every retry interval until the peer acknowledges
// delivery or the attempts run out. A transport acknowledgement only moves the command to
// Delivered: the caller is resolved by a matching device event, or by the absolute timeout.
// Each pending command owns exactly one timer, stopped on every exit transition.
package correlation
