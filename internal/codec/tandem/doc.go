// Package tandem implements the fixed 20-byte UDP datagrams of the Tandem control server.
//
// Requests and responses share one layout:
//
//	0     version (1)
//	2..3  workstation id and KRT id (swapped in responses)
//	4     command code
//	5..6  device index, little endian, object number minus one
//	9     user number
//	10    action flag (responses)
//	11    arm flag / active zones
//	12    zone mask / test flag
//	13..16 correlation id, little endian
//
// A datagram of any other length is rejected before parsing.
package tandem
