package proton

import "encoding/binary"

const (
	checksumPoly    = 0x800500
	checksumTopBit  = 0x800000
	checksumBlockSz = 4
)

// Checksum runs the panel checksum over data.
//
// Each byte is added to a 32-bit accumulator which is then shifted left eight times,
// folding in 0x800500 whenever bit 23 was set before the shift. The result is bits 8..23.
func Checksum(data []byte) uint16 {
	var acc uint32

	for _, b := range data {
		acc += uint32(b)

		for range 8 {
			if acc&checksumTopBit != 0 {
				acc = (acc << 1) ^ checksumPoly
			} else {
				acc <<= 1
			}
		}
	}

	return uint16(acc >> 8)
}

// Seal writes the checksum of frame into its last two bytes.
// The sum covers everything before the 4-byte checksum block.
func Seal(frame []byte) {
	if len(frame) < checksumBlockSz {
		return
	}

	crc := Checksum(frame[:len(frame)-checksumBlockSz])
	binary.BigEndian.PutUint16(frame[len(frame)-2:], crc)
}

// VerifyChecksum recomputes the checksum and compares it with the embedded one.
func VerifyChecksum(frame []byte) bool {
	if len(frame) < checksumBlockSz {
		return false
	}

	want := binary.BigEndian.Uint16(frame[len(frame)-2:])

	return Checksum(frame[:len(frame)-checksumBlockSz]) == want
}
