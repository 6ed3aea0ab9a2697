// Package zonebits packs zone vectors into the single status byte panels send.
//
// Bit i (LSB first) describes zone i. Polarity says whether a set bit means
// "flagged" (Normal) or "clear" (Inverted); device families differ, so the
// caller always passes it explicitly.
package zonebits

import "github.com/oshokin/alarm-bridge/internal/domain/alarm"

// Polarity is the meaning of a set bit.
type Polarity int

const (
	// Normal: a set bit flags the zone.
	Normal Polarity = iota
	// Inverted: a cleared bit flags the zone.
	Inverted
)

// Encode packs up to 8 zones into a byte under the given polarity.
func Encode(v alarm.ZoneVector, p Polarity) byte {
	var b byte

	for i := 0; i < len(v) && i < 8; i++ {
		flagged := v[i] == 1
		if flagged != (p == Inverted) {
			b |= 1 << uint(i)
		}
	}

	if p == Inverted {
		// Bits beyond the vector stay cleared so both conventions agree on padding.
		b &= lowMask(len(v))
	}

	return b
}

// Decode unpacks n zones (n <= 8) from b under the given polarity.
func Decode(b byte, n int, p Polarity) alarm.ZoneVector {
	n = clamp(n)
	v := alarm.NewZoneVector(n)

	for i := range n {
		set := b&(1<<uint(i)) != 0
		if set != (p == Inverted) {
			v[i] = 1
		}
	}

	return v
}

// DecodeReversed unpacks n zones where bit i describes zone n-1-i.
func DecodeReversed(b byte, n int, p Polarity) alarm.ZoneVector {
	v := Decode(b, n, p)

	for i, j := 0, len(v)-1; i < j; i, j = i+1, j-1 {
		v[i], v[j] = v[j], v[i]
	}

	return v
}

// Mask returns Encode(v, Normal); the form used for command zone masks.
func Mask(v alarm.ZoneVector) byte {
	return Encode(v, Normal)
}

func lowMask(n int) byte {
	n = clamp(n)
	if n == 8 {
		return 0xFF
	}

	return byte(1<<uint(n)) - 1
}

func clamp(n int) int {
	switch {
	case n < 0:
		return 0
	case n > 8:
		return 8
	default:
		return n
	}
}
