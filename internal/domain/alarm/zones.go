package alarm

import (
	"errors"
	"fmt"
	"strings"
)

// MaxZones is the largest zone count any supported panel reports.
const MaxZones = 8

// ErrBadZones is returned by ParseZoneVector.
var ErrBadZones = errors.New("zones must be a string of 0 and 1")

// ZoneVector holds one flag per physical zone, 1 or 0, in zone order.
type ZoneVector []int

// NewZoneVector returns a vector of n cleared flags.
func NewZoneVector(n int) ZoneVector {
	return make(ZoneVector, n)
}

// FilledZoneVector returns a vector of n flags all set to value.
func FilledZoneVector(n, value int) ZoneVector {
	v := make(ZoneVector, n)
	for i := range v {
		v[i] = value
	}

	return v
}

// Any reports whether at least one zone is flagged.
func (v ZoneVector) Any() bool {
	for _, f := range v {
		if f == 1 {
			return true
		}
	}

	return false
}

// Count returns the number of flagged zones.
func (v ZoneVector) Count() int {
	n := 0

	for _, f := range v {
		if f == 1 {
			n++
		}
	}

	return n
}

// Indices returns zero-based positions of the flagged zones.
func (v ZoneVector) Indices() []int {
	out := make([]int, 0, len(v))

	for i, f := range v {
		if f == 1 {
			out = append(out, i)
		}
	}

	return out
}

// Clone returns an independent copy.
func (v ZoneVector) Clone() ZoneVector {
	if v == nil {
		return nil
	}

	out := make(ZoneVector, len(v))
	copy(out, v)

	return out
}

// Equal compares flags position by position.
func (v ZoneVector) Equal(o ZoneVector) bool {
	if len(v) != len(o) {
		return false
	}

	for i := range v {
		if v[i] != o[i] {
			return false
		}
	}

	return true
}

// Resize returns a copy truncated or zero-padded to n zones.
func (v ZoneVector) Resize(n int) ZoneVector {
	out := make(ZoneVector, n)
	copy(out, v)

	return out
}

// String renders the vector as "1100".
func (v ZoneVector) String() string {
	var b strings.Builder

	b.Grow(len(v))

	for _, f := range v {
		if f == 1 {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}

	return b.String()
}

// ParseZoneVector reads the String form, e.g. "1100".
func ParseZoneVector(s string) (ZoneVector, error) {
	if s == "" || len(s) > MaxZones {
		return nil, fmt.Errorf("%w: %q", ErrBadZones, s)
	}

	v := make(ZoneVector, len(s))

	for i := range len(s) {
		switch s[i] {
		case '0':
		case '1':
			v[i] = 1
		default:
			return nil, fmt.Errorf("%w: %q", ErrBadZones, s)
		}
	}

	return v, nil
}
