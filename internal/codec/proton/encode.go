package proton

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	prefixLen    = 8
	lengthOffset = 6
	idTagLen     = 3
	maxIDLen     = 0xFF
	authFieldLen = 8
)

// Body tags.
const (
	tagID        = 0xC0
	tagIDSub     = 0x01
	tagChecksum  = 0x40
	tagChecksum2 = 0x02
	tagControl   = 0xE2
	tagLogin     = 0x80
	tagPassword  = 0x81
	remotePrefix = 0x30
)

//nolint:gochecknoglobals // Fixed wire magic.
var prefix = [prefixLen]byte{0x47, 0x50, 0x02, 0x00, 0x40, 0x01, 0x00, 0x00}

var (
	// ErrEmptyZones is returned for an arm or disarm without any zone.
	ErrEmptyZones = errors.New("proton: arm and disarm need at least one zone")
	// ErrIDTooLong is returned when a correlation id does not fit its length byte.
	ErrIDTooLong = errors.New("proton: correlation id longer than 255 bytes")
	// ErrFrameTooLong is returned when a frame does not fit the 16-bit length field.
	ErrFrameTooLong = errors.New("proton: frame longer than 65535 bytes")
)

// NewID returns a fresh correlation id.
func NewID() string {
	return uuid.NewString()
}

// Frame builds a complete frame around body with the given correlation id.
func Frame(id string, body []byte) ([]byte, error) {
	if len(id) > maxIDLen {
		return nil, ErrIDTooLong
	}

	size := prefixLen + idTagLen + len(id) + len(body) + checksumBlockSz
	if size > 0xFFFF {
		return nil, ErrFrameTooLong
	}

	frame := make([]byte, 0, size)
	frame = append(frame, prefix[:]...)
	frame = append(frame, tagID, tagIDSub, byte(len(id)))
	frame = append(frame, id...)
	frame = append(frame, body...)
	frame = append(frame, tagChecksum, tagChecksum2, 0, 0)

	binary.BigEndian.PutUint16(frame[lengthOffset:], uint16(size))
	Seal(frame)

	return frame, nil
}

// PingBody is the body of a keep-alive request.
func PingBody() []byte {
	return binary.BigEndian.AppendUint16(nil, uint16(CommandPing))
}

// AckBody acknowledges a received frame, reporting whether its checksum matched.
func AckBody(checksumOK bool) []byte {
	result := AckOK
	if !checksumOK {
		result = AckChecksumError
	}

	return append(binary.BigEndian.AppendUint16(nil, uint16(CommandAck)), byte(result))
}

// AuthBody carries the session login and password, each padded or cut to 8 bytes.
func AuthBody(login, password string) []byte {
	const fieldsLen = 2 * (1 + authFieldLen)

	body := binary.BigEndian.AppendUint16(nil, uint16(CommandAuth))
	body = append(body, fieldsLen, tagLogin)
	body = append(body, fixedField(login)...)
	body = append(body, tagPassword)
	body = append(body, fixedField(password)...)

	return body
}

// Control describes a remote command addressed to one object.
type Control struct {
	ObjectNumber int
	SystemNumber int
	Channel      Channel
	Command      RemoteCommand
	// ZoneMask is the LSB-first zone mask for arm and disarm, ignored for test.
	ZoneMask byte
}

// ControlBody encodes a remote command body.
func ControlBody(c Control) ([]byte, error) {
	body := binary.BigEndian.AppendUint16(nil, uint16(CommandControl))
	body = append(body, 0, 0) // size, patched below
	body = append(body, tagObjectNumber)
	body = binary.BigEndian.AppendUint16(body, uint16(c.ObjectNumber))
	body = append(body, tagSystemNumber, byte(c.SystemNumber))
	body = append(body, tagChannel, byte(c.Channel))
	body = append(body, tagControl)

	switch c.Command {
	case RemoteTest:
		body = append(body, 0x00, 0x02, remotePrefix, byte(RemoteTest&0xFF))
	case RemoteArm, RemoteDisarm:
		if c.ZoneMask == 0 {
			return nil, ErrEmptyZones
		}

		body = append(body, 0x00, 0x03, remotePrefix, byte(c.Command&0xFF), c.ZoneMask)
	default:
		return nil, fmt.Errorf("proton: unsupported remote command 0x%04X", uint16(c.Command))
	}

	binary.BigEndian.PutUint16(body[2:], uint16(len(body)-4))

	return body, nil
}

// EncodeControl frames a remote command under a fresh id.
func EncodeControl(c Control) (id string, frame []byte, err error) {
	body, err := ControlBody(c)
	if err != nil {
		return "", nil, err
	}

	id = NewID()

	frame, err = Frame(id, body)
	if err != nil {
		return "", nil, err
	}

	return id, frame, nil
}

// EncodePing frames a keep-alive request under a fresh id.
func EncodePing() (id string, frame []byte, err error) {
	id = NewID()

	frame, err = Frame(id, PingBody())

	return id, frame, err
}

// EncodeAck frames the acknowledgement of the packet with the given id.
func EncodeAck(id string, checksumOK bool) ([]byte, error) {
	return Frame(id, AckBody(checksumOK))
}

// EncodeAuth frames the session login request.
func EncodeAuth(login, password string) ([]byte, error) {
	return Frame(NewID(), AuthBody(login, password))
}

func fixedField(s string) []byte {
	out := make([]byte, authFieldLen)
	copy(out, s)

	return out
}
