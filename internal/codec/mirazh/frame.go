package mirazh

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sigurn/crc16"
)

// ZoneCount is the number of zones the gateway tracks per Mirazh object.
const ZoneCount = 8

// FrameType is the kind of a TCP channel frame.
type FrameType byte

// Frame types.
const (
	FrameLogin   FrameType = 0x01
	FramePing    FrameType = 0x02
	FrameCommand FrameType = 0x03
	FrameReply   FrameType = 0x04
)

// CommandID is the server command number.
type CommandID byte

// Server commands the gateway issues.
const (
	CommandRefresh CommandID = 4
	CommandDisarm  CommandID = 12
	CommandArm     CommandID = 13
	CommandTest    CommandID = 14
)

const (
	// FrameMagic opens every frame.
	FrameMagic  = 0xA5
	headerLen   = 4
	crcLen      = 2
	commandLen  = 7
	maxPayload  = 0xFFFF
	minFrameLen = headerLen + crcLen
)

//nolint:gochecknoglobals // Immutable CRC table.
var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// ErrBadFrame is returned for frames with a wrong magic, length or checksum.
var ErrBadFrame = errors.New("mirazh: bad frame")

// Frame is one TCP channel frame.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Command is the payload of a FrameCommand frame.
type Command struct {
	ID       CommandID
	ObjectID uint32
	Sequence uint16
}

// Encode seals the frame: magic, type, payload length (LE), payload, CRC16/MODBUS (LE).
func (f Frame) Encode() ([]byte, error) {
	if len(f.Payload) > maxPayload {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrBadFrame, len(f.Payload))
	}

	out := make([]byte, 0, minFrameLen+len(f.Payload))
	out = append(out, FrameMagic, byte(f.Type))
	out = binary.LittleEndian.AppendUint16(out, uint16(len(f.Payload)))
	out = append(out, f.Payload...)
	out = binary.LittleEndian.AppendUint16(out, crc16.Checksum(out, crcTable))

	return out, nil
}

// FrameSize returns the full size of the frame starting at buf once its header is available.
func FrameSize(buf []byte) (int, bool) {
	if len(buf) < headerLen {
		return 0, false
	}

	return minFrameLen + int(binary.LittleEndian.Uint16(buf[2:])), true
}

// ParseFrame decodes one complete frame and returns the number of bytes it used.
func ParseFrame(buf []byte) (Frame, int, error) {
	if len(buf) < minFrameLen {
		return Frame{}, 0, fmt.Errorf("%w: %d bytes", ErrBadFrame, len(buf))
	}

	if buf[0] != FrameMagic {
		return Frame{}, 0, fmt.Errorf("%w: magic 0x%02X", ErrBadFrame, buf[0])
	}

	size := minFrameLen + int(binary.LittleEndian.Uint16(buf[2:]))
	if len(buf) < size {
		return Frame{}, 0, fmt.Errorf("%w: want %d bytes, have %d", ErrBadFrame, size, len(buf))
	}

	want := binary.LittleEndian.Uint16(buf[size-crcLen:])
	if got := crc16.Checksum(buf[:size-crcLen], crcTable); got != want {
		return Frame{}, 0, fmt.Errorf("%w: crc 0x%04X, want 0x%04X", ErrBadFrame, got, want)
	}

	payload := make([]byte, size-minFrameLen)
	copy(payload, buf[headerLen:size-crcLen])

	return Frame{Type: FrameType(buf[1]), Payload: payload}, size, nil
}

// LoginFrame carries the channel credentials as "login\x00password".
func LoginFrame(login, password string) Frame {
	payload := make([]byte, 0, len(login)+len(password)+1)
	payload = append(payload, login...)
	payload = append(payload, 0)
	payload = append(payload, password...)

	return Frame{Type: FrameLogin, Payload: payload}
}

// PingFrame is the channel keep-alive.
func PingFrame() Frame {
	return Frame{Type: FramePing}
}

// CommandFrame wraps a command.
func CommandFrame(c Command) Frame {
	payload := make([]byte, 0, commandLen)
	payload = append(payload, byte(c.ID))
	payload = binary.LittleEndian.AppendUint32(payload, c.ObjectID)
	payload = binary.LittleEndian.AppendUint16(payload, c.Sequence)

	return Frame{Type: FrameCommand, Payload: payload}
}

// ParseCommand reads the payload of a command or reply frame.
func ParseCommand(f Frame) (Command, error) {
	if len(f.Payload) != commandLen {
		return Command{}, fmt.Errorf("%w: command payload of %d bytes", ErrBadFrame, len(f.Payload))
	}

	return Command{
		ID:       CommandID(f.Payload[0]),
		ObjectID: binary.LittleEndian.Uint32(f.Payload[1:]),
		Sequence: binary.LittleEndian.Uint16(f.Payload[5:]),
	}, nil
}
