package tandem

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/oshokin/alarm-bridge/internal/codec/zonebits"
	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

// ResponseCommand is the command byte of an inbound datagram.
type ResponseCommand byte

// Inbound commands.
const (
	ResponseAlarm       ResponseCommand = 0x1B
	ResponseAction      ResponseCommand = 0x1F
	ResponseTest        ResponseCommand = 0x46
	ResponseFailTest    ResponseCommand = 0x47
	ResponseControl     ResponseCommand = 0x48
	ResponseLock        ResponseCommand = 0x4A
	ResponseManualAlarm ResponseCommand = 0x4D
	ResponseControlDB   ResponseCommand = 0x54
)

const (
	actionDisarm  = 0x02
	controlArmFlg = 0x03
)

//nolint:gochecknoglobals // Read-only lookup table.
var responseNames = map[ResponseCommand]string{
	ResponseAlarm:       "alarm",
	ResponseAction:      "action",
	ResponseTest:        "test",
	ResponseFailTest:    "fail_test",
	ResponseControl:     "control",
	ResponseLock:        "lock",
	ResponseManualAlarm: "manual_alarm",
	ResponseControlDB:   "control_db",
}

func (c ResponseCommand) String() string {
	if name, ok := responseNames[c]; ok {
		return name
	}

	return fmt.Sprintf("0x%02X", byte(c))
}

// Response is a parsed inbound datagram. Fields that a command does not carry stay zero.
type Response struct {
	Command   ResponseCommand
	KRTID     byte
	StationID byte
	ID        uint32
	// Index is the raw little-endian device index; DeviceID is Index+1.
	Index    int
	DeviceID int
	// Disarm is set on action reports that released the guard.
	Disarm bool
	// Arm is set on control confirmations that armed the object.
	Arm bool
	// Success is false for failed tests.
	Success bool
	Armed   alarm.ZoneVector
	Active  alarm.ZoneVector
	Zones   alarm.ZoneVector
	Time    time.Time
}

// Parse decodes a datagram received at now.
func Parse(buf []byte, now time.Time) (*Response, error) {
	if len(buf) != PacketSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLength, len(buf))
	}

	cmd := ResponseCommand(buf[offCommand])
	if _, ok := responseNames[cmd]; !ok {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownCommand, buf[offCommand])
	}

	index := int(binary.LittleEndian.Uint16(buf[offDevice:]))

	r := &Response{
		Command:   cmd,
		KRTID:     buf[offStation],
		StationID: buf[offKRT],
		ID:        binary.LittleEndian.Uint32(buf[offID:]),
		Index:     index,
		DeviceID:  index + 1,
		Time:      now,
	}

	switch cmd {
	case ResponseAction:
		r.Disarm = buf[offAction] == actionDisarm
	case ResponseTest:
		r.Success = true
		r.Active = zonebits.DecodeReversed(buf[offFlag], ZoneCount, zonebits.Normal)
		r.Armed = zonebits.Decode(buf[offZones], ZoneCount, zonebits.Normal)
	case ResponseFailTest:
		r.Success = false
	case ResponseControl, ResponseControlDB:
		r.Arm = buf[offFlag] == controlArmFlg
		r.Zones = zonebits.Decode(buf[offZones]&dbZoneBit, ZoneCount, zonebits.Normal)
	case ResponseManualAlarm:
		r.Zones = zonebits.Decode(buf[offZones], ZoneCount, zonebits.Normal)
	case ResponseAlarm, ResponseLock:
	}

	return r, nil
}

// Addressed reports whether the datagram targets the given workstation and KRT.
func (r *Response) Addressed(station, krt byte) bool {
	return r.StationID == station && r.KRTID == krt
}
