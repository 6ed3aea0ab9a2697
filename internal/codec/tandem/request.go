package tandem

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/oshokin/alarm-bridge/internal/codec/zonebits"
	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

// PacketSize is the only datagram length the protocol knows.
const PacketSize = 20

// ZoneCount is the number of zones a Tandem object reports.
const ZoneCount = 4

const (
	offVersion = 0
	offStation = 2
	offKRT     = 3
	offCommand = 4
	offDevice  = 5
	offUser    = 9
	offAction  = 10
	offFlag    = 11
	offZones   = 12
	offID      = 13

	version = 1

	dbArmBit  = 0x40
	dbZoneBit = 0x3F
)

// RequestCommand is the command byte of an outbound datagram.
type RequestCommand byte

// Outbound commands.
const (
	RequestTest        RequestCommand = 0x00
	RequestControl     RequestCommand = 0x06
	RequestPing        RequestCommand = 0x20
	RequestLock        RequestCommand = 0x4A
	RequestManualAlarm RequestCommand = 0x4D
	RequestControlDB   RequestCommand = 0x54
)

var (
	// ErrInvalidLength is returned for datagrams that are not exactly PacketSize bytes.
	ErrInvalidLength = errors.New("tandem: datagram must be 20 bytes")
	// ErrUnknownCommand is returned for an unrecognised command byte.
	ErrUnknownCommand = errors.New("tandem: unknown command")
	// ErrInvalidDevice is returned for object numbers that do not fit the device index.
	ErrInvalidDevice = errors.New("tandem: object number out of range")
)

// Request describes one outbound datagram.
type Request struct {
	Command RequestCommand
	// StationID and KRTID address the gateway inside the control server.
	StationID byte
	KRTID     byte
	// DeviceID is the object number; zero leaves the device index empty.
	DeviceID int
	// UserID is written when positive.
	UserID int
	// Arm selects arm over disarm for control commands and lock on for RequestLock.
	Arm   bool
	Zones alarm.ZoneVector
	ID    uint32
}

// Encode lays the request out as a datagram.
func (r Request) Encode() ([]byte, error) {
	buf := make([]byte, PacketSize)
	buf[offVersion] = version
	buf[offStation] = r.StationID
	buf[offKRT] = r.KRTID
	buf[offCommand] = byte(r.Command)

	if r.DeviceID != 0 {
		if r.DeviceID < 1 || r.DeviceID > 0x8000 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidDevice, r.DeviceID)
		}

		binary.LittleEndian.PutUint16(buf[offDevice:], uint16(r.DeviceID-1))
	}

	if r.UserID > 0 {
		buf[offUser] = byte(r.UserID)
	}

	if r.Command != RequestControlDB && r.Arm {
		buf[offFlag] = 1
	}

	if r.Command == RequestTest {
		buf[offZones] = 1
	}

	binary.LittleEndian.PutUint32(buf[offID:], r.ID)

	if len(r.Zones) > 0 {
		mask := zonebits.Mask(r.Zones)

		if r.Command == RequestControlDB {
			if r.Arm {
				mask |= dbArmBit
			} else {
				mask &= dbZoneBit
			}
		}

		buf[offZones] = mask
	}

	return buf, nil
}

// Test builds a state query for a device.
func Test(station, krt byte, deviceID int, id uint32) Request {
	return Request{Command: RequestTest, StationID: station, KRTID: krt, DeviceID: deviceID, ID: id}
}

// Control builds an arm or disarm request.
func Control(station, krt byte, deviceID, userID int, arm bool, zones alarm.ZoneVector, id uint32) Request {
	return Request{
		Command:   RequestControl,
		StationID: station,
		KRTID:     krt,
		DeviceID:  deviceID,
		UserID:    userID,
		Arm:       arm,
		Zones:     zones,
		ID:        id,
	}
}

// Ping builds a keep-alive request.
func Ping(station, krt byte, id uint32) Request {
	return Request{Command: RequestPing, StationID: station, KRTID: krt, ID: id}
}
