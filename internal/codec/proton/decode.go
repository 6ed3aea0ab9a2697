package proton

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Event TLV tags.
const (
	tagObjectNumber = 0x41
	tagSystemNumber = 0x22
	tagEventBlock   = 0xE1
	tagChannel      = 0x21
	tagTime         = 0x81
	tagSIM          = 0x23
	tagSignal       = 0x24
)

// minFrameLen is prefix + empty id block + command word + checksum block.
const minFrameLen = prefixLen + idTagLen + 2 + checksumBlockSz

var (
	// ErrMalformedPacket is returned when framing is wrong: prefix, length or id tag.
	ErrMalformedPacket = errors.New("proton: malformed packet")
	// ErrUnknownTag is returned for an event TLV tag the decoder does not know.
	ErrUnknownTag = errors.New("proton: unknown event tag")
	// ErrMissingField is returned when an event lacks object number, system number or code.
	ErrMissingField = errors.New("proton: event misses a required field")
)

// Decode parses one complete frame, clamping event timestamps to the current time.
func Decode(frame []byte) (*Packet, error) {
	return DecodeAt(frame, time.Now())
}

// DecodeAt parses one complete frame; now bounds event timestamps from the future.
func DecodeAt(frame []byte, now time.Time) (*Packet, error) {
	if len(frame) < minFrameLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than a frame", ErrMalformedPacket, len(frame))
	}

	if !bytes.Equal(frame[:lengthOffset], prefix[:lengthOffset]) {
		return nil, fmt.Errorf("%w: bad prefix % X", ErrMalformedPacket, frame[:lengthOffset])
	}

	if declared := int(binary.BigEndian.Uint16(frame[lengthOffset:])); declared != len(frame) {
		return nil, fmt.Errorf("%w: declared length %d, got %d", ErrMalformedPacket, declared, len(frame))
	}

	if frame[prefixLen] != tagID || frame[prefixLen+1] != tagIDSub {
		return nil, fmt.Errorf("%w: bad id tag % X", ErrMalformedPacket, frame[prefixLen:prefixLen+2])
	}

	idLen := int(frame[prefixLen+2])
	cmdAt := prefixLen + idTagLen + idLen
	end := len(frame) - checksumBlockSz

	if cmdAt+2 > end {
		return nil, fmt.Errorf("%w: id of %d bytes overruns the frame", ErrMalformedPacket, idLen)
	}

	p := &Packet{
		ID:            string(frame[prefixLen+idTagLen : cmdAt]),
		Command:       Command(binary.BigEndian.Uint16(frame[cmdAt:])),
		ChecksumValid: VerifyChecksum(frame),
		Raw:           frame,
	}

	switch p.Command {
	case CommandAck:
		if cmdAt+2 < end {
			p.AckResult = AckResult(frame[cmdAt+2])
		}
	case CommandEvent:
		// Command word, then a 2-byte body size, then the TLV stream.
		start := cmdAt + 4
		if start > end {
			return nil, fmt.Errorf("%w: event body truncated", ErrMalformedPacket)
		}

		event, err := decodeEvent(frame[start:end], now)
		if err != nil {
			return nil, fmt.Errorf("decode event %s: %w", p.ID, err)
		}

		p.Event = event
	}

	return p, nil
}

func decodeEvent(tlv []byte, now time.Time) (*Event, error) {
	var event Event

	var hasObject, hasSystem, hasCode bool

	for x := 0; x < len(tlv); {
		tag := tlv[x]

		need := fieldWidth(tag)
		if need == 0 {
			return nil, fmt.Errorf("%w: 0x%02X at offset %d", ErrUnknownTag, tag, x)
		}

		if tag == tagEventBlock {
			if x+3 > len(tlv) {
				return nil, fmt.Errorf("%w: event block header truncated", ErrMalformedPacket)
			}

			need = 3 + int(binary.BigEndian.Uint16(tlv[x+1:]))
		}

		if x+need > len(tlv) {
			return nil, fmt.Errorf("%w: tag 0x%02X needs %d bytes, %d left", ErrMalformedPacket, tag, need, len(tlv)-x)
		}

		field := tlv[x : x+need]

		switch tag {
		case tagObjectNumber:
			event.ObjectNumber = int(binary.BigEndian.Uint16(field[1:]))
			hasObject = true
		case tagSystemNumber:
			event.SystemNumber = int(field[1])
			hasSystem = true
		case tagEventBlock:
			if need > 4 {
				event.Code = int(binary.BigEndian.Uint16(field[3:]))
				event.Data = append([]byte(nil), field[5:]...)
				hasCode = true
			}
		case tagChannel:
			event.Channel = Channel(field[1])
		case tagTime:
			hi := int64(int32(binary.BigEndian.Uint32(field[1:])))
			lo := int64(binary.BigEndian.Uint32(field[5:]))

			event.Time = clampTime(time.UnixMilli(hi<<32+lo), now)
		case tagSIM:
			event.SIM = int(field[1]) + 1
		case tagSignal:
			event.Signal = int(field[1])
			event.HasSignal = true
		}

		x += need
	}

	switch {
	case !hasObject:
		return nil, fmt.Errorf("%w: object number", ErrMissingField)
	case !hasSystem:
		return nil, fmt.Errorf("%w: system number", ErrMissingField)
	case !hasCode:
		return nil, fmt.Errorf("%w: event code", ErrMissingField)
	}

	return &event, nil
}

// fieldWidth returns the full width of a fixed field including its tag, 0 for unknown tags.
// The event block is length-prefixed and reports its header width.
func fieldWidth(tag byte) int {
	switch tag {
	case tagObjectNumber:
		return 3
	case tagSystemNumber, tagChannel, tagSIM, tagSignal:
		return 2
	case tagEventBlock:
		return 3
	case tagTime:
		return 9
	default:
		return 0
	}
}

func clampTime(t, now time.Time) time.Time {
	// Panel clocks drift ahead of ours.
	if t.Unix() > now.Unix()+1 {
		return now
	}

	return t
}
