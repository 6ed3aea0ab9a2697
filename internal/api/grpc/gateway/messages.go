package gateway

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

// Message field names.
const (
	fieldDeviceID   = "device_id"
	fieldKind       = "kind"
	fieldZones      = "zones"
	fieldUserID     = "user_id"
	fieldActive     = "active"
	fieldMismatched = "mismatched"
	fieldArm        = "arm"
	fieldTime       = "time"
)

var (
	// ErrMissingField is returned when a required message field is absent.
	ErrMissingField = errors.New("missing field")
	// ErrBadField is returned when a field has the wrong type or value.
	ErrBadField = errors.New("bad field")
)

// CommandMessage encodes a command request.
func CommandMessage(req alarm.CommandRequest) (*structpb.Struct, error) {
	fields := map[string]any{
		fieldDeviceID: req.DeviceID,
		fieldKind:     req.Kind.String(),
		fieldUserID:   req.UserID,
	}

	if req.Zones != nil {
		fields[fieldZones] = zoneList(req.Zones)
	}

	return structpb.NewStruct(fields)
}

// ParseCommand decodes a command request. A missing user_id means no known user.
func ParseCommand(msg *structpb.Struct) (alarm.CommandRequest, error) {
	req := alarm.CommandRequest{UserID: alarm.NoUser}

	id, err := intField(msg, fieldDeviceID)
	if err != nil {
		return req, err
	}

	req.DeviceID = id

	kind, ok := msg.GetFields()[fieldKind]
	if !ok {
		return req, fmt.Errorf("%w: %s", ErrMissingField, fieldKind)
	}

	if req.Kind, err = alarm.ParseCommandKind(kind.GetStringValue()); err != nil {
		return req, fmt.Errorf("%w: %w", ErrBadField, err)
	}

	if _, ok = msg.GetFields()[fieldUserID]; ok {
		if req.UserID, err = intField(msg, fieldUserID); err != nil {
			return req, err
		}
	}

	if req.Zones, err = zonesField(msg, fieldZones); err != nil {
		return req, err
	}

	return req, nil
}

// DeviceMessage encodes a device state query.
func DeviceMessage(deviceID int) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldDeviceID: structpb.NewNumberValue(float64(deviceID)),
	}}
}

// ParseDevice decodes a device state query.
func ParseDevice(msg *structpb.Struct) (int, error) {
	return intField(msg, fieldDeviceID)
}

// StateMessage encodes a device state.
func StateMessage(s *alarm.DeviceState) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		fieldDeviceID:   s.DeviceID,
		fieldZones:      zoneList(s.Armed),
		fieldActive:     zoneList(s.Active),
		fieldMismatched: zoneList(s.Mismatched),
		fieldArm:        s.Arm(),
		fieldTime:       s.ObservedAtMs,
	})
}

// ParseState decodes a device state.
func ParseState(msg *structpb.Struct) (*alarm.DeviceState, error) {
	id, err := intField(msg, fieldDeviceID)
	if err != nil {
		return nil, err
	}

	s := &alarm.DeviceState{DeviceID: id}

	if s.Armed, err = zonesField(msg, fieldZones); err != nil {
		return nil, err
	}

	if s.Active, err = zonesField(msg, fieldActive); err != nil {
		return nil, err
	}

	if s.Mismatched, err = zonesField(msg, fieldMismatched); err != nil {
		return nil, err
	}

	if v, ok := msg.GetFields()[fieldTime]; ok {
		s.ObservedAtMs = int64(v.GetNumberValue())
	}

	s.Normalize(len(s.Armed))

	return s, nil
}

func zoneList(v alarm.ZoneVector) []any {
	out := make([]any, len(v))
	for i, z := range v {
		out[i] = z
	}

	return out
}

func intField(msg *structpb.Struct, name string) (int, error) {
	v, ok := msg.GetFields()[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, name)
	}

	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrBadField, name)
	}

	return int(n.NumberValue), nil
}

func zonesField(msg *structpb.Struct, name string) (alarm.ZoneVector, error) {
	v, ok := msg.GetFields()[name]
	if !ok {
		return nil, nil
	}

	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%w: %s must be a list", ErrBadField, name)
	}

	zones := make(alarm.ZoneVector, len(list.GetValues()))

	for i, z := range list.GetValues() {
		switch z.GetNumberValue() {
		case 0:
		case 1:
			zones[i] = 1
		default:
			return nil, fmt.Errorf("%w: %s[%d] must be 0 or 1", ErrBadField, name, i)
		}
	}

	return zones, nil
}
