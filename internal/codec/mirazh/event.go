package mirazh

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"
)

// Channel is the NOTIFY channel the event table trigger publishes to.
const Channel = "event_channel"

// HeartbeatPayload is the NOTIFY payload the gateway sends itself to probe the listener.
const HeartbeatPayload = "PING"

var (
	// ErrHeartbeat is returned by ParseNotification for heartbeat payloads.
	ErrHeartbeat = errors.New("mirazh: heartbeat payload")
	// ErrBadRow is returned for payloads that are not event rows.
	ErrBadRow = errors.New("mirazh: malformed event row")
)

// Event keys the gateway reacts to.
const (
	KeyCommandReceived = "2/3"
	KeyResendRequest   = "2/10"
	KeyCommandResult   = "2/19"
	KeyDeviceOffline   = "2/20"
	KeyDeviceOnline    = "2/21"
	KeyArm             = "3/13"
	KeyDisarm          = "3/14"
	KeyDuressDisarm    = "3/25"
	KeyDuressArm       = "3/31"
	KeyArmFailure      = "3/99"
)

// Row is one event table row as the NOTIFY trigger serialises it.
type Row struct {
	EventID      int64           `json:"event_id"`
	ObjectID     int64           `json:"object_id"`
	ObjectNumber int             `json:"object_number"`
	SensorNumber int             `json:"sensor_number"`
	EventType    int             `json:"event_type"`
	EventSubtype int             `json:"event_subtype"`
	KeyNumber    int             `json:"key_number"`
	EventTime    string          `json:"event_time"`
	EventData    json.RawMessage `json:"event_data"`
	Info         string          `json:"info"`
}

// ParseNotification decodes a NOTIFY payload.
func ParseNotification(payload string) (*Row, error) {
	payload = strings.TrimSpace(payload)
	if payload == HeartbeatPayload {
		return nil, ErrHeartbeat
	}

	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrBadRow)
	}

	row := new(Row)
	if err := json.Unmarshal([]byte(payload), row); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRow, err)
	}

	return row, nil
}

// Key returns the "type/subtype" identifier of the event.
func (r *Row) Key() string {
	return strconv.Itoa(r.EventType) + "/" + strconv.Itoa(r.EventSubtype)
}

// Data returns the raw event data bytes. Postgres renders bytea as "\x0a0b..."; a JSON
// array of numbers is accepted too.
func (r *Row) Data() ([]byte, error) {
	if len(r.EventData) == 0 || string(r.EventData) == "null" {
		return nil, nil
	}

	var text string
	if err := json.Unmarshal(r.EventData, &text); err == nil {
		text = strings.TrimPrefix(text, `\x`)

		data, err := hex.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("%w: event_data: %w", ErrBadRow, err)
		}

		return data, nil
	}

	var numbers []byte
	if err := json.Unmarshal(r.EventData, &numbers); err != nil {
		return nil, fmt.Errorf("%w: event_data: %w", ErrBadRow, err)
	}

	return numbers, nil
}

// Text decodes the event data as Windows-1251 text, the encoding the server stores it in.
func (r *Row) Text() string {
	data, err := r.Data()
	if err != nil || len(data) == 0 {
		return ""
	}

	out, err := charmap.Windows1251.NewDecoder().Bytes(data)
	if err != nil {
		return ""
	}

	return string(out)
}

//nolint:gochecknoglobals // Layouts row_to_json produces for timestamp and timestamptz.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999",
}

// Time returns the event time with the id's last three digits as milliseconds,
// so events within one second keep their order. Future times are clamped to now.
func (r *Row) Time(now time.Time) time.Time {
	var (
		t   time.Time
		err error
	)

	for _, layout := range timeLayouts {
		t, err = time.ParseInLocation(layout, r.EventTime, time.Local)
		if err == nil {
			break
		}
	}

	if err != nil {
		return now
	}

	ms := t.UnixMilli() + r.EventID%1000
	if ms/1000 > now.Unix()+1 {
		return now
	}

	return time.UnixMilli(ms)
}

// IsZoneState reports whether the row describes one zone's state.
func (r *Row) IsZoneState() bool {
	return r.EventType == 3 && r.SensorNumber > 0
}
