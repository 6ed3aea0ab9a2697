package tandem

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-bridge/internal/adapter"
	"github.com/oshokin/alarm-bridge/internal/codec/tandem"
	"github.com/oshokin/alarm-bridge/internal/config"
	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()

	cfg := &config.Config{System: config.SystemTandem}
	cfg.Connection.Host = "127.0.0.1"
	cfg.Connection.Port = 1200
	cfg.Connection.UDPPort = 1200
	cfg.Connection.RMOID = 5
	cfg.Connection.KRTID = 2

	a := New(cfg)
	a.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	return a
}

// response builds a datagram for device 7 addressed to station 5, KRT 2.
func response(cmd tandem.ResponseCommand, set map[int]byte) []byte {
	buf := make([]byte, tandem.PacketSize)
	buf[2], buf[3], buf[4] = 2, 5, byte(cmd)
	binary.LittleEndian.PutUint16(buf[5:], 6)

	for off, v := range set {
		buf[off] = v
	}

	return buf
}

func decodeOne(t *testing.T, a *Adapter, raw []byte) *adapter.Event {
	t.Helper()

	in, err := a.Decode(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, in, 1)

	return in[0].Event
}

// TestDecodeTest verifies the zone state of a test response.
func TestDecodeTest(t *testing.T) {
	t.Parallel()

	ev := decodeOne(t, newTestAdapter(t), response(tandem.ResponseTest, map[int]byte{11: 0x01, 12: 0x03}))
	require.Equal(t, 7, ev.DeviceID)
	require.Equal(t, alarm.CategoryIgnorable, ev.Category)
	require.True(t, ev.HasState())
	require.Equal(t, alarm.ZoneVector{1, 1, 0, 0}, ev.Armed)
	require.Equal(t, alarm.ZoneVector{0, 0, 0, 1}, ev.Active)
}

// TestDecodeControlAndAction verifies the categories of confirmations and panel actions.
func TestDecodeControlAndAction(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t)

	ev := decodeOne(t, a, response(tandem.ResponseControl, map[int]byte{11: 0x03, 12: 0x03}))
	require.Equal(t, alarm.CategoryArm, ev.Category)
	require.Equal(t, alarm.ZoneVector{1, 1, 0, 0}, ev.Zones)

	ev = decodeOne(t, a, response(tandem.ResponseAction, map[int]byte{10: 0x02}))
	require.Equal(t, alarm.CategoryDisarm, ev.Category)
	require.Equal(t, "action/disarm", ev.Code)

	ev = decodeOne(t, a, response(tandem.ResponseAlarm, nil))
	require.Equal(t, alarm.CategoryAlarmActive, ev.Category)
	require.Equal(t, alarm.ZoneVector{1, 1, 1, 1}, ev.Zones)
}

// TestDecodeForeignAndInvalid verifies that foreign and short datagrams are not delivered.
func TestDecodeForeignAndInvalid(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t)

	foreign := response(tandem.ResponseTest, nil)
	foreign[3] = 9

	in, err := a.Decode(context.Background(), foreign)
	require.NoError(t, err)
	require.Empty(t, in)

	_, err = a.Decode(context.Background(), make([]byte, 19))
	require.ErrorIs(t, err, tandem.ErrInvalidLength)
}

// TestEncodeCommand verifies the control datagram layout.
func TestEncodeCommand(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t)

	enc, err := a.EncodeCommand(adapter.Command{DeviceID: 7, Kind: alarm.CommandArm, Zones: alarm.ZoneVector{1, 1, 0, 0}, UserID: 3})
	require.NoError(t, err)
	require.Empty(t, enc.CorrelationID)
	require.Len(t, enc.Frame, tandem.PacketSize)
	require.Equal(t, byte(5), enc.Frame[2])
	require.Equal(t, byte(2), enc.Frame[3])
	require.Equal(t, byte(tandem.RequestControl), enc.Frame[4])
	require.Equal(t, uint16(6), binary.LittleEndian.Uint16(enc.Frame[5:]))
	require.Equal(t, byte(3), enc.Frame[9])
	require.Equal(t, byte(1), enc.Frame[11])
	require.Equal(t, byte(0x03), enc.Frame[12])
	require.Equal(t, uint32(1), binary.LittleEndian.Uint32(enc.Frame[13:]))

	enc, err = a.EncodeCommand(adapter.Command{DeviceID: 7, Kind: alarm.CommandTest})
	require.NoError(t, err)
	require.Equal(t, byte(tandem.RequestTest), enc.Frame[4])
	require.Equal(t, uint32(2), binary.LittleEndian.Uint32(enc.Frame[13:]))
}
