package tandem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

// TestEncodeControl verifies the byte layout of an arm request.
func TestEncodeControl(t *testing.T) {
	t.Parallel()

	buf, err := Control(3, 5, 12, 114, true, alarm.ZoneVector{1, 0, 1, 0}, 1111).Encode()
	require.NoError(t, err)
	require.Equal(t, []byte{
		0x01, 0x00, 0x03, 0x05, 0x06, 0x0B, 0x00, 0x00,
		0x00, 0x72, 0x00, 0x01, 0x05, 0x57, 0x04, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}, buf)
}

// TestEncodeControlDB verifies the arm bit of the database-backed control command.
func TestEncodeControlDB(t *testing.T) {
	t.Parallel()

	req := Control(1, 1, 1, 0, true, alarm.ZoneVector{1, 1, 0, 0}, 0)
	req.Command = RequestControlDB

	buf, err := req.Encode()
	require.NoError(t, err)
	require.Equal(t, byte(0x43), buf[offZones])
	require.Zero(t, buf[offFlag])

	req.Arm = false

	buf, err = req.Encode()
	require.NoError(t, err)
	require.Equal(t, byte(0x03), buf[offZones])
}

// TestEncodeTest verifies the test flag and device index.
func TestEncodeTest(t *testing.T) {
	t.Parallel()

	buf, err := Test(1, 2, 300, 7).Encode()
	require.NoError(t, err)
	require.Len(t, buf, PacketSize)
	require.Equal(t, byte(RequestTest), buf[offCommand])
	require.Equal(t, []byte{0x2B, 0x01}, buf[offDevice:offDevice+2])
	require.Equal(t, byte(1), buf[offZones])

	_, err = Test(1, 2, -4, 7).Encode()
	require.ErrorIs(t, err, ErrInvalidDevice)
}

// TestParseRejectsLength verifies that short and long datagrams are rejected before parsing.
func TestParseRejectsLength(t *testing.T) {
	t.Parallel()

	_, err := Parse(make([]byte, 19), time.Now())
	require.ErrorIs(t, err, ErrInvalidLength)

	_, err = Parse(make([]byte, 21), time.Now())
	require.ErrorIs(t, err, ErrInvalidLength)
}

// TestParseUnknownCommand verifies the command byte check.
func TestParseUnknownCommand(t *testing.T) {
	t.Parallel()

	buf := make([]byte, PacketSize)
	buf[offCommand] = 0x99

	_, err := Parse(buf, time.Now())
	require.ErrorIs(t, err, ErrUnknownCommand)
}

// TestParseTest verifies zone decoding of a successful test response.
func TestParseTest(t *testing.T) {
	t.Parallel()

	buf := make([]byte, PacketSize)
	buf[offStation] = 5
	buf[offKRT] = 3
	buf[offCommand] = byte(ResponseTest)
	buf[offDevice] = 11
	buf[offFlag] = 0x01
	buf[offZones] = 0x03
	buf[offID] = 0x57
	buf[offID+1] = 0x04

	now := time.UnixMilli(1700000000000)

	r, err := Parse(buf, now)
	require.NoError(t, err)
	require.Equal(t, ResponseTest, r.Command)
	require.Equal(t, 12, r.DeviceID)
	require.Equal(t, uint32(1111), r.ID)
	require.True(t, r.Success)
	require.True(t, r.Addressed(3, 5))
	require.Equal(t, alarm.ZoneVector{1, 1, 0, 0}, r.Armed)
	require.Equal(t, alarm.ZoneVector{0, 0, 0, 1}, r.Active)
	require.Equal(t, now, r.Time)
}

// TestParseControlAndAction verifies the arm and disarm flags.
func TestParseControlAndAction(t *testing.T) {
	t.Parallel()

	buf := make([]byte, PacketSize)
	buf[offCommand] = byte(ResponseControl)
	buf[offFlag] = controlArmFlg
	buf[offZones] = 0x02

	r, err := Parse(buf, time.Now())
	require.NoError(t, err)
	require.True(t, r.Arm)
	require.Equal(t, 1, r.DeviceID)
	require.Equal(t, alarm.ZoneVector{0, 1, 0, 0}, r.Zones)

	buf[offCommand] = byte(ResponseAction)
	buf[offAction] = actionDisarm

	r, err = Parse(buf, time.Now())
	require.NoError(t, err)
	require.True(t, r.Disarm)
	require.Equal(t, "action", r.Command.String())
}
