package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

// TestProtonTable verifies representative Proton codes.
func TestProtonTable(t *testing.T) {
	t.Parallel()

	c := New("proton", ProtonTable())
	ctx := context.Background()

	tests := []struct {
		code int
		want alarm.Category
	}{
		{1725, alarm.CategoryArm},
		{1424, alarm.CategoryArm},
		{701, alarm.CategoryDisarm},
		{405, alarm.CategoryDisarm},
		{130, alarm.CategoryAlarmActive},
		{121, alarm.CategoryAlarmForcedEntry},
		{1145, alarm.CategoryAlarmForcedExit},
		{302, alarm.CategoryBatteryLow},
		{1326, alarm.CategoryBatteryRestored},
		{301, alarm.CategoryMainsPowerLost},
		{1988, alarm.CategoryMainsPowerRestored},
		{991, alarm.CategoryDeviceOffline},
		{2015, alarm.CategoryDeviceOnline},
		{704, alarm.CategoryUnauthorizedAction},
		{617, alarm.CategoryIgnorable},
		{703, alarm.CategoryIgnorable},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, c.Classify(ctx, tt.code), "code %d", tt.code)
	}

	require.Zero(t, c.Unknown())
}

// TestUnknownCode verifies that unknown codes degrade to CategoryUnknown and are counted.
func TestUnknownCode(t *testing.T) {
	t.Parallel()

	c := New("mirazh", MirazhTable())

	require.Equal(t, alarm.CategoryUnknown, c.Classify(context.Background(), "9/99"))
	require.Equal(t, alarm.CategoryUnknown, c.Classify(context.Background(), "9/98"))
	require.Equal(t, int64(2), c.Unknown())

	_, ok := c.Lookup("9/99")
	require.False(t, ok)

	category, ok := c.Lookup("3/31")
	require.True(t, ok)
	require.Equal(t, alarm.CategoryArm, category)
}

// TestBuildLastWins verifies that a code listed twice keeps the last category.
func TestBuildLastWins(t *testing.T) {
	t.Parallel()

	table := Build(
		Group[string]{alarm.CategoryArm, []string{TandemAlarm}},
		Group[string]{alarm.CategoryAlarmActive, []string{TandemAlarm}},
	)

	require.Equal(t, alarm.CategoryAlarmActive, table[TandemAlarm])
	require.Equal(t, alarm.CategoryDisarm, TandemTable()[TandemActionDisarm])
}
