package classifier

import "github.com/oshokin/alarm-bridge/internal/domain/alarm"

func codeRange(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for c := from; c <= to; c++ {
		out = append(out, c)
	}

	return out
}

// Proton event codes the gateway interprets beyond their category.
var (
	// ProtonStateCodes carry the armed and active zone bytes.
	//nolint:gochecknoglobals // Read-only code list.
	ProtonStateCodes = append(codeRange(601, 620), 703)
	// ProtonActionCodes carry the user number and acted zone mask.
	//nolint:gochecknoglobals // Read-only code list.
	ProtonActionCodes = []int{701, 702, 1725, 1726}
	// ProtonAlarmCodes carry the one-based alarmed zone number.
	//nolint:gochecknoglobals // Read-only code list.
	ProtonAlarmCodes = []int{100, 110, 116, 118, 122, 123, 130, 131, 132, 133, 134, 135, 136, 137, 140, 145, 146, 383, 459}
)

// ProtonTable classifies Proton event codes.
func ProtonTable() Table[int] {
	return Build(
		Group[int]{alarm.CategoryIgnorable, append([]int{13}, ProtonStateCodes...)},
		Group[int]{alarm.CategoryArm, []int{1424, 1425, 1426, 1427, 1431, 1432, 1433, 1725, 1726}},
		Group[int]{alarm.CategoryDisarm, append(codeRange(400, 409), 441, 456, 701, 702)},
		Group[int]{alarm.CategoryAlarmActive, ProtonAlarmCodes},
		Group[int]{alarm.CategoryAlarmForcedEntry, []int{121, 124}},
		Group[int]{alarm.CategoryAlarmForcedExit, []int{125, 1145}},
		Group[int]{alarm.CategoryBatteryLow, []int{302, 311, 384, 962, 963}},
		Group[int]{alarm.CategoryBatteryRestored, []int{1326, 1335, 1408, 1986}},
		Group[int]{alarm.CategoryMainsPowerLost, []int{301, 342, 964}},
		Group[int]{alarm.CategoryMainsPowerRestored, []int{1325, 1366, 1988}},
		Group[int]{alarm.CategoryDeviceOffline, []int{350, 355, 987, 991}},
		Group[int]{alarm.CategoryDeviceOnline, []int{1374, 1379, 2011, 2015}},
		Group[int]{alarm.CategoryUnauthorizedAction, []int{374, 455, 704, 705, 1474}},
	)
}

// MirazhTable classifies "type/subtype" event keys. Duress arming (3/31) stays an arm;
// the adapter raises the duress alarm next to it.
func MirazhTable() Table[string] {
	return Build(
		Group[string]{alarm.CategoryArm, []string{"3/13", "3/31"}},
		Group[string]{alarm.CategoryDisarm, []string{"3/14"}},
		Group[string]{alarm.CategoryAlarmForcedEntry, []string{"3/25"}},
		Group[string]{alarm.CategoryUnauthorizedAction, []string{"3/99"}},
		Group[string]{alarm.CategoryBatteryLow, []string{"3/10", "3/40"}},
		Group[string]{alarm.CategoryBatteryRestored, []string{"3/9", "3/39"}},
		Group[string]{alarm.CategoryMainsPowerLost, []string{"3/12", "3/38"}},
		Group[string]{alarm.CategoryMainsPowerRestored, []string{"3/11", "3/37"}},
		Group[string]{alarm.CategoryDeviceOffline, []string{"2/20"}},
		Group[string]{alarm.CategoryDeviceOnline, []string{"2/21"}},
		Group[string]{alarm.CategoryIgnorable, []string{
			"2/3", "2/7", "2/8", "2/9", "2/10", "2/13", "2/14", "2/19", "2/34",
			"3/17", "3/19", "3/23", "3/26", "3/32", "3/34", "3/60", "3/61",
			"3/70", "3/71", "3/72", "3/95", "3/107", "4/0", "4/1", "4/4", "4/5",
		}},
	)
}

// Tandem response keys.
const (
	TandemAlarm        = "alarm"
	TandemManualAlarm  = "manual_alarm"
	TandemActionArm    = "action/arm"
	TandemActionDisarm = "action/disarm"
	TandemControlArm   = "control/arm"
	TandemControlOff   = "control/disarm"
	TandemLock         = "lock"
	TandemTest         = "test"
	TandemFailTest     = "fail_test"
)

// TandemTable classifies Tandem response keys.
func TandemTable() Table[string] {
	return Build(
		Group[string]{alarm.CategoryAlarmActive, []string{TandemAlarm}},
		Group[string]{alarm.CategoryArm, []string{TandemActionArm, TandemControlArm}},
		Group[string]{alarm.CategoryDisarm, []string{TandemActionDisarm, TandemControlOff}},
		Group[string]{alarm.CategoryIgnorable, []string{TandemManualAlarm, TandemLock, TandemTest, TandemFailTest}},
	)
}
