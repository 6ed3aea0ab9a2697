package mirazh

// ZoneState is one entry of the server's zone-state dictionary.
type ZoneState struct {
	ID   byte
	Name string
	// Active is set when the loop reports a violation.
	Active bool
	// Armed is set when the zone is under guard.
	Armed bool
	// Alarm is set when the state raises an alarm.
	Alarm bool
}

//nolint:gochecknoglobals // Server dictionary, read only.
var zoneStates = [...]ZoneState{
	{0, "undefined", false, false, false},
	{1, "disarmed, short circuit", true, false, false},
	{2, "disarmed, open circuit", true, false, false},
	{3, "normal", false, false, false},
	{4, "alarm", true, true, true},
	{5, "alarm, short circuit", true, true, true},
	{6, "alarm, open circuit", true, true, true},
	{7, "alarm, ready to arm", false, true, true},
	{8, "disarmed, ready to arm", false, false, false},
	{9, "armed, normal", false, true, false},
	{10, "fire loop fault", true, true, true},
	{11, "fire loop attention", true, true, true},
	{12, "fire", true, true, true},
	{13, "loop fault", true, true, true},
	{14, "arming delay", false, false, false},
	{15, "disarmed", false, false, false},
	{16, "normal, technical loop", false, false, false},
	{17, "alarm, technical loop", true, true, true},
	{18, "normal after attention", false, false, false},
	{19, "normal after fire", false, false, false},
	{20, "entry zone alarm", true, true, true},
	{21, "alarm, panic button", true, true, true},
	{22, "normal, panic button", false, true, false},
	{23, "alarm, water leak", true, true, true},
	{24, "normal, water leak", false, true, false},
	{25, "alarm, gas leak", true, true, true},
	{26, "normal, gas leak", false, true, false},
	{27, "silent alarm, short circuit", true, true, true},
	{28, "silent alarm, open circuit", true, true, true},
	{29, "silent alarm", true, true, true},
	{30, "fire 1", true, true, true},
	{31, "fire 2", true, true, true},
	{32, "normal after fire 1", false, true, false},
	{33, "normal after fire 2", false, true, false},
	{34, "silent alarm, panic button", false, true, true},
	{35, "panic button not restored after test", false, true, false},
	{36, "alarm, emergency sensor", true, true, true},
	{37, "normal, emergency sensor", false, true, false},
}

// LookupZoneState returns the dictionary entry for id.
func LookupZoneState(id byte) (ZoneState, bool) {
	if int(id) >= len(zoneStates) {
		return ZoneState{}, false
	}

	return zoneStates[id], true
}

// ZoneReport is one zone-state row reduced to the flags the gateway uses.
type ZoneReport struct {
	DeviceID int
	// Zone is zero based.
	Zone  int
	State ZoneState
}

// ZoneReportFrom extracts a zone report from a zone-state row.
func ZoneReportFrom(r *Row) (ZoneReport, bool) {
	if !r.IsZoneState() {
		return ZoneReport{}, false
	}

	data, err := r.Data()
	if err != nil || len(data) == 0 {
		return ZoneReport{}, false
	}

	state, ok := LookupZoneState(data[0])
	if !ok {
		return ZoneReport{}, false
	}

	return ZoneReport{DeviceID: r.ObjectNumber, Zone: r.SensorNumber - 1, State: state}, true
}
