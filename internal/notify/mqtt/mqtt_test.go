package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-bridge/internal/config"
	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

var errBusy = errors.New("device is busy")

type sent struct {
	topic    string
	retained bool
	payload  map[string]any
}

type recorder struct {
	mu   sync.Mutex
	msgs []sent
}

func (r *recorder) send(topic string, retained bool, payload []byte) error {
	var doc map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &doc); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.msgs = append(r.msgs, sent{topic: topic, retained: retained, payload: doc})

	return nil
}

func (r *recorder) last(t *testing.T) sent {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	require.NotEmpty(t, r.msgs)

	return r.msgs[len(r.msgs)-1]
}

type fakeCommander struct {
	mu       sync.Mutex
	configs  map[int]*alarm.DeviceConfig
	executed []alarm.CommandRequest
	ignore   bool
	busy     bool
}

func (f *fakeCommander) Execute(_ context.Context, req alarm.CommandRequest) (*alarm.DeviceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.busy {
		return nil, errBusy
	}

	f.executed = append(f.executed, req)

	return &alarm.DeviceState{
		DeviceID:   req.DeviceID,
		Armed:      alarm.ZoneVector{1, 0, 1, 0},
		Active:     alarm.ZoneVector{0, 0, 0, 1},
		Mismatched: alarm.ZoneVector{0, 0, 0, 0},
	}, nil
}

func (f *fakeCommander) DeviceConfig(_ context.Context, id int) (*alarm.DeviceConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cfg, ok := f.configs[id]
	if !ok {
		return nil, errors.New("not found")
	}

	return cfg.Clone(), nil
}

func (f *fakeCommander) SaveDeviceConfig(_ context.Context, cfg *alarm.DeviceConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.configs[cfg.DeviceID] = cfg.Clone()

	return nil
}

func (f *fakeCommander) DeleteDevice(_ context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.configs, id)

	return nil
}

func (f *fakeCommander) SetIgnoreNoAnswer(_ context.Context, ignore bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ignore = ignore

	return nil
}

func (f *fakeCommander) LinkOnline() bool {
	return true
}

func newTestClient(t *testing.T) (*Client, *recorder, *fakeCommander) {
	t.Helper()

	cfg := &config.Config{
		System:    config.SystemProton,
		Namespace: "ITY",
		Region:    "R1",
		GatewayID: "gw1",
	}

	commander := &fakeCommander{configs: map[int]*alarm.DeviceConfig{
		7: {DeviceID: 7, ZoneCount: 4, Region: "R2", IntervalMs: 60000},
	}}

	rec := new(recorder)
	c := New(cfg, commander)
	c.send = rec.send
	c.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	return c, rec, commander
}

// TestTopics verifies topic building, parsing and reply mapping.
func TestTopics(t *testing.T) {
	t.Parallel()

	topics := Topics{Namespace: "ITY", System: "Proton", Region: "R1", Gateway: "gw1"}

	require.Equal(t, "ITY/Proton/R1/STATUS/gw1", topics.GatewayTopic(KindStatus))
	require.Equal(t, "ITY/Proton/R1/STATE/gw1/7", topics.Device(KindState, "", 7))
	require.Equal(t, "ITY/Proton/R2/STATE/gw1/7", topics.Device(KindState, "R2", 7))
	require.Equal(t, []string{"ITY/Proton/+/NCMD/gw1", "ITY/Proton/+/DCMD/gw1/+"}, topics.Subscriptions())

	topic, err := topics.Parse("ITY/Proton/R2/DCMD/gw1/7")
	require.NoError(t, err)
	require.Equal(t, 7, topic.DeviceID)
	require.Equal(t, "ITY/Proton/R2/DDATA/gw1/7", topic.Reply())

	topic, err = topics.Parse("ITY/Proton/R1/NCMD/gw1")
	require.NoError(t, err)
	require.Equal(t, "ITY/Proton/R1/NDATA/gw1", topic.Reply())

	_, err = topics.Parse("ITY/Proton/R1")
	require.ErrorIs(t, err, ErrBadTopic)

	_, err = topics.Parse("ITY/Proton/R1/DCMD/gw1/x")
	require.ErrorIs(t, err, ErrBadTopic)
}

// TestParseRequest verifies JSON-RPC validation and the request deadline.
func TestParseRequest(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1_000_000)

	req, err := ParseRequest([]byte(`{"jsonrpc":"2.0","id":"a1","method":"ping"}`), now)
	require.NoError(t, err)
	require.Equal(t, "ping", req.Method)

	_, err = ParseRequest([]byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`), now)
	require.ErrorIs(t, err, ErrBadRequest)

	_, err = ParseRequest([]byte(`not json`), now)
	require.ErrorIs(t, err, ErrBadRequest)

	_, err = ParseRequest([]byte(`{"jsonrpc":"2.0","id":1,"method":"test","params":{"timeout":999999}}`), now)
	require.ErrorIs(t, err, ErrRequestExpired)

	_, err = ParseRequest([]byte(`{"jsonrpc":"2.0","id":1,"method":"test","params":{"timeout":1000001}}`), now)
	require.NoError(t, err)
}

// TestHandleArm verifies an arm request runs the command and replies on DDATA.
func TestHandleArm(t *testing.T) {
	t.Parallel()

	c, rec, commander := newTestClient(t)

	c.handle(context.Background(), "ITY/Proton/R2/DCMD/gw1/7",
		[]byte(`{"jsonrpc":"2.0","id":5,"method":"arm","params":{"zones":[1,1,0,0],"userId":42}}`))

	require.Len(t, commander.executed, 1)
	require.Equal(t, alarm.CommandRequest{
		DeviceID: 7,
		Kind:     alarm.CommandArm,
		Zones:    alarm.ZoneVector{1, 1, 0, 0},
		UserID:   42,
	}, commander.executed[0])

	reply := rec.last(t)
	require.Equal(t, "ITY/Proton/R2/DDATA/gw1/7", reply.topic)
	require.False(t, reply.retained)
	require.InDelta(t, 5, reply.payload["id"], 0)
	require.Equal(t, map[string]any{"zones": []any{1.0, 1.0, 0.0, 0.0}, "zonesBit": 3.0}, reply.payload["result"])
}

// TestHandleErrors verifies error replies for busy devices and bad requests.
func TestHandleErrors(t *testing.T) {
	t.Parallel()

	c, rec, commander := newTestClient(t)
	commander.busy = true

	c.handle(context.Background(), "ITY/Proton/R2/DCMD/gw1/7", []byte(`{"jsonrpc":"2.0","id":"x","method":"test"}`))

	reply := rec.last(t)
	require.Equal(t, "x", reply.payload["id"])
	require.Equal(t, errBusy.Error(), reply.payload["errors"])

	c.handle(context.Background(), "ITY/Proton/R2/DCMD/gw1/7",
		[]byte(`{"jsonrpc":"2.0","id":"y","method":"disarm","params":{"zones":[]}}`))
	require.Equal(t, ErrNoZones.Error(), rec.last(t).payload["errors"])

	c.handle(context.Background(), "ITY/Proton/R1/NCMD/gw1", []byte(`{"jsonrpc":"2.0","id":"z","method":"restart"}`))
	require.Contains(t, rec.last(t).payload["errors"], ErrUnknownMethod.Error())
}

// TestHandleSetConfig verifies that params overlay the stored configuration.
func TestHandleSetConfig(t *testing.T) {
	t.Parallel()

	c, rec, commander := newTestClient(t)

	c.handle(context.Background(), "ITY/Proton/R2/DCMD/gw1/7",
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"setConfig","params":{"allowedUsers":[3],"timeout":0}}`))

	cfg := commander.configs[7]
	require.Equal(t, []int{3}, cfg.AllowedUsers)
	require.Equal(t, int64(60000), cfg.IntervalMs)
	require.Equal(t, "R2", cfg.Region)

	require.Len(t, rec.msgs, 2)
	require.Equal(t, "ITY/Proton/R2/CONFIG/gw1/7", rec.msgs[0].topic)
	require.True(t, rec.msgs[0].retained)
	require.Equal(t, true, rec.msgs[1].payload["result"])
}

// TestHandleGatewayCommands verifies device registration and the NO_ANSWER flag.
func TestHandleGatewayCommands(t *testing.T) {
	t.Parallel()

	c, rec, commander := newTestClient(t)
	ctx := context.Background()

	c.handle(ctx, "ITY/Proton/R3/NCMD/gw1", []byte(`{"jsonrpc":"2.0","id":1,"method":"addDevice","params":{"deviceId":9}}`))
	require.Equal(t, "R3", commander.configs[9].Region)

	c.handle(ctx, "ITY/Proton/R3/NCMD/gw1", []byte(`{"jsonrpc":"2.0","id":2,"method":"addDevice","params":{"deviceId":9}}`))
	require.Contains(t, rec.last(t).payload["errors"], ErrDeviceExists.Error())

	c.handle(ctx, "ITY/Proton/R1/NCMD/gw1",
		[]byte(`{"jsonrpc":"2.0","id":3,"method":"setIgnoreNoAnswer","params":{"ignore":true}}`))
	require.True(t, commander.ignore)

	c.handle(ctx, "ITY/Proton/R1/NCMD/gw1", []byte(`{"jsonrpc":"2.0","id":4,"method":"delDevice","params":{"deviceId":9}}`))
	require.NotContains(t, commander.configs, 9)
	require.Equal(t, "ITY/Proton/R1/NDATA/gw1", rec.last(t).topic)
}

// TestPublishNotifications verifies topics, retain flags and payloads of notifications.
func TestPublishNotifications(t *testing.T) {
	t.Parallel()

	c, rec, _ := newTestClient(t)
	ctx := context.Background()

	state := &alarm.DeviceState{
		DeviceID:     7,
		Armed:        alarm.ZoneVector{1, 1, 0, 0},
		Active:       alarm.ZoneVector{0, 0, 0, 1},
		Mismatched:   alarm.ZoneVector{0, 1, 0, 0},
		ObservedAtMs: 1000,
	}
	require.NoError(t, c.Publish(ctx, alarm.StateNotification(state)))

	msg := rec.last(t)
	require.Equal(t, "ITY/Proton/R2/STATE/gw1/7", msg.topic)
	require.True(t, msg.retained)
	require.InDelta(t, 1, msg.payload["arm"], 0)
	require.InDelta(t, 3, msg.payload["zonesBit"], 0)
	require.InDelta(t, 8, msg.payload["activeBit"], 0)
	require.InDelta(t, 2, msg.payload["mismatchedBit"], 0)

	require.NoError(t, c.Publish(ctx, alarm.AlarmNotification(alarm.AlarmRecord{
		DeviceID: 8,
		Type:     alarm.AlarmActive,
		Active:   alarm.ZoneVector{0, 1},
		Message:  "loop violated",
	})))

	msg = rec.last(t)
	require.Equal(t, "ITY/Proton/R1/ALARM/gw1/8", msg.topic)
	require.False(t, msg.retained)
	require.InDelta(t, 2, msg.payload["activeBit"], 0)

	require.NoError(t, c.Publish(ctx, alarm.GatewayNotification(alarm.GatewayStatus{Online: true, TimeMs: 5})))

	msg = rec.last(t)
	require.Equal(t, "ITY/Proton/R1/STATUS/gw1", msg.topic)
	require.InDelta(t, 1, msg.payload["connectionStatus"], 0)
}
