package gateway

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/alarm-bridge/internal/correlation"
	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/reconcile"
	repo "github.com/oshokin/alarm-bridge/internal/repository/state"
)

// fakeService records commands and serves states from a map.
type fakeService struct {
	executed []alarm.CommandRequest
	states   map[int]*alarm.DeviceState
	err      error
}

func (f *fakeService) Execute(_ context.Context, req alarm.CommandRequest) (*alarm.DeviceState, error) {
	f.executed = append(f.executed, req)
	if f.err != nil {
		return nil, f.err
	}

	st := f.states[req.DeviceID]
	if req.Kind == alarm.CommandArm {
		for _, z := range req.Zones.Indices() {
			st.Armed[z] = 1
		}
	}

	return st, nil
}

func (f *fakeService) DeviceState(_ context.Context, deviceID int) (*alarm.DeviceState, error) {
	st, ok := f.states[deviceID]
	if !ok {
		return nil, repo.ErrNotFound
	}

	return st, nil
}

func newFake() *fakeService {
	return &fakeService{states: map[int]*alarm.DeviceState{
		7: {
			DeviceID:     7,
			Armed:        alarm.ZoneVector{0, 0, 0, 0},
			Active:       alarm.ZoneVector{0, 0, 1, 0},
			Mismatched:   alarm.ZoneVector{0, 0, 0, 0},
			ObservedAtMs: 1700000000000,
		},
	}}
}

// TestServer_SendCommand_Validation ensures invalid requests return InvalidArgument errors.
func TestServer_SendCommand_Validation(t *testing.T) {
	t.Parallel()

	srv := NewServer(newFake())

	tests := []struct {
		name string
		msg  map[string]any
	}{
		{name: "missing device", msg: map[string]any{"kind": "arm"}},
		{name: "missing kind", msg: map[string]any{"device_id": 7}},
		{name: "unknown kind", msg: map[string]any{"device_id": 7, "kind": "reboot"}},
		{name: "fractional device", msg: map[string]any{"device_id": 7.5, "kind": "test"}},
		{name: "bad zone", msg: map[string]any{"device_id": 7, "kind": "arm", "zones": []any{2}}},
		{name: "empty zones", msg: map[string]any{"device_id": 7, "kind": "arm", "zones": []any{0, 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg, err := structpb.NewStruct(tt.msg)
			require.NoError(t, err)

			_, err = srv.SendCommand(context.Background(), msg)
			require.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}

	_, err := srv.SendCommand(context.Background(), nil)
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

// TestServer_ErrorCodes verifies the mapping of gateway errors to gRPC codes.
func TestServer_ErrorCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		code codes.Code
	}{
		{err: correlation.ErrBusy, code: codes.Unavailable},
		{err: correlation.ErrNoResponse, code: codes.DeadlineExceeded},
		{err: correlation.ErrRejected, code: codes.PermissionDenied},
		{err: reconcile.ErrArmPeriodViolation, code: codes.PermissionDenied},
		{err: reconcile.ErrUnauthorizedUser, code: codes.PermissionDenied},
		{err: repo.ErrNotFound, code: codes.NotFound},
		{err: context.Canceled, code: codes.Canceled},
		{err: net.ErrClosed, code: codes.Internal},
	}

	for _, tt := range tests {
		require.Equal(t, tt.code, status.Code(toStatus(tt.err)), tt.err.Error())
	}
}

// TestClientServerRoundTrip runs both RPCs through an in-memory connection.
func TestClientServerRoundTrip(t *testing.T) {
	t.Parallel()

	fake := newFake()

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	Register(server, NewServer(fake))

	go func() { _ = server.Serve(lis) }()

	t.Cleanup(server.Stop)

	ctx := context.Background()

	client, err := Dial(ctx, "passthrough:///bufnet", WithDialOptions(
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	))
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	st, err := client.SendCommand(ctx, alarm.CommandRequest{
		DeviceID: 7,
		Kind:     alarm.CommandArm,
		Zones:    alarm.ZoneVector{1, 1, 0, 0},
		UserID:   114,
	})
	require.NoError(t, err)
	require.Equal(t, alarm.ZoneVector{1, 1, 0, 0}, st.Armed)
	require.Equal(t, alarm.ZoneVector{0, 0, 1, 0}, st.Active)
	require.Equal(t, int64(1700000000000), st.ObservedAtMs)

	require.Len(t, fake.executed, 1)
	require.Equal(t, 114, fake.executed[0].UserID)
	require.Equal(t, alarm.CommandArm, fake.executed[0].Kind)

	st, err = client.GetDeviceState(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 7, st.DeviceID)

	_, err = client.GetDeviceState(ctx, 8)
	require.Equal(t, codes.NotFound, status.Code(err))
}

// TestParseCommandDefaults verifies that a missing user id means no known user.
func TestParseCommandDefaults(t *testing.T) {
	t.Parallel()

	msg, err := structpb.NewStruct(map[string]any{"device_id": 3, "kind": "test"})
	require.NoError(t, err)

	req, err := ParseCommand(msg)
	require.NoError(t, err)
	require.Equal(t, alarm.NoUser, req.UserID)
	require.Nil(t, req.Zones)
	require.Equal(t, alarm.CommandTest, req.Kind)
}

// TestDial_ValidatesAddress verifies that Dial rejects empty addresses.
func TestDial_ValidatesAddress(t *testing.T) {
	t.Parallel()

	c, err := Dial(context.Background(), "")
	require.Error(t, err)
	require.Nil(t, c)
}
