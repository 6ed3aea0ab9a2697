package integration

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	api "github.com/oshokin/alarm-bridge/internal/api/grpc/gateway"
	"github.com/oshokin/alarm-bridge/internal/config"
	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/service/gateway"
)

// freeAddr reserves a free local TCP port.
func freeAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	require.NoError(t, l.Close())

	return addr
}

// fakePanel accepts the gateway connection and forwards everything it reads.
func fakePanel(t *testing.T) (net.Listener, <-chan []byte) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = l.Close() })

	received := make(chan []byte, 64)

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}

		defer conn.Close()

		buf := make([]byte, 1024)

		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}

			received <- append([]byte(nil), buf[:n]...)
		}
	}()

	return l, received
}

// startGateway runs the gateway process with a temporary config and state file.
func startGateway(t *testing.T, panel net.Addr, grpcAddr string) <-chan error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	host, port, err := net.SplitHostPort(panel.String())
	require.NoError(t, err)

	portNumber, err := strconv.Atoi(port)
	require.NoError(t, err)

	cfgPath := filepath.Join(t.TempDir(), "alarm-bridge.yaml")

	require.NoError(t, config.Save(cfgPath, &config.Config{
		System:    config.SystemProton,
		Namespace: "test",
		Region:    "R1",
		GatewayID: "gw1",
		Connection: config.Connection{
			Host:     host,
			Port:     portNumber,
			Login:    "login",
			Password: "secret",
		},
		Timing: config.Timing{
			RequestTimeout:  300 * time.Millisecond,
			RequestAttempts: 1,
		},
		StateFile:  filepath.Join(t.TempDir(), "state.json"),
		GRPCListen: grpcAddr,
	}))

	done := make(chan error, 1)

	go func() {
		done <- gateway.Run(ctx, &gateway.Options{ConfigPath: cfgPath})
	}()

	return done
}

// TestGateway_EndToEnd runs the real process against a fake Proton server and drives it over gRPC.
func TestGateway_EndToEnd(t *testing.T) {
	t.Parallel()

	panel, received := fakePanel(t)
	grpcAddr := freeAddr(t)

	done := startGateway(t, panel.Addr(), grpcAddr)

	select {
	case auth := <-received:
		require.NotEmpty(t, auth)
	case <-time.After(3 * time.Second):
		t.Fatal("gateway did not log in to the panel server")
	}

	ctx := context.Background()

	client, err := api.Dial(ctx, grpcAddr, api.WithCallTimeout(3*time.Second))
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	require.Eventually(t, func() bool {
		_, err = client.GetDeviceState(ctx, 42)

		return status.Code(err) == codes.NotFound
	}, 3*time.Second, 50*time.Millisecond)

	_, err = client.SendCommand(ctx, alarm.CommandRequest{DeviceID: 42, Kind: alarm.CommandTest, UserID: alarm.NoUser})
	require.Equal(t, codes.DeadlineExceeded, status.Code(err))

	select {
	case frame := <-received:
		require.NotEmpty(t, frame)
	case <-time.After(time.Second):
		t.Fatal("test command was not transmitted")
	}

	select {
	case err = <-done:
		t.Fatalf("gateway stopped early: %v", err)
	default:
	}
}
