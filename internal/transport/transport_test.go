package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu        sync.Mutex
	data      []byte
	connected chan struct{}
	got       chan struct{}
}

func (h *recordingHandler) OnConnect(context.Context) error {
	close(h.connected)

	return nil
}

func (h *recordingHandler) OnData(_ context.Context, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.data = append(h.data, data...)

	if len(h.data) >= 4 {
		select {
		case h.got <- struct{}{}:
		default:
		}
	}
}

func (h *recordingHandler) OnDisconnect(context.Context, error) {}

// TestTCPClientExchange verifies that the client delivers reads and writes to the server.
func TestTCPClientExchange(t *testing.T) {
	t.Parallel()

	var lc net.ListenConfig

	ln, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	defer ln.Close()

	serverGot := make(chan []byte, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		_, _ = conn.Write([]byte{1, 2, 3, 4})

		buf := make([]byte, 3)
		if _, err := conn.Read(buf); err == nil {
			serverGot <- buf
		}

		time.Sleep(100 * time.Millisecond)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := &recordingHandler{connected: make(chan struct{}), got: make(chan struct{}, 1)}
	client := NewTCPClient(ln.Addr().String(), 10*time.Millisecond, time.Second)

	done := make(chan error, 1)

	go func() { done <- client.Run(ctx, h) }()

	<-h.connected
	<-h.got

	require.NoError(t, client.Send(ctx, []byte{9, 8, 7}))
	require.Equal(t, []byte{9, 8, 7}, <-serverGot)

	h.mu.Lock()
	require.Equal(t, []byte{1, 2, 3, 4}, h.data)
	h.mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}

// TestTCPClientSendNotConnected verifies the error before the first connection.
func TestTCPClientSendNotConnected(t *testing.T) {
	t.Parallel()

	client := NewTCPClient("127.0.0.1:1", time.Second, time.Second)
	require.ErrorIs(t, client.Send(context.Background(), []byte{1}), ErrNotConnected)
	require.False(t, client.Connected())
}

// TestBackoffGrowsUpToCap verifies the reconnect delay stays within the jittered cap and resets.
func TestBackoffGrowsUpToCap(t *testing.T) {
	t.Parallel()

	const base = time.Millisecond

	var (
		b      = newBackoff(base)
		ceil   = time.Duration(float64(base*maxBackoffFactor) * (1 + backoffJitter))
		floor  = time.Duration(float64(base*maxBackoffFactor) * (1 - backoffJitter))
		latest time.Duration
	)

	for range 20 {
		latest = b.policy.NextBackOff()
		require.NotEqual(t, backoff.Stop, latest)
		require.LessOrEqual(t, int64(latest), int64(ceil))
	}

	require.GreaterOrEqual(t, int64(latest), int64(floor))

	b.reset()
	require.LessOrEqual(t, int64(b.policy.NextBackOff()), int64(float64(base)*(1+backoffJitter)))

	require.True(t, newBackoff(time.Nanosecond).wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.False(t, newBackoff(time.Hour).wait(ctx))
}

// TestUDPPeerExchange verifies datagram delivery in both directions.
func TestUDPPeerExchange(t *testing.T) {
	t.Parallel()

	remote, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	defer remote.Close()

	reserved, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	local := reserved.LocalAddr().String()
	require.NoError(t, reserved.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	peer := NewUDPPeer(local, remote.LocalAddr().String())
	got := make(chan []byte, 1)

	go func() {
		_ = peer.Run(ctx, func(_ context.Context, data []byte) { got <- data })
	}()

	require.Eventually(t, func() bool {
		return peer.Send(ctx, []byte{0xAA}) == nil
	}, time.Second, 10*time.Millisecond)

	buf := make([]byte, 8)
	_ = remote.SetReadDeadline(time.Now().Add(time.Second))

	n, from, err := remote.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA}, buf[:n])

	_, err = remote.WriteToUDP([]byte{0xBB, 0xCC}, from)
	require.NoError(t, err)

	select {
	case data := <-got:
		require.Equal(t, []byte{0xBB, 0xCC}, data)
	case <-time.After(2 * time.Second):
		t.Fatal("datagram was not delivered")
	}
}
