package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/oshokin/alarm-bridge/internal/logger"
)

// datagramBufferSize fits any datagram the supported panels send.
const datagramBufferSize = 2048

// readPoll bounds a blocking read so Run notices cancellation.
const readPoll = time.Second

// UDPPeer exchanges datagrams with one remote endpoint from a fixed local port.
type UDPPeer struct {
	local  string
	remote string

	// mu guards conn and raddr.
	mu    sync.Mutex
	conn  *net.UDPConn
	raddr *net.UDPAddr
}

// NewUDPPeer creates a peer listening on local and sending to remote.
func NewUDPPeer(local, remote string) *UDPPeer {
	return &UDPPeer{local: local, remote: remote}
}

// Run binds the local port and passes every datagram from the remote host to onDatagram.
// Datagrams from other hosts are logged and dropped.
func (p *UDPPeer) Run(ctx context.Context, onDatagram func(ctx context.Context, data []byte)) error {
	ctx = logger.WithKV(ctx, "local", p.local, "remote", p.remote)

	raddr, err := net.ResolveUDPAddr("udp", p.remote)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", p.remote, err)
	}

	var lc net.ListenConfig

	pc, err := lc.ListenPacket(ctx, "udp", p.local)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", p.local, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()

		return fmt.Errorf("listen on %s: not a UDP socket", p.local)
	}

	p.mu.Lock()
	p.conn, p.raddr = conn, raddr
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.conn = nil
		p.mu.Unlock()

		_ = conn.Close()
	}()

	logger.InfoKV(ctx, "UDP peer listening")

	buf := make([]byte, datagramBufferSize)

	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(readPoll))

		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}

			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("read datagram: %w", err)
		}

		if !from.IP.Equal(raddr.IP) {
			logger.DebugKV(ctx, "Datagram from an unknown host dropped", "from", from.String())

			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		onDatagram(ctx, data)
	}

	return nil
}

// Send writes one datagram to the remote endpoint.
func (p *UDPPeer) Send(_ context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return ErrNotConnected
	}

	if _, err := p.conn.WriteToUDP(data, p.raddr); err != nil {
		return fmt.Errorf("write datagram to %s: %w", p.raddr, err)
	}

	return nil
}
