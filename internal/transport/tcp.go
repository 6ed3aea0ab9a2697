package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/oshokin/alarm-bridge/internal/logger"
)

// ErrNotConnected is returned by Send while no connection is up.
var ErrNotConnected = errors.New("not connected")

// readBufferSize is the size of one socket read.
const readBufferSize = 4096

// StreamHandler receives the lifecycle of a TCP connection.
type StreamHandler interface {
	// OnConnect runs before the first read; an error drops the connection.
	OnConnect(ctx context.Context) error
	// OnData receives every read in order; the slice is owned by the handler.
	OnData(ctx context.Context, data []byte)
	OnDisconnect(ctx context.Context, err error)
}

// TCPClient keeps a connection to one server, reconnecting with backoff.
type TCPClient struct {
	addr         string
	period       time.Duration
	writeTimeout time.Duration

	// mu guards conn.
	mu   sync.Mutex
	conn net.Conn
}

// NewTCPClient creates a client for addr with the base reconnect period.
func NewTCPClient(addr string, period, writeTimeout time.Duration) *TCPClient {
	return &TCPClient{addr: addr, period: period, writeTimeout: writeTimeout}
}

// Addr returns the server address.
func (c *TCPClient) Addr() string {
	return c.addr
}

// Run dials, reads and redials until ctx is done.
func (c *TCPClient) Run(ctx context.Context, h StreamHandler) error {
	ctx = logger.WithKV(ctx, "address", c.addr)

	var (
		dialer net.Dialer
		wait   = newBackoff(c.period)
	)

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := dialer.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			logger.WarnKV(ctx, "Failed to connect", "error", err)

			if !wait.wait(ctx) {
				return nil
			}

			continue
		}

		wait.reset()
		logger.InfoKV(ctx, "Connected")

		err = c.serve(ctx, conn, h)

		logger.WarnKV(ctx, "Connection closed", "error", err)
		h.OnDisconnect(ctx, err)

		if !wait.wait(ctx) {
			return nil
		}
	}
}

func (c *TCPClient) serve(ctx context.Context, conn net.Conn, h StreamHandler) error {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()

		_ = conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	if err := h.OnConnect(ctx); err != nil {
		return fmt.Errorf("on connect: %w", err)
	}

	buf := make([]byte, readBufferSize)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			h.OnData(ctx, data)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}

			return err
		}
	}
}

// Send writes data to the current connection.
func (c *TCPClient) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(deadline)
	}

	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("write to %s: %w", c.addr, err)
	}

	return nil
}

// Reset drops the current connection; Run reconnects after the backoff.
func (c *TCPClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Connected reports whether a connection is up.
func (c *TCPClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn != nil
}
