package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

// DefaultCallTimeout covers a command that uses the whole default request timeout.
const DefaultCallTimeout = time.Minute

// Client calls alarmbridge.v1.Gateway.
type Client struct {
	// conn is the underlying gRPC connection to the gateway.
	conn grpc.ClientConnInterface
	// closer releases conn, nil for borrowed connections.
	closer func() error

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
	dialOptions []grpc.DialOption
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithDialOptions adds options to the connection created by Dial.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOptions = append(c.dialOptions, opts...)
	}
}

// errAddressRequired is returned when a required address value is missing.
var errAddressRequired = errors.New("address must be provided")

// Dial connects to a gateway.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	client := &Client{
		callTimeout: DefaultCallTimeout,
		dialOptions: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
	}

	for _, opt := range opts {
		opt(client)
	}

	conn, err := grpc.NewClient(address, client.dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	client.conn = conn
	client.closer = conn.Close

	return client, nil
}

// NewClient wraps an existing connection; Close leaves it open.
func NewClient(conn grpc.ClientConnInterface, opts ...Option) *Client {
	client := &Client{conn: conn, callTimeout: DefaultCallTimeout}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}

	return c.closer()
}

// SendCommand runs a command on the gateway and returns the confirmed state.
func (c *Client) SendCommand(ctx context.Context, req alarm.CommandRequest) (*alarm.DeviceState, error) {
	in, err := CommandMessage(req)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}

	out, err := c.invoke(ctx, SendCommandMethod, in)
	if err != nil {
		return nil, fmt.Errorf("send command: %w", err)
	}

	return ParseState(out)
}

// GetDeviceState fetches the cached state of a device.
func (c *Client) GetDeviceState(ctx context.Context, deviceID int) (*alarm.DeviceState, error) {
	out, err := c.invoke(ctx, GetDeviceStateMethod, DeviceMessage(deviceID))
	if err != nil {
		return nil, fmt.Errorf("get device state: %w", err)
	}

	return ParseState(out)
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	out := new(structpb.Struct)
	if err := c.conn.Invoke(callCtx, method, in, out); err != nil {
		return nil, err
	}

	return out, nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
