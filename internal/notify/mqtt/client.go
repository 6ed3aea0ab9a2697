package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/oshokin/alarm-bridge/internal/config"
	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
)

const (
	defaultKeepAlive      = 20 * time.Second
	defaultRetryDelay     = 5 * time.Second
	defaultPublishTimeout = 10 * time.Second
	pingTimeout           = 10 * time.Second
	disconnectQuiesce     = 250
	establishPolls        = 50
	establishPoll         = 100 * time.Millisecond

	qosAtLeastOnce = 1
)

// ErrPublishTimeout is returned when the broker does not confirm a publish in time.
var ErrPublishTimeout = errors.New("publish timed out")

// Commander executes the JSON-RPC methods; the gateway service implements it.
type Commander interface {
	// Execute runs a test, arm or disarm and returns the resulting device state.
	Execute(ctx context.Context, req alarm.CommandRequest) (*alarm.DeviceState, error)
	DeviceConfig(ctx context.Context, deviceID int) (*alarm.DeviceConfig, error)
	SaveDeviceConfig(ctx context.Context, cfg *alarm.DeviceConfig) error
	DeleteDevice(ctx context.Context, deviceID int) error
	SetIgnoreNoAnswer(ctx context.Context, ignore bool) error
	// LinkOnline reports the panel link.
	LinkOnline() bool
}

// Client is the MQTT face of one gateway.
type Client struct {
	topics    Topics
	cfg       config.MQTT
	commander Commander
	client    paho.Client
	now       func() time.Time

	// send publishes raw bytes; tests replace it.
	send func(topic string, retained bool, payload []byte) error

	mu      sync.Mutex
	baseCtx context.Context //nolint:containedctx // Message callbacks have no context of their own.
	running sync.WaitGroup
}

// New builds a client for cfg. Nothing connects until Connect.
func New(cfg *config.Config, commander Commander) *Client {
	setupLoggers()

	c := &Client{
		topics: Topics{
			Namespace: cfg.Namespace,
			System:    string(cfg.System),
			Region:    cfg.Region,
			Gateway:   cfg.GatewayID,
		},
		cfg:       cfg.MQTT,
		commander: commander,
		now:       time.Now,
		baseCtx:   context.Background(),
	}

	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = cfg.Namespace + "_" + string(cfg.System) + "_" + cfg.Region + "_" + cfg.GatewayID
	}

	keepAlive := cfg.MQTT.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}

	will, _ := json.Marshal(gatewayStatusPayload{})

	opts := paho.NewClientOptions()
	for _, server := range cfg.MQTT.Servers {
		opts.AddBroker(server)
	}

	opts.SetClientID(clientID)
	opts.SetUsername(cfg.MQTT.Username)
	opts.SetPassword(cfg.MQTT.Password)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(false)
	opts.SetKeepAlive(keepAlive)
	opts.SetPingTimeout(pingTimeout)
	opts.SetWill(c.topics.GatewayTopic(KindStatus), string(will), qosAtLeastOnce, true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.ErrorKV(c.context(), "Lost connection to MQTT broker", "error", err)
	})

	c.client = paho.NewClient(opts)
	c.send = c.pahoSend

	return c
}

// Topics returns the topic layout of the client.
func (c *Client) Topics() Topics {
	return c.topics
}

// Connect dials the broker, retrying until it succeeds or ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	ctx = logger.WithName(ctx, "mqtt")

	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()

	retryDelay := c.cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}

	for attempt := 1; ; attempt++ {
		logger.DebugKV(ctx, "Connecting to MQTT broker", "attempt", attempt)

		if token := c.client.Connect(); token.Wait() && token.Error() != nil {
			logger.ErrorKV(ctx, "MQTT connection failed", "attempt", attempt, "error", token.Error())
		} else if c.waitEstablished(ctx) {
			logger.InfoKV(ctx, "Connected to MQTT broker", "attempts", attempt)

			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("mqtt connect: %w", ctx.Err())
		case <-time.After(retryDelay):
		}
	}
}

func (c *Client) waitEstablished(ctx context.Context) bool {
	for range establishPolls {
		if c.client.IsConnected() {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(establishPoll):
		}
	}

	logger.Warn(ctx, "MQTT connection was not established in time")

	return false
}

// Run publishes every notification from notes until ctx is done or notes is closed, then
// marks the gateway offline and disconnects.
func (c *Client) Run(ctx context.Context, notes <-chan alarm.Notification) error {
	ctx = logger.WithName(ctx, "mqtt")

	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notes:
			if !ok {
				return nil
			}

			if err := c.Publish(ctx, n); err != nil {
				logger.WarnKV(ctx, "Failed to publish notification", "kind", n.Kind.String(),
					"device_id", n.DeviceID(), "error", err)
			}
		}
	}
}

func (c *Client) shutdown() {
	c.running.Wait()

	if !c.client.IsConnected() {
		return
	}

	payload, _ := json.Marshal(gatewayStatusPayload{Time: c.now().UnixMilli()})
	if err := c.send(c.topics.GatewayTopic(KindStatus), true, payload); err != nil {
		logger.WarnKV(c.context(), "Failed to publish offline status", "error", err)
	}

	c.client.Disconnect(disconnectQuiesce)
}

// Publish sends one notification to its topic.
func (c *Client) Publish(ctx context.Context, n alarm.Notification) error {
	switch n.Kind {
	case alarm.NotifyAlarm:
		return c.publishDevice(ctx, KindAlarm, n.Alarm.DeviceID, false, newAlarmPayload(n.Alarm))
	case alarm.NotifyAction:
		return c.publishDevice(ctx, KindAction, n.Action.DeviceID, false, newActionPayload(n.Action))
	case alarm.NotifyDeviceStatus:
		return c.publishDevice(ctx, KindStatus, n.Status.DeviceID, true,
			statusPayload{Status: boolFlag(n.Status.Online), Time: n.Status.TimeMs})
	case alarm.NotifyDeviceState:
		return c.publishDevice(ctx, KindState, n.State.DeviceID, true, newStatePayload(n.State))
	case alarm.NotifyGatewayStatus:
		return c.publishGatewayStatus(n.Gateway.Online, n.Gateway.TimeMs)
	default:
		return fmt.Errorf("unknown notification kind %d", n.Kind)
	}
}

// PublishConfig publishes the retained configuration of a device.
func (c *Client) PublishConfig(ctx context.Context, cfg *alarm.DeviceConfig) error {
	return c.publish(c.topics.Device(KindConfig, cfg.Region, cfg.DeviceID), true, cfg)
}

// ClearDevice removes the retained documents of a deleted device.
func (c *Client) ClearDevice(ctx context.Context, deviceID int, region string) error {
	var errs []error

	for _, kind := range []string{KindState, KindStatus, KindConfig} {
		if err := c.send(c.topics.Device(kind, region, deviceID), true, nil); err != nil {
			errs = append(errs, err)
		}
	}

	logger.DebugKV(ctx, "Cleared retained device topics", "device_id", deviceID)

	return errors.Join(errs...)
}

func (c *Client) publishGatewayStatus(online bool, timeMs int64) error {
	return c.publish(c.topics.GatewayTopic(KindStatus), true, gatewayStatusPayload{
		Status:           1,
		ConnectionStatus: boolFlag(online),
		Time:             timeMs,
	})
}

func (c *Client) publishDevice(ctx context.Context, kind string, deviceID int, retained bool, payload any) error {
	return c.publish(c.topics.Device(kind, c.region(ctx, deviceID), deviceID), retained, payload)
}

// region returns the device's own region, the gateway's when the device has none.
func (c *Client) region(ctx context.Context, deviceID int) string {
	if c.commander == nil {
		return ""
	}

	cfg, err := c.commander.DeviceConfig(ctx, deviceID)
	if err != nil || cfg == nil {
		return ""
	}

	return cfg.Region
}

func (c *Client) publish(topic string, retained bool, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}

	return c.send(topic, retained, data)
}

func (c *Client) pahoSend(topic string, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qosAtLeastOnce, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}

	return token.Error()
}

func (c *Client) onConnect(client paho.Client) {
	ctx := c.context()

	filters := make(map[string]byte)
	for _, topic := range c.topics.Subscriptions() {
		filters[topic] = qosAtLeastOnce
	}

	token := client.SubscribeMultiple(filters, func(_ paho.Client, msg paho.Message) {
		c.dispatch(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		logger.ErrorKV(ctx, "Failed to subscribe to command topics", "error", token.Error())

		return
	}

	logger.InfoKV(ctx, "Subscribed to command topics", "topics", c.topics.Subscriptions())

	online := c.commander != nil && c.commander.LinkOnline()
	if err := c.publishGatewayStatus(online, c.now().UnixMilli()); err != nil {
		logger.WarnKV(ctx, "Failed to publish gateway status", "error", err)
	}
}

// dispatch handles a message off the client's router so long commands do not stall it.
func (c *Client) dispatch(topic string, payload []byte) {
	ctx := c.context()
	if ctx.Err() != nil {
		return
	}

	c.running.Add(1)

	go func() {
		defer c.running.Done()

		c.handle(ctx, topic, payload)
	}()
}

func (c *Client) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.baseCtx
}
