package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oshokin/alarm-bridge/internal/codec/zonebits"
	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
)

// Methods served on DCMD.
const (
	MethodTest      = "test"
	MethodArm       = "arm"
	MethodDisarm    = "disarm"
	MethodSetConfig = "setConfig"
)

// Methods served on NCMD.
const (
	MethodAddDevice         = "addDevice"
	MethodDeleteDevice      = "delDevice"
	MethodSetIgnoreNoAnswer = "setIgnoreNoAnswer"
	MethodPing              = "ping"
)

var (
	// ErrNoZones is returned for arm and disarm requests without zones.
	ErrNoZones = errors.New("zones must be provided")
	// ErrNoDevice is returned for requests that need a device id and carry none.
	ErrNoDevice = errors.New("device id must be provided")
	// ErrDeviceExists is returned by addDevice for configured devices.
	ErrDeviceExists = errors.New("device is already configured")
	// ErrNoCommander is returned when the client serves no commands.
	ErrNoCommander = errors.New("commands are not served")
)

type actionParams struct {
	Zones  alarm.ZoneVector `json:"zones"`
	UserID *int             `json:"userId"`
}

type deviceParams struct {
	DeviceID int `json:"deviceId"`
}

type ignoreParams struct {
	Ignore bool `json:"ignore"`
}

type actionResult struct {
	Zones    alarm.ZoneVector `json:"zones"`
	ZonesBit byte             `json:"zonesBit"`
}

// handle parses a command message and publishes the reply.
func (c *Client) handle(ctx context.Context, raw string, payload []byte) {
	topic, err := c.topics.Parse(raw)
	if err != nil {
		logger.WarnKV(ctx, "Ignoring message", "topic", raw, "error", err)

		return
	}

	if topic.DeviceID > 0 {
		ctx = logger.WithKV(ctx, "device_id", topic.DeviceID)
	}

	if len(payload) == 0 {
		logger.WarnKV(ctx, "Empty command message", "topic", raw)

		return
	}

	req, err := ParseRequest(payload, c.now())
	if err == nil {
		logger.InfoKV(ctx, "Command received", "topic", raw, "method", req.Method)

		var result any

		result, err = c.serve(ctx, topic, req)
		if err == nil {
			c.reply(ctx, topic, Success(req.ID, result))

			return
		}
	}

	var id json.RawMessage
	if req != nil {
		id = req.ID
	}

	logger.WarnKV(ctx, "Command failed", "topic", raw, "error", err)
	c.reply(ctx, topic, Failure(id, err))
}

func (c *Client) reply(ctx context.Context, topic Topic, resp Response) {
	if err := c.publish(topic.Reply(), false, resp); err != nil {
		logger.WarnKV(ctx, "Failed to publish reply", "topic", topic.Reply(), "error", err)
	}
}

func (c *Client) serve(ctx context.Context, topic Topic, req *Request) (any, error) {
	if c.commander == nil {
		return nil, ErrNoCommander
	}

	switch topic.Kind {
	case KindDCMD:
		if topic.DeviceID <= 0 {
			return nil, ErrNoDevice
		}

		return c.serveDevice(ctx, topic.DeviceID, req)
	case KindNCMD:
		return c.serveGateway(ctx, topic, req)
	default:
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownMethod, req.Method, topic.Kind)
	}
}

func (c *Client) serveDevice(ctx context.Context, deviceID int, req *Request) (any, error) {
	switch req.Method {
	case MethodTest:
		state, err := c.commander.Execute(ctx, alarm.CommandRequest{
			DeviceID: deviceID,
			Kind:     alarm.CommandTest,
			UserID:   alarm.NoUser,
		})
		if err != nil {
			return nil, err
		}

		return newStatePayload(state), nil
	case MethodArm, MethodDisarm:
		var params actionParams
		if err := req.Bind(&params); err != nil {
			return nil, err
		}

		if len(params.Zones) == 0 {
			return nil, ErrNoZones
		}

		kind, _ := alarm.ParseCommandKind(req.Method)
		cmd := alarm.CommandRequest{DeviceID: deviceID, Kind: kind, Zones: params.Zones, UserID: alarm.NoUser}

		if params.UserID != nil {
			cmd.UserID = *params.UserID
		}

		if _, err := c.commander.Execute(ctx, cmd); err != nil {
			return nil, err
		}

		return actionResult{Zones: params.Zones, ZonesBit: zonebits.Mask(params.Zones)}, nil
	case MethodSetConfig:
		cfg, err := c.commander.DeviceConfig(ctx, deviceID)
		if err != nil {
			return nil, fmt.Errorf("device %d has no configuration: %w", deviceID, err)
		}

		// Params overlay the stored document field by field.
		cfg = cfg.Clone()
		if err = req.Bind(cfg); err != nil {
			return nil, err
		}

		cfg.DeviceID = deviceID

		return true, c.saveConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, req.Method)
	}
}

func (c *Client) serveGateway(ctx context.Context, topic Topic, req *Request) (any, error) {
	switch req.Method {
	case MethodAddDevice:
		var params deviceParams
		if err := req.Bind(&params); err != nil {
			return nil, err
		}

		if params.DeviceID <= 0 {
			return nil, ErrNoDevice
		}

		if _, err := c.commander.DeviceConfig(ctx, params.DeviceID); err == nil {
			return nil, fmt.Errorf("%w: %d", ErrDeviceExists, params.DeviceID)
		}

		cfg := &alarm.DeviceConfig{Region: topic.Region}
		if err := req.Bind(cfg); err != nil {
			return nil, err
		}

		logger.InfoKV(ctx, "Adding device", "device_id", cfg.DeviceID, "region", cfg.Region)

		return true, c.saveConfig(ctx, cfg)
	case MethodDeleteDevice:
		var params deviceParams
		if err := req.Bind(&params); err != nil {
			return nil, err
		}

		if params.DeviceID <= 0 {
			return nil, ErrNoDevice
		}

		region := ""
		if cfg, err := c.commander.DeviceConfig(ctx, params.DeviceID); err == nil {
			region = cfg.Region
		}

		if err := c.commander.DeleteDevice(ctx, params.DeviceID); err != nil {
			return nil, err
		}

		return true, c.ClearDevice(ctx, params.DeviceID, region)
	case MethodSetIgnoreNoAnswer:
		var params ignoreParams
		if err := req.Bind(&params); err != nil {
			return nil, err
		}

		return true, c.commander.SetIgnoreNoAnswer(ctx, params.Ignore)
	case MethodPing:
		return true, c.publishGatewayStatus(c.commander.LinkOnline(), c.now().UnixMilli())
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, req.Method)
	}
}

func (c *Client) saveConfig(ctx context.Context, cfg *alarm.DeviceConfig) error {
	if err := c.commander.SaveDeviceConfig(ctx, cfg); err != nil {
		return err
	}

	return c.PublishConfig(ctx, cfg)
}
