package proton

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/oshokin/alarm-bridge/internal/adapter"
	"github.com/oshokin/alarm-bridge/internal/classifier"
	"github.com/oshokin/alarm-bridge/internal/codec/proton"
	"github.com/oshokin/alarm-bridge/internal/codec/zonebits"
	"github.com/oshokin/alarm-bridge/internal/config"
	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/reconcile"
	"github.com/oshokin/alarm-bridge/internal/transport"
)

// Name is the family name used in logs.
const Name = "proton"

// ZoneCount is the number of zones in a Proton status byte.
const ZoneCount = 8

// Adapter implements adapter.ProtocolAdapter for Proton.
type Adapter struct {
	login        string
	password     string
	systemNumber int
	timing       config.Timing

	client     *transport.TCPClient
	classifier *classifier.Classifier[int]
	now        func() time.Time

	// mu guards the session fields below.
	mu       sync.Mutex
	splitter *proton.Splitter
	seen     *idWindow
	sink     adapter.Sink
	pingID   string
	online   bool
	lastSeen time.Time
}

var _ adapter.ProtocolAdapter = (*Adapter)(nil)

// New creates an adapter for the Proton server in cfg.
func New(cfg *config.Config) *Adapter {
	addr := net.JoinHostPort(cfg.Connection.Host, strconv.Itoa(cfg.Connection.Port))

	return &Adapter{
		login:        cfg.Connection.Login,
		password:     cfg.Connection.Password,
		systemNumber: cfg.Connection.SystemNumber,
		timing:       cfg.Timing,
		client:       transport.NewTCPClient(addr, cfg.Timing.ReconnectPeriod, cfg.Timing.RequestTimeout),
		classifier:   classifier.New(Name, classifier.ProtonTable()),
		now:          time.Now,
		splitter:     proton.NewSplitter(),
		seen:         newIDWindow(dedupWindow),
	}
}

// Name implements adapter.ProtocolAdapter.
func (a *Adapter) Name() string {
	return Name
}

// Policy implements adapter.ProtocolAdapter; Proton waits for a command to resolve conflicts.
func (a *Adapter) Policy() reconcile.MismatchPolicy {
	return reconcile.WaitForCommand
}

// ZoneCount implements adapter.ProtocolAdapter.
func (a *Adapter) ZoneCount() int {
	return ZoneCount
}

// EncodeCommand implements adapter.ProtocolAdapter. Arm and disarm without zones target every zone.
func (a *Adapter) EncodeCommand(cmd adapter.Command) (adapter.Encoded, error) {
	c := proton.Control{
		ObjectNumber: cmd.DeviceID,
		SystemNumber: a.systemNumber,
		Channel:      proton.ChannelAny,
	}

	switch cmd.Kind {
	case alarm.CommandTest:
		c.Command = proton.RemoteTest
	case alarm.CommandArm, alarm.CommandDisarm:
		c.Command = proton.RemoteArm
		if cmd.Kind == alarm.CommandDisarm {
			c.Command = proton.RemoteDisarm
		}

		zones := cmd.Zones
		if !zones.Any() {
			zones = alarm.FilledZoneVector(ZoneCount, 1)
		}

		c.ZoneMask = zonebits.Mask(zones)
	default:
		return adapter.Encoded{}, fmt.Errorf("%w: %s", alarm.ErrUnknownCommand, cmd.Kind)
	}

	id, frame, err := proton.EncodeControl(c)
	if err != nil {
		return adapter.Encoded{}, err
	}

	return adapter.Encoded{CorrelationID: id, Frame: frame}, nil
}

// Transmit implements adapter.ProtocolAdapter.
func (a *Adapter) Transmit(ctx context.Context, frame []byte) error {
	return a.client.Send(ctx, frame)
}

func (a *Adapter) inbound(ctx context.Context, p *proton.Packet) []adapter.Inbound {
	switch p.Kind() {
	case proton.KindAck:
		return []adapter.Inbound{adapter.AckInbound(p.ID)}
	case proton.KindEvent:
		return []adapter.Inbound{adapter.EventInbound(a.interpret(ctx, p.Event))}
	default:
		return nil
	}
}

// interpret turns a decoded event into a classified one.
func (a *Adapter) interpret(ctx context.Context, ev *proton.Event) *adapter.Event {
	out := &adapter.Event{
		DeviceID: ev.ObjectNumber,
		Category: a.classifier.Classify(ctx, ev.Code),
		Code:     strconv.Itoa(ev.Code),
		UserID:   alarm.NoUser,
		Time:     ev.Time,
	}

	if out.Time.IsZero() {
		out.Time = a.now()
	}

	data := ev.Data

	switch {
	case slices.Contains(classifier.ProtonStateCodes, ev.Code) && len(data) >= 2:
		out.Armed = zonebits.Decode(data[0], ZoneCount, zonebits.Normal)
		out.Active = zonebits.Decode(data[1], ZoneCount, zonebits.Inverted)
	case slices.Contains(classifier.ProtonActionCodes, ev.Code) && len(data) >= 2:
		out.UserID = int(data[0])
		out.Zones = zonebits.Decode(data[1], ZoneCount, zonebits.Normal)
	case out.Category.IsAlarm():
		out.Zones = alarm.FilledZoneVector(ZoneCount, 1)

		if len(data) >= 1 && data[0] >= 1 && int(data[0]) <= ZoneCount {
			out.Zones = alarm.NewZoneVector(ZoneCount)
			out.Zones[data[0]-1] = 1
		}

		out.Message = fmt.Sprintf("event %d", ev.Code)
	}

	if out.Category == alarm.CategoryAlarmForcedEntry || out.Category == alarm.CategoryAlarmForcedExit {
		duress := alarm.AlarmDuress
		out.AlarmType = &duress
	}

	return out
}
