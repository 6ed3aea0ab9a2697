package tandem

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oshokin/alarm-bridge/internal/adapter"
	"github.com/oshokin/alarm-bridge/internal/classifier"
	"github.com/oshokin/alarm-bridge/internal/codec/tandem"
	"github.com/oshokin/alarm-bridge/internal/config"
	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
	"github.com/oshokin/alarm-bridge/internal/reconcile"
	"github.com/oshokin/alarm-bridge/internal/transport"
)

// Name is the family name used in logs.
const Name = "tandem"

// batchWindow collapses the datagrams of one physical action.
const batchWindow = 500 * time.Millisecond

// Adapter implements adapter.ProtocolAdapter for Tandem.
type Adapter struct {
	station byte
	krt     byte
	timing  config.Timing

	peer       *transport.UDPPeer
	classifier *classifier.Classifier[string]
	now        func() time.Time
	nextID     atomic.Uint32

	// mu guards sink, online and lastSeen.
	mu       sync.Mutex
	sink     adapter.Sink
	online   bool
	lastSeen time.Time
}

var _ adapter.ProtocolAdapter = (*Adapter)(nil)

// New creates an adapter for the Tandem server in cfg.
func New(cfg *config.Config) *Adapter {
	remote := net.JoinHostPort(cfg.Connection.Host, strconv.Itoa(cfg.Connection.Port))
	local := ":" + strconv.Itoa(cfg.Connection.UDPPort)

	return &Adapter{
		station:    byte(cfg.Connection.RMOID),
		krt:        byte(cfg.Connection.KRTID),
		timing:     cfg.Timing,
		peer:       transport.NewUDPPeer(local, remote),
		classifier: classifier.New(Name, classifier.TandemTable()),
		now:        time.Now,
	}
}

// Name implements adapter.ProtocolAdapter.
func (a *Adapter) Name() string {
	return Name
}

// Policy implements adapter.ProtocolAdapter.
func (a *Adapter) Policy() reconcile.MismatchPolicy {
	return reconcile.WaitForCommand
}

// ZoneCount implements adapter.ProtocolAdapter.
func (a *Adapter) ZoneCount() int {
	return tandem.ZoneCount
}

// EncodeCommand implements adapter.ProtocolAdapter. Tandem never acknowledges delivery,
// so the correlation id stays empty and only the confirming event resolves a command.
func (a *Adapter) EncodeCommand(cmd adapter.Command) (adapter.Encoded, error) {
	var req tandem.Request

	id := a.nextID.Add(1)

	switch cmd.Kind {
	case alarm.CommandTest:
		req = tandem.Test(a.station, a.krt, cmd.DeviceID, id)
	case alarm.CommandArm, alarm.CommandDisarm:
		zones := cmd.Zones
		if !zones.Any() {
			zones = alarm.FilledZoneVector(tandem.ZoneCount, 1)
		}

		req = tandem.Control(a.station, a.krt, cmd.DeviceID, cmd.UserID, cmd.Kind == alarm.CommandArm, zones, id)
	default:
		return adapter.Encoded{}, fmt.Errorf("%w: %s", alarm.ErrUnknownCommand, cmd.Kind)
	}

	frame, err := req.Encode()
	if err != nil {
		return adapter.Encoded{}, err
	}

	return adapter.Encoded{Frame: frame}, nil
}

// Decode turns one datagram into inbound items. Datagrams addressed to another
// workstation decode to nothing.
func (a *Adapter) Decode(ctx context.Context, raw []byte) ([]adapter.Inbound, error) {
	r, err := tandem.Parse(raw, a.now())
	if err != nil {
		return nil, err
	}

	if !r.Addressed(a.station, a.krt) {
		logger.DebugKV(ctx, "Datagram for another workstation", "station", r.StationID, "krt", r.KRTID)

		return nil, nil
	}

	ev := &adapter.Event{
		DeviceID: r.DeviceID,
		Code:     key(r),
		UserID:   alarm.NoUser,
		Time:     r.Time,
	}
	ev.Category = a.classifier.Classify(ctx, ev.Code)

	switch r.Command {
	case tandem.ResponseTest:
		ev.Armed = r.Armed
		ev.Active = r.Active
	case tandem.ResponseControl, tandem.ResponseControlDB:
		ev.Zones = r.Zones
	case tandem.ResponseAlarm:
		ev.Zones = alarm.FilledZoneVector(tandem.ZoneCount, 1)
		ev.Message = "alarm"
	case tandem.ResponseFailTest:
		logger.WarnKV(ctx, "Device failed the test", "device_id", r.DeviceID)
	case tandem.ResponseAction, tandem.ResponseLock, tandem.ResponseManualAlarm:
	}

	return []adapter.Inbound{adapter.EventInbound(ev)}, nil
}

// key is the classifier key of a response.
func key(r *tandem.Response) string {
	switch r.Command {
	case tandem.ResponseAction:
		if r.Disarm {
			return classifier.TandemActionDisarm
		}

		return classifier.TandemActionArm
	case tandem.ResponseControl, tandem.ResponseControlDB:
		if r.Arm {
			return classifier.TandemControlArm
		}

		return classifier.TandemControlOff
	case tandem.ResponseTest:
		return classifier.TandemTest
	case tandem.ResponseFailTest:
		return classifier.TandemFailTest
	case tandem.ResponseManualAlarm:
		return classifier.TandemManualAlarm
	case tandem.ResponseLock:
		return classifier.TandemLock
	default:
		return classifier.TandemAlarm
	}
}

// Transmit implements adapter.ProtocolAdapter.
func (a *Adapter) Transmit(ctx context.Context, frame []byte) error {
	return a.peer.Send(ctx, frame)
}

// Run implements adapter.ProtocolAdapter.
func (a *Adapter) Run(ctx context.Context, sink adapter.Sink) error {
	ctx = logger.WithName(ctx, Name)

	a.mu.Lock()
	a.sink = sink
	a.mu.Unlock()

	batch := adapter.NewBatcher(batchWindow, func(_ int, items []adapter.Inbound) {
		for _, in := range items {
			sink.Deliver(ctx, in)
		}
	})
	defer batch.FlushAll()

	go a.keepAlive(ctx)

	return a.peer.Run(ctx, func(ctx context.Context, data []byte) {
		a.markSeen(ctx)

		items, err := a.Decode(ctx, data)
		if err != nil {
			logger.WarnKV(ctx, "Dropping datagram", "error", err, "datagram", fmt.Sprintf("% X", data))

			return
		}

		for _, in := range items {
			batch.Add(in.DeviceID, in)
		}
	})
}

func (a *Adapter) keepAlive(ctx context.Context) {
	if a.timing.PingPeriod <= 0 {
		return
	}

	ticker := time.NewTicker(a.timing.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.checkOffline(ctx)

			frame, err := tandem.Ping(a.station, a.krt, a.nextID.Add(1)).Encode()
			if err == nil {
				err = a.peer.Send(ctx, frame)
			}

			if err != nil {
				logger.WarnKV(ctx, "Failed to send ping", "error", err)
			}
		}
	}
}

func (a *Adapter) markSeen(ctx context.Context) {
	a.mu.Lock()
	a.lastSeen = a.now()
	wasOnline := a.online
	a.online = true
	sink := a.sink
	a.mu.Unlock()

	if !wasOnline && sink != nil {
		sink.GatewayOnline(ctx, true)
	}
}

func (a *Adapter) checkOffline(ctx context.Context) {
	a.mu.Lock()
	silent := a.online && a.timing.OfflineTimeout > 0 && a.now().Sub(a.lastSeen) > a.timing.OfflineTimeout

	if silent {
		a.online = false
	}

	sink := a.sink
	a.mu.Unlock()

	if silent && sink != nil {
		sink.GatewayOnline(ctx, false)
	}
}
