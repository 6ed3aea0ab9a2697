package mirazh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/oshokin/alarm-bridge/internal/adapter"
	"github.com/oshokin/alarm-bridge/internal/classifier"
	"github.com/oshokin/alarm-bridge/internal/codec/mirazh"
	"github.com/oshokin/alarm-bridge/internal/config"
	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
	"github.com/oshokin/alarm-bridge/internal/reconcile"
	"github.com/oshokin/alarm-bridge/internal/transport"
)

// Name is the family name used in logs.
const Name = "mirazh"

const (
	// heartbeatPeriod is the NOTIFY self-probe interval of the listener.
	heartbeatPeriod = 10 * time.Second
	// channelPingPeriod is the keep-alive interval of the command channel.
	channelPingPeriod = 50 * time.Second
)

// Result texts of command result rows.
const (
	resultFailed  = "ОШИБКА"
	resultSuccess = "УСПЕШНО"
)

// Cursor remembers the last processed event row; state.Repository implements it.
type Cursor interface {
	LastEventID(ctx context.Context) (int64, error)
	SetLastEventID(ctx context.Context, id int64) error
}

// Adapter implements adapter.ProtocolAdapter for Mirazh.
type Adapter struct {
	dsn      string
	login    string
	password string
	timing   config.Timing

	listener   *transport.PGListener
	channel    *transport.TCPClient
	directory  *Directory
	cursor     Cursor
	classifier *classifier.Classifier[string]
	now        func() time.Time
	seq        atomic.Uint32

	// mu guards sink, pending and buf.
	mu   sync.Mutex
	sink adapter.Sink
	// pending maps an object number to the correlation id of its last command.
	pending map[int]string
	// buf carries a partial channel frame over to the next read.
	buf   []byte
	batch *adapter.Batcher[mirazh.ZoneReport]
}

var _ adapter.ProtocolAdapter = (*Adapter)(nil)

// New creates an adapter for the Mirazh server in cfg; cursor may be nil.
func New(cfg *config.Config, cursor Cursor) *Adapter {
	return &Adapter{
		dsn:      cfg.Connection.PostgresDSN,
		login:    cfg.Connection.Login,
		password: cfg.Connection.Password,
		timing:   cfg.Timing,
		listener: transport.NewPGListener(cfg.Connection.PostgresDSN, mirazh.Channel, mirazh.HeartbeatPayload,
			heartbeatPeriod, cfg.Timing.ReconnectPeriod),
		channel:    transport.NewTCPClient(cfg.Connection.Address(), cfg.Timing.ReconnectPeriod, cfg.Timing.RequestTimeout),
		directory:  NewDirectory(nil),
		cursor:     cursor,
		classifier: classifier.New(Name, classifier.MirazhTable()),
		now:        time.Now,
		pending:    make(map[int]string),
	}
}

// Name implements adapter.ProtocolAdapter.
func (a *Adapter) Name() string {
	return Name
}

// Policy implements adapter.ProtocolAdapter; the server view is authoritative for Mirazh.
func (a *Adapter) Policy() reconcile.MismatchPolicy {
	return reconcile.AutoCorrect
}

// ZoneCount implements adapter.ProtocolAdapter.
func (a *Adapter) ZoneCount() int {
	return mirazh.ZoneCount
}

// Directory returns the object directory.
func (a *Adapter) Directory() *Directory {
	return a.directory
}

// EncodeCommand implements adapter.ProtocolAdapter. The server addresses objects by id, so the
// object must be in the directory. Commands act on the whole object.
func (a *Adapter) EncodeCommand(cmd adapter.Command) (adapter.Encoded, error) {
	obj, ok := a.directory.Cached(cmd.DeviceID)
	if !ok {
		return adapter.Encoded{}, fmt.Errorf("%w: %d", ErrUnknownObject, cmd.DeviceID)
	}

	var id mirazh.CommandID

	switch cmd.Kind {
	case alarm.CommandTest:
		id = mirazh.CommandTest
	case alarm.CommandArm:
		id = mirazh.CommandArm
	case alarm.CommandDisarm:
		id = mirazh.CommandDisarm
	default:
		return adapter.Encoded{}, fmt.Errorf("%w: %s", alarm.ErrUnknownCommand, cmd.Kind)
	}

	seq := uint16(a.seq.Add(1))

	frame, err := mirazh.CommandFrame(mirazh.Command{ID: id, ObjectID: uint32(obj.ID), Sequence: seq}).Encode()
	if err != nil {
		return adapter.Encoded{}, err
	}

	correlationID := fmt.Sprintf("%d/%d", cmd.DeviceID, seq)

	a.mu.Lock()
	a.pending[cmd.DeviceID] = correlationID
	a.mu.Unlock()

	return adapter.Encoded{CorrelationID: correlationID, Frame: frame}, nil
}

// Transmit implements adapter.ProtocolAdapter over the command channel.
func (a *Adapter) Transmit(ctx context.Context, frame []byte) error {
	return a.channel.Send(ctx, frame)
}

func (a *Adapter) rowInbound(ctx context.Context, row *mirazh.Row) []adapter.Inbound {
	key := row.Key()
	ctx = logger.WithKV(ctx, "device_id", row.ObjectNumber, "key", key)

	switch key {
	case mirazh.KeyCommandReceived:
		a.mu.Lock()
		id, ok := a.pending[row.ObjectNumber]
		delete(a.pending, row.ObjectNumber)
		a.mu.Unlock()

		if !ok {
			return nil
		}

		return []adapter.Inbound{adapter.AckInbound(id)}
	case mirazh.KeyResendRequest:
		return []adapter.Inbound{adapter.ResendInbound(row.ObjectNumber)}
	case mirazh.KeyCommandResult:
		text := row.Text()
		if !strings.Contains(text, resultFailed) {
			logger.DebugKV(ctx, "Command result", "text", text, "success", strings.Contains(text, resultSuccess))

			return nil
		}

		logger.WarnKV(ctx, "Server failed to run the command", "text", text)

		return []adapter.Inbound{adapter.EventInbound(&adapter.Event{
			DeviceID: row.ObjectNumber,
			Category: alarm.CategoryUnauthorizedAction,
			Code:     key,
			UserID:   alarm.NoUser,
			Message:  text,
			Time:     row.Time(a.now()),
		})}
	}

	ev := &adapter.Event{
		DeviceID: row.ObjectNumber,
		Category: a.classifier.Classify(ctx, key),
		Code:     key,
		UserID:   alarm.NoUser,
		Message:  row.Info,
		Time:     row.Time(a.now()),
	}

	if row.KeyNumber > 0 {
		ev.UserID = row.KeyNumber
	}

	out := []adapter.Inbound{adapter.EventInbound(ev)}

	switch key {
	case mirazh.KeyDuressDisarm:
		duress := alarm.AlarmDuress
		ev.AlarmType = &duress
		ev.Message = "disarm under duress"
	case mirazh.KeyDuressArm:
		duress := alarm.AlarmDuress
		out = append(out, adapter.EventInbound(&adapter.Event{
			DeviceID:  row.ObjectNumber,
			Category:  alarm.CategoryAlarmForcedEntry,
			Code:      key,
			UserID:    ev.UserID,
			AlarmType: &duress,
			Message:   "arm under duress",
			Time:      ev.Time,
		}))
	}

	return out
}

// foldZones turns one batch of zone reports into a state observation and, when armed zones
// are violated, an alarm.
func (a *Adapter) foldZones(ctx context.Context, deviceID int, reports []mirazh.ZoneReport) []adapter.Inbound {
	var (
		armed      = alarm.NewZoneVector(mirazh.ZoneCount)
		active     = alarm.NewZoneVector(mirazh.ZoneCount)
		mismatched = alarm.NewZoneVector(mirazh.ZoneCount)
		alarmed    = alarm.NewZoneVector(mirazh.ZoneCount)
		reported   = make(map[int]bool, len(reports))
		now        = a.now()
	)

	for _, r := range reports {
		if r.Zone < 0 || r.Zone >= mirazh.ZoneCount {
			continue
		}

		reported[r.Zone] = true
		armed[r.Zone] = flag(r.State.Armed)
		active[r.Zone] = flag(r.State.Active)
		alarmed[r.Zone] = flag(r.State.Alarm && r.State.Armed)
	}

	obj, err := a.directory.Lookup(ctx, deviceID)
	if err != nil {
		logger.WarnKV(ctx, "Zone list unavailable", "device_id", deviceID, "error", err)
	}

	for _, z := range obj.Zones {
		if z >= 0 && z < mirazh.ZoneCount && !reported[z] {
			mismatched[z] = 1
			active[z] = 1
		}
	}

	out := []adapter.Inbound{adapter.EventInbound(&adapter.Event{
		DeviceID:   deviceID,
		Category:   alarm.CategoryIgnorable,
		Code:       "zone_state",
		Armed:      armed,
		Active:     active,
		Mismatched: mismatched,
		UserID:     alarm.NoUser,
		Time:       now,
	})}

	if alarmed.Any() {
		out = append(out, adapter.EventInbound(&adapter.Event{
			DeviceID: deviceID,
			Category: alarm.CategoryAlarmActive,
			Code:     "zone_state",
			Zones:    alarmed,
			UserID:   alarm.NoUser,
			Message:  "loop violated",
			Time:     now,
		}))
	}

	return out
}

func flag(b bool) int {
	if b {
		return 1
	}

	return 0
}

// Run implements adapter.ProtocolAdapter: the LISTEN connection and the command channel run
// side by side until ctx is done.
func (a *Adapter) Run(ctx context.Context, sink adapter.Sink) error {
	ctx = logger.WithName(ctx, Name)

	pool, err := pgxpool.New(ctx, a.dsn)
	if err != nil {
		return fmt.Errorf("open event database: %w", err)
	}
	defer pool.Close()

	a.mu.Lock()
	a.sink = sink
	a.directory.db = pool
	a.batch = adapter.NewBatcher(a.timing.BatchWindow, func(deviceID int, reports []mirazh.ZoneReport) {
		for _, in := range a.foldZones(ctx, deviceID, reports) {
			sink.Deliver(ctx, in)
		}
	})
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.listener.Run(gctx, listenerHandler{a})
	})
	g.Go(func() error {
		return a.channel.Run(gctx, channelHandler{a})
	})
	g.Go(func() error {
		a.keepAlive(gctx)

		return nil
	})

	return g.Wait()
}

// handleNotification processes one NOTIFY payload of the live listener.
func (a *Adapter) handleNotification(ctx context.Context, payload string) {
	row, err := mirazh.ParseNotification(payload)
	if err != nil {
		if !errors.Is(err, mirazh.ErrHeartbeat) {
			logger.WarnKV(ctx, "Dropping notification", "error", err)
		}

		return
	}

	if a.replayed(ctx, row.EventID) {
		return
	}

	a.mu.Lock()
	sink, batch := a.sink, a.batch
	a.mu.Unlock()

	if report, ok := mirazh.ZoneReportFrom(row); ok {
		if batch != nil {
			batch.Add(report.DeviceID, report)
		}

		return
	}

	if sink == nil {
		return
	}

	for _, in := range a.rowInbound(ctx, row) {
		sink.Deliver(ctx, in)
	}
}

// replayed reports whether the row was already processed and advances the cursor otherwise.
func (a *Adapter) replayed(ctx context.Context, eventID int64) bool {
	if a.cursor == nil || eventID <= 0 {
		return false
	}

	last, err := a.cursor.LastEventID(ctx)
	if err == nil && eventID <= last {
		logger.DebugKV(ctx, "Event already processed", "event_id", eventID)

		return true
	}

	if err = a.cursor.SetLastEventID(ctx, eventID); err != nil {
		logger.WarnKV(ctx, "Failed to store event cursor", "error", err)
	}

	return false
}

func (a *Adapter) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(channelPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.channel.Connected() {
				continue
			}

			frame, err := mirazh.PingFrame().Encode()
			if err == nil {
				err = a.channel.Send(ctx, frame)
			}

			if err != nil {
				logger.WarnKV(ctx, "Failed to ping the command channel", "error", err)
			}
		}
	}
}

// listenerHandler adapts the adapter to transport.NotifyHandler.
type listenerHandler struct{ a *Adapter }

func (h listenerHandler) OnConnect(ctx context.Context) error {
	n, err := h.a.directory.Load(ctx)
	if err != nil {
		logger.WarnKV(ctx, "Failed to load objects", "error", err)
	} else {
		logger.InfoKV(ctx, "Objects loaded", "count", n)
	}

	if sink := h.a.currentSink(); sink != nil {
		sink.GatewayOnline(ctx, true)
	}

	return nil
}

func (h listenerHandler) OnNotify(ctx context.Context, payload string) {
	h.a.handleNotification(ctx, payload)
}

func (h listenerHandler) OnDisconnect(ctx context.Context, _ error) {
	if sink := h.a.currentSink(); sink != nil {
		sink.GatewayOnline(ctx, false)
	}
}

// channelHandler adapts the adapter to transport.StreamHandler.
type channelHandler struct{ a *Adapter }

func (h channelHandler) OnConnect(ctx context.Context) error {
	h.a.mu.Lock()
	h.a.buf = h.a.buf[:0]
	h.a.mu.Unlock()

	frame, err := mirazh.LoginFrame(h.a.login, h.a.password).Encode()
	if err != nil {
		return err
	}

	return h.a.channel.Send(ctx, frame)
}

func (h channelHandler) OnData(ctx context.Context, data []byte) {
	for _, f := range h.a.splitFrames(data) {
		if f.Type != mirazh.FrameReply {
			continue
		}

		if cmd, err := mirazh.ParseCommand(f); err == nil {
			logger.DebugKV(ctx, "Command reply", "command", int(cmd.ID), "sequence", cmd.Sequence)
		}
	}
}

func (h channelHandler) OnDisconnect(ctx context.Context, err error) {
	if sink := h.a.currentSink(); sink != nil {
		sink.TransportReset(ctx, err)
	}
}

// splitFrames appends data to the carry-over buffer and cuts out every complete frame.
func (a *Adapter) splitFrames(data []byte) []mirazh.Frame {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf = append(a.buf, data...)

	var frames []mirazh.Frame

	for len(a.buf) > 0 {
		if a.buf[0] != mirazh.FrameMagic {
			a.buf = a.buf[1:]

			continue
		}

		size, ok := mirazh.FrameSize(a.buf)
		if !ok || len(a.buf) < size {
			break
		}

		f, _, err := mirazh.ParseFrame(a.buf[:size])
		if err != nil {
			a.buf = a.buf[1:]

			continue
		}

		frames = append(frames, f)
		a.buf = a.buf[size:]
	}

	return frames
}

func (a *Adapter) currentSink() adapter.Sink {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.sink
}
