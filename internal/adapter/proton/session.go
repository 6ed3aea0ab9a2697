package proton

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/alarm-bridge/internal/adapter"
	"github.com/oshokin/alarm-bridge/internal/codec/proton"
	"github.com/oshokin/alarm-bridge/internal/logger"
)

// errPingTimeout drops a session whose keep-alive went unanswered.
var errPingTimeout = errors.New("ping was not acknowledged")

// Run implements adapter.ProtocolAdapter: it keeps the session up until ctx is done.
func (a *Adapter) Run(ctx context.Context, sink adapter.Sink) error {
	ctx = logger.WithName(ctx, Name)

	a.mu.Lock()
	a.sink = sink
	a.mu.Unlock()

	go a.keepAlive(ctx)

	return a.client.Run(ctx, a)
}

// OnConnect implements transport.StreamHandler by logging in.
func (a *Adapter) OnConnect(ctx context.Context) error {
	a.mu.Lock()
	a.splitter.Reset()
	a.pingID = ""
	a.mu.Unlock()

	frame, err := proton.EncodeAuth(a.login, a.password)
	if err != nil {
		return err
	}

	if err = a.client.Send(ctx, frame); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	logger.InfoKV(ctx, "Session started", "login", a.login)

	return nil
}

// OnData implements transport.StreamHandler.
func (a *Adapter) OnData(ctx context.Context, data []byte) {
	a.mu.Lock()
	frames := a.splitter.Push(data)
	a.mu.Unlock()

	for _, frame := range frames {
		a.handleFrame(ctx, frame)
	}
}

// OnDisconnect implements transport.StreamHandler.
func (a *Adapter) OnDisconnect(ctx context.Context, err error) {
	if sink := a.currentSink(); sink != nil {
		sink.TransportReset(ctx, err)
	}
}

func (a *Adapter) handleFrame(ctx context.Context, frame []byte) {
	p, err := proton.DecodeAt(frame, a.now())
	if err != nil {
		logger.WarnKV(ctx, "Dropping malformed packet", "error", err, "frame", fmt.Sprintf("% X", frame))

		return
	}

	if p.Kind() != proton.KindAck {
		a.acknowledge(ctx, p)
	}

	if !p.ChecksumValid {
		logger.WarnKV(ctx, "Dropping packet with a bad checksum", "id", p.ID, "command", p.Command.String())

		return
	}

	a.markSeen(ctx)

	switch p.Kind() {
	case proton.KindPing:
		return
	case proton.KindAck:
		if a.ackPing(p.ID) {
			return
		}

		if p.AckResult == proton.AckAuthError {
			logger.ErrorKV(ctx, "Server rejected the login", "login", a.login)
		}
	case proton.KindEvent:
		a.mu.Lock()
		duplicate := a.seen.add(p.ID)
		a.mu.Unlock()

		if duplicate {
			logger.DebugKV(ctx, "Duplicate packet ignored", "id", p.ID)

			return
		}
	case proton.KindOther:
		logger.DebugKV(ctx, "Packet ignored", "id", p.ID, "command", p.Command.String())

		return
	}

	sink := a.currentSink()
	if sink == nil {
		return
	}

	for _, in := range a.inbound(ctx, p) {
		sink.Deliver(ctx, in)
	}
}

func (a *Adapter) acknowledge(ctx context.Context, p *proton.Packet) {
	ack, err := proton.EncodeAck(p.ID, p.ChecksumValid)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to encode ack", "id", p.ID, "error", err)

		return
	}

	if err = a.client.Send(ctx, ack); err != nil {
		logger.WarnKV(ctx, "Failed to send ack", "id", p.ID, "error", err)
	}
}

// keepAlive sends pings and watches for silence.
func (a *Adapter) keepAlive(ctx context.Context) {
	pingPeriod := a.timing.PingPeriod
	if pingPeriod <= 0 {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.checkOffline(ctx)
			a.ping(ctx)
		}
	}
}

func (a *Adapter) ping(ctx context.Context) {
	if !a.client.Connected() {
		return
	}

	id, frame, err := proton.EncodePing()
	if err != nil {
		logger.ErrorKV(ctx, "Failed to encode ping", "error", err)

		return
	}

	a.mu.Lock()
	a.pingID = id
	a.mu.Unlock()

	if err = a.client.Send(ctx, frame); err != nil {
		logger.WarnKV(ctx, "Failed to send ping", "error", err)

		return
	}

	time.AfterFunc(a.timing.PingTimeout, func() {
		a.mu.Lock()
		pending := a.pingID == id
		a.mu.Unlock()

		if pending && ctx.Err() == nil {
			logger.WarnKV(ctx, "Reconnecting", "reason", errPingTimeout)
			a.client.Reset()
		}
	})
}

// ackPing clears the outstanding ping and reports whether id was it.
func (a *Adapter) ackPing(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pingID == "" || a.pingID != id {
		return false
	}

	a.pingID = ""

	return true
}

// markSeen records a valid packet and reports the gateway online again if needed.
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
		logger.WarnKV(ctx, "No packets from the server", "timeout", a.timing.OfflineTimeout.String())
		sink.GatewayOnline(ctx, false)
	}
}

func (a *Adapter) currentSink() adapter.Sink {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.sink
}
