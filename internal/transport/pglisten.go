package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oshokin/alarm-bridge/internal/logger"
)

// maxMissedHeartbeats drops a connection that stopped echoing its own heartbeats.
const maxMissedHeartbeats = 3

// ErrHeartbeatLost is passed to OnDisconnect when the server stopped echoing heartbeats.
var ErrHeartbeatLost = errors.New("heartbeat lost")

// NotifyHandler receives the lifecycle of a LISTEN connection.
type NotifyHandler interface {
	OnConnect(ctx context.Context) error
	OnNotify(ctx context.Context, payload string)
	OnDisconnect(ctx context.Context, err error)
}

// PGListener listens on one Postgres channel, reconnecting with backoff. It sends a heartbeat
// NOTIFY on its own channel every period and reconnects when none comes back.
type PGListener struct {
	dsn       string
	channel   string
	heartbeat string
	period    time.Duration
	reconnect time.Duration
}

// NewPGListener creates a listener; heartbeat is the payload of the keep-alive NOTIFY.
func NewPGListener(dsn, channel, heartbeat string, period, reconnect time.Duration) *PGListener {
	return &PGListener{
		dsn:       dsn,
		channel:   channel,
		heartbeat: heartbeat,
		period:    period,
		reconnect: reconnect,
	}
}

// Run connects, listens and reconnects until ctx is done.
func (l *PGListener) Run(ctx context.Context, h NotifyHandler) error {
	ctx = logger.WithKV(ctx, "channel", l.channel)
	wait := newBackoff(l.reconnect)

	for ctx.Err() == nil {
		conn, err := pgx.Connect(ctx, l.dsn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			logger.WarnKV(ctx, "Failed to connect to the event database", "error", err)

			if !wait.wait(ctx) {
				return nil
			}

			continue
		}

		wait.reset()

		err = l.listen(ctx, conn, h)

		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		_ = conn.Close(closeCtx)

		cancel()

		if ctx.Err() != nil {
			return nil
		}

		logger.WarnKV(ctx, "Event database connection lost", "error", err)
		h.OnDisconnect(ctx, err)

		if !wait.wait(ctx) {
			return nil
		}
	}

	return nil
}

func (l *PGListener) listen(ctx context.Context, conn *pgx.Conn, h NotifyHandler) error {
	if _, err := conn.Exec(ctx, "listen "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	logger.InfoKV(ctx, "Listening for events")

	if err := h.OnConnect(ctx); err != nil {
		return fmt.Errorf("on connect: %w", err)
	}

	missed := 0

	for {
		waitCtx, cancel := context.WithTimeout(ctx, l.period)
		n, err := conn.WaitForNotification(waitCtx)

		cancel()

		switch {
		case err == nil && n.Payload == l.heartbeat:
			missed = 0
		case err == nil:
			missed = 0

			h.OnNotify(ctx, n.Payload)
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			missed++
			if missed > maxMissedHeartbeats {
				return ErrHeartbeatLost
			}

			if _, err = conn.Exec(ctx, "select pg_notify($1, $2)", l.channel, l.heartbeat); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		default:
			return fmt.Errorf("wait for notification: %w", err)
		}
	}
}
