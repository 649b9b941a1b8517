package changefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
)

// Publisher receives events from the Listener. *Hub implements it.
type Publisher interface {
	Publish(Event)
}

// Listener holds a dedicated PostgreSQL connection LISTENing on a channel
// and publishes every notification. It reconnects with exponential backoff
// and publishes an OpResync event after each reconnect.
type Listener struct {
	dsn     string
	channel string
	pub     Publisher

	// newBackOff is swapped in tests.
	newBackOff func() backoff.BackOff
}

// NewListener creates a listener for channel on the database at dsn.
func NewListener(dsn, channel string, pub Publisher) *Listener {
	return &Listener{
		dsn:     dsn,
		channel: channel,
		pub:     pub,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.Multiplier = 1.5
			b.MaxElapsedTime = 0 // Never stop retrying
			return b
		},
	}
}

// Run listens until ctx is cancelled. It only returns ctx.Err().
func (l *Listener) Run(ctx context.Context) error {
	b := l.newBackOff()
	connected := false

	for {
		err := l.listen(ctx, func() {
			if connected {
				listenerReconnects.Inc()
				slog.Info("change listener reconnected", "channel", l.channel)
				l.pub.Publish(Event{Collection: AllCollections, Op: OpResync})
			} else {
				slog.Info("change listener connected", "channel", l.channel)
			}
			connected = true
			b.Reset()
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = 30 * time.Second
		}
		slog.Warn("change listener disconnected",
			"channel", l.channel,
			"error", err,
			"retry_in", wait.String(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// listen runs one connection: connect, LISTEN, then forward notifications
// until an error. onListening runs once LISTEN succeeds.
func (l *Listener) listen(ctx context.Context, onListening func()) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return fmt.Errorf("listener connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}

	listenerConnected.Set(1)
	defer listenerConnected.Set(0)
	onListening()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("wait for notification: %w", err)
		}

		ev, err := ParseEvent(n.Payload)
		if err != nil {
			slog.Warn("ignoring malformed change notification", "channel", n.Channel, "error", err)
			continue
		}

		eventsReceived.WithLabelValues(ev.Op).Inc()
		slog.Debug("change notification",
			"collection", ev.Collection,
			"op", ev.Op,
			"id", ev.ID,
		)
		l.pub.Publish(ev)
	}
}
