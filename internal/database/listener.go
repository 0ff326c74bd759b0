package database

import (
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/reelforge/orchestrator/pkg/logging"
)

// Notifier wraps a lib/pq LISTEN/NOTIFY connection, giving the
// dispatcher the "asynchronous DB notification channel" wake source
// spec.md §4.7 calls for, on top of its bounded poll.
type Notifier struct {
	listener *pq.Listener
	log      *zap.SugaredLogger
}

// NewNotifier opens a dedicated LISTEN connection on channel. This
// connection is intentionally separate from the pgx/sqlx pool: a
// LISTEN session is long-lived and must not compete with the bounded
// pool used for short transactions.
func NewNotifier(dsn, channel string, log *zap.SugaredLogger) (*Notifier, error) {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warnw("listener event",
				logging.NewFields().Component("database").Operation("listen").Error(err).Pairs()...)
		}
	}
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, reportProblem)
	if err := listener.Listen(channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen on channel %s: %w", channel, err)
	}
	return &Notifier{listener: listener, log: log}, nil
}

// Notifications exposes the raw notification channel; a nil value
// delivered on it (as pq does on reconnect) should be treated by the
// caller as "wake and re-poll, don't trust the payload".
func (n *Notifier) Notifications() <-chan *pq.Notification {
	return n.listener.Notify
}

// Close releases the LISTEN connection.
func (n *Notifier) Close() error {
	return n.listener.Close()
}

// Notify sends a NOTIFY on channel with payload using a short-lived
// connection from the pool — never the long-lived listener connection.
func Notify(p *Pool, channel, payload string) error {
	_, err := p.sqlx.Exec("SELECT pg_notify($1, $2)", channel, payload)
	return err
}
