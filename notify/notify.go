/*
Package notify delivers engine events to users' notification channels.

PURPOSE:
  Implementations of generic.Notifier. The engine calls Notify after a
  state change has committed; delivery is at least once and best effort.

ADAPTERS:
  Log     - structured log line per event (default, and the fallback)
  AMQP    - RabbitMQ topic exchange, routing key = event kind
  Kafka   - one topic, message key = owner ID
  Fanout  - several notifiers, errors joined

SEE ALSO:
  - generic/notify.go: Event kinds and envelope
*/
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/warp/savings-engine/generic"
)

func envelope(owner generic.OwnerID, kind generic.EventKind, payload map[string]any, now time.Time) generic.Event {
	return generic.Event{
		ID:         uuid.NewString(),
		OwnerID:    owner,
		Kind:       kind,
		Payload:    payload,
		OccurredAt: now.UTC(),
	}
}

// =============================================================================
// LOG
// =============================================================================

type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "notify")}
}

func (l *Log) Notify(ctx context.Context, owner generic.OwnerID, kind generic.EventKind, payload map[string]any) error {
	l.logger.InfoContext(ctx, "event", "owner_id", owner, "kind", kind, "payload", payload)
	return nil
}

// =============================================================================
// FANOUT
// =============================================================================

// Fanout delivers to every notifier, even after one fails.
type Fanout []generic.Notifier

func (f Fanout) Notify(ctx context.Context, owner generic.OwnerID, kind generic.EventKind, payload map[string]any) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, owner, kind, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
