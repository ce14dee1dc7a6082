package generic

import (
	"context"
	"time"
)

// =============================================================================
// EVENTS - Fired after a successful state transition
// =============================================================================

type EventKind string

const (
	EventActivated        EventKind = "savings.activated"
	EventDeactivated      EventKind = "savings.deactivated"
	EventSpendSaved       EventKind = "savings.spend_saved"
	EventMilestone        EventKind = "savings.milestone"
	EventInterestCredited EventKind = "savings.interest_credited"
	EventWithdrawal       EventKind = "savings.withdrawal"
	EventDeposit          EventKind = "savings.deposit"
	EventFixedCreated     EventKind = "fixed.created"
	EventMaturityReminder EventKind = "fixed.maturity_reminder"
	EventMatured          EventKind = "fixed.matured"
	EventPaidOut          EventKind = "fixed.paid_out"
	EventAutoRenewed      EventKind = "fixed.auto_renewed"
)

// Event is the envelope adapters serialize.
type Event struct {
	ID         string         `json:"id"`
	OwnerID    OwnerID        `json:"owner_id"`
	Kind       EventKind      `json:"kind"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Notifier delivers events at least once, best effort. Callers log and
// continue on error; a notification failure never undoes a committed change.
type Notifier interface {
	Notify(ctx context.Context, owner OwnerID, kind EventKind, payload map[string]any) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, OwnerID, EventKind, map[string]any) error { return nil }
