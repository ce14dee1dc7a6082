package generic

import "time"

// =============================================================================
// DAILY ACCRUAL RUN - The durable idempotency ledger for nightly accrual
// =============================================================================

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

type Product string

const (
	ProductFlexible Product = "flexible"
	ProductFixed    Product = "fixed"
)

// DailyAccrualRun is keyed by (BusinessDate, AccountID). At most one row per
// key exists and a completed row is never rewritten, so re-running a date
// skips every account already credited for it.
type DailyAccrualRun struct {
	BusinessDate     BusinessDate
	AccountID        string // savings or fixed savings record ID
	Product          Product
	Status           RunStatus
	InterestCredited Money
	Error            string
	Attempts         int
	StartedAt        time.Time
	CompletedAt      *time.Time
}

// AccrualReference is the ledger reference for an account's credit on a date.
// A duplicate credit for the same day collides on it.
func AccrualReference(date BusinessDate, accountID string) string {
	return "interest:" + date.String() + ":" + accountID
}
