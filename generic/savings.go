package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FLEXIBLE SAVINGS (spend-and-save)
// =============================================================================

// SavingsAccount is the flexible savings record. It is never deleted; a
// deactivated account keeps its balance and can be withdrawn from.
type SavingsAccount struct {
	ID                         string
	OwnerID                    OwnerID
	LedgerAccountID            AccountID
	IsActive                   bool
	SavingsPercentage          decimal.Decimal // (0, 100]
	MinTransactionAmount       Money
	TotalSavedFromSpending     Money
	TotalInterestEarned        Money
	TotalTransactionsProcessed int64
	LastAccruedOn              BusinessDate
	LastAutoSaveAt             *time.Time
	Version                    int64
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// ValidatePercentage enforces 0 < pct <= 100.
func ValidatePercentage(pct decimal.Decimal) error {
	if !pct.IsPositive() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return Invalid("savings_percentage", "must be in (0, 100], got %s", pct)
	}
	return nil
}

// SavingsMilestone records that an account crossed a threshold. Unique on
// (AccountID, Key) so each milestone fires once.
type SavingsMilestone struct {
	AccountID string
	Key       string
	Threshold Money
	ReachedAt time.Time
}

// =============================================================================
// FIXED-TERM SAVINGS
// =============================================================================

type FixedStatus string

const (
	FixedActive  FixedStatus = "active"
	FixedMatured FixedStatus = "matured"
	FixedPaidOut FixedStatus = "paid_out"
	// FixedClosed is a matured deposit that rolled into a successor.
	FixedClosed FixedStatus = "closed"
)

type FundingSource string

const (
	SourceWallet  FundingSource = "wallet"
	SourceSavings FundingSource = "savings"
	SourceBoth    FundingSource = "both"
)

func (s FundingSource) Valid() bool {
	return s == SourceWallet || s == SourceSavings || s == SourceBoth
}

type Purpose string

const (
	PurposeEducation      Purpose = "education"
	PurposeBusiness       Purpose = "business"
	PurposeInvestment     Purpose = "investment"
	PurposeEmergency      Purpose = "emergency"
	PurposeTravel         Purpose = "travel"
	PurposeWedding        Purpose = "wedding"
	PurposeVehicle        Purpose = "vehicle"
	PurposeHomeRenovation Purpose = "home_renovation"
	PurposeMedical        Purpose = "medical"
	PurposeRetirement     Purpose = "retirement"
	PurposeOther          Purpose = "other"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeEducation, PurposeBusiness, PurposeInvestment, PurposeEmergency,
		PurposeTravel, PurposeWedding, PurposeVehicle, PurposeHomeRenovation,
		PurposeMedical, PurposeRetirement, PurposeOther:
		return true
	}
	return false
}

// SourceSplit records how the principal was drawn.
type SourceSplit struct {
	FromWallet  Money
	FromSavings Money
}

// FixedSavingsAccount is a locked deposit. InterestRatePercent is resolved
// once at creation and never recalculated.
type FixedSavingsAccount struct {
	ID                  string
	OwnerID             OwnerID
	LedgerAccountID     AccountID
	Principal           Money
	Source              FundingSource
	SourceSplit         SourceSplit
	Purpose             Purpose
	PurposeDescription  string
	Term                Term
	InterestRatePercent decimal.Decimal
	AutoRenewalEnabled  bool
	Status              FixedStatus
	AccruedInterest     Money
	LastAccruedOn       BusinessDate
	MaturedAt           *time.Time
	PaidOutAt           *time.Time
	PredecessorID       string
	SuccessorID         string
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// MaturityInterest is the full-term interest at the locked rate.
func (f FixedSavingsAccount) MaturityInterest() Money {
	return InterestAtRate(f.Principal, f.InterestRatePercent, f.Term.Days())
}

// MaturityAmount is principal plus full-term interest.
func (f FixedSavingsAccount) MaturityAmount() Money {
	return NewMoney(f.Principal.Minor+f.MaturityInterest().Minor, f.Principal.Currency)
}

// FixedFilter narrows ListFixedSavings. Zero fields match everything.
type FixedFilter struct {
	OwnerID OwnerID
	Status  FixedStatus
}
