/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts travel as major-unit decimal strings ("1000.50") with the
  currency alongside. Minor units never appear on the wire.

TYPES:
  Ledger:   AccountDTO, EntryDTO, TransferDTO, OpenAccountRequest, TransferRequest
  Savings:  SavingsDTO, ActivateRequest, WithdrawRequest, DepositRequest, SettingsRequest
  Spend:    SpendEventRequest, SpendResultDTO
  Fixed:    FixedDTO, CreateFixedRequest, QuoteRequest, QuoteDTO
  Accrual:  AccrualRunRequest, ReportDTO, RunDTO
  KYC:      TierDTO, SetTierRequest, EligibilityRequest

VALIDATION:
  Validation is done in handlers and the domain, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/savings-engine/generic"
	"github.com/warp/savings-engine/kyc"
	"github.com/warp/savings-engine/savings"
)

// =============================================================================
// LEDGER
// =============================================================================

type AccountDTO struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Kind      string `json:"kind"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	Version   int64  `json:"version"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type OpenAccountRequest struct {
	OwnerID  string `json:"owner_id"`
	Kind     string `json:"kind"` // wallet | settlement
	Name     string `json:"name,omitempty"`
	Currency string `json:"currency,omitempty"`
}

type EntryDTO struct {
	ID             string  `json:"id"`
	AccountID      string  `json:"account_id"`
	OwnerID        string  `json:"owner_id"`
	Direction      string  `json:"direction"`
	Amount         string  `json:"amount"`
	Currency       string  `json:"currency"`
	BalanceAfter   string  `json:"balance_after"`
	Reference      string  `json:"reference"`
	Kind           string  `json:"kind"`
	Movement       string  `json:"movement"`
	RelatedEntryID *string `json:"related_entry_id,omitempty"`
	Seq            int64   `json:"seq"`
	Memo           string  `json:"memo,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

type TransferRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Movement  string `json:"movement,omitempty"`
	Reference string `json:"reference"`
	Memo      string `json:"memo,omitempty"`
}

type TransferDTO struct {
	Debit    EntryDTO `json:"debit"`
	Credit   EntryDTO `json:"credit"`
	Replayed bool     `json:"replayed"`
}

type VerifyDTO struct {
	AccountID  string `json:"account_id"`
	Balance    string `json:"balance"`
	Entries    int    `json:"entries"`
	Consistent bool   `json:"consistent"`
	Error      string `json:"error,omitempty"`
}

// =============================================================================
// FLEXIBLE SAVINGS
// =============================================================================

type ActivateRequest struct {
	OwnerID              string  `json:"owner_id"`
	SavingsPercentage    string  `json:"savings_percentage"`
	MinTransactionAmount *string `json:"min_transaction_amount,omitempty"`
	InitialDeposit       string  `json:"initial_deposit,omitempty"`
	Reference            string  `json:"reference,omitempty"`
}

type OwnerRequest struct {
	OwnerID string `json:"owner_id"`
}

type WithdrawRequest struct {
	OwnerID     string `json:"owner_id"`
	Amount      string `json:"amount"`
	Destination string `json:"destination,omitempty"`
	Reference   string `json:"reference,omitempty"`
}

type DepositRequest struct {
	OwnerID   string `json:"owner_id"`
	Amount    string `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

type SettingsRequest struct {
	SavingsPercentage    *string `json:"savings_percentage,omitempty"`
	MinTransactionAmount *string `json:"min_transaction_amount,omitempty"`
}

type MilestoneDTO struct {
	Key       string `json:"key"`
	Threshold string `json:"threshold"`
	ReachedAt string `json:"reached_at"`
}

type SavingsDTO struct {
	ID                         string         `json:"id"`
	OwnerID                    string         `json:"owner_id"`
	LedgerAccountID            string         `json:"ledger_account_id"`
	IsActive                   bool           `json:"is_active"`
	SavingsPercentage          string         `json:"savings_percentage"`
	MinTransactionAmount       string         `json:"min_transaction_amount"`
	Currency                   string         `json:"currency"`
	Balance                    string         `json:"balance,omitempty"`
	DailyInterest              string         `json:"daily_interest,omitempty"`
	TotalSavedFromSpending     string         `json:"total_saved_from_spending"`
	TotalInterestEarned        string         `json:"total_interest_earned"`
	TotalTransactionsProcessed int64          `json:"total_transactions_processed"`
	LastAccruedOn              string         `json:"last_accrued_on"`
	LastAutoSaveAt             *string        `json:"last_auto_save_at,omitempty"`
	Milestones                 []MilestoneDTO `json:"milestones,omitempty"`
}

// =============================================================================
// SPEND EVENTS
// =============================================================================

type SpendEventRequest struct {
	ID         string `json:"id"`
	OwnerID    string `json:"owner_id"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency,omitempty"`
	Direction  string `json:"direction"`
	Status     string `json:"status"`
	OccurredAt string `json:"occurred_at,omitempty"`
}

type SpendResultDTO struct {
	Saved      string         `json:"saved"`
	SkipReason string         `json:"skip_reason,omitempty"`
	Replayed   bool           `json:"replayed"`
	Milestones []MilestoneDTO `json:"milestones,omitempty"`
}

// =============================================================================
// FIXED SAVINGS
// =============================================================================

type CreateFixedRequest struct {
	OwnerID            string `json:"owner_id"`
	Principal          string `json:"principal"`
	Source             string `json:"source,omitempty"`
	Purpose            string `json:"purpose,omitempty"`
	PurposeDescription string `json:"purpose_description,omitempty"`
	StartDate          string `json:"start_date,omitempty"`
	PaybackDate        string `json:"payback_date,omitempty"`
	Days               int    `json:"days,omitempty"`
	AutoRenewal        bool   `json:"auto_renewal"`
	Reference          string `json:"reference,omitempty"`
}

type FixedDTO struct {
	ID                  string  `json:"id"`
	OwnerID             string  `json:"owner_id"`
	LedgerAccountID     string  `json:"ledger_account_id"`
	Currency            string  `json:"currency"`
	Principal           string  `json:"principal"`
	Source              string  `json:"source"`
	FromWallet          string  `json:"from_wallet"`
	FromSavings         string  `json:"from_savings"`
	Purpose             string  `json:"purpose"`
	PurposeDescription  string  `json:"purpose_description,omitempty"`
	StartDate           string  `json:"start_date"`
	PaybackDate         string  `json:"payback_date"`
	DurationDays        int     `json:"duration_days"`
	InterestRatePercent string  `json:"interest_rate_percent"`
	AutoRenewalEnabled  bool    `json:"auto_renewal_enabled"`
	Status              string  `json:"status"`
	AccruedInterest     string  `json:"accrued_interest"`
	LastAccruedOn       string  `json:"last_accrued_on"`
	MaturedAt           *string `json:"matured_at,omitempty"`
	PaidOutAt           *string `json:"paid_out_at,omitempty"`
	PredecessorID       string  `json:"predecessor_id,omitempty"`
	SuccessorID         string  `json:"successor_id,omitempty"`
}

type PayoutDTO struct {
	Fixed    FixedDTO    `json:"fixed"`
	Transfer TransferDTO `json:"transfer"`
}

type QuoteRequest struct {
	Principal   string `json:"principal"`
	StartDate   string `json:"start_date,omitempty"`
	PaybackDate string `json:"payback_date,omitempty"`
	Days        int    `json:"days,omitempty"`
}

type QuoteDTO struct {
	Principal         string `json:"principal"`
	Currency          string `json:"currency"`
	StartDate         string `json:"start_date"`
	PaybackDate       string `json:"payback_date"`
	Days              int    `json:"days"`
	AnnualRatePercent string `json:"annual_rate_percent"`
	DailyRatePercent  string `json:"daily_rate_percent"`
	Interest          string `json:"interest"`
	MaturityAmount    string `json:"maturity_amount"`
}

// =============================================================================
// ACCRUAL
// =============================================================================

type AccrualRunRequest struct {
	BusinessDate string `json:"business_date,omitempty"` // defaults to today
}

type FailureDTO struct {
	AccountID string `json:"account_id"`
	Product   string `json:"product"`
	Stage     string `json:"stage"`
	Error     string `json:"error"`
}

type ReportDTO struct {
	BusinessDate string       `json:"business_date"`
	Processed    int          `json:"processed"`
	Skipped      int          `json:"skipped"`
	Credited     string       `json:"credited"`
	Matured      int          `json:"matured"`
	Settled      int          `json:"settled"`
	Reminders    int          `json:"reminders"`
	Failures     []FailureDTO `json:"failures"`
	Cancelled    bool         `json:"cancelled"`
	DurationMS   int64        `json:"duration_ms"`
}

type RunDTO struct {
	BusinessDate     string  `json:"business_date"`
	AccountID        string  `json:"account_id"`
	Product          string  `json:"product"`
	Status           string  `json:"status"`
	InterestCredited string  `json:"interest_credited"`
	Error            string  `json:"error,omitempty"`
	Attempts         int     `json:"attempts"`
	StartedAt        string  `json:"started_at"`
	CompletedAt      *string `json:"completed_at,omitempty"`
}

// =============================================================================
// KYC
// =============================================================================

type TierDTO struct {
	OwnerID        string  `json:"owner_id"`
	Level          string  `json:"level"`
	DailyLimit     *string `json:"daily_limit"`
	MaxBalance     *string `json:"max_balance"`
	SpentToday     string  `json:"spent_today"`
	RemainingToday *string `json:"remaining_today"`
	BusinessDate   string  `json:"business_date"`
}

type SetTierRequest struct {
	Level string `json:"level"`
	// Profile, when present, must be eligible for Level.
	Profile *kyc.Profile `json:"profile,omitempty"`
}

type EligibilityRequest struct {
	Profile kyc.Profile `json:"profile"`
	Target  string      `json:"target"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func amount(m generic.Money) string { return m.Decimal().StringFixed(m.Currency.Exponent()) }

func optionalAmount(m *generic.Money) *string {
	if m == nil {
		return nil
	}
	s := amount(*m)
	return &s
}

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func optionalTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := timestamp(*t)
	return &s
}

func toAccountDTO(a generic.LedgerAccount) AccountDTO {
	return AccountDTO{
		ID:        string(a.ID),
		OwnerID:   string(a.OwnerID),
		Kind:      string(a.Kind),
		Currency:  string(a.Currency()),
		Balance:   amount(a.Balance),
		Version:   a.Version,
		CreatedAt: timestamp(a.CreatedAt),
		UpdatedAt: timestamp(a.UpdatedAt),
	}
}

func toEntryDTO(e generic.LedgerEntry) EntryDTO {
	dto := EntryDTO{
		ID:           string(e.ID),
		AccountID:    string(e.AccountID),
		OwnerID:      string(e.OwnerID),
		Direction:    string(e.Direction),
		Amount:       amount(e.Amount),
		Currency:     string(e.Amount.Currency),
		BalanceAfter: amount(e.BalanceAfter),
		Reference:    e.Reference,
		Kind:         string(e.Kind),
		Movement:     string(e.Movement),
		Seq:          e.Seq,
		Memo:         e.Memo,
		CreatedAt:    timestamp(e.CreatedAt),
	}
	if e.RelatedEntryID != nil {
		id := string(*e.RelatedEntryID)
		dto.RelatedEntryID = &id
	}
	return dto
}

func toTransferDTO(r generic.TransferResult) TransferDTO {
	return TransferDTO{Debit: toEntryDTO(r.Debit), Credit: toEntryDTO(r.Credit), Replayed: r.Replayed}
}

func toMilestoneDTOs(ms []generic.SavingsMilestone) []MilestoneDTO {
	out := make([]MilestoneDTO, 0, len(ms))
	for _, m := range ms {
		out = append(out, MilestoneDTO{Key: m.Key, Threshold: amount(m.Threshold), ReachedAt: timestamp(m.ReachedAt)})
	}
	return out
}

func toSavingsDTO(a generic.SavingsAccount) SavingsDTO {
	return SavingsDTO{
		ID:                         a.ID,
		OwnerID:                    string(a.OwnerID),
		LedgerAccountID:            string(a.LedgerAccountID),
		IsActive:                   a.IsActive,
		SavingsPercentage:          a.SavingsPercentage.String(),
		MinTransactionAmount:       amount(a.MinTransactionAmount),
		Currency:                   string(a.TotalSavedFromSpending.Currency),
		TotalSavedFromSpending:     amount(a.TotalSavedFromSpending),
		TotalInterestEarned:        amount(a.TotalInterestEarned),
		TotalTransactionsProcessed: a.TotalTransactionsProcessed,
		LastAccruedOn:              a.LastAccruedOn.String(),
		LastAutoSaveAt:             optionalTimestamp(a.LastAutoSaveAt),
	}
}

func toSummaryDTO(s savings.Summary) SavingsDTO {
	dto := toSavingsDTO(s.Account)
	dto.Balance = amount(s.Balance)
	dto.DailyInterest = amount(s.DailyInterest)
	dto.Milestones = toMilestoneDTOs(s.Milestones)
	return dto
}

func toFixedDTO(f generic.FixedSavingsAccount) FixedDTO {
	return FixedDTO{
		ID:                  f.ID,
		OwnerID:             string(f.OwnerID),
		LedgerAccountID:     string(f.LedgerAccountID),
		Currency:            string(f.Principal.Currency),
		Principal:           amount(f.Principal),
		Source:              string(f.Source),
		FromWallet:          amount(f.SourceSplit.FromWallet),
		FromSavings:         amount(f.SourceSplit.FromSavings),
		Purpose:             string(f.Purpose),
		PurposeDescription:  f.PurposeDescription,
		StartDate:           f.Term.Start.String(),
		PaybackDate:         f.Term.Payback.String(),
		DurationDays:        f.Term.Days(),
		InterestRatePercent: f.InterestRatePercent.String(),
		AutoRenewalEnabled:  f.AutoRenewalEnabled,
		Status:              string(f.Status),
		AccruedInterest:     amount(f.AccruedInterest),
		LastAccruedOn:       f.LastAccruedOn.String(),
		MaturedAt:           optionalTimestamp(f.MaturedAt),
		PaidOutAt:           optionalTimestamp(f.PaidOutAt),
		PredecessorID:       f.PredecessorID,
		SuccessorID:         f.SuccessorID,
	}
}

func toQuoteDTO(p generic.MaturityProjection) QuoteDTO {
	return QuoteDTO{
		Principal:         amount(p.Principal),
		Currency:          string(p.Principal.Currency),
		StartDate:         p.Term.Start.String(),
		PaybackDate:       p.Term.Payback.String(),
		Days:              p.Days,
		AnnualRatePercent: p.AnnualRatePercent.String(),
		DailyRatePercent:  p.DailyRatePercent.String(),
		Interest:          amount(p.Interest),
		MaturityAmount:    amount(p.MaturityAmount),
	}
}

func toReportDTO(r savings.Report) ReportDTO {
	dto := ReportDTO{
		BusinessDate: r.BusinessDate.String(),
		Processed:    r.Processed,
		Skipped:      r.Skipped,
		Credited:     amount(r.Credited),
		Matured:      r.Matured,
		Settled:      r.Settled,
		Reminders:    r.Reminders,
		Failures:     make([]FailureDTO, 0, len(r.Failures)),
		Cancelled:    r.Cancelled,
		DurationMS:   r.Duration.Milliseconds(),
	}
	for _, f := range r.Failures {
		dto.Failures = append(dto.Failures, FailureDTO{
			AccountID: f.AccountID,
			Product:   string(f.Product),
			Stage:     f.Stage,
			Error:     f.Err.Error(),
		})
	}
	return dto
}

func toRunDTO(r generic.DailyAccrualRun) RunDTO {
	return RunDTO{
		BusinessDate:     r.BusinessDate.String(),
		AccountID:        r.AccountID,
		Product:          string(r.Product),
		Status:           string(r.Status),
		InterestCredited: amount(r.InterestCredited),
		Error:            r.Error,
		Attempts:         r.Attempts,
		StartedAt:        timestamp(r.StartedAt),
		CompletedAt:      optionalTimestamp(r.CompletedAt),
	}
}
