/*
handlers.go - HTTP API handlers for the savings engine

PURPOSE:
  Exposes the ledger, savings lifecycle, accrual and tier limits via REST.
  Handles HTTP request/response, JSON serialization, and delegates to
  domain logic.

ENDPOINTS:
  Ledger:
    POST   /api/accounts                   Open a wallet or settlement account
    GET    /api/accounts/{id}              Account with balance and version
    GET    /api/accounts/{id}/entries      Entry history in sequence order
    GET    /api/accounts/{id}/verify       Replay entries against the balance
    POST   /api/transfers                  Idempotent double-entry transfer
    POST   /api/entries/{id}/reverse       Compensating reversal

  Flexible savings:
    POST   /api/savings/activate           Create or reactivate
    POST   /api/savings/deactivate         Stop spend-saves and accrual
    POST   /api/savings/deposit            Wallet -> savings
    POST   /api/savings/withdraw           Savings -> wallet (or another account)
    GET    /api/savings/{owner}            Summary with balance and milestones
    PUT    /api/savings/{owner}/settings   Percentage / minimum transaction
    POST   /api/spend-events               Spending transaction callback

  Fixed savings:
    POST   /api/interest/quote             Maturity projection, nothing stored
    POST   /api/fixed                      Lock a deposit
    GET    /api/fixed?owner_id=&status=    List deposits
    GET    /api/fixed/{id}                 One deposit
    POST   /api/fixed/{id}/payout          Settle a matured deposit
    POST   /api/fixed/{id}/renew           Roll a matured deposit over

  Accrual:
    POST   /api/accrual/runs               Run accrual for a business date
    GET    /api/accrual/runs/{date}        Per-account run records

  Tiers:
    GET    /api/kyc/{owner}/tier           Level, limits and today's usage
    PUT    /api/kyc/{owner}/tier           Change level
    POST   /api/kyc/eligibility            Upgrade eligibility check

  Scenarios:
    GET    /api/scenarios                  List demo scenarios
    POST   /api/scenarios/load             Seed a demo scenario

IDEMPOTENCY:
  Money-moving endpoints take a "reference" in the body. The Idempotency-Key
  header is used when the body omits it. Replaying a reference returns the
  original entries with "replayed": true.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, currency mismatch
  - 402: Insufficient funds
  - 404: Resource not found
  - 409: Conflict (state transition, duplicate, retries exhausted)
  - 422: Tier limit exceeded
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Owner IDs in paths and bodies are trusted; put the
  engine behind the platform gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/savings-engine/generic"
	"github.com/warp/savings-engine/kyc"
	"github.com/warp/savings-engine/savings"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *savings.Service
	Ledger  *generic.Ledger
	Guard   *kyc.Guard
	Tiers   *kyc.StaticTierProvider
	Logger  *slog.Logger

	currency generic.Currency

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler wires a handler around the savings service and its ledger.
func NewHandler(svc *savings.Service, guard *kyc.Guard, tiers *kyc.StaticTierProvider, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Service:  svc,
		Ledger:   svc.Ledger(),
		Guard:    guard,
		Tiers:    tiers,
		Logger:   logger,
		currency: svc.Config().Currency,
	}
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// OpenAccount opens (or returns) an owner's wallet or a named settlement
// account. Savings accounts are opened through their lifecycle endpoints.
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if !decode(w, r, &req) {
		return
	}
	currency, err := h.parseCurrency(req.Currency)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var acct generic.LedgerAccount
	switch generic.AccountKind(req.Kind) {
	case generic.AccountWallet:
		if req.OwnerID == "" {
			writeError(w, http.StatusBadRequest, "owner_id is required", nil)
			return
		}
		acct, err = h.Ledger.EnsureAccount(r.Context(), generic.OwnerID(req.OwnerID), generic.AccountWallet, currency)
	case generic.AccountSettlement:
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name is required for settlement accounts", nil)
			return
		}
		acct, err = h.Ledger.EnsureSettlementAccount(r.Context(), req.Name, currency)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("kind must be wallet or settlement, got %q", req.Kind), nil)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acct))
}

// GetAccount returns an account with its current balance.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Ledger.Account(r.Context(), generic.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// ListEntries returns an account's entries in sequence order.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	id := generic.AccountID(chi.URLParam(r, "id"))
	if _, err := h.Ledger.Account(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	entries, err := h.Ledger.Entries(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// VerifyAccount replays the entry history. A mismatch is reported in the body
// with 200; only a missing account is an error.
func (h *Handler) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	id := generic.AccountID(chi.URLParam(r, "id"))
	acct, err := h.Ledger.Account(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Ledger.Verify(r.Context(), id)
	dto := VerifyDTO{AccountID: string(id), Balance: amount(acct.Balance), Entries: res.Entries, Consistent: err == nil}
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "ledger verification failed", "account_id", id, "error", err)
		dto.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, dto)
}

// Transfer moves funds between any two accounts. Movement is system when a
// settlement account is involved, outgoing across owners, internal otherwise.
// A client may ask for a stricter movement, never a looser one.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decode(w, r, &req) {
		return
	}
	currency, err := h.parseCurrency(req.Currency)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amt, err := parseAmount("amount", req.Amount, currency)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	kind := generic.EntryKind(req.Kind)
	if kind == "" {
		kind = generic.EntryTransfer
	}
	if !kind.Valid() || kind == generic.EntryReversal {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid entry kind %q", req.Kind), nil)
		return
	}

	from, to := generic.AccountID(req.From), generic.AccountID(req.To)
	movement, err := h.inferMovement(r, from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Movement != "" {
		requested := generic.Movement(req.Movement)
		if movementRank(requested) < movementRank(movement) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("movement %q not allowed for this transfer, want %q or stricter", req.Movement, movement), nil)
			return
		}
		movement = requested
	}

	res, err := h.Ledger.Transfer(r.Context(), generic.TransferRequest{
		From:      from,
		To:        to,
		Amount:    amt,
		Kind:      kind,
		Reference: reference(r, req.Reference),
		Movement:  movement,
		Memo:      req.Memo,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, createdOrReplayed(res.Applied()), toTransferDTO(res))
}

func (h *Handler) inferMovement(r *http.Request, from, to generic.AccountID) (generic.Movement, error) {
	src, err := h.Ledger.Account(r.Context(), from)
	if err != nil {
		return "", err
	}
	dst, err := h.Ledger.Account(r.Context(), to)
	if err != nil {
		return "", err
	}
	switch {
	case src.Kind == generic.AccountSettlement || dst.Kind == generic.AccountSettlement:
		return generic.MovementSystem, nil
	case src.OwnerID != dst.OwnerID:
		return generic.MovementOutgoing, nil
	default:
		return generic.MovementInternal, nil
	}
}

// movementRank orders movements by how many limits the guard applies.
// Unknown values rank lowest so they are refused.
func movementRank(m generic.Movement) int {
	switch m {
	case generic.MovementSystem:
		return 1
	case generic.MovementInternal:
		return 2
	case generic.MovementOutgoing:
		return 3
	default:
		return 0
	}
}

// ReverseEntry posts the compensating pair for the transfer behind an entry.
func (h *Handler) ReverseEntry(w http.ResponseWriter, r *http.Request) {
	res, err := h.Ledger.Reverse(r.Context(), generic.EntryID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, createdOrReplayed(res.Applied()), toTransferDTO(res))
}

// =============================================================================
// FLEXIBLE SAVINGS HANDLERS
// =============================================================================

func (h *Handler) ActivateSavings(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if !decode(w, r, &req) {
		return
	}
	pct, err := decimal.NewFromString(strings.TrimSpace(req.SavingsPercentage))
	if err != nil {
		h.fail(w, r, generic.Invalid("savings_percentage", "not a number: %q", req.SavingsPercentage))
		return
	}
	in := savings.ActivateRequest{
		OwnerID:           generic.OwnerID(req.OwnerID),
		SavingsPercentage: pct,
		InitialDeposit:    generic.Zero(h.currency),
		Reference:         reference(r, req.Reference),
	}
	if req.MinTransactionAmount != nil {
		m, err := parseAmount("min_transaction_amount", *req.MinTransactionAmount, h.currency)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		in.MinTransactionAmount = &m
	}
	if req.InitialDeposit != "" {
		if in.InitialDeposit, err = parseAmount("initial_deposit", req.InitialDeposit, h.currency); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	acc, err := h.Service.Activate(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSavingsDTO(acc))
}

func (h *Handler) DeactivateSavings(w http.ResponseWriter, r *http.Request) {
	var req OwnerRequest
	if !decode(w, r, &req) {
		return
	}
	acc, err := h.Service.Deactivate(r.Context(), generic.OwnerID(req.OwnerID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSavingsDTO(acc))
}

func (h *Handler) DepositSavings(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !decode(w, r, &req) {
		return
	}
	amt, err := parseAmount("amount", req.Amount, h.currency)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Service.Deposit(r.Context(), savings.DepositRequest{
		OwnerID:   generic.OwnerID(req.OwnerID),
		Amount:    amt,
		Reference: reference(r, req.Reference),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, createdOrReplayed(res.Applied()), toTransferDTO(res))
}

func (h *Handler) WithdrawSavings(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if !decode(w, r, &req) {
		return
	}
	amt, err := parseAmount("amount", req.Amount, h.currency)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Service.Withdraw(r.Context(), savings.WithdrawRequest{
		OwnerID:     generic.OwnerID(req.OwnerID),
		Amount:      amt,
		Destination: generic.AccountID(req.Destination),
		Reference:   reference(r, req.Reference),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, createdOrReplayed(res.Applied()), toTransferDTO(res))
}

func (h *Handler) GetSavings(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Service.GetSavings(r.Context(), generic.OwnerID(chi.URLParam(r, "owner")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(sum))
}

func (h *Handler) UpdateSavingsSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if !decode(w, r, &req) {
		return
	}
	var upd savings.SettingsUpdate
	if req.SavingsPercentage != nil {
		pct, err := decimal.NewFromString(strings.TrimSpace(*req.SavingsPercentage))
		if err != nil {
			h.fail(w, r, generic.Invalid("savings_percentage", "not a number: %q", *req.SavingsPercentage))
			return
		}
		upd.SavingsPercentage = &pct
	}
	if req.MinTransactionAmount != nil {
		m, err := parseAmount("min_transaction_amount", *req.MinTransactionAmount, h.currency)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		upd.MinTransactionAmount = &m
	}
	acc, err := h.Service.UpdateSettings(r.Context(), generic.OwnerID(chi.URLParam(r, "owner")), upd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSavingsDTO(acc))
}

// SpendEvent is the payments-side callback for a wallet transaction.
// Skipped transactions answer 200 with a skip_reason.
func (h *Handler) SpendEvent(w http.ResponseWriter, r *http.Request) {
	var req SpendEventRequest
	if !decode(w, r, &req) {
		return
	}
	currency, err := h.parseCurrency(req.Currency)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amt, err := parseAmount("amount", req.Amount, currency)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	occurred := time.Time{}
	if req.OccurredAt != "" {
		if occurred, err = time.Parse(time.RFC3339, req.OccurredAt); err != nil {
			h.fail(w, r, generic.Invalid("occurred_at", "must be RFC 3339: %q", req.OccurredAt))
			return
		}
	}

	res, err := h.Service.OnSpendingTransaction(r.Context(), savings.SpendingTransaction{
		ID:         req.ID,
		OwnerID:    generic.OwnerID(req.OwnerID),
		Amount:     amt,
		Direction:  generic.Direction(req.Direction),
		Status:     savings.SpendStatus(req.Status),
		OccurredAt: occurred,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SpendResultDTO{
		Saved:      amount(res.Saved),
		SkipReason: res.SkipReason,
		Replayed:   res.Replayed,
		Milestones: toMilestoneDTOs(res.Milestones),
	})
}

// =============================================================================
// FIXED SAVINGS HANDLERS
// =============================================================================

// Quote projects interest and maturity for a principal and term.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !decode(w, r, &req) {
		return
	}
	principal, err := parseAmount("principal", req.Principal, h.currency)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	term, err := h.parseTerm(req.StartDate, req.PaybackDate, req.Days)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.Service.Quote(principal, term)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteDTO(p))
}

func (h *Handler) parseTerm(start, payback string, days int) (generic.Term, error) {
	s := generic.Today(h.Ledger.Clock())
	if start != "" {
		d, err := generic.ParseBusinessDate(start)
		if err != nil {
			return generic.Term{}, generic.Invalid("start_date", "%v", err)
		}
		s = d
	}
	var t generic.Term
	switch {
	case payback != "":
		d, err := generic.ParseBusinessDate(payback)
		if err != nil {
			return generic.Term{}, generic.Invalid("payback_date", "%v", err)
		}
		t = generic.Term{Start: s, Payback: d}
	case days > 0:
		t = generic.NewTerm(s, days)
	default:
		return generic.Term{}, generic.Invalid("payback_date", "payback_date or days required")
	}
	return t, t.Validate()
}

func (h *Handler) CreateFixed(w http.ResponseWriter, r *http.Request) {
	var req CreateFixedRequest
	if !decode(w, r, &req) {
		return
	}
	principal, err := parseAmount("principal", req.Principal, h.currency)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	in := savings.CreateFixedRequest{
		OwnerID:            generic.OwnerID(req.OwnerID),
		Principal:          principal,
		Source:             generic.FundingSource(req.Source),
		Purpose:            generic.Purpose(req.Purpose),
		PurposeDescription: req.PurposeDescription,
		Days:               req.Days,
		AutoRenewal:        req.AutoRenewal,
		Reference:          reference(r, req.Reference),
	}
	if in.Source == "" {
		in.Source = generic.SourceWallet
	}
	if in.Purpose == "" {
		in.Purpose = generic.PurposeOther
	}
	if req.StartDate != "" {
		if in.StartDate, err = generic.ParseBusinessDate(req.StartDate); err != nil {
			h.fail(w, r, generic.Invalid("start_date", "%v", err))
			return
		}
	}
	if req.PaybackDate != "" {
		if in.PaybackDate, err = generic.ParseBusinessDate(req.PaybackDate); err != nil {
			h.fail(w, r, generic.Invalid("payback_date", "%v", err))
			return
		}
	}

	f, err := h.Service.CreateFixedSavings(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFixedDTO(f))
}

func (h *Handler) ListFixed(w http.ResponseWriter, r *http.Request) {
	filter := generic.FixedFilter{
		OwnerID: generic.OwnerID(r.URL.Query().Get("owner_id")),
		Status:  generic.FixedStatus(r.URL.Query().Get("status")),
	}
	list, err := h.Service.ListFixed(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]FixedDTO, len(list))
	for i, f := range list {
		dtos[i] = toFixedDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetFixed(w http.ResponseWriter, r *http.Request) {
	f, err := h.Service.GetFixed(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFixedDTO(f))
}

func (h *Handler) PayOutFixed(w http.ResponseWriter, r *http.Request) {
	f, res, err := h.Service.PayOut(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PayoutDTO{Fixed: toFixedDTO(f), Transfer: toTransferDTO(res)})
}

func (h *Handler) RenewFixed(w http.ResponseWriter, r *http.Request) {
	f, err := h.Service.AutoRenew(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFixedDTO(f))
}

// =============================================================================
// ACCRUAL HANDLERS
// =============================================================================

// RunAccrual triggers accrual for a business date (default: today). Re-running
// a date only picks up accounts that did not complete.
func (h *Handler) RunAccrual(w http.ResponseWriter, r *http.Request) {
	var req AccrualRunRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	date := generic.Today(h.Ledger.Clock())
	if req.BusinessDate != "" {
		d, err := generic.ParseBusinessDate(req.BusinessDate)
		if err != nil {
			h.fail(w, r, generic.Invalid("business_date", "%v", err))
			return
		}
		date = d
	}

	report, err := h.Service.RunAccrual(r.Context(), date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

func (h *Handler) ListAccrualRuns(w http.ResponseWriter, r *http.Request) {
	date, err := generic.ParseBusinessDate(chi.URLParam(r, "date"))
	if err != nil {
		h.fail(w, r, generic.Invalid("date", "%v", err))
		return
	}
	runs, err := h.Ledger.Store().ListAccrualRuns(r.Context(), date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TIER HANDLERS
// =============================================================================

func (h *Handler) GetTier(w http.ResponseWriter, r *http.Request) {
	owner := generic.OwnerID(chi.URLParam(r, "owner"))
	h.writeTier(w, r, owner)
}

func (h *Handler) writeTier(w http.ResponseWriter, r *http.Request, owner generic.OwnerID) {
	tier, err := h.Tiers.TierFor(r.Context(), owner)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	today := generic.Today(h.Ledger.Clock())
	usage, err := h.Guard.Usage(r.Context(), h.Ledger.Store(), owner, h.currency, today)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dto := TierDTO{
		OwnerID:      string(owner),
		Level:        string(tier.Level),
		DailyLimit:   optionalAmount(tier.DailyTransactionLimit),
		MaxBalance:   optionalAmount(tier.MaxBalanceLimit),
		SpentToday:   amount(usage.Spent),
		BusinessDate: today.String(),
	}
	if !usage.Unlimited {
		dto.RemainingToday = optionalAmount(&usage.Remaining)
	}
	writeJSON(w, http.StatusOK, dto)
}

// SetTier changes an owner's level. When a profile is supplied the move must
// pass the upgrade eligibility check; without one it is an operator override.
func (h *Handler) SetTier(w http.ResponseWriter, r *http.Request) {
	owner := generic.OwnerID(chi.URLParam(r, "owner"))
	var req SetTierRequest
	if !decode(w, r, &req) {
		return
	}
	level, err := kyc.ParseLevel(req.Level)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Profile != nil {
		profile := *req.Profile
		if profile.Level == "" {
			profile.Level = h.Tiers.Level(owner)
		}
		elig, err := kyc.CheckUpgrade(profile, level)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if !elig.Eligible {
			writeJSON(w, http.StatusUnprocessableEntity, elig)
			return
		}
	}
	if err := h.Tiers.SetLevel(owner, level); err != nil {
		h.fail(w, r, err)
		return
	}
	h.Logger.InfoContext(r.Context(), "tier changed", "owner_id", owner, "level", level)
	h.writeTier(w, r, owner)
}

func (h *Handler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	var req EligibilityRequest
	if !decode(w, r, &req) {
		return
	}
	target, err := kyc.ParseLevel(req.Target)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	elig, err := kyc.CheckUpgrade(req.Profile, target)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, elig)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) parseCurrency(s string) (generic.Currency, error) {
	if s == "" {
		return h.currency, nil
	}
	c, err := generic.ParseCurrency(s)
	if err != nil {
		return "", generic.Invalid("currency", "%v", err)
	}
	return c, nil
}

func parseAmount(field, s string, c generic.Currency) (generic.Money, error) {
	if strings.TrimSpace(s) == "" {
		return generic.Money{}, generic.Invalid(field, "required")
	}
	m, err := generic.ParseMoney(s, c)
	if err != nil {
		return generic.Money{}, generic.Invalid(field, "%v", err)
	}
	return m, nil
}

// reference prefers the body's reference and falls back to Idempotency-Key.
func reference(r *http.Request, body string) string {
	if body != "" {
		return body
	}
	return r.Header.Get("Idempotency-Key")
}

// createdOrReplayed maps a transfer outcome to 201, or 200 for a replay.
func createdOrReplayed(applied error) int {
	if errors.Is(applied, generic.ErrAlreadyApplied) {
		return http.StatusOK
	}
	return http.StatusCreated
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// fail maps a domain error onto a status code.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, "Internal error", err)
		return
	}

	var limitErr *generic.LimitExceededError
	if errors.As(err, &limitErr) {
		writeJSON(w, status, ErrorResponse{Error: limitErr.Reason, Details: err.Error()})
		return
	}
	writeError(w, status, http.StatusText(status), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrValidation), errors.Is(err, generic.ErrCurrencyMismatch):
		return http.StatusBadRequest
	case errors.Is(err, generic.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, generic.ErrLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrConflict),
		errors.Is(err, generic.ErrInvalidStateTransition),
		errors.Is(err, generic.ErrAlreadyPaidOut),
		errors.Is(err, generic.ErrAlreadyExists),
		errors.Is(err, generic.ErrDuplicateReference):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
