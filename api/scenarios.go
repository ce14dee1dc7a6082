/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the engine with realistic
	data for demos. Each scenario funds wallets, activates savings, locks
	fixed deposits or moves money across owners to show one feature.

AVAILABLE SCENARIOS:

	spend-and-save:  Flexible savings fed by card spends, one below threshold
	fixed-ladder:    Three fixed deposits of different terms, one auto-renewing
	tier-limits:     A tier 1 owner close to the daily outgoing limit
	big-saver:       A tier 3 owner whose balance spans every interest band

HOW SCENARIOS WORK:
 1. Fund demo wallets from the "demo-funding" settlement account
 2. Drive the savings service exactly as clients would
 3. Every movement carries a fixed reference, so loading a scenario twice
    replays instead of duplicating

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "fixed-ladder"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios write real ledger entries. Only use in development/demo
	environments.

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/savings-engine/generic"
	"github.com/warp/savings-engine/kyc"
	"github.com/warp/savings-engine/savings"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "spend-and-save",
		Name:        "Spend and Save",
		Description: "10% of every card spend above the threshold moves into flexible savings",
		Category:    "flexible",
	},
	{
		ID:          "fixed-ladder",
		Name:        "Fixed Deposit Ladder",
		Description: "30, 90 and 180 day deposits at their duration rates; the shortest auto-renews",
		Category:    "fixed",
	},
	{
		ID:          "tier-limits",
		Name:        "Tier 1 Limits",
		Description: "Outgoing transfers leave a tier 1 owner just under the daily limit",
		Category:    "kyc",
	},
	{
		ID:          "big-saver",
		Name:        "Big Saver",
		Description: "Tier 3 owner with a flexible balance spanning every interest band",
		Category:    "flexible",
	},
}

const demoFunding = "demo-funding"

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the most recently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: h.currentScenario, Name: h.currentScenario})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	var err error
	switch req.ScenarioID {
	case "spend-and-save":
		err = h.loadSpendAndSaveScenario(ctx)
	case "fixed-ladder":
		err = h.loadFixedLadderScenario(ctx)
	case "tier-limits":
		err = h.loadTierLimitsScenario(ctx)
	case "big-saver":
		err = h.loadBigSaverScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	if err != nil {
		writeError(w, statusFor(err), fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	h.Logger.InfoContext(ctx, "scenario loaded", "scenario", req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) major(n int64) generic.Money { return generic.FromMajor(n, h.currency) }

// fundWallet credits owner's wallet from the demo settlement account.
func (h *Handler) fundWallet(ctx context.Context, owner generic.OwnerID, major int64, ref string) (generic.LedgerAccount, error) {
	funding, err := h.Ledger.EnsureSettlementAccount(ctx, demoFunding, h.currency)
	if err != nil {
		return generic.LedgerAccount{}, err
	}
	wallet, err := h.Ledger.EnsureAccount(ctx, owner, generic.AccountWallet, h.currency)
	if err != nil {
		return generic.LedgerAccount{}, err
	}
	_, err = h.Ledger.Transfer(ctx, generic.TransferRequest{
		From:      funding.ID,
		To:        wallet.ID,
		Amount:    h.major(major),
		Kind:      generic.EntryTransfer,
		Reference: "scenario:" + ref,
		Movement:  generic.MovementSystem,
		Memo:      "demo funding",
	})
	return wallet, err
}

func (h *Handler) loadSpendAndSaveScenario(ctx context.Context) error {
	const owner generic.OwnerID = "demo-ada"
	if _, err := h.fundWallet(ctx, owner, 150_000, "spend-and-save:fund"); err != nil {
		return err
	}
	_, err := h.Service.Activate(ctx, savings.ActivateRequest{
		OwnerID:           owner,
		SavingsPercentage: decimal.NewFromInt(10),
		InitialDeposit:    h.major(5_000),
		Reference:         "scenario:spend-and-save",
	})
	if err != nil {
		return err
	}

	now := h.Ledger.Clock().Now()
	spends := []struct {
		id    string
		major int64
	}{
		{"card-001", 12_500}, // saves 1,250
		{"card-002", 3_000},  // saves 300
		{"card-003", 80},     // below the 100 threshold
		{"card-004", 45_000}, // saves 4,500
	}
	for i, sp := range spends {
		_, err := h.Service.OnSpendingTransaction(ctx, savings.SpendingTransaction{
			ID:         "scenario:" + sp.id,
			OwnerID:    owner,
			Amount:     h.major(sp.major),
			Direction:  generic.Debit,
			Status:     savings.SpendSuccess,
			OccurredAt: now.Add(time.Duration(i-len(spends)) * time.Hour),
		})
		if err != nil {
			return fmt.Errorf("spend %s: %w", sp.id, err)
		}
	}
	return nil
}

func (h *Handler) loadFixedLadderScenario(ctx context.Context) error {
	const owner generic.OwnerID = "demo-bayo"
	if _, err := h.fundWallet(ctx, owner, 250_000, "fixed-ladder:fund"); err != nil {
		return err
	}
	ladder := []struct {
		major   int64
		days    int
		purpose generic.Purpose
		renew   bool
	}{
		{50_000, 30, generic.PurposeEmergency, true},
		{75_000, 90, generic.PurposeTravel, false},
		{100_000, 180, generic.PurposeEducation, false},
	}
	for _, rung := range ladder {
		_, err := h.Service.CreateFixedSavings(ctx, savings.CreateFixedRequest{
			OwnerID:     owner,
			Principal:   h.major(rung.major),
			Source:      generic.SourceWallet,
			Purpose:     rung.purpose,
			Days:        rung.days,
			AutoRenewal: rung.renew,
			Reference:   fmt.Sprintf("scenario:fixed-ladder:%d", rung.days),
		})
		if err != nil {
			return fmt.Errorf("%d day deposit: %w", rung.days, err)
		}
	}
	return nil
}

func (h *Handler) loadTierLimitsScenario(ctx context.Context) error {
	const owner, payee generic.OwnerID = "demo-chi", "demo-payee"
	if err := h.Tiers.SetLevel(owner, kyc.Tier1); err != nil {
		return err
	}
	wallet, err := h.fundWallet(ctx, owner, 120_000, "tier-limits:fund")
	if err != nil {
		return err
	}
	payeeWallet, err := h.Ledger.EnsureAccount(ctx, payee, generic.AccountWallet, h.currency)
	if err != nil {
		return err
	}
	for i, major := range []int64{20_000, 25_000} {
		_, err := h.Ledger.Transfer(ctx, generic.TransferRequest{
			From:      wallet.ID,
			To:        payeeWallet.ID,
			Amount:    h.major(major),
			Kind:      generic.EntryTransfer,
			Reference: fmt.Sprintf("scenario:tier-limits:send-%d", i+1),
			Movement:  generic.MovementOutgoing,
			Memo:      "demo transfer",
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadBigSaverScenario(ctx context.Context) error {
	const owner generic.OwnerID = "demo-dami"
	if err := h.Tiers.SetLevel(owner, kyc.Tier3); err != nil {
		return err
	}
	if _, err := h.fundWallet(ctx, owner, 1_500_000, "big-saver:fund"); err != nil {
		return err
	}
	_, err := h.Service.Activate(ctx, savings.ActivateRequest{
		OwnerID:           owner,
		SavingsPercentage: decimal.NewFromInt(2),
		InitialDeposit:    h.major(1_200_000),
		Reference:         "scenario:big-saver",
	})
	return err
}
