/*
Package generic provides the core ledger and interest engine.

PURPOSE:
  This package contains the product-agnostic types and algorithms that every
  savings product is built on: money in integral minor units, progressive and
  flat interest rate tables, the interest calculator, and the append-only
  double-entry ledger with optimistic concurrency and idempotent references.

KEY CONCEPTS IN THIS FILE (types.go):
  - LedgerAccount: A balance holder (wallet, flexible savings, fixed savings, settlement)
  - LedgerEntry: An immutable ledger line recording one side of a transfer
  - Movement: Who initiated a transfer (drives tier limit checks)
  - Typed IDs so account, owner and entry IDs cannot be mixed up

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only reversed
  2. Precision: Money is int64 minor units; rates are decimal.Decimal
  3. Type Safety: Strong typing for IDs and kinds
  4. Auditability: Every entry carries a reference and the balance after it

USAGE:
  acct := generic.LedgerAccount{
      ID:      generic.NewAccountID(),
      OwnerID: "user-123",
      Kind:    generic.AccountWallet,
      Balance: generic.Zero(generic.NGN),
  }

SEE ALSO:
  - money.go: Money arithmetic
  - ledger.go: Transfer and reversal
  - store.go: Persistence interfaces
*/
package generic

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	AccountID string
	OwnerID   string
	EntryID   string
)

// NewAccountID returns a random account ID.
func NewAccountID() AccountID { return AccountID(uuid.NewString()) }

// NewEntryID returns a random entry ID.
func NewEntryID() EntryID { return EntryID(uuid.NewString()) }

// NewID returns a random string ID for records that don't need a dedicated type.
func NewID() string { return uuid.NewString() }

// SystemOwner owns settlement accounts.
const SystemOwner OwnerID = "system"

// =============================================================================
// ACCOUNT KINDS
// =============================================================================

type AccountKind string

const (
	AccountWallet          AccountKind = "wallet"
	AccountFlexibleSavings AccountKind = "flexible_savings"
	AccountFixedSavings    AccountKind = "fixed_savings"
	// AccountSettlement accounts route fees and fund interest. They may go
	// negative and are expected to net out over a reporting period.
	AccountSettlement AccountKind = "settlement"
)

func (k AccountKind) Valid() bool {
	switch k {
	case AccountWallet, AccountFlexibleSavings, AccountFixedSavings, AccountSettlement:
		return true
	}
	return false
}

// AllowsOverdraft reports whether the account may hold a negative balance.
func (k AccountKind) AllowsOverdraft() bool {
	return k == AccountSettlement
}

// =============================================================================
// ENTRY KINDS
// =============================================================================

type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

func (d Direction) Opposite() Direction {
	if d == Credit {
		return Debit
	}
	return Credit
}

type EntryKind string

const (
	EntryTransfer       EntryKind = "transfer"
	EntryInterest       EntryKind = "interest"
	EntrySpendSave      EntryKind = "spend_save"
	EntryMaturityPayout EntryKind = "maturity_payout"
	EntryFee            EntryKind = "fee"
	EntryReversal       EntryKind = "reversal"
)

func (k EntryKind) Valid() bool {
	switch k {
	case EntryTransfer, EntryInterest, EntrySpendSave, EntryMaturityPayout, EntryFee, EntryReversal:
		return true
	}
	return false
}

// Movement classifies who initiated a transfer.
//
//	MovementSystem:   interest, payouts, renewals, reversals. Never limit-checked.
//	MovementInternal: user moving funds between their own accounts. Balance ceiling only.
//	MovementOutgoing: user sending funds away. Daily limit and destination ceiling.
type Movement string

const (
	MovementSystem   Movement = "system"
	MovementInternal Movement = "internal"
	MovementOutgoing Movement = "outgoing"
)

// UserInitiated reports whether the movement must pass the tier limit guard.
func (m Movement) UserInitiated() bool {
	return m == MovementInternal || m == MovementOutgoing
}

// =============================================================================
// LEDGER ACCOUNT
// =============================================================================

// LedgerAccount holds a balance. Version increments on every mutation and is
// the optimistic concurrency token.
type LedgerAccount struct {
	ID        AccountID
	OwnerID   OwnerID
	Kind      AccountKind
	Balance   Money
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a LedgerAccount) Currency() Currency { return a.Balance.Currency }

// =============================================================================
// LEDGER ENTRY
// =============================================================================

// LedgerEntry is one side of a transfer. Both sides share a Reference and are
// unique on (Reference, Direction). Seq is the account version the entry
// produced, so replaying entries in Seq order reproduces BalanceAfter.
type LedgerEntry struct {
	ID             EntryID
	AccountID      AccountID
	OwnerID        OwnerID
	Direction      Direction
	Amount         Money
	BalanceAfter   Money
	Reference      string
	Kind           EntryKind
	Movement       Movement
	RelatedEntryID *EntryID
	Seq            int64
	Memo           string
	CreatedAt      time.Time
}

// Signed returns the amount as it affects the balance.
func (e LedgerEntry) Signed() Money {
	if e.Direction == Debit {
		return e.Amount.Neg()
	}
	return e.Amount
}
