/*
balance.go - Balance replay and verification

PURPOSE:
  The account row caches the balance; the entries are the truth. Replaying
  an account's entries in Seq order must reproduce every BalanceAfter and
  end at the cached balance. Replay is used by Ledger.Verify and by tests.

INVARIANTS CHECKED:
  1. Seq is strictly increasing
  2. Each entry's currency matches the account
  3. running balance == entry.BalanceAfter after every entry
  4. no non-settlement account ever goes negative

SEE ALSO:
  - ledger.go: Ledger.Verify
*/
package generic

import (
	"fmt"
	"sort"
)

// ReplayResult is the outcome of replaying an entry history.
type ReplayResult struct {
	Balance Money
	Entries int
}

// ReplayBalance folds entries (any order) in Seq order from zero.
func ReplayBalance(kind AccountKind, currency Currency, entries []LedgerEntry) (ReplayResult, error) {
	sorted := append([]LedgerEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	running := Zero(currency)
	var lastSeq int64
	for i, e := range sorted {
		if i > 0 && e.Seq <= lastSeq {
			return ReplayResult{}, fmt.Errorf("entry %s: seq %d not increasing", e.ID, e.Seq)
		}
		lastSeq = e.Seq

		next, err := running.Add(e.Signed())
		if err != nil {
			return ReplayResult{}, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		if next != e.BalanceAfter {
			return ReplayResult{}, fmt.Errorf("entry %s: replayed %s, recorded %s", e.ID, next, e.BalanceAfter)
		}
		if next.IsNegative() && !kind.AllowsOverdraft() {
			return ReplayResult{}, fmt.Errorf("entry %s: balance went negative (%s)", e.ID, next)
		}
		running = next
	}
	return ReplayResult{Balance: running, Entries: len(sorted)}, nil
}
