/*
Package kyc provides verification tiers and the limit guard that enforces them.

PURPOSE:
  Every owner sits on a verification tier. The tier caps how much the owner
  may send out per business day and how much a single account may hold.
  The KYC document workflow itself lives elsewhere; this package only needs
  to know an owner's current level.

TIERS (defaults, NGN):
  tier_1: daily ₦50,000,    max balance ₦300,000
  tier_2: daily ₦200,000,   max balance ₦500,000
  tier_3: daily ₦5,000,000, max balance unlimited

KEY TYPES:
  Level:              tier_1 | tier_2 | tier_3
  Tier:               Limits for a level (nil limit = unlimited)
  TierProvider:       Resolves an owner's tier
  StaticTierProvider: In-memory provider with a default level

SEE ALSO:
  - guard.go: generic.Authorizer implementation
  - eligibility.go: Upgrade checks
*/
package kyc

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/savings-engine/generic"
)

// =============================================================================
// LEVELS
// =============================================================================

type Level string

const (
	Tier1 Level = "tier_1"
	Tier2 Level = "tier_2"
	Tier3 Level = "tier_3"
)

var levelRank = map[Level]int{Tier1: 1, Tier2: 2, Tier3: 3}

func (l Level) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// Rank orders levels; 0 for unknown.
func (l Level) Rank() int { return levelRank[l] }

// Next returns the level above l, or "" at the top.
func (l Level) Next() Level {
	switch l {
	case Tier1:
		return Tier2
	case Tier2:
		return Tier3
	}
	return ""
}

func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if !l.Valid() {
		return "", generic.Invalid("level", "unknown verification tier %q", s)
	}
	return l, nil
}

// =============================================================================
// TIER
// =============================================================================

// Tier is the limit set for a level. A nil limit is unlimited.
type Tier struct {
	Level                 Level
	DailyTransactionLimit *generic.Money
	MaxBalanceLimit       *generic.Money
}

func limit(major int64, c generic.Currency) *generic.Money {
	m := generic.FromMajor(major, c)
	return &m
}

// DefaultTiers returns the standard tier table in currency c.
func DefaultTiers(c generic.Currency) map[Level]Tier {
	return map[Level]Tier{
		Tier1: {Level: Tier1, DailyTransactionLimit: limit(50_000, c), MaxBalanceLimit: limit(300_000, c)},
		Tier2: {Level: Tier2, DailyTransactionLimit: limit(200_000, c), MaxBalanceLimit: limit(500_000, c)},
		Tier3: {Level: Tier3, DailyTransactionLimit: limit(5_000_000, c), MaxBalanceLimit: nil},
	}
}

// =============================================================================
// TIER PROVIDER
// =============================================================================

// TierProvider resolves an owner's current tier.
type TierProvider interface {
	TierFor(ctx context.Context, owner generic.OwnerID) (Tier, error)
}

// StaticTierProvider keeps levels in memory. Owners without an explicit level
// get the default level.
type StaticTierProvider struct {
	mu           sync.RWMutex
	tiers        map[Level]Tier
	defaultLevel Level
	levels       map[generic.OwnerID]Level
}

func NewStaticTierProvider(tiers map[Level]Tier, defaultLevel Level) (*StaticTierProvider, error) {
	if _, ok := tiers[defaultLevel]; !ok {
		return nil, fmt.Errorf("default level %q has no tier definition", defaultLevel)
	}
	return &StaticTierProvider{
		tiers:        tiers,
		defaultLevel: defaultLevel,
		levels:       make(map[generic.OwnerID]Level),
	}, nil
}

func (p *StaticTierProvider) TierFor(_ context.Context, owner generic.OwnerID) (Tier, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tiers[p.levelLocked(owner)], nil
}

func (p *StaticTierProvider) Level(owner generic.OwnerID) Level {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.levelLocked(owner)
}

func (p *StaticTierProvider) levelLocked(owner generic.OwnerID) Level {
	if l, ok := p.levels[owner]; ok {
		return l
	}
	return p.defaultLevel
}

// SetLevel assigns owner a level. Eligibility is the caller's concern.
func (p *StaticTierProvider) SetLevel(owner generic.OwnerID, level Level) error {
	if _, ok := p.tiers[level]; !ok {
		return generic.Invalid("level", "unknown verification tier %q", level)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels[owner] = level
	return nil
}
