// Package models - tier.go defines the ordered reversibility classification
// assigned to every audit record.
package models

// Tier classifies how safely an action can be reversed. Tiers are ordered:
// TierSimple < TierModerate < TierComplex < TierImpossible. Higher tiers require
// higher authorization to undo; TierImpossible is never undoable by anyone.
type Tier string

const (
	TierSimple     Tier = "simple"
	TierModerate   Tier = "moderate"
	TierComplex    Tier = "complex"
	TierImpossible Tier = "impossible"
)

var tierRank = map[Tier]int{
	TierSimple:     0,
	TierModerate:   1,
	TierComplex:    2,
	TierImpossible: 3,
}

// Rank returns the tier's position in the ordering. Unknown values rank above
// TierImpossible so a corrupt stored value is never treated as easily reversible.
func (t Tier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return len(tierRank)
}

// Valid reports whether t is one of the four defined tiers.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// MaxTier returns the wider (harder to reverse) of a and b. TransactionGroup
// aggregation uses this so the group tier only ever widens.
func MaxTier(a, b Tier) Tier {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}
