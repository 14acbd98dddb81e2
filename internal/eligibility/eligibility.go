// Package eligibility implements the read-side eligibility projection
// for IDO rounds: given a participant's MetaIDO registration (rank and
// multiplier) and a round's optional policy spec, it derives whether the
// participant may join and their effective maximum allocation.
//
// The projection is purely advisory for callers deciding whether to
// participate; it never mutates the funding ledger.
package eligibility

import (
	"github.com/shopspring/decimal"

	"github.com/idopools/sale-engine/internal/allocation"
	"github.com/idopools/sale-engine/internal/model"
)

// Result is the outcome of assessing one participant against one round.
type Result struct {
	// Eligible reports whether the participant passes the rank window.
	Eligible bool

	// MaxAllocation is the effective maximum allocation: the spec's base
	// maximum, scaled by the rank and spec multipliers unless the spec
	// bypasses multipliers. Zero when ineligible.
	MaxAllocation decimal.Decimal
}

// Assess derives eligibility for a participant with the given MetaIDO
// registration against a round spec.
//
// An uninitialized spec places no restriction: every participant is
// eligible with an unbounded (zero-valued, by convention) allocation cap.
// Otherwise eligibility requires NoRank or rank within [MinRank, MaxRank],
// and the cap is MaxAlloc — multiplier-scaled unless NoMultiplier.
//
// registered reports whether the participant holds a MetaIDO
// registration at all; an initialized spec without NoRank rejects
// unregistered participants outright.
func Assess(spec model.RoundSpec, registered bool, rank uint32, rankMultiplier decimal.Decimal) Result {
	if !spec.Initialized {
		return Result{Eligible: true}
	}

	if !spec.NoRank {
		if !registered {
			return Result{}
		}
		if rank < spec.MinRank || rank > spec.MaxRank {
			return Result{}
		}
	}

	maxAlloc := spec.MaxAlloc
	if !spec.NoMultiplier {
		maxAlloc = allocation.ScaleMaxAllocation(spec.MaxAlloc, rankMultiplier, spec.MaxAllocMultiplier)
	}

	return Result{Eligible: true, MaxAllocation: maxAlloc}
}
