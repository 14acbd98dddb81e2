// Package allocation implements the fixed-point sale arithmetic for IDO
// rounds: sale-token entitlement, secondary-token capacity, funding-goal
// value, and rank-multiplier scaling.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Every division truncates toward zero (integer-division semantics).
// Small persistent underallocation from truncation is accepted behavior,
// not a defect; no rounding adjustment is made for dust.
package allocation

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidPrice is returned when the sale price is not positive.
	ErrInvalidPrice = errors.New("allocation: ido price must be positive")

	// ErrInvalidDecimals is returned when token decimals are negative.
	ErrInvalidDecimals = errors.New("allocation: token decimals must be non-negative")

	// ErrInvalidBasisPoints is returned when bps falls outside [0, 10000].
	ErrInvalidBasisPoints = errors.New("allocation: basis points must be in [0, 10000]")
)

// BpsDenominator is the basis-point scale: 10000 bps = 100%.
var BpsDenominator = decimal.NewFromInt(10000)

// MultiplierScale is the 8-decimal fixed-point scale for allocation
// multipliers: a combined multiplier product of 1e8 is a 1.0x scaling.
var MultiplierScale = decimal.New(1, 8)

// UnitMultiplier is the neutral single multiplier (1.0x) on the
// 4-decimal fixed-point scale; two unit multipliers combine to
// MultiplierScale.
var UnitMultiplier = decimal.NewFromInt(10_000)

// Terms holds the fixed sale parameters of one round. It is stateless —
// funding amounts are passed as arguments, not stored.
type Terms struct {
	price    decimal.Decimal
	decimals int32
}

// NewTerms creates sale terms from the round's price (sale-tokens per
// unit payment, fixed-point) and the sale token's decimal precision.
func NewTerms(price decimal.Decimal, tokenDecimals int32) (*Terms, error) {
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidPrice
	}
	if tokenDecimals < 0 {
		return nil, ErrInvalidDecimals
	}
	return &Terms{price: price, decimals: tokenDecimals}, nil
}

// Price returns the sale price.
func (t *Terms) Price() decimal.Decimal {
	return t.price
}

// divTrunc returns a / b truncated toward zero to an integer result.
func divTrunc(a, b decimal.Decimal) decimal.Decimal {
	q, _ := a.QuoRem(b, 0)
	return q
}

// TokensFor computes the sale-token entitlement accrued by contributing
// amount of a payment token:
//
//	allocation = amount * 10^decimals / price
//
// truncated toward zero.
func (t *Terms) TokensFor(amount decimal.Decimal) decimal.Decimal {
	scale := decimal.New(1, t.decimals)
	return divTrunc(amount.Mul(scale), t.price)
}

// GoalValue converts the round's sale-token inventory into its
// USD-normalized value:
//
//	totalGoalValue = idoSize * price / 10^decimals
//
// truncated toward zero.
func (t *Terms) GoalValue(idoSize decimal.Decimal) decimal.Decimal {
	scale := decimal.New(1, t.decimals)
	return divTrunc(idoSize.Mul(t.price), scale)
}

// SoldEquivalent converts a raised USD value back into sale-token units:
//
//	totalSoldEquivalent = fundedUSDValue / price * 10^decimals
//
// The division truncates before scaling, preserving source-order
// integer evaluation.
func (t *Terms) SoldEquivalent(fundedUSDValue decimal.Decimal) decimal.Decimal {
	scale := decimal.New(1, t.decimals)
	return divTrunc(fundedUSDValue, t.price).Mul(scale)
}

// ValidateBps checks that a basis-point value is within [0, 10000].
func ValidateBps(bps int64) error {
	if bps < 0 || bps > 10000 {
		return ErrInvalidBasisPoints
	}
	return nil
}

// SecondaryCapacity computes the global funding ceiling that applies
// while accepting the capped secondary token:
//
//	capacity = idoSize * bps / 10000
//
// truncated toward zero.
func SecondaryCapacity(idoSize decimal.Decimal, bps int64) (decimal.Decimal, error) {
	if err := ValidateBps(bps); err != nil {
		return decimal.Zero, err
	}
	return divTrunc(idoSize.Mul(decimal.NewFromInt(bps)), BpsDenominator), nil
}

// ScaleMaxAllocation applies a participant's rank multiplier and the
// round spec's multiplier to a base maximum allocation:
//
//	scaled = maxAlloc * rankMultiplier * specMultiplier / 1e8
//
// The multipliers combine on an 8-decimal fixed-point scale (their
// product at 1e8 leaves maxAlloc unchanged); the result is truncated
// toward zero.
func ScaleMaxAllocation(maxAlloc, rankMultiplier, specMultiplier decimal.Decimal) decimal.Decimal {
	return divTrunc(maxAlloc.Mul(rankMultiplier).Mul(specMultiplier), MultiplierScale)
}
