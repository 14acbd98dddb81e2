// Package model defines the core domain types shared across the sale engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Round is one time-boxed funding event: a single sale token offered
// against up to two accepted payment tokens. The clock fields gate every
// operation; the config fields are the accounting source of truth.
type Round struct {
	ID uint64 `json:"id" db:"id"`

	// Clock. EndTime and ClaimableTime may each be delayed at most to
	// Initial* + 14 days and never moved backward.
	StartTime            time.Time `json:"start_time" db:"start_time"`
	EndTime              time.Time `json:"end_time" db:"end_time"`
	InitialEndTime       time.Time `json:"initial_end_time" db:"initial_end_time"`
	ClaimableTime        time.Time `json:"claimable_time" db:"claimable_time"`
	InitialClaimableTime time.Time `json:"initial_claimable_time" db:"initial_claimable_time"`
	Finalized            bool      `json:"finalized" db:"finalized"`
	HasWhitelist         bool      `json:"has_whitelist" db:"has_whitelist"`

	// ParentMetaIDO is 0 while the round is ungrouped.
	ParentMetaIDO uint64 `json:"parent_meta_ido,omitempty" db:"parent_meta_ido"`

	// Sale config. IDOTokenDecimals is snapshotted from the token
	// collaborator at creation time.
	SaleToken        string          `json:"sale_token" db:"sale_token"`
	IDOTokenDecimals int32           `json:"ido_token_decimals" db:"ido_token_decimals"`
	PrimaryToken     string          `json:"primary_token" db:"primary_token"`
	SecondaryToken   string          `json:"secondary_token" db:"secondary_token"`
	IDOPrice         decimal.Decimal `json:"ido_price" db:"ido_price"`
	IDOSize          decimal.Decimal `json:"ido_size" db:"ido_size"`
	MinFundingGoal   decimal.Decimal `json:"min_funding_goal" db:"min_funding_goal"`
	FundedUSDValue   decimal.Decimal `json:"funded_usd_value" db:"funded_usd_value"`
	SecondaryCapBps  int64           `json:"secondary_cap_bps" db:"secondary_cap_bps"`

	// Cumulative funding per accepted payment token. Frozen into
	// FundedUSDValue at finalization.
	FundedPrimary   decimal.Decimal `json:"funded_primary" db:"funded_primary"`
	FundedSecondary decimal.Decimal `json:"funded_secondary" db:"funded_secondary"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TotalFunded returns the cumulative funding recorded for token, which
// must be one of the round's accepted payment tokens.
func (r *Round) TotalFunded(token string) decimal.Decimal {
	if token == r.SecondaryToken {
		return r.FundedSecondary
	}
	return r.FundedPrimary
}

// Position is a participant's cumulative contribution and resulting
// sale-token entitlement within one round. Created implicitly on first
// contribution, mutated on every contribution, deleted exactly once on
// claim.
type Position struct {
	RoundID         uint64          `json:"round_id" db:"round_id"`
	Participant     string          `json:"participant" db:"participant"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	SecondaryAmount decimal.Decimal `json:"secondary_amount" db:"secondary_amount"`
	TokenAllocation decimal.Decimal `json:"token_allocation" db:"token_allocation"`
}

// MetaIDO groups rounds sharing a participant rank/multiplier table.
// Membership order carries no meaning (removal is swap-and-pop).
type MetaIDO struct {
	ID       uint64   `json:"id" db:"id"`
	RoundIDs []uint64 `json:"round_ids"`
}

// Registration is a participant's entry in a MetaIDO rank table.
// Multiplier uses a 4-decimal fixed-point scale (10000 = 1.0x).
type Registration struct {
	MetaIDOID   uint64          `json:"meta_ido_id" db:"meta_ido_id"`
	Participant string          `json:"participant" db:"participant"`
	Rank        uint32          `json:"rank" db:"rank"`
	Multiplier  decimal.Decimal `json:"multiplier" db:"multiplier"`
}

// RoundSpec is the optional per-round eligibility policy. A round with
// Initialized=false carries no restriction. Read-side only: the policy
// never mutates the ledger.
type RoundSpec struct {
	RoundID            uint64          `json:"round_id" db:"round_id"`
	MinRank            uint32          `json:"min_rank" db:"min_rank"`
	MaxRank            uint32          `json:"max_rank" db:"max_rank"`
	NoRank             bool            `json:"no_rank" db:"no_rank"`
	MaxAlloc           decimal.Decimal `json:"max_alloc" db:"max_alloc"`
	MaxAllocMultiplier decimal.Decimal `json:"max_alloc_multiplier" db:"max_alloc_multiplier"`
	NoMultiplier       bool            `json:"no_multiplier" db:"no_multiplier"`
	Initialized        bool            `json:"initialized" db:"initialized"`
}

// Contribution is an immutable receipt of one accepted participation.
type Contribution struct {
	ID          string          `json:"id"`
	RoundID     uint64          `json:"round_id"`
	Participant string          `json:"participant"`
	Token       string          `json:"token"`
	Amount      decimal.Decimal `json:"amount"`
	Allocation  decimal.Decimal `json:"allocation"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ClaimReceipt records one settled position.
type ClaimReceipt struct {
	ID              string          `json:"id"`
	RoundID         uint64          `json:"round_id"`
	Participant     string          `json:"participant"`
	Amount          decimal.Decimal `json:"amount"`
	SecondaryAmount decimal.Decimal `json:"secondary_amount"`
	TokenAllocation decimal.Decimal `json:"token_allocation"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Eligibility is the read-only per-round projection returned by the
// eligibility endpoint. Advisory only.
type Eligibility struct {
	RoundID       uint64          `json:"round_id"`
	Eligible      bool            `json:"eligible"`
	MaxAllocation decimal.Decimal `json:"max_allocation"`
	Rank          uint32          `json:"rank"`
	Multiplier    decimal.Decimal `json:"multiplier"`
}
