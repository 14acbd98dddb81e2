// Package token defines the external token collaborator contract: the
// transfer and metadata operations the sale engine delegates custody to.
// Calls are synchronous and all-or-nothing; any failure aborts the
// enclosing sale operation with no partial ledger mutation persisted.
package token

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownToken is returned for a token the ledger has no record of.
	ErrUnknownToken = errors.New("token: unknown token")

	// ErrInsufficientBalance is returned when a transfer source holds
	// less than the requested amount.
	ErrInsufficientBalance = errors.New("token: insufficient balance")

	// ErrInvalidAmount is returned for zero or negative transfer amounts.
	ErrInvalidAmount = errors.New("token: amount must be positive")
)

// Ledger is the custody collaborator. Pull moves funds from an external
// account into pool custody; Push moves funds out. Decimals and
// BalanceOf are the read-only metadata calls used at round creation and
// finalization.
type Ledger interface {
	Decimals(ctx context.Context, tok string) (int32, error)
	BalanceOf(ctx context.Context, holder, tok string) (decimal.Decimal, error)
	Pull(ctx context.Context, tok, from, to string, amount decimal.Decimal) error
	Push(ctx context.Context, tok, from, to string, amount decimal.Decimal) error
}
