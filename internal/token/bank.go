package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Bank implements Ledger with in-memory balances. Used for testing and
// development; production deployments wire a real custody backend.
type Bank struct {
	mu       sync.RWMutex
	decimals map[string]int32
	balances map[string]map[string]decimal.Decimal // account → token → balance
}

// NewBank creates an empty in-memory token ledger.
func NewBank() *Bank {
	return &Bank{
		decimals: make(map[string]int32),
		balances: make(map[string]map[string]decimal.Decimal),
	}
}

// RegisterToken declares a token and its decimal precision.
func (b *Bank) RegisterToken(tok string, decimals int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decimals[tok] = decimals
}

// Mint credits an account, creating the balance entry if needed.
func (b *Bank) Mint(account, tok string, amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(account, tok, amount)
}

func (b *Bank) Decimals(_ context.Context, tok string) (int32, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dec, ok := b.decimals[tok]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownToken, tok)
	}
	return dec, nil
}

func (b *Bank) BalanceOf(_ context.Context, holder, tok string) (decimal.Decimal, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.decimals[tok]; !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownToken, tok)
	}
	return b.balances[holder][tok], nil
}

// Pull moves amount of tok from an external account into pool custody.
func (b *Bank) Pull(_ context.Context, tok, from, to string, amount decimal.Decimal) error {
	return b.transfer(tok, from, to, amount)
}

// Push moves amount of tok out of pool custody.
func (b *Bank) Push(_ context.Context, tok, from, to string, amount decimal.Decimal) error {
	return b.transfer(tok, from, to, amount)
}

func (b *Bank) transfer(tok, from, to string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.decimals[tok]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, tok)
	}
	if b.balances[from][tok].LessThan(amount) {
		return fmt.Errorf("%w: %s needs %s %s", ErrInsufficientBalance, from, amount, tok)
	}

	b.balances[from][tok] = b.balances[from][tok].Sub(amount)
	b.credit(to, tok, amount)
	return nil
}

// credit assumes the lock is held.
func (b *Bank) credit(account, tok string, amount decimal.Decimal) {
	if b.balances[account] == nil {
		b.balances[account] = make(map[string]decimal.Decimal)
	}
	b.balances[account][tok] = b.balances[account][tok].Add(amount)
}
