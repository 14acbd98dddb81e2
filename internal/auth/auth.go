// Package auth gates the owner-only operations of the sale engine.
package auth

import (
	"errors"
	"sync"
)

var (
	// ErrUnauthorized is returned when the caller is not the owner.
	ErrUnauthorized = errors.New("auth: caller is not the owner")

	// ErrNotProposed is returned when AcceptOwner is called by an account
	// that was never proposed.
	ErrNotProposed = errors.New("auth: caller is not the proposed owner")
)

// Gate authorizes privileged callers.
type Gate interface {
	Authorize(caller string) error
}

// OwnerGate is a single-owner Gate with two-step ownership transfer:
// the current owner proposes a successor, who must accept before the
// transfer takes effect.
type OwnerGate struct {
	mu       sync.RWMutex
	owner    string
	proposed string
}

// NewOwnerGate creates a gate owned by the given account.
func NewOwnerGate(owner string) *OwnerGate {
	return &OwnerGate{owner: owner}
}

// Authorize returns ErrUnauthorized unless caller is the current owner.
func (g *OwnerGate) Authorize(caller string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if caller == "" || caller != g.owner {
		return ErrUnauthorized
	}
	return nil
}

// Owner returns the current owner.
func (g *OwnerGate) Owner() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.owner
}

// ProposeOwner records a successor. Only the current owner may propose.
func (g *OwnerGate) ProposeOwner(caller, successor string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if caller != g.owner {
		return ErrUnauthorized
	}
	g.proposed = successor
	return nil
}

// AcceptOwner completes the transfer. Only the proposed successor may
// accept; the proposal is consumed either way it resolves.
func (g *OwnerGate) AcceptOwner(caller string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.proposed == "" || caller != g.proposed {
		return ErrNotProposed
	}
	g.owner = g.proposed
	g.proposed = ""
	return nil
}
