// Package store defines the persistence interface for the sale engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/idopools/sale-engine/internal/model"
)

var (
	// ErrRoundNotFound is returned for an unassigned round ID.
	ErrRoundNotFound = errors.New("store: round not found")

	// ErrMetaIDONotFound is returned for an unassigned MetaIDO ID.
	ErrMetaIDONotFound = errors.New("store: meta ido not found")

	// ErrPositionNotFound is returned when a participant holds no
	// position in the round.
	ErrPositionNotFound = errors.New("store: position not found")

	// ErrRegistrationNotFound is returned when a participant is not
	// registered in the MetaIDO rank table.
	ErrRegistrationNotFound = errors.New("store: registration not found")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Round and MetaIDO IDs are
// assigned by the store, monotonically increasing from 1, atomically
// with entry creation (no gaps, no reuse).
type Store interface {
	// --- Round lifecycle ---

	// CreateRound persists a new round and returns its assigned ID.
	CreateRound(ctx context.Context, round *model.Round) (uint64, error)

	// GetRound retrieves a round by its ID.
	GetRound(ctx context.Context, id uint64) (*model.Round, error)

	// UpdateRound persists clock/config mutations of an existing round.
	UpdateRound(ctx context.Context, round *model.Round) error

	// ListRounds returns all rounds.
	ListRounds(ctx context.Context) ([]model.Round, error)

	// --- Whitelist ---

	// SetWhitelisted batch-adds or batch-removes whitelist entries.
	SetWhitelisted(ctx context.Context, roundID uint64, addrs []string, add bool) error

	// IsWhitelisted reports whether addr is on the round's whitelist.
	IsWhitelisted(ctx context.Context, roundID uint64, addr string) (bool, error)

	// --- Funding ledger ---

	// RecordContribution persists the updated round totals and the
	// participant position as one atomic unit.
	RecordContribution(ctx context.Context, round *model.Round, pos *model.Position) error

	// GetPosition retrieves a participant's position in a round.
	GetPosition(ctx context.Context, roundID uint64, participant string) (*model.Position, error)

	// DeletePosition removes a position (single-use claim).
	DeletePosition(ctx context.Context, roundID uint64, participant string) error

	// PutPosition writes a position verbatim (claim rollback path).
	PutPosition(ctx context.Context, pos *model.Position) error

	// --- MetaIDO registry ---

	// CreateMetaIDO persists a new MetaIDO and returns its assigned ID.
	CreateMetaIDO(ctx context.Context, meta *model.MetaIDO) (uint64, error)

	// GetMetaIDO retrieves a MetaIDO by its ID.
	GetMetaIDO(ctx context.Context, id uint64) (*model.MetaIDO, error)

	// UpdateMetaIDO persists membership mutations.
	UpdateMetaIDO(ctx context.Context, meta *model.MetaIDO) error

	// SetRegistration upserts a participant's rank table entry.
	SetRegistration(ctx context.Context, reg *model.Registration) error

	// GetRegistration retrieves a participant's rank table entry.
	GetRegistration(ctx context.Context, metaID uint64, participant string) (*model.Registration, error)

	// --- Round specs ---

	// SetRoundSpec upserts the round's eligibility policy.
	SetRoundSpec(ctx context.Context, spec *model.RoundSpec) error

	// GetRoundSpec retrieves the round's eligibility policy. An unset
	// spec is returned with Initialized=false, not an error.
	GetRoundSpec(ctx context.Context, roundID uint64) (*model.RoundSpec, error)
}
