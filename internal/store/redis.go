package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/idopools/sale-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateRound(ctx context.Context, r *model.Round) (uint64, error) {
	id, err := s.primary.CreateRound(ctx, r)
	if err != nil {
		return 0, err
	}
	s.cacheRound(ctx, r)
	return id, nil
}

func (s *CachedStore) UpdateRound(ctx context.Context, r *model.Round) error {
	if err := s.primary.UpdateRound(ctx, r); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, roundKey(r.ID))
	return nil
}

func (s *CachedStore) RecordContribution(ctx context.Context, r *model.Round, pos *model.Position) error {
	if err := s.primary.RecordContribution(ctx, r, pos); err != nil {
		return err
	}
	s.rdb.Del(ctx, roundKey(r.ID), positionKey(pos.RoundID, pos.Participant))
	return nil
}

func (s *CachedStore) DeletePosition(ctx context.Context, roundID uint64, participant string) error {
	if err := s.primary.DeletePosition(ctx, roundID, participant); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(roundID, participant))
	return nil
}

func (s *CachedStore) PutPosition(ctx context.Context, pos *model.Position) error {
	if err := s.primary.PutPosition(ctx, pos); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(pos.RoundID, pos.Participant))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetRound(ctx context.Context, id uint64) (*model.Round, error) {
	data, err := s.rdb.Get(ctx, roundKey(id)).Bytes()
	if err == nil {
		var r model.Round
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	r, err := s.primary.GetRound(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheRound(ctx, r)
	return r, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, roundID uint64, participant string) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(roundID, participant)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPosition(ctx, roundID, participant)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, positionKey(roundID, participant), data, s.ttl)
	}
	return p, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListRounds(ctx context.Context) ([]model.Round, error) {
	return s.primary.ListRounds(ctx)
}

func (s *CachedStore) SetWhitelisted(ctx context.Context, roundID uint64, addrs []string, add bool) error {
	return s.primary.SetWhitelisted(ctx, roundID, addrs, add)
}

func (s *CachedStore) IsWhitelisted(ctx context.Context, roundID uint64, addr string) (bool, error) {
	return s.primary.IsWhitelisted(ctx, roundID, addr)
}

func (s *CachedStore) CreateMetaIDO(ctx context.Context, m *model.MetaIDO) (uint64, error) {
	return s.primary.CreateMetaIDO(ctx, m)
}

func (s *CachedStore) GetMetaIDO(ctx context.Context, id uint64) (*model.MetaIDO, error) {
	return s.primary.GetMetaIDO(ctx, id)
}

func (s *CachedStore) UpdateMetaIDO(ctx context.Context, m *model.MetaIDO) error {
	return s.primary.UpdateMetaIDO(ctx, m)
}

func (s *CachedStore) SetRegistration(ctx context.Context, reg *model.Registration) error {
	return s.primary.SetRegistration(ctx, reg)
}

func (s *CachedStore) GetRegistration(ctx context.Context, metaID uint64, participant string) (*model.Registration, error) {
	return s.primary.GetRegistration(ctx, metaID, participant)
}

func (s *CachedStore) SetRoundSpec(ctx context.Context, spec *model.RoundSpec) error {
	return s.primary.SetRoundSpec(ctx, spec)
}

func (s *CachedStore) GetRoundSpec(ctx context.Context, roundID uint64) (*model.RoundSpec, error) {
	return s.primary.GetRoundSpec(ctx, roundID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheRound(ctx context.Context, r *model.Round) {
	if data, err := json.Marshal(r); err == nil {
		s.rdb.Set(ctx, roundKey(r.ID), data, s.ttl)
	}
}

func roundKey(id uint64) string { return fmt.Sprintf("round:%d", id) }

func positionKey(roundID uint64, participant string) string {
	return fmt.Sprintf("position:%d:%s", roundID, participant)
}
