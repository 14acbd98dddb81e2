package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/idopools/sale-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu            sync.RWMutex
	nextRoundID   uint64
	nextMetaID    uint64
	rounds        map[uint64]*model.Round
	whitelists    map[uint64]map[string]bool
	positions     map[uint64]map[string]*model.Position
	metaIDOs      map[uint64]*model.MetaIDO
	registrations map[uint64]map[string]*model.Registration
	specs         map[uint64]*model.RoundSpec
}

// NewMemoryStore creates a new in-memory store. ID counters start at 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextRoundID:   1,
		nextMetaID:    1,
		rounds:        make(map[uint64]*model.Round),
		whitelists:    make(map[uint64]map[string]bool),
		positions:     make(map[uint64]map[string]*model.Position),
		metaIDOs:      make(map[uint64]*model.MetaIDO),
		registrations: make(map[uint64]map[string]*model.Registration),
		specs:         make(map[uint64]*model.RoundSpec),
	}
}

func (s *MemoryStore) CreateRound(_ context.Context, r *model.Round) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextRoundID
	s.nextRoundID++

	copy := *r
	copy.ID = id
	s.rounds[id] = &copy
	r.ID = id
	return id, nil
}

func (s *MemoryStore) GetRound(_ context.Context, id uint64) (*model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rounds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRoundNotFound, id)
	}
	copy := *r
	return &copy, nil
}

func (s *MemoryStore) UpdateRound(_ context.Context, r *model.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rounds[r.ID]; !ok {
		return fmt.Errorf("%w: %d", ErrRoundNotFound, r.ID)
	}
	copy := *r
	s.rounds[r.ID] = &copy
	return nil
}

func (s *MemoryStore) ListRounds(_ context.Context) ([]model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rounds := make([]model.Round, 0, len(s.rounds))
	for _, r := range s.rounds {
		rounds = append(rounds, *r)
	}
	return rounds, nil
}

func (s *MemoryStore) SetWhitelisted(_ context.Context, roundID uint64, addrs []string, add bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rounds[roundID]; !ok {
		return fmt.Errorf("%w: %d", ErrRoundNotFound, roundID)
	}

	wl := s.whitelists[roundID]
	if wl == nil {
		wl = make(map[string]bool)
		s.whitelists[roundID] = wl
	}
	for _, addr := range addrs {
		if add {
			wl[addr] = true
		} else {
			delete(wl, addr)
		}
	}
	return nil
}

func (s *MemoryStore) IsWhitelisted(_ context.Context, roundID uint64, addr string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.whitelists[roundID][addr], nil
}

// RecordContribution stores the updated totals and position under one
// lock acquisition, mirroring the transactional postgres path.
func (s *MemoryStore) RecordContribution(_ context.Context, r *model.Round, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rounds[r.ID]; !ok {
		return fmt.Errorf("%w: %d", ErrRoundNotFound, r.ID)
	}

	roundCopy := *r
	s.rounds[r.ID] = &roundCopy

	positions := s.positions[r.ID]
	if positions == nil {
		positions = make(map[string]*model.Position)
		s.positions[r.ID] = positions
	}
	posCopy := *pos
	positions[pos.Participant] = &posCopy
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, roundID uint64, participant string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[roundID][participant]
	if !ok {
		return nil, fmt.Errorf("%w: round %d participant %s", ErrPositionNotFound, roundID, participant)
	}
	copy := *pos
	return &copy, nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, roundID uint64, participant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[roundID][participant]; !ok {
		return fmt.Errorf("%w: round %d participant %s", ErrPositionNotFound, roundID, participant)
	}
	delete(s.positions[roundID], participant)
	return nil
}

func (s *MemoryStore) PutPosition(_ context.Context, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := s.positions[pos.RoundID]
	if positions == nil {
		positions = make(map[string]*model.Position)
		s.positions[pos.RoundID] = positions
	}
	copy := *pos
	positions[pos.Participant] = &copy
	return nil
}

func (s *MemoryStore) CreateMetaIDO(_ context.Context, m *model.MetaIDO) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextMetaID
	s.nextMetaID++

	copy := *m
	copy.ID = id
	copy.RoundIDs = append([]uint64(nil), m.RoundIDs...)
	s.metaIDOs[id] = &copy
	m.ID = id
	return id, nil
}

func (s *MemoryStore) GetMetaIDO(_ context.Context, id uint64) (*model.MetaIDO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.metaIDOs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrMetaIDONotFound, id)
	}
	copy := *m
	copy.RoundIDs = append([]uint64(nil), m.RoundIDs...)
	return &copy, nil
}

func (s *MemoryStore) UpdateMetaIDO(_ context.Context, m *model.MetaIDO) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.metaIDOs[m.ID]; !ok {
		return fmt.Errorf("%w: %d", ErrMetaIDONotFound, m.ID)
	}
	copy := *m
	copy.RoundIDs = append([]uint64(nil), m.RoundIDs...)
	s.metaIDOs[m.ID] = &copy
	return nil
}

func (s *MemoryStore) SetRegistration(_ context.Context, reg *model.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.metaIDOs[reg.MetaIDOID]; !ok {
		return fmt.Errorf("%w: %d", ErrMetaIDONotFound, reg.MetaIDOID)
	}

	regs := s.registrations[reg.MetaIDOID]
	if regs == nil {
		regs = make(map[string]*model.Registration)
		s.registrations[reg.MetaIDOID] = regs
	}
	copy := *reg
	regs[reg.Participant] = &copy
	return nil
}

func (s *MemoryStore) GetRegistration(_ context.Context, metaID uint64, participant string) (*model.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, ok := s.registrations[metaID][participant]
	if !ok {
		return nil, fmt.Errorf("%w: meta %d participant %s", ErrRegistrationNotFound, metaID, participant)
	}
	copy := *reg
	return &copy, nil
}

func (s *MemoryStore) SetRoundSpec(_ context.Context, spec *model.RoundSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rounds[spec.RoundID]; !ok {
		return fmt.Errorf("%w: %d", ErrRoundNotFound, spec.RoundID)
	}
	copy := *spec
	s.specs[spec.RoundID] = &copy
	return nil
}

func (s *MemoryStore) GetRoundSpec(_ context.Context, roundID uint64) (*model.RoundSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spec, ok := s.specs[roundID]
	if !ok {
		return &model.RoundSpec{RoundID: roundID}, nil
	}
	copy := *spec
	return &copy, nil
}
