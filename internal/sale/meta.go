// Package sale — MetaIDO grouping, rank registration, and the
// eligibility projection.
package sale

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/idopools/sale-engine/internal/allocation"
	"github.com/idopools/sale-engine/internal/eligibility"
	"github.com/idopools/sale-engine/internal/model"
	"github.com/idopools/sale-engine/internal/store"
)

// ManageRoundRequest is the JSON body for POST /metaidos/{metaID}/rounds.
type ManageRoundRequest struct {
	Caller  string `json:"caller"`
	RoundID uint64 `json:"round_id"`
	Add     bool   `json:"add"`
}

// RegisterRequest is the JSON body for POST /metaidos/{metaID}/register.
// Multiplier uses a 4-decimal fixed-point scale; zero means 1.0x.
type RegisterRequest struct {
	Caller      string          `json:"caller"`
	Participant string          `json:"participant"`
	Rank        uint32          `json:"rank"`
	Multiplier  decimal.Decimal `json:"multiplier"`
}

// RoundSpecRequest is the JSON body for POST /rounds/{roundID}/spec.
type RoundSpecRequest struct {
	Caller             string          `json:"caller"`
	MinRank            uint32          `json:"min_rank"`
	MaxRank            uint32          `json:"max_rank"`
	NoRank             bool            `json:"no_rank"`
	MaxAlloc           decimal.Decimal `json:"max_alloc"`
	MaxAllocMultiplier decimal.Decimal `json:"max_alloc_multiplier"`
	NoMultiplier       bool            `json:"no_multiplier"`
}

// CreateMetaIDO handles POST /api/v1/metaidos
func (s *Service) CreateMetaIDO(w http.ResponseWriter, r *http.Request) {
	var req CallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.gate.Authorize(req.Caller); err != nil {
		writeDomainError(w, err)
		return
	}

	meta := &model.MetaIDO{}
	id, err := s.store.CreateMetaIDO(r.Context(), meta)
	if err != nil {
		writeError(w, "failed to create meta ido", http.StatusInternalServerError)
		return
	}
	meta.ID = id

	slog.Info("meta ido created", "id", id)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(meta)
}

// GetMetaIDO handles GET /api/v1/metaidos/{metaID}
func (s *Service) GetMetaIDO(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "metaID")
	if err != nil {
		writeError(w, "invalid meta ido id", http.StatusBadRequest)
		return
	}

	meta, err := s.store.GetMetaIDO(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meta)
}

// ManageRound handles POST /api/v1/metaidos/{metaID}/rounds
// Add appends to the membership list; duplicates are the caller's
// responsibility. Remove is a swap-and-pop, so membership order carries
// no meaning.
func (s *Service) ManageRound(w http.ResponseWriter, r *http.Request) {
	metaID, err := parseID(r, "metaID")
	if err != nil {
		writeError(w, "invalid meta ido id", http.StatusBadRequest)
		return
	}
	var req ManageRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.gate.Authorize(req.Caller); err != nil {
		writeDomainError(w, err)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.store.GetMetaIDO(ctx, metaID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	round, err := s.store.GetRound(ctx, req.RoundID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if req.Add {
		meta.RoundIDs = append(meta.RoundIDs, req.RoundID)
		round.ParentMetaIDO = metaID
	} else {
		idx := -1
		for i, rid := range meta.RoundIDs {
			if rid == req.RoundID {
				idx = i
				break
			}
		}
		if idx < 0 {
			writeDomainError(w, ErrRoundNotInMetaIDO)
			return
		}
		last := len(meta.RoundIDs) - 1
		meta.RoundIDs[idx] = meta.RoundIDs[last]
		meta.RoundIDs = meta.RoundIDs[:last]
		round.ParentMetaIDO = 0
	}

	if err := s.store.UpdateMetaIDO(ctx, meta); err != nil {
		writeError(w, "failed to update meta ido", http.StatusInternalServerError)
		return
	}
	if err := s.store.UpdateRound(ctx, round); err != nil {
		writeError(w, "failed to update round", http.StatusInternalServerError)
		return
	}

	slog.Info("meta ido membership changed", "meta_ido", metaID, "round", req.RoundID, "add", req.Add)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meta)
}

// Register handles POST /api/v1/metaidos/{metaID}/register
// Records a participant's rank and allocation multiplier in the
// MetaIDO's table. Re-registering overwrites the previous entry.
func (s *Service) Register(w http.ResponseWriter, r *http.Request) {
	metaID, err := parseID(r, "metaID")
	if err != nil {
		writeError(w, "invalid meta ido id", http.StatusBadRequest)
		return
	}
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.gate.Authorize(req.Caller); err != nil {
		writeDomainError(w, err)
		return
	}
	if req.Participant == "" {
		writeError(w, "participant is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	if _, err := s.store.GetMetaIDO(ctx, metaID); err != nil {
		writeDomainError(w, err)
		return
	}

	multiplier := req.Multiplier
	if multiplier.IsZero() {
		multiplier = allocation.UnitMultiplier // 1.0x
	}

	reg := &model.Registration{
		MetaIDOID:   metaID,
		Participant: req.Participant,
		Rank:        req.Rank,
		Multiplier:  multiplier,
	}
	if err := s.store.SetRegistration(ctx, reg); err != nil {
		writeError(w, "failed to register participant", http.StatusInternalServerError)
		return
	}

	slog.Info("participant registered",
		"meta_ido", metaID,
		"participant", req.Participant,
		"rank", req.Rank,
		"multiplier", multiplier.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reg)
}

// SetRoundSpec handles POST /api/v1/rounds/{roundID}/spec
// Attaches the rank/multiplier eligibility policy to a round. Read-side
// only: the policy never mutates the ledger.
func (s *Service) SetRoundSpec(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "roundID")
	if err != nil {
		writeError(w, "invalid round id", http.StatusBadRequest)
		return
	}
	var req RoundSpecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.gate.Authorize(req.Caller); err != nil {
		writeDomainError(w, err)
		return
	}
	if !req.NoRank && req.MaxRank < req.MinRank {
		writeError(w, "max_rank must not be below min_rank", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	if _, err := s.store.GetRound(ctx, id); err != nil {
		writeDomainError(w, err)
		return
	}

	multiplier := req.MaxAllocMultiplier
	if multiplier.IsZero() {
		multiplier = allocation.UnitMultiplier // 1.0x
	}

	spec := &model.RoundSpec{
		RoundID:            id,
		MinRank:            req.MinRank,
		MaxRank:            req.MaxRank,
		NoRank:             req.NoRank,
		MaxAlloc:           req.MaxAlloc,
		MaxAllocMultiplier: multiplier,
		NoMultiplier:       req.NoMultiplier,
		Initialized:        true,
	}
	if err := s.store.SetRoundSpec(ctx, spec); err != nil {
		writeError(w, "failed to set round policy", http.StatusInternalServerError)
		return
	}

	slog.Info("round policy set", "round", id, "no_rank", req.NoRank, "max_alloc", req.MaxAlloc.String())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}

// GetEligibility handles GET /api/v1/eligibility?participant=X&rounds=1,2,3
// Returns the advisory per-round eligibility projection for a
// participant across a set of rounds.
func (s *Service) GetEligibility(w http.ResponseWriter, r *http.Request) {
	participant := r.URL.Query().Get("participant")
	if participant == "" {
		writeError(w, "participant is required", http.StatusBadRequest)
		return
	}
	roundsParam := r.URL.Query().Get("rounds")
	if roundsParam == "" {
		writeError(w, "rounds is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	results := make([]model.Eligibility, 0)

	for _, part := range strings.Split(roundsParam, ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			writeError(w, "invalid round id: "+part, http.StatusBadRequest)
			return
		}

		round, err := s.store.GetRound(ctx, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		spec, err := s.store.GetRoundSpec(ctx, id)
		if err != nil {
			writeError(w, "failed to load round policy", http.StatusInternalServerError)
			return
		}

		registered := false
		var rank uint32
		multiplier := allocation.UnitMultiplier
		if round.ParentMetaIDO != 0 {
			reg, err := s.store.GetRegistration(ctx, round.ParentMetaIDO, participant)
			switch {
			case err == nil:
				registered = true
				rank = reg.Rank
				multiplier = reg.Multiplier
			case errors.Is(err, store.ErrRegistrationNotFound):
				// Unregistered participant.
			default:
				writeError(w, "failed to load registration", http.StatusInternalServerError)
				return
			}
		}

		res := eligibility.Assess(*spec, registered, rank, multiplier)
		results = append(results, model.Eligibility{
			RoundID:       id,
			Eligible:      res.Eligible,
			MaxAllocation: res.MaxAllocation,
			Rank:          rank,
			Multiplier:    multiplier,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}
