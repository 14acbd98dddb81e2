// Package sale provides the HTTP handlers and business logic for
// creating funding rounds, recording participations, and settling
// claims.
//
// All monetary values use shopspring/decimal — never float64 for money.
package sale

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/idopools/sale-engine/internal/allocation"
	"github.com/idopools/sale-engine/internal/auth"
	"github.com/idopools/sale-engine/internal/metrics"
	"github.com/idopools/sale-engine/internal/model"
	"github.com/idopools/sale-engine/internal/store"
	"github.com/idopools/sale-engine/internal/token"
)

// MaxDelay bounds how far EndTime and ClaimableTime may be pushed past
// their initial values.
const MaxDelay = 14 * 24 * time.Hour

// Service handles round operations. Uses a mutex for serialized
// mutation of round state (single-instance). For horizontal scaling,
// replace with distributed locking or database-level optimistic
// concurrency.
type Service struct {
	store    store.Store
	tokens   token.Ledger
	gate     auth.Gate
	pool     string // custody account holding sale-token inventory and pulled funds
	treasury string // destination for raised funds on claim
	now      func() time.Time
	mu       sync.Mutex
	wsHub    *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new sale service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, tokens token.Ledger, gate auth.Gate, pool, treasury string, hub *WSHub) *Service {
	return &Service{
		store:    st,
		tokens:   tokens,
		gate:     gate,
		pool:     pool,
		treasury: treasury,
		now:      time.Now,
		wsHub:    hub,
	}
}

// SetClock overrides the service clock. Tests use this to step through
// round windows deterministically.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// --- Request/Response types ---

// CreateRoundRequest is the JSON body for round creation. Times are
// unix seconds.
type CreateRoundRequest struct {
	Caller          string          `json:"caller"`
	SaleToken       string          `json:"sale_token"`
	PrimaryToken    string          `json:"primary_token"`
	SecondaryToken  string          `json:"secondary_token"`
	IDOPrice        decimal.Decimal `json:"ido_price"`
	IDOSize         decimal.Decimal `json:"ido_size"`
	MinFundingGoal  decimal.Decimal `json:"min_funding_goal"`
	SecondaryCapBps int64           `json:"secondary_cap_bps"`
	HasWhitelist    bool            `json:"has_whitelist"`
	StartTime       int64           `json:"start_time"`
	EndTime         int64           `json:"end_time"`
	ClaimableTime   int64           `json:"claimable_time"`
}

// ParticipateRequest is the JSON body for POST /rounds/{id}/participate.
type ParticipateRequest struct {
	Participant string          `json:"participant"`
	Token       string          `json:"token"`
	Amount      decimal.Decimal `json:"amount"`
}

// ParticipateResponse is returned from a successful participation.
type ParticipateResponse struct {
	Receipt  model.Contribution `json:"receipt"`
	Position model.Position     `json:"position"`
}

// ClaimRequest is the JSON body for POST /rounds/{id}/claim.
type ClaimRequest struct {
	Participant string `json:"participant"`
}

// DelayRequest is the JSON body for the two delay endpoints. NewTime is
// unix seconds.
type DelayRequest struct {
	Caller  string `json:"caller"`
	NewTime int64  `json:"new_time"`
}

// WhitelistStatusRequest is the JSON body for POST
// /rounds/{id}/whitelist-status.
type WhitelistStatusRequest struct {
	Caller  string `json:"caller"`
	Enabled bool   `json:"enabled"`
}

// ModifyWhitelistRequest is the JSON body for POST /rounds/{id}/whitelist.
type ModifyWhitelistRequest struct {
	Caller    string   `json:"caller"`
	Addresses []string `json:"addresses"`
	Add       bool     `json:"add"`
}

// SecondaryCapRequest is the JSON body for POST /rounds/{id}/secondary-cap.
type SecondaryCapRequest struct {
	Caller string `json:"caller"`
	Bps    int64  `json:"bps"`
}

// CallerRequest is the JSON body for owner-gated endpoints that carry
// no other parameters.
type CallerRequest struct {
	Caller string `json:"caller"`
}

// WithdrawSpareResponse is returned from POST /rounds/{id}/withdraw-spare.
type WithdrawSpareResponse struct {
	RoundID uint64          `json:"round_id"`
	Token   string          `json:"token"`
	Amount  decimal.Decimal `json:"amount"`
}

// --- HTTP Handlers ---

// CreateRound handles POST /api/v1/rounds
func (s *Service) CreateRound(w http.ResponseWriter, r *http.Request) {
	var req CreateRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.gate.Authorize(req.Caller); err != nil {
		writeDomainError(w, err)
		return
	}
	if req.SaleToken == "" || req.PrimaryToken == "" {
		writeError(w, "sale_token and primary_token are required", http.StatusBadRequest)
		return
	}
	if !req.IDOSize.IsPositive() {
		writeError(w, "ido_size must be positive", http.StatusBadRequest)
		return
	}
	if req.EndTime <= req.StartTime || req.ClaimableTime <= req.EndTime {
		writeDomainError(w, ErrInvalidWindow)
		return
	}
	if err := allocation.ValidateBps(req.SecondaryCapBps); err != nil {
		writeDomainError(w, err)
		return
	}

	ctx := r.Context()

	// Snapshot the sale token's decimal precision at creation time.
	decimals, err := s.tokens.Decimals(ctx, req.SaleToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if _, err := allocation.NewTerms(req.IDOPrice, decimals); err != nil {
		writeDomainError(w, err)
		return
	}

	end := time.Unix(req.EndTime, 0).UTC()
	claimable := time.Unix(req.ClaimableTime, 0).UTC()
	round := &model.Round{
		StartTime:            time.Unix(req.StartTime, 0).UTC(),
		EndTime:              end,
		InitialEndTime:       end,
		ClaimableTime:        claimable,
		InitialClaimableTime: claimable,
		HasWhitelist:         req.HasWhitelist,
		SaleToken:            req.SaleToken,
		IDOTokenDecimals:     decimals,
		PrimaryToken:         req.PrimaryToken,
		SecondaryToken:       req.SecondaryToken,
		IDOPrice:             req.IDOPrice,
		IDOSize:              req.IDOSize,
		MinFundingGoal:       req.MinFundingGoal,
		FundedUSDValue:       decimal.Zero,
		SecondaryCapBps:      req.SecondaryCapBps,
		FundedPrimary:        decimal.Zero,
		FundedSecondary:      decimal.Zero,
		CreatedAt:            s.now().UTC(),
	}

	id, err := s.store.CreateRound(ctx, round)
	if err != nil {
		writeError(w, "failed to create round", http.StatusInternalServerError)
		return
	}
	round.ID = id
	metrics.RoundsCreated.Inc()

	slog.Info("round created",
		"id", round.ID,
		"sale_token", round.SaleToken,
		"price", round.IDOPrice.String(),
		"size", round.IDOSize.String(),
		"whitelist", round.HasWhitelist,
	)

	s.broadcast(WSMessage{
		Type:    "round_created",
		RoundID: round.ID,
		Token:   round.SaleToken,
		Size:    round.IDOSize.String(),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(round)
}

// GetRound handles GET /api/v1/rounds/{roundID}
func (s *Service) GetRound(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "roundID")
	if err != nil {
		writeError(w, "invalid round id", http.StatusBadRequest)
		return
	}

	round, err := s.store.GetRound(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(round)
}

// ListRounds handles GET /api/v1/rounds
func (s *Service) ListRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.store.ListRounds(r.Context())
	if err != nil {
		writeError(w, "failed to list rounds", http.StatusInternalServerError)
		return
	}
	if rounds == nil {
		rounds = []model.Round{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rounds)
}

// FinalizeRound handles POST /api/v1/rounds/{roundID}/finalize
// Freezes the round's size (actual held sale-token inventory) and
// raised value, and unlocks claims once the claimable time passes.
func (s *Service) FinalizeRound(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "roundID")
	if err != nil {
		writeError(w, "invalid round id", http.StatusBadRequest)
		return
	}
	var req CallerRequest
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

	round, err := s.store.GetRound(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if round.Finalized {
		writeDomainError(w, ErrAlreadyFinalized)
		return
	}

	// Size reflects actual deposited inventory, not the nominal figure.
	size, err := s.tokens.BalanceOf(ctx, s.pool, round.SaleToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	raised := round.FundedPrimary.Add(round.FundedSecondary)

	if s.now().Before(round.EndTime) {
		writeDomainError(w, ErrIDONotEnded)
		return
	}
	if raised.LessThan(round.MinFundingGoal) {
		writeDomainError(w, ErrGoalNotReached)
		return
	}

	round.IDOSize = size
	round.FundedUSDValue = raised
	round.Finalized = true
	if err := s.store.UpdateRound(ctx, round); err != nil {
		writeError(w, "failed to finalize round", http.StatusInternalServerError)
		return
	}
	metrics.RoundsFinalized.Inc()

	slog.Info("round finalized",
		"id", round.ID,
		"size", size.String(),
		"raised", raised.String(),
	)

	s.broadcast(WSMessage{
		Type:    "round_finalized",
		RoundID: round.ID,
		Size:    size.String(),
		Raised:  raised.String(),
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(round)
}

// DelayEndTime handles POST /api/v1/rounds/{roundID}/delay-end
func (s *Service) DelayEndTime(w http.ResponseWriter, r *http.Request) {
	s.delay(w, r, false)
}

// DelayClaimableTime handles POST /api/v1/rounds/{roundID}/delay-claimable
func (s *Service) DelayClaimableTime(w http.ResponseWriter, r *http.Request) {
	s.delay(w, r, true)
}

// delay moves a round's end or claimable time forward. Re-applying the
// already stored value succeeds; moving backward or past the initial
// time plus MaxDelay fails.
func (s *Service) delay(w http.ResponseWriter, r *http.Request, claimable bool) {
	id, err := parseID(r, "roundID")
	if err != nil {
		writeError(w, "invalid round id", http.StatusBadRequest)
		return
	}
	var req DelayRequest
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

	round, err := s.store.GetRound(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if round.Finalized {
		writeDomainError(w, ErrAlreadyFinalized)
		return
	}

	newTime := time.Unix(req.NewTime, 0).UTC()
	event := "end_delayed"
	if claimable {
		limit := round.InitialClaimableTime.Add(MaxDelay)
		if newTime.Before(round.ClaimableTime) || !newTime.After(round.EndTime) || newTime.After(limit) {
			writeDomainError(w, ErrInvalidDelay)
			return
		}
		round.ClaimableTime = newTime
		event = "claimable_delayed"
	} else {
		limit := round.InitialEndTime.Add(MaxDelay)
		if newTime.Before(round.EndTime) || !newTime.Before(round.ClaimableTime) || newTime.After(limit) {
			writeDomainError(w, ErrInvalidDelay)
			return
		}
		round.EndTime = newTime
	}

	if err := s.store.UpdateRound(ctx, round); err != nil {
		writeError(w, "failed to update round", http.StatusInternalServerError)
		return
	}

	slog.Info("round time delayed", "id", round.ID, "event", event, "new_time", newTime)

	s.broadcast(WSMessage{Type: event, RoundID: round.ID, NewTime: newTime.Unix()})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(round)
}

// SetWhitelistStatus handles POST /api/v1/rounds/{roundID}/whitelist-status
// Enabling is only allowed before the round opens; disabling any time
// before finalization.
func (s *Service) SetWhitelistStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "roundID")
	if err != nil {
		writeError(w, "invalid round id", http.StatusBadRequest)
		return
	}
	var req WhitelistStatusRequest
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

	round, err := s.store.GetRound(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	event := "whitelist_disabled"
	if req.Enabled {
		if !s.now().Before(round.StartTime) {
			writeDomainError(w, ErrWindowClosed)
			return
		}
		event = "whitelist_enabled"
	} else {
		if round.Finalized {
			writeDomainError(w, ErrAlreadyFinalized)
			return
		}
		if !round.HasWhitelist {
			writeDomainError(w, ErrWhitelistDisabled)
			return
		}
	}

	round.HasWhitelist = req.Enabled
	if err := s.store.UpdateRound(ctx, round); err != nil {
		writeError(w, "failed to update round", http.StatusInternalServerError)
		return
	}

	slog.Info("whitelist status changed", "id", round.ID, "enabled", req.Enabled)

	s.broadcast(WSMessage{Type: event, RoundID: round.ID})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(round)
}

// ModifyWhitelist handles POST /api/v1/rounds/{roundID}/whitelist
// Batch add or remove of participant addresses.
func (s *Service) ModifyWhitelist(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "roundID")
	if err != nil {
		writeError(w, "invalid round id", http.StatusBadRequest)
		return
	}
	var req ModifyWhitelistRequest
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

	round, err := s.store.GetRound(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !round.HasWhitelist {
		writeDomainError(w, ErrWhitelistDisabled)
		return
	}
	if len(req.Addresses) == 0 {
		writeDomainError(w, ErrEmptyAddressList)
		return
	}

	if err := s.store.SetWhitelisted(ctx, id, req.Addresses, req.Add); err != nil {
		writeError(w, "failed to modify whitelist", http.StatusInternalServerError)
		return
	}

	slog.Info("whitelist modified", "id", id, "count", len(req.Addresses), "add", req.Add)

	s.broadcast(WSMessage{Type: "whitelist_modified", RoundID: id})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"modified": len(req.Addresses)})
}

// SetSecondaryCap handles POST /api/v1/rounds/{roundID}/secondary-cap
// Locked once the round opens.
func (s *Service) SetSecondaryCap(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "roundID")
	if err != nil {
		writeError(w, "invalid round id", http.StatusBadRequest)
		return
	}
	var req SecondaryCapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.gate.Authorize(req.Caller); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := allocation.ValidateBps(req.Bps); err != nil {
		writeDomainError(w, err)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	round, err := s.store.GetRound(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !s.now().Before(round.StartTime) {
		writeDomainError(w, ErrWindowClosed)
		return
	}

	round.SecondaryCapBps = req.Bps
	if err := s.store.UpdateRound(ctx, round); err != nil {
		writeError(w, "failed to update round", http.StatusInternalServerError)
		return
	}

	slog.Info("secondary cap changed", "id", round.ID, "bps", req.Bps)

	s.broadcast(WSMessage{Type: "bps_changed", RoundID: round.ID, Bps: req.Bps})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(round)
}

// Participate handles POST /api/v1/rounds/{roundID}/participate
// Validates lifecycle and eligibility gates, pulls the contribution
// from the participant, and credits the position atomically.
func (s *Service) Participate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "roundID")
	if err != nil {
		writeError(w, "invalid round id", http.StatusBadRequest)
		return
	}
	var req ParticipateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Participant == "" {
		writeError(w, "participant is required", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeDomainError(w, ErrInvalidAmount)
		return
	}

	ctx := r.Context()

	// Serialize ledger mutation.
	s.mu.Lock()
	defer s.mu.Unlock()

	round, err := s.store.GetRound(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	now := s.now()
	if now.Before(round.StartTime) {
		writeDomainError(w, ErrNotStarted)
		return
	}
	if round.Finalized {
		writeDomainError(w, ErrAlreadyFinalized)
		return
	}

	// Validation order: token, whitelist, cap — cheap first.
	isSecondary := round.SecondaryToken != "" && req.Token == round.SecondaryToken
	if req.Token != round.PrimaryToken && !isSecondary {
		writeDomainError(w, ErrInvalidToken)
		return
	}

	if round.HasWhitelist {
		listed, err := s.store.IsWhitelisted(ctx, id, req.Participant)
		if err != nil {
			writeError(w, "failed to check whitelist", http.StatusInternalServerError)
			return
		}
		if !listed {
			writeDomainError(w, ErrNotWhitelisted)
			return
		}
	}

	if isSecondary {
		capacity, err := allocation.SecondaryCapacity(round.IDOSize, round.SecondaryCapBps)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		projected := round.FundedPrimary.Add(round.FundedSecondary).Add(req.Amount)
		if projected.GreaterThan(capacity) {
			metrics.CapRejections.Inc()
			writeDomainError(w, ErrSecondaryCapExceeded)
			return
		}
	}

	terms, err := allocation.NewTerms(round.IDOPrice, round.IDOTokenDecimals)
	if err != nil {
		writeError(w, "internal error: invalid round configuration", http.StatusInternalServerError)
		return
	}
	alloc := terms.TokensFor(req.Amount)

	pos, err := s.store.GetPosition(ctx, id, req.Participant)
	if errors.Is(err, store.ErrPositionNotFound) {
		pos = &model.Position{
			RoundID:         id,
			Participant:     req.Participant,
			Amount:          decimal.Zero,
			SecondaryAmount: decimal.Zero,
			TokenAllocation: decimal.Zero,
		}
	} else if err != nil {
		writeError(w, "failed to load position", http.StatusInternalServerError)
		return
	}

	pos.Amount = pos.Amount.Add(req.Amount)
	pos.TokenAllocation = pos.TokenAllocation.Add(alloc)
	if isSecondary {
		pos.SecondaryAmount = pos.SecondaryAmount.Add(req.Amount)
		round.FundedSecondary = round.FundedSecondary.Add(req.Amount)
	} else {
		round.FundedPrimary = round.FundedPrimary.Add(req.Amount)
	}
	round.FundedUSDValue = round.FundedUSDValue.Add(req.Amount)

	// Pull first; credit only persists once the funds are in custody.
	if err := s.tokens.Pull(ctx, req.Token, req.Participant, s.pool, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.store.RecordContribution(ctx, round, pos); err != nil {
		// Return the pulled funds; nothing was credited.
		if pushErr := s.tokens.Push(ctx, req.Token, s.pool, req.Participant, req.Amount); pushErr != nil {
			slog.Error("failed to return pulled funds", "round", id, "participant", req.Participant, "err", pushErr)
		}
		writeError(w, "failed to record contribution", http.StatusInternalServerError)
		return
	}

	receipt := model.Contribution{
		ID:          uuid.New().String(),
		RoundID:     id,
		Participant: req.Participant,
		Token:       req.Token,
		Amount:      req.Amount,
		Allocation:  alloc,
		Timestamp:   now.UTC(),
	}
	metrics.Participations.WithLabelValues(req.Token).Inc()

	slog.Info("participation recorded",
		"receipt", receipt.ID,
		"round", id,
		"participant", req.Participant,
		"token", req.Token,
		"amount", req.Amount.String(),
		"allocation", alloc.String(),
	)

	s.broadcast(WSMessage{
		Type:        "participation",
		RoundID:     id,
		Participant: req.Participant,
		Token:       req.Token,
		Amount:      req.Amount.String(),
		Allocation:  alloc.String(),
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ParticipateResponse{Receipt: receipt, Position: *pos})
}

// Claim handles POST /api/v1/rounds/{roundID}/claim
// Settles the participant's position exactly once: the position is
// deleted before any transfer so a concurrent or repeated claim fails
// with NoPosition instead of paying twice.
func (s *Service) Claim(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "roundID")
	if err != nil {
		writeError(w, "invalid round id", http.StatusBadRequest)
		return
	}
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Participant == "" {
		writeError(w, "participant is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	round, err := s.store.GetRound(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !round.Finalized || s.now().Before(round.ClaimableTime) {
		writeDomainError(w, ErrNotClaimable)
		return
	}

	pos, err := s.store.GetPosition(ctx, id, req.Participant)
	if errors.Is(err, store.ErrPositionNotFound) {
		writeDomainError(w, ErrNoPosition)
		return
	} else if err != nil {
		writeError(w, "failed to load position", http.StatusInternalServerError)
		return
	}
	if pos.Amount.IsZero() {
		writeDomainError(w, ErrNoPosition)
		return
	}

	// Delete before transferring so a repeated claim sees no position.
	if err := s.store.DeletePosition(ctx, id, req.Participant); err != nil {
		writeError(w, "failed to settle position", http.StatusInternalServerError)
		return
	}

	// Route raised funds to the treasury, then pay out the allocation.
	// On any transfer failure, reverse completed transfers and restore
	// the position so the claim can be retried.
	var undo []func()
	rollback := func(cause error) {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		if putErr := s.store.PutPosition(ctx, pos); putErr != nil {
			slog.Error("failed to restore position after claim rollback",
				"round", id, "participant", req.Participant, "err", putErr)
		}
		writeDomainError(w, cause)
	}

	secondary := pos.SecondaryAmount
	primary := pos.Amount.Sub(secondary)

	if secondary.IsPositive() {
		if err := s.tokens.Push(ctx, round.SecondaryToken, s.pool, s.treasury, secondary); err != nil {
			rollback(err)
			return
		}
		undo = append(undo, func() {
			s.tokens.Push(ctx, round.SecondaryToken, s.treasury, s.pool, secondary)
		})
	}
	if primary.IsPositive() {
		if err := s.tokens.Push(ctx, round.PrimaryToken, s.pool, s.treasury, primary); err != nil {
			rollback(err)
			return
		}
		undo = append(undo, func() {
			s.tokens.Push(ctx, round.PrimaryToken, s.treasury, s.pool, primary)
		})
	}
	if pos.TokenAllocation.IsPositive() {
		if err := s.tokens.Push(ctx, round.SaleToken, s.pool, req.Participant, pos.TokenAllocation); err != nil {
			rollback(err)
			return
		}
	}

	receipt := model.ClaimReceipt{
		ID:              uuid.New().String(),
		RoundID:         id,
		Participant:     req.Participant,
		Amount:          pos.Amount,
		SecondaryAmount: pos.SecondaryAmount,
		TokenAllocation: pos.TokenAllocation,
		Timestamp:       s.now().UTC(),
	}
	metrics.Claims.Inc()

	slog.Info("position claimed",
		"receipt", receipt.ID,
		"round", id,
		"participant", req.Participant,
		"allocation", pos.TokenAllocation.String(),
	)

	s.broadcast(WSMessage{
		Type:        "claimed",
		RoundID:     id,
		Participant: req.Participant,
		Allocation:  pos.TokenAllocation.String(),
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(receipt)
}

// WithdrawSpare handles POST /api/v1/rounds/{roundID}/withdraw-spare
// Recovers unsold sale-token inventory from an unfinalized round whose
// nominal goal in sale-token terms was not reached.
func (s *Service) WithdrawSpare(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "roundID")
	if err != nil {
		writeError(w, "invalid round id", http.StatusBadRequest)
		return
	}
	var req CallerRequest
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

	round, err := s.store.GetRound(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if round.Finalized {
		writeDomainError(w, ErrAlreadyFinalized)
		return
	}

	terms, err := allocation.NewTerms(round.IDOPrice, round.IDOTokenDecimals)
	if err != nil {
		writeError(w, "internal error: invalid round configuration", http.StatusInternalServerError)
		return
	}

	goalValue := terms.GoalValue(round.IDOSize)
	if !goalValue.GreaterThan(round.FundedUSDValue) {
		writeDomainError(w, ErrGoalReached)
		return
	}

	balance, err := s.tokens.BalanceOf(ctx, s.pool, round.SaleToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	spare := balance.Sub(terms.SoldEquivalent(round.FundedUSDValue))
	if spare.IsPositive() {
		if err := s.tokens.Push(ctx, round.SaleToken, s.pool, req.Caller, spare); err != nil {
			writeDomainError(w, err)
			return
		}
	} else {
		spare = decimal.Zero
	}

	slog.Info("spare tokens withdrawn", "round", id, "amount", spare.String())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(WithdrawSpareResponse{
		RoundID: id,
		Token:   round.SaleToken,
		Amount:  spare,
	})
}

// GetPosition handles GET /api/v1/rounds/{roundID}/positions/{participant}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "roundID")
	if err != nil {
		writeError(w, "invalid round id", http.StatusBadRequest)
		return
	}
	participant := chi.URLParam(r, "participant")

	pos, err := s.store.GetPosition(r.Context(), id, participant)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pos)
}

// --- helpers ---

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}

func parseID(r *http.Request, key string) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, key), 10, 64)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeDomainError maps a domain error to its HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), httpStatus(err))
}
