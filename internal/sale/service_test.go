package sale_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/idopools/sale-engine/internal/auth"
	"github.com/idopools/sale-engine/internal/model"
	"github.com/idopools/sale-engine/internal/sale"
	"github.com/idopools/sale-engine/internal/store"
	"github.com/idopools/sale-engine/internal/token"
)

const owner = "owner-key"

func di(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func ds(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return v
}

// fakeClock lets tests walk through round windows deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Set(unix int64) {
	c.t = time.Unix(unix, 0).UTC()
}

type testEnv struct {
	svc    *sale.Service
	ms     *store.MemoryStore
	bank   *token.Bank
	router chi.Router
	clock  *fakeClock
}

// newTestEnv creates a test Service with in-memory store, token bank,
// and chi router. The clock starts at t=50, before the default round
// window (start=100, end=200, claimable=300).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	bank := token.NewBank()
	bank.RegisterToken("IDO", 18)
	bank.RegisterToken("SALE", 0)
	bank.RegisterToken("USDT", 6)
	bank.RegisterToken("FYUSD", 6)

	svc := sale.NewService(ms, bank, auth.NewOwnerGate(owner), "pool", "treasury", nil)
	clock := &fakeClock{t: time.Unix(50, 0).UTC()}
	svc.SetClock(clock.Now)

	r := chi.NewRouter()
	r.Post("/api/v1/rounds", svc.CreateRound)
	r.Get("/api/v1/rounds/{roundID}", svc.GetRound)
	r.Post("/api/v1/rounds/{roundID}/finalize", svc.FinalizeRound)
	r.Post("/api/v1/rounds/{roundID}/delay-end", svc.DelayEndTime)
	r.Post("/api/v1/rounds/{roundID}/delay-claimable", svc.DelayClaimableTime)
	r.Post("/api/v1/rounds/{roundID}/whitelist-status", svc.SetWhitelistStatus)
	r.Post("/api/v1/rounds/{roundID}/whitelist", svc.ModifyWhitelist)
	r.Post("/api/v1/rounds/{roundID}/secondary-cap", svc.SetSecondaryCap)
	r.Post("/api/v1/rounds/{roundID}/spec", svc.SetRoundSpec)
	r.Post("/api/v1/rounds/{roundID}/participate", svc.Participate)
	r.Post("/api/v1/rounds/{roundID}/claim", svc.Claim)
	r.Post("/api/v1/rounds/{roundID}/withdraw-spare", svc.WithdrawSpare)
	r.Get("/api/v1/rounds/{roundID}/positions/{participant}", svc.GetPosition)
	r.Post("/api/v1/metaidos", svc.CreateMetaIDO)
	r.Post("/api/v1/metaidos/{metaID}/rounds", svc.ManageRound)
	r.Post("/api/v1/metaidos/{metaID}/register", svc.Register)
	r.Get("/api/v1/eligibility", svc.GetEligibility)

	return &testEnv{svc: svc, ms: ms, bank: bank, router: r, clock: clock}
}

func (e *testEnv) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func defaultRound() sale.CreateRoundRequest {
	return sale.CreateRoundRequest{
		Caller:          owner,
		SaleToken:       "IDO",
		PrimaryToken:    "USDT",
		SecondaryToken:  "FYUSD",
		IDOPrice:        di(2),
		IDOSize:         di(1_000_000_000),
		MinFundingGoal:  decimal.Zero,
		SecondaryCapBps: 10000,
		StartTime:       100,
		EndTime:         200,
		ClaimableTime:   300,
	}
}

// createRound creates a round via the API and returns its ID.
func (e *testEnv) createRound(t *testing.T, mod func(*sale.CreateRoundRequest)) uint64 {
	t.Helper()
	req := defaultRound()
	if mod != nil {
		mod(&req)
	}
	w := e.post(t, "/api/v1/rounds", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("failed to create round: %d %s", w.Code, w.Body.String())
	}
	var round model.Round
	json.Unmarshal(w.Body.Bytes(), &round)
	return round.ID
}

func (e *testEnv) participate(t *testing.T, roundID uint64, participant, tok string, amount decimal.Decimal) *httptest.ResponseRecorder {
	t.Helper()
	return e.post(t, fmt.Sprintf("/api/v1/rounds/%d/participate", roundID), sale.ParticipateRequest{
		Participant: participant,
		Token:       tok,
		Amount:      amount,
	})
}

func (e *testEnv) balance(t *testing.T, holder, tok string) decimal.Decimal {
	t.Helper()
	bal, err := e.bank.BalanceOf(context.Background(), holder, tok)
	if err != nil {
		t.Fatalf("balance of %s/%s: %v", holder, tok, err)
	}
	return bal
}

// --- Round creation ---

func TestCreateRound_AssignsSequentialIDs(t *testing.T) {
	e := newTestEnv(t)

	if id := e.createRound(t, nil); id != 1 {
		t.Errorf("expected first round id=1, got %d", id)
	}
	if id := e.createRound(t, nil); id != 2 {
		t.Errorf("expected second round id=2, got %d", id)
	}
}

func TestCreateRound_SnapshotsDecimals(t *testing.T) {
	e := newTestEnv(t)
	e.createRound(t, nil)

	round, err := e.ms.GetRound(context.Background(), 1)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if round.IDOTokenDecimals != 18 {
		t.Errorf("expected decimals snapshot 18, got %d", round.IDOTokenDecimals)
	}
	if !round.FundedUSDValue.IsZero() {
		t.Errorf("expected zero funded value, got %s", round.FundedUSDValue)
	}
}

func TestCreateRound_InvalidWindow(t *testing.T) {
	e := newTestEnv(t)

	w := e.post(t, "/api/v1/rounds", func() sale.CreateRoundRequest {
		r := defaultRound()
		r.EndTime = 100 // end ≤ start
		return r
	}())
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for end ≤ start, got %d", w.Code)
	}

	w = e.post(t, "/api/v1/rounds", func() sale.CreateRoundRequest {
		r := defaultRound()
		r.ClaimableTime = 200 // claimable ≤ end
		return r
	}())
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for claimable ≤ end, got %d", w.Code)
	}
}

func TestCreateRound_Unauthorized(t *testing.T) {
	e := newTestEnv(t)

	req := defaultRound()
	req.Caller = "mallory"
	w := e.post(t, "/api/v1/rounds", req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-owner, got %d", w.Code)
	}
}

// --- Participation ---

func TestParticipate_RoundTripAllocation(t *testing.T) {
	// amount=1_000_000 at price=2 with 18 sale-token decimals must
	// allocate exactly 5 * 10^23, and claim must transfer exactly that.
	e := newTestEnv(t)
	e.createRound(t, nil)
	e.bank.Mint("alice", "USDT", di(1_000_000))
	e.bank.Mint("pool", "IDO", ds(t, "1000000000000000000000000"))

	e.clock.Set(150)
	w := e.participate(t, 1, "alice", "USDT", di(1_000_000))
	if w.Code != http.StatusOK {
		t.Fatalf("participate failed: %d %s", w.Code, w.Body.String())
	}

	var resp sale.ParticipateResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	want := ds(t, "500000000000000000000000")
	if !resp.Position.TokenAllocation.Equal(want) {
		t.Fatalf("expected allocation %s, got %s", want, resp.Position.TokenAllocation)
	}
	if !e.balance(t, "alice", "USDT").IsZero() {
		t.Error("contribution should have been pulled from alice")
	}
	if !e.balance(t, "pool", "USDT").Equal(di(1_000_000)) {
		t.Error("contribution should be in custody")
	}

	// Finalize after end, claim after claimable.
	e.clock.Set(250)
	if w := e.post(t, "/api/v1/rounds/1/finalize", sale.CallerRequest{Caller: owner}); w.Code != http.StatusOK {
		t.Fatalf("finalize failed: %d %s", w.Code, w.Body.String())
	}
	e.clock.Set(350)
	if w := e.post(t, "/api/v1/rounds/1/claim", sale.ClaimRequest{Participant: "alice"}); w.Code != http.StatusOK {
		t.Fatalf("claim failed: %d %s", w.Code, w.Body.String())
	}

	if !e.balance(t, "alice", "IDO").Equal(want) {
		t.Errorf("expected alice to receive %s IDO, got %s", want, e.balance(t, "alice", "IDO"))
	}
	if !e.balance(t, "treasury", "USDT").Equal(di(1_000_000)) {
		t.Errorf("expected treasury to receive raised funds, got %s", e.balance(t, "treasury", "USDT"))
	}
}

func TestParticipate_WindowScenario(t *testing.T) {
	e := newTestEnv(t)
	e.createRound(t, func(r *sale.CreateRoundRequest) {
		r.MinFundingGoal = di(1_000_000)
	})
	e.bank.Mint("alice", "USDT", di(500))

	// Before start.
	e.clock.Set(50)
	if w := e.participate(t, 1, "alice", "USDT", di(100)); w.Code != http.StatusConflict {
		t.Errorf("expected 409 before start, got %d", w.Code)
	}

	// Invalid token inside the window.
	e.clock.Set(150)
	if w := e.participate(t, 1, "alice", "DOGE", di(100)); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid token, got %d", w.Code)
	}

	// Finalize before end.
	if w := e.post(t, "/api/v1/rounds/1/finalize", sale.CallerRequest{Caller: owner}); w.Code != http.StatusConflict {
		t.Errorf("expected 409 finalizing before end, got %d", w.Code)
	}

	// Finalize after end with raised below the goal.
	if w := e.participate(t, 1, "alice", "USDT", di(500)); w.Code != http.StatusOK {
		t.Fatalf("participate failed: %d %s", w.Code, w.Body.String())
	}
	e.clock.Set(250)
	if w := e.post(t, "/api/v1/rounds/1/finalize", sale.CallerRequest{Caller: owner}); w.Code != http.StatusConflict {
		t.Errorf("expected 409 for goal not reached, got %d", w.Code)
	}
}

func TestParticipate_Whitelist(t *testing.T) {
	e := newTestEnv(t)
	e.createRound(t, func(r *sale.CreateRoundRequest) {
		r.HasWhitelist = true
	})
	e.bank.Mint("alice", "USDT", di(100))
	e.bank.Mint("bob", "USDT", di(100))

	w := e.post(t, "/api/v1/rounds/1/whitelist", sale.ModifyWhitelistRequest{
		Caller:    owner,
		Addresses: []string{"alice"},
		Add:       true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("whitelist add failed: %d %s", w.Code, w.Body.String())
	}

	e.clock.Set(150)
	if w := e.participate(t, 1, "bob", "USDT", di(100)); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-whitelisted, got %d", w.Code)
	}
	if w := e.participate(t, 1, "alice", "USDT", di(100)); w.Code != http.StatusOK {
		t.Errorf("expected whitelisted participation to succeed, got %d: %s", w.Code, w.Body.String())
	}
}

func TestParticipate_SecondaryCapAtomic(t *testing.T) {
	// capacity = idoSize * bps / 10000 = 1_000_000 * 1000 / 10000 = 100_000.
	e := newTestEnv(t)
	e.createRound(t, func(r *sale.CreateRoundRequest) {
		r.IDOSize = di(1_000_000)
		r.SecondaryCapBps = 1000
	})
	e.bank.Mint("alice", "FYUSD", di(100_001))

	e.clock.Set(150)
	if w := e.participate(t, 1, "alice", "FYUSD", di(100_000)); w.Code != http.StatusOK {
		t.Fatalf("participation at the cap should succeed: %d %s", w.Code, w.Body.String())
	}
	if w := e.participate(t, 1, "alice", "FYUSD", di(1)); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 past the cap, got %d: %s", w.Code, w.Body.String())
	}

	// Rejection must leave no partial credit.
	round, _ := e.ms.GetRound(context.Background(), 1)
	if !round.FundedSecondary.Equal(di(100_000)) {
		t.Errorf("funded secondary changed on rejection: %s", round.FundedSecondary)
	}
	if !e.balance(t, "alice", "FYUSD").Equal(di(1)) {
		t.Errorf("rejected funds should stay with alice, got %s", e.balance(t, "alice", "FYUSD"))
	}
	pos, err := e.ms.GetPosition(context.Background(), 1, "alice")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if !pos.SecondaryAmount.Equal(di(100_000)) {
		t.Errorf("position changed on rejection: %s", pos.SecondaryAmount)
	}
}

func TestParticipate_TotalsConserved(t *testing.T) {
	e := newTestEnv(t)
	e.createRound(t, nil)
	e.bank.Mint("alice", "USDT", di(300))
	e.bank.Mint("alice", "FYUSD", di(200))

	e.clock.Set(150)
	e.participate(t, 1, "alice", "USDT", di(300))
	e.participate(t, 1, "alice", "FYUSD", di(200))

	round, _ := e.ms.GetRound(context.Background(), 1)
	if !round.FundedPrimary.Equal(di(300)) || !round.FundedSecondary.Equal(di(200)) {
		t.Errorf("per-token totals wrong: primary=%s secondary=%s",
			round.FundedPrimary, round.FundedSecondary)
	}
	if !round.FundedUSDValue.Equal(di(500)) {
		t.Errorf("expected funded value 500, got %s", round.FundedUSDValue)
	}

	pos, _ := e.ms.GetPosition(context.Background(), 1, "alice")
	if !pos.Amount.Equal(di(500)) {
		t.Errorf("expected cross-token amount 500, got %s", pos.Amount)
	}
	if !pos.SecondaryAmount.Equal(di(200)) {
		t.Errorf("expected secondary amount 200, got %s", pos.SecondaryAmount)
	}
}

// --- Finalization & settlement ---

func TestFinalize_OneWay(t *testing.T) {
	e := newTestEnv(t)
	e.createRound(t, nil)
	e.bank.Mint("alice", "USDT", di(200))

	e.clock.Set(150)
	e.participate(t, 1, "alice", "USDT", di(100))

	e.clock.Set(250)
	if w := e.post(t, "/api/v1/rounds/1/finalize", sale.CallerRequest{Caller: owner}); w.Code != http.StatusOK {
		t.Fatalf("finalize failed: %d %s", w.Code, w.Body.String())
	}
	if w := e.post(t, "/api/v1/rounds/1/finalize", sale.CallerRequest{Caller: owner}); w.Code != http.StatusConflict {
		t.Errorf("expected 409 on second finalize, got %d", w.Code)
	}
	if w := e.participate(t, 1, "alice", "USDT", di(100)); w.Code != http.StatusConflict {
		t.Errorf("expected 409 participating after finalize, got %d", w.Code)
	}
}

func TestFinalize_FreezesActualInventory(t *testing.T) {
	e := newTestEnv(t)
	e.createRound(t, func(r *sale.CreateRoundRequest) {
		r.SaleToken = "SALE"
		r.IDOPrice = di(1)
	})
	e.bank.Mint("pool", "SALE", di(750))
	e.bank.Mint("alice", "USDT", di(100))

	e.clock.Set(150)
	e.participate(t, 1, "alice", "USDT", di(100))

	e.clock.Set(250)
	w := e.post(t, "/api/v1/rounds/1/finalize", sale.CallerRequest{Caller: owner})
	if w.Code != http.StatusOK {
		t.Fatalf("finalize failed: %d %s", w.Code, w.Body.String())
	}

	round, _ := e.ms.GetRound(context.Background(), 1)
	if !round.IDOSize.Equal(di(750)) {
		t.Errorf("size should reflect held inventory 750, got %s", round.IDOSize)
	}
	if !round.FundedUSDValue.Equal(di(100)) {
		t.Errorf("raised should be frozen at 100, got %s", round.FundedUSDValue)
	}
}

func TestClaim_Idempotent(t *testing.T) {
	e := newTestEnv(t)
	e.createRound(t, func(r *sale.CreateRoundRequest) {
		r.SaleToken = "SALE"
		r.IDOPrice = di(1)
	})
	e.bank.Mint("pool", "SALE", di(1000))
	e.bank.Mint("alice", "USDT", di(100))

	e.clock.Set(150)
	e.participate(t, 1, "alice", "USDT", di(100))
	e.clock.Set(250)
	e.post(t, "/api/v1/rounds/1/finalize", sale.CallerRequest{Caller: owner})
	e.clock.Set(350)

	if w := e.post(t, "/api/v1/rounds/1/claim", sale.ClaimRequest{Participant: "alice"}); w.Code != http.StatusOK {
		t.Fatalf("first claim failed: %d %s", w.Code, w.Body.String())
	}
	if w := e.post(t, "/api/v1/rounds/1/claim", sale.ClaimRequest{Participant: "alice"}); w.Code != http.StatusConflict {
		t.Errorf("expected 409 on second claim, got %d", w.Code)
	}

	// No double transfer.
	if !e.balance(t, "alice", "SALE").Equal(di(100)) {
		t.Errorf("expected alice to hold exactly 100 SALE, got %s", e.balance(t, "alice", "SALE"))
	}
	if !e.balance(t, "treasury", "USDT").Equal(di(100)) {
		t.Errorf("expected treasury to hold exactly 100 USDT, got %s", e.balance(t, "treasury", "USDT"))
	}
}

func TestClaim_NotClaimable(t *testing.T) {
	e := newTestEnv(t)
	e.createRound(t, nil)
	e.bank.Mint("alice", "USDT", di(100))

	e.clock.Set(150)
	e.participate(t, 1, "alice", "USDT", di(100))

	// Not finalized.
	e.clock.Set(350)
	if w := e.post(t, "/api/v1/rounds/1/claim", sale.ClaimRequest{Participant: "alice"}); w.Code != http.StatusConflict {
		t.Errorf("expected 409 before finalization, got %d", w.Code)
	}

	// Finalized but before claimable time.
	e.clock.Set(250)
	e.post(t, "/api/v1/rounds/1/finalize", sale.CallerRequest{Caller: owner})
	if w := e.post(t, "/api/v1/rounds/1/claim", sale.ClaimRequest{Participant: "alice"}); w.Code != http.StatusConflict {
		t.Errorf("expected 409 before claimable time, got %d", w.Code)
	}
}

func TestClaim_NoPosition(t *testing.T) {
	e := newTestEnv(t)
	e.createRound(t, nil)

	e.clock.Set(250)
	e.post(t, "/api/v1/rounds/1/finalize", sale.CallerRequest{Caller: owner})
	e.clock.Set(350)

	if w := e.post(t, "/api/v1/rounds/1/claim", sale.ClaimRequest{Participant: "nobody"}); w.Code != http.StatusConflict {
		t.Errorf("expected 409 for missing position, got %d", w.Code)
	}
}

func TestWithdrawSpare_Underfunded(t *testing.T) {
	// goalValue = 1000 * 1 / 10^0 = 1000; funded 400 < 1000, so the
	// spare 1000 - 400 = 600 is recoverable.
	e := newTestEnv(t)
	e.createRound(t, func(r *sale.CreateRoundRequest) {
		r.SaleToken = "SALE"
		r.IDOPrice = di(1)
		r.IDOSize = di(1000)
	})
	e.bank.Mint("pool", "SALE", di(1000))
	e.bank.Mint("alice", "USDT", di(400))

	e.clock.Set(150)
	e.participate(t, 1, "alice", "USDT", di(400))

	w := e.post(t, "/api/v1/rounds/1/withdraw-spare", sale.CallerRequest{Caller: owner})
	if w.Code != http.StatusOK {
		t.Fatalf("withdraw failed: %d %s", w.Code, w.Body.String())
	}

	var resp sale.WithdrawSpareResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Amount.Equal(di(600)) {
		t.Errorf("expected spare 600, got %s", resp.Amount)
	}
	if !e.balance(t, owner, "SALE").Equal(di(600)) {
		t.Errorf("expected owner to receive 600 SALE, got %s", e.balance(t, owner, "SALE"))
	}
	if !e.balance(t, "pool", "SALE").Equal(di(400)) {
		t.Errorf("sold inventory must remain in custody, got %s", e.balance(t, "pool", "SALE"))
	}
}

func TestWithdrawSpare_GoalReached(t *testing.T) {
	e := newTestEnv(t)
	e.createRound(t, func(r *sale.CreateRoundRequest) {
		r.SaleToken = "SALE"
		r.IDOPrice = di(1)
		r.IDOSize = di(1000)
	})
	e.bank.Mint("pool", "SALE", di(1000))
	e.bank.Mint("alice", "USDT", di(1000))

	e.clock.Set(150)
	e.participate(t, 1, "alice", "USDT", di(1000))

	if w := e.post(t, "/api/v1/rounds/1/withdraw-spare", sale.CallerRequest{Caller: owner}); w.Code != http.StatusConflict {
		t.Errorf("expected 409 once goal value is met, got %d", w.Code)
	}
}

func TestWithdrawSpare_FinalizedRound(t *testing.T) {
	e := newTestEnv(t)
	e.createRound(t, nil)

	e.clock.Set(250)
	e.post(t, "/api/v1/rounds/1/finalize", sale.CallerRequest{Caller: owner})

	if w := e.post(t, "/api/v1/rounds/1/withdraw-spare", sale.CallerRequest{Caller: owner}); w.Code != http.StatusConflict {
		t.Errorf("expected 409 for finalized round, got %d", w.Code)
	}
}

// --- Window mutations ---

func TestDelay_Monotonic(t *testing.T) {
	e := newTestEnv(t)
	e.createRound(t, nil)

	// Forward within bounds.
	if w := e.post(t, "/api/v1/rounds/1/delay-end", sale.DelayRequest{Caller: owner, NewTime: 250}); w.Code != http.StatusOK {
		t.Fatalf("delay-end failed: %d %s", w.Code, w.Body.String())
	}
	// Backward relative to the stored value.
	if w := e.post(t, "/api/v1/rounds/1/delay-end", sale.DelayRequest{Caller: owner, NewTime: 220}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 moving end backward, got %d", w.Code)
	}
	// Re-applying the stored value succeeds.
	if w := e.post(t, "/api/v1/rounds/1/delay-end", sale.DelayRequest{Caller: owner, NewTime: 250}); w.Code != http.StatusOK {
		t.Errorf("expected re-applied delay to succeed, got %d", w.Code)
	}
	// Past initial claimable + 14 days.
	if w := e.post(t, "/api/v1/rounds/1/delay-claimable", sale.DelayRequest{Caller: owner, NewTime: 300 + 14*24*3600 + 1}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 past max claimable delay, got %d", w.Code)
	}

	// Claimable never moves backward.
	if w := e.post(t, "/api/v1/rounds/1/delay-claimable", sale.DelayRequest{Caller: owner, NewTime: 240}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for claimable before current claimable, got %d", w.Code)
	}
	if w := e.post(t, "/api/v1/rounds/1/delay-claimable", sale.DelayRequest{Caller: owner, NewTime: 400}); w.Code != http.StatusOK {
		t.Errorf("delay-claimable failed: %d %s", w.Code, w.Body.String())
	}

	round, _ := e.ms.GetRound(context.Background(), 1)
	if round.EndTime.Unix() != 250 || round.ClaimableTime.Unix() != 400 {
		t.Errorf("stored times wrong: end=%d claimable=%d",
			round.EndTime.Unix(), round.ClaimableTime.Unix())
	}
}

func TestSetSecondaryCap_LockedAfterStart(t *testing.T) {
	e := newTestEnv(t)
	e.createRound(t, nil)

	if w := e.post(t, "/api/v1/rounds/1/secondary-cap", sale.SecondaryCapRequest{Caller: owner, Bps: 500}); w.Code != http.StatusOK {
		t.Fatalf("set cap before start failed: %d %s", w.Code, w.Body.String())
	}

	e.clock.Set(150)
	if w := e.post(t, "/api/v1/rounds/1/secondary-cap", sale.SecondaryCapRequest{Caller: owner, Bps: 600}); w.Code != http.StatusConflict {
		t.Errorf("expected 409 once round is open, got %d", w.Code)
	}
}

func TestSetSecondaryCap_BpsOutOfRange(t *testing.T) {
	e := newTestEnv(t)
	e.createRound(t, nil)

	if w := e.post(t, "/api/v1/rounds/1/secondary-cap", sale.SecondaryCapRequest{Caller: owner, Bps: 10001}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bps > 10000, got %d", w.Code)
	}
}

func TestWhitelistStatus_Windows(t *testing.T) {
	e := newTestEnv(t)
	e.createRound(t, nil)

	// Disabling a whitelist that was never enabled.
	if w := e.post(t, "/api/v1/rounds/1/whitelist-status", sale.WhitelistStatusRequest{Caller: owner, Enabled: false}); w.Code != http.StatusConflict {
		t.Errorf("expected 409 disabling disabled whitelist, got %d", w.Code)
	}

	// Enable before start works; enabling after start does not.
	if w := e.post(t, "/api/v1/rounds/1/whitelist-status", sale.WhitelistStatusRequest{Caller: owner, Enabled: true}); w.Code != http.StatusOK {
		t.Fatalf("enable before start failed: %d %s", w.Code, w.Body.String())
	}
	e.clock.Set(150)
	if w := e.post(t, "/api/v1/rounds/1/whitelist-status", sale.WhitelistStatusRequest{Caller: owner, Enabled: true}); w.Code != http.StatusConflict {
		t.Errorf("expected 409 enabling after start, got %d", w.Code)
	}

	// Disabling after start is allowed until finalization.
	if w := e.post(t, "/api/v1/rounds/1/whitelist-status", sale.WhitelistStatusRequest{Caller: owner, Enabled: false}); w.Code != http.StatusOK {
		t.Errorf("disable after start should succeed, got %d: %s", w.Code, w.Body.String())
	}
}

// --- MetaIDO & eligibility ---

func TestMetaIDO_Membership(t *testing.T) {
	e := newTestEnv(t)
	e.createRound(t, nil)

	w := e.post(t, "/api/v1/metaidos", sale.CallerRequest{Caller: owner})
	if w.Code != http.StatusCreated {
		t.Fatalf("create meta ido failed: %d %s", w.Code, w.Body.String())
	}
	var meta model.MetaIDO
	json.Unmarshal(w.Body.Bytes(), &meta)
	if meta.ID != 1 {
		t.Fatalf("expected meta ido id=1, got %d", meta.ID)
	}

	// Add links the round to its parent.
	if w := e.post(t, "/api/v1/metaidos/1/rounds", sale.ManageRoundRequest{Caller: owner, RoundID: 1, Add: true}); w.Code != http.StatusOK {
		t.Fatalf("add round failed: %d %s", w.Code, w.Body.String())
	}
	round, _ := e.ms.GetRound(context.Background(), 1)
	if round.ParentMetaIDO != 1 {
		t.Errorf("expected parent meta ido 1, got %d", round.ParentMetaIDO)
	}

	// Remove unlinks; removing again fails.
	if w := e.post(t, "/api/v1/metaidos/1/rounds", sale.ManageRoundRequest{Caller: owner, RoundID: 1, Add: false}); w.Code != http.StatusOK {
		t.Fatalf("remove round failed: %d %s", w.Code, w.Body.String())
	}
	round, _ = e.ms.GetRound(context.Background(), 1)
	if round.ParentMetaIDO != 0 {
		t.Errorf("expected cleared parent, got %d", round.ParentMetaIDO)
	}
	if w := e.post(t, "/api/v1/metaidos/1/rounds", sale.ManageRoundRequest{Caller: owner, RoundID: 1, Add: false}); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 removing absent round, got %d", w.Code)
	}
}

func TestEligibility_RankAndMultiplier(t *testing.T) {
	e := newTestEnv(t)
	e.createRound(t, nil)
	e.post(t, "/api/v1/metaidos", sale.CallerRequest{Caller: owner})
	e.post(t, "/api/v1/metaidos/1/rounds", sale.ManageRoundRequest{Caller: owner, RoundID: 1, Add: true})

	// Rank window 1..10, base allocation 1000.
	w := e.post(t, "/api/v1/rounds/1/spec", sale.RoundSpecRequest{
		Caller:   owner,
		MinRank:  1,
		MaxRank:  10,
		MaxAlloc: di(1000),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("set spec failed: %d %s", w.Code, w.Body.String())
	}

	// alice: rank 5 with 1.5x multiplier (fixed-point 1e4 scale).
	e.post(t, "/api/v1/metaidos/1/register", sale.RegisterRequest{
		Caller:      owner,
		Participant: "alice",
		Rank:        5,
		Multiplier:  di(15_000),
	})

	w = e.get(t, "/api/v1/eligibility?participant=alice&rounds=1")
	if w.Code != http.StatusOK {
		t.Fatalf("eligibility failed: %d %s", w.Code, w.Body.String())
	}
	var results []model.Eligibility
	json.Unmarshal(w.Body.Bytes(), &results)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Eligible {
		t.Error("alice should be eligible")
	}
	if !results[0].MaxAllocation.Equal(di(1500)) {
		t.Errorf("expected scaled allocation 1500, got %s", results[0].MaxAllocation)
	}

	// Unregistered participants fail the rank gate.
	w = e.get(t, "/api/v1/eligibility?participant=bob&rounds=1")
	json.Unmarshal(w.Body.Bytes(), &results)
	if results[0].Eligible {
		t.Error("bob should not be eligible")
	}
}
