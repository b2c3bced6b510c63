package engine

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"synthex/internal/domain"
	"synthex/internal/risk"
)

type fakeStore struct {
	market  *domain.MarketState
	ledgers map[string]*domain.Ledger
	top     []domain.TopTrade
	fail    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{ledgers: make(map[string]*domain.Ledger)}
}

func (f *fakeStore) LoadMarket() (*domain.MarketState, error) {
	if f.fail {
		return nil, domain.NewStorageError("load market", errors.New("down"))
	}
	if f.market == nil {
		return nil, nil
	}
	cp := *f.market
	return &cp, nil
}

func (f *fakeStore) SaveMarket(s *domain.MarketState) error {
	if f.fail {
		return domain.NewStorageError("save market", errors.New("down"))
	}
	cp := *s
	f.market = &cp
	return nil
}

func (f *fakeStore) LoadLedger(identity string) (*domain.Ledger, error) {
	if f.fail {
		return nil, domain.NewStorageError("load ledger", errors.New("down"))
	}
	l, ok := f.ledgers[identity]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (f *fakeStore) SaveLedger(l *domain.Ledger) error {
	if f.fail {
		return domain.NewStorageError("save ledger", errors.New("down"))
	}
	cp := *l
	f.ledgers[l.Identity] = &cp
	return nil
}

func (f *fakeStore) TopTrades() ([]domain.TopTrade, error) {
	if f.fail {
		return nil, domain.NewStorageError("load top trades", errors.New("down"))
	}
	return append([]domain.TopTrade(nil), f.top...), nil
}

func (f *fakeStore) SaveTopTrades(board []domain.TopTrade) error {
	if f.fail {
		return domain.NewStorageError("save top trades", errors.New("down"))
	}
	f.top = append([]domain.TopTrade(nil), board...)
	return nil
}

type fixedLevels map[string]int

func (f fixedLevels) Level(identity string) (int, error) {
	return f[identity], nil
}

func testConfig() Config {
	return Config{
		TickInterval:      200 * time.Millisecond,
		BaseSpread:        5,
		SpreadVolFactor:   0.4,
		ReferenceDepth:    1000,
		LiquidityRecovery: 0.05,
		SlippageFactor:    0.01,
		MaxReplaySeconds:  3600,
	}
}

func testEngine(t *testing.T, store Store, levels fixedLevels) *Engine {
	t.Helper()
	e := New(testConfig(), store, risk.NewGate(levels), slog.Default())
	if err := e.warmStart(); err != nil {
		t.Fatalf("warm start failed: %v", err)
	}
	e.spread = e.cfg.BaseSpread
	return e
}

func TestEngine_OrderFillAndTape(t *testing.T) {
	store := newFakeStore()
	e := testEngine(t, store, fixedLevels{})

	_, tape := e.hub.Subscribe()

	ack, err := e.handleOrder("alice", domain.SideBuy, 10)
	if err != nil {
		t.Fatalf("order failed: %v", err)
	}
	if ack.Position != 10 {
		t.Errorf("position = %d, want 10", ack.Position)
	}
	if ack.Fill.Price <= e.state.Price-e.spread {
		t.Errorf("buy fill %v not above bid side", ack.Fill.Price)
	}

	// Ledger persisted through the port.
	saved := store.ledgers["alice"]
	if saved == nil || saved.Position != 10 {
		t.Fatal("ledger not persisted after fill")
	}

	select {
	case ev := <-tape:
		if ev.Type != "trade" || ev.Identity != "alice" || ev.Size != 10 {
			t.Errorf("unexpected tape event: %+v", ev)
		}
	default:
		t.Fatal("no tape event broadcast")
	}
}

func TestEngine_RiskGateRejectsOversized(t *testing.T) {
	store := newFakeStore()
	e := testEngine(t, store, fixedLevels{})

	_, err := e.handleOrder("alice", domain.SideBuy, 100_000)
	if !errors.Is(err, domain.ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder from the gate, got %v", err)
	}
	if _, ok := store.ledgers["alice"]; ok {
		t.Error("rejected order persisted a ledger")
	}
}

func TestEngine_LiquidityShockAndRecovery(t *testing.T) {
	store := newFakeStore()
	e := testEngine(t, store, fixedLevels{"whale": 4})

	if _, err := e.handleOrder("whale", domain.SideBuy, 1000); err != nil {
		t.Fatalf("order failed: %v", err)
	}
	shocked := e.liquidity
	if shocked >= 1 {
		t.Fatalf("liquidity %v did not drop after a depth-sized trade", shocked)
	}

	e.tick()
	if e.liquidity <= shocked {
		t.Errorf("liquidity %v did not recover on tick", e.liquidity)
	}

	// Slippage while shocked must exceed slippage at full liquidity for
	// the same order.
	slipShocked := e.quote(500, 1).Ask
	e.liquidity = 1
	slipCalm := e.quote(500, 1).Ask
	if slipShocked <= slipCalm {
		t.Errorf("shocked ask %v not above calm ask %v", slipShocked, slipCalm)
	}
}

func TestEngine_TickSurvivesStorageFailure(t *testing.T) {
	store := newFakeStore()
	e := testEngine(t, store, fixedLevels{})

	store.fail = true
	e.safely("tick", e.tick) // must not panic the loop

	// The engine keeps serving from in-memory state while storage is down.
	store.fail = false
	if _, err := e.handleOrder("alice", domain.SideBuy, 1); err != nil {
		t.Fatalf("order after failed tick: %v", err)
	}
}

func TestEngine_ProfitableCloseReachesLeaderboard(t *testing.T) {
	store := newFakeStore()
	e := testEngine(t, store, fixedLevels{})

	if _, err := e.handleOrder("alice", domain.SideBuy, 10); err != nil {
		t.Fatal(err)
	}
	// Rally hard enough to clear the spread, then close.
	e.state.Visitors += 500
	e.state.Reprice()
	ack, err := e.handleOrder("alice", domain.SideSell, 10)
	if err != nil {
		t.Fatal(err)
	}
	if ack.RealizedPnl <= 0 {
		t.Fatalf("expected a profitable close, got pnl %v", ack.RealizedPnl)
	}
	if len(e.top) == 0 || e.top[0].Identity != "alice" {
		t.Error("profitable close missing from leaderboard")
	}
	if len(store.top) == 0 {
		t.Error("leaderboard not persisted")
	}
}

func TestEngine_LiquidateIdempotent(t *testing.T) {
	store := newFakeStore()
	e := testEngine(t, store, fixedLevels{})

	if _, err := e.handleOrder("alice", domain.SideBuy, 10); err != nil {
		t.Fatal(err)
	}
	first, err := e.handleLiquidate("alice")
	if err != nil {
		t.Fatal(err)
	}
	if first.Position != 0 {
		t.Fatalf("position = %d after liquidation, want 0", first.Position)
	}

	second, err := e.handleLiquidate("alice")
	if err != nil {
		t.Fatal(err)
	}
	if second.Cash != first.Cash || second.Position != 0 {
		t.Error("second liquidation changed the ledger")
	}
}
