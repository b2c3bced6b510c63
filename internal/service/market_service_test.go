package service

import (
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"synthex/internal/domain"
	"synthex/internal/infra/storage"
)

func setupService(t *testing.T) (*MarketService, *storage.Store) {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	svc := NewMarketService(store, slog.Default(), 3600)
	svc.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return svc, store
}

func TestSnapshot_LazySeedAndPersist(t *testing.T) {
	svc, store := setupService(t)

	view, err := svc.Snapshot("")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if view.Price <= 0 {
		t.Errorf("price = %v, want positive", view.Price)
	}
	if len(view.Book) == 0 {
		t.Error("expected cosmetic book levels")
	}
	if view.Ledger != nil {
		t.Error("no ledger expected without identity")
	}

	// First access must have seeded and persisted the market.
	state, err := store.LoadMarket()
	if err != nil {
		t.Fatalf("LoadMarket failed: %v", err)
	}
	if state == nil {
		t.Fatal("market not persisted on first access")
	}
}

func TestSnapshot_ReplaysElapsedTime(t *testing.T) {
	svc, store := setupService(t)

	if _, err := svc.Snapshot(""); err != nil {
		t.Fatal(err)
	}
	first, _ := store.LoadMarket()

	// An hour passes between requests.
	svc.now = func() time.Time { return time.UnixMilli(1_700_000_000_000 + 3600*1000) }
	if _, err := svc.Snapshot(""); err != nil {
		t.Fatal(err)
	}
	second, _ := store.LoadMarket()

	if second.LastUpdatedMS != first.LastUpdatedMS+3600*1000 {
		t.Errorf("clock advanced to %d, want %d", second.LastUpdatedMS, first.LastUpdatedMS+3600*1000)
	}
	if len(second.Bars) == 0 {
		t.Error("an hour of replay should have closed bars")
	}
}

func TestTrade_PersistsLedgerAndMarket(t *testing.T) {
	svc, store := setupService(t)

	view, err := svc.Trade("alice", domain.SideBuy, 100)
	if err != nil {
		t.Fatalf("Trade failed: %v", err)
	}
	if view.Ledger.Position != 100 {
		t.Errorf("position = %d, want 100", view.Ledger.Position)
	}
	if view.Ledger.Cash >= domain.StartingCash {
		t.Error("cash did not decrease on buy")
	}

	saved, err := store.LoadLedger("alice")
	if err != nil {
		t.Fatal(err)
	}
	if saved == nil || saved.Position != 100 || len(saved.Fills) != 1 {
		t.Errorf("ledger not persisted correctly: %+v", saved)
	}
}

func TestTrade_Rejections(t *testing.T) {
	svc, store := setupService(t)

	t.Run("missing identity", func(t *testing.T) {
		_, err := svc.Trade("", domain.SideBuy, 1)
		if !errors.Is(err, domain.ErrInvalidOrder) {
			t.Fatalf("expected ErrInvalidOrder, got %v", err)
		}
	})

	t.Run("insufficient funds leaves nothing behind", func(t *testing.T) {
		_, err := svc.Trade("alice", domain.SideBuy, 1_000_000)
		if !errors.Is(err, domain.ErrInsufficientFunds) {
			t.Fatalf("expected ErrInsufficientFunds, got %v", err)
		}
		saved, err := store.LoadLedger("alice")
		if err != nil {
			t.Fatal(err)
		}
		if saved != nil {
			t.Error("rejected first trade persisted a ledger")
		}
	})
}

func TestTrade_ProfitableCloseRanks(t *testing.T) {
	svc, store := setupService(t)

	if _, err := svc.Trade("alice", domain.SideBuy, 100); err != nil {
		t.Fatal(err)
	}

	// Rally the persisted market past the round-trip spread, keeping the
	// clock unchanged so no replay perturbs it.
	state, _ := store.LoadMarket()
	state.Visitors += 500
	state.Reprice()
	if err := store.SaveMarket(state); err != nil {
		t.Fatal(err)
	}

	view, err := svc.Trade("alice", domain.SideSell, 100)
	if err != nil {
		t.Fatal(err)
	}
	if view.RealizedPnl <= 0 {
		t.Fatalf("expected profit, got %v", view.RealizedPnl)
	}
	if len(view.TopTrades) == 0 || view.TopTrades[0].Identity != "alice" {
		t.Errorf("profitable close missing from leaderboard: %+v", view.TopTrades)
	}
	if view.Ledger.Position != 0 || view.Ledger.AvgCost != 0 {
		t.Error("close did not flatten the ledger")
	}
}

func TestLiquidate_Idempotent(t *testing.T) {
	svc, _ := setupService(t)

	if _, err := svc.Trade("alice", domain.SideBuy, 50); err != nil {
		t.Fatal(err)
	}

	first, err := svc.Liquidate("alice")
	if err != nil {
		t.Fatalf("Liquidate failed: %v", err)
	}
	if first.Ledger.Position != 0 {
		t.Errorf("position = %d after liquidation, want 0", first.Ledger.Position)
	}

	second, err := svc.Liquidate("alice")
	if err != nil {
		t.Fatalf("second Liquidate failed: %v", err)
	}
	if second.Ledger.Cash != first.Ledger.Cash || second.Ledger.Position != 0 {
		t.Error("second liquidation changed the ledger")
	}
}
