package domain

import "testing"

func TestMarketState_Reprice(t *testing.T) {
	s := &MarketState{Visitors: 140, Velocity: 1}
	s.Reprice()
	if s.Price != 150 {
		t.Errorf("price = %v, want 150", s.Price)
	}

	s.Visitors = MinVisitors
	s.Velocity = -1000
	s.Reprice()
	if s.Price != PriceFloor {
		t.Errorf("price = %v, want floor %v", s.Price, PriceFloor)
	}
}

func TestMarketState_ApplyImpact(t *testing.T) {
	t.Run("buy pushes velocity up, sell down", func(t *testing.T) {
		s := NewMarketState(0)
		s.ApplyImpact(SideBuy, 100)
		if s.Velocity <= 0 {
			t.Errorf("buy impact should raise velocity, got %v", s.Velocity)
		}
		s.ApplyImpact(SideSell, 200)
		if s.Velocity >= 0 {
			t.Errorf("sell impact should lower velocity, got %v", s.Velocity)
		}
	})

	t.Run("impact is bounded per order", func(t *testing.T) {
		s := NewMarketState(0)
		s.ApplyImpact(SideBuy, 1_000_000_000)
		if s.Velocity > MaxImpact {
			t.Errorf("impact %v exceeds cap %v", s.Velocity, MaxImpact)
		}
	})
}
