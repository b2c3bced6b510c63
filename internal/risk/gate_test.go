package risk

import (
	"errors"
	"testing"
	"time"
)

type fakeSource struct {
	levels map[string]int
	calls  int
	err    error
}

func (f *fakeSource) Level(identity string) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.levels[identity], nil
}

func TestGate_Check(t *testing.T) {
	src := &fakeSource{levels: map[string]int{"whale": 3}}
	g := NewGate(src)

	t.Run("level zero default", func(t *testing.T) {
		d := g.Check("minnow", 100)
		if !d.Allowed {
			t.Error("small order at level 0 should pass")
		}
		if d.MaxSize != baseMaxSize {
			t.Errorf("maxSize = %d, want %d", d.MaxSize, baseMaxSize)
		}
		if d.SlippageMult != 1 {
			t.Errorf("slippage multiplier = %v, want 1", d.SlippageMult)
		}
	})

	t.Run("ceiling and multiplier are monotonic in level", func(t *testing.T) {
		low := g.Check("minnow", 1)
		high := g.Check("whale", 1)
		if high.MaxSize <= low.MaxSize {
			t.Errorf("upgraded ceiling %d not above base %d", high.MaxSize, low.MaxSize)
		}
		if high.SlippageMult >= low.SlippageMult {
			t.Errorf("upgraded slippage %v not below base %v", high.SlippageMult, low.SlippageMult)
		}
	})

	t.Run("oversized order rejected", func(t *testing.T) {
		d := g.Check("minnow", baseMaxSize+1)
		if d.Allowed {
			t.Error("order above ceiling should be rejected")
		}
	})
}

func TestGate_CacheTTL(t *testing.T) {
	src := &fakeSource{levels: map[string]int{"alice": 1}}
	g := NewGate(src)

	clock := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return clock }

	g.Check("alice", 1)
	g.Check("alice", 1)
	g.Check("alice", 1)
	if src.calls != 1 {
		t.Fatalf("expected 1 source lookup within TTL, got %d", src.calls)
	}

	clock = clock.Add(cacheTTL + time.Second)
	g.Check("alice", 1)
	if src.calls != 2 {
		t.Fatalf("expected refresh after TTL, got %d lookups", src.calls)
	}
}

func TestGate_SourceFailure(t *testing.T) {
	src := &fakeSource{levels: map[string]int{"alice": 2}}
	g := NewGate(src)

	clock := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return clock }

	fresh := g.Check("alice", 1)

	// Source starts failing after the TTL: the stale level keeps serving.
	clock = clock.Add(cacheTTL + time.Second)
	src.err = errors.New("db down")
	stale := g.Check("alice", 1)
	if stale.MaxSize != fresh.MaxSize {
		t.Errorf("stale ceiling %d differs from cached %d", stale.MaxSize, fresh.MaxSize)
	}

	// An identity never seen degrades to level 0 rather than blocking.
	d := g.Check("bob", 1)
	if d.MaxSize != baseMaxSize {
		t.Errorf("unknown identity on failing source: maxSize = %d, want %d", d.MaxSize, baseMaxSize)
	}
}
