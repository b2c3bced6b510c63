// Package engine is the continuous deployment shape: a single-writer loop
// that owns the market state, ticks on a wall-clock timer, broadcasts
// deltas to subscribers, and serializes order execution through one
// command channel. It shares the price process, bar aggregation and
// accounting with the stateless shape via internal/sim and
// internal/exchange.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"synthex/internal/domain"
	"synthex/internal/exchange"
	"synthex/internal/infra"
	"synthex/internal/risk"
	"synthex/internal/sim"
)

// Store is the persistence port consumed by the engine.
type Store interface {
	LoadMarket() (*domain.MarketState, error)
	SaveMarket(*domain.MarketState) error
	LoadLedger(identity string) (*domain.Ledger, error)
	SaveLedger(*domain.Ledger) error
	TopTrades() ([]domain.TopTrade, error)
	SaveTopTrades([]domain.TopTrade) error
}

// Config tunes the continuous engine.
type Config struct {
	TickInterval      time.Duration
	BaseSpread        float64 // spread floor
	SpreadVolFactor   float64 // spread widening per unit of |velocity|
	ReferenceDepth    int64   // order size at which slippage becomes material
	LiquidityRecovery float64 // per-tick geometric recovery rate, in (0, 1]
	SlippageFactor    float64 // scales the slippage term into price units
	MaxReplaySeconds  int64
}

// Event is one frame broadcast to subscribers or returned as a snapshot.
type Event struct {
	Type string `json:"type"` // "snapshot", "tick", "trade"

	Price     float64 `json:"price,omitempty"`
	Velocity  float64 `json:"velocity,omitempty"`
	Spread    float64 `json:"spread,omitempty"`
	Liquidity float64 `json:"liquidity,omitempty"`

	// Trade tape fields.
	Identity string      `json:"identity,omitempty"`
	Side     domain.Side `json:"side,omitempty"`
	Size     int64       `json:"size,omitempty"`

	// Snapshot-only fields.
	Bars       []domain.Candle      `json:"bars,omitempty"`
	CurrentBar *domain.Candle       `json:"current_bar,omitempty"`
	Book       []exchange.BookLevel `json:"book,omitempty"`
	TopTrades  []domain.TopTrade    `json:"top_trades,omitempty"`
}

// OrderAck is the submitter-facing result of an accepted order.
type OrderAck struct {
	Fill        domain.Fill `json:"fill"`
	RealizedPnl float64     `json:"realized_pnl"`
	Cash        float64     `json:"cash"`
	Position    int64       `json:"position"`
	AvgCost     float64     `json:"avg_cost"`
	Equity      float64     `json:"equity"`
}

type orderCmd struct {
	identity string
	side     domain.Side
	size     int64
	reply    chan orderReply
}

type liquidateCmd struct {
	identity string
	reply    chan orderReply
}

type snapshotCmd struct {
	reply chan Event
}

type orderReply struct {
	ack OrderAck
	err error
}

const minLiquidity = 0.05

// Engine is the single-writer market loop. All state mutation happens on
// the goroutine running Run; external callers talk to it through the
// command channel only.
type Engine struct {
	cfg   Config
	store Store
	gate  *risk.Gate
	hub   *Hub
	log   *slog.Logger
	now   func() time.Time

	inbox chan any

	// Owned exclusively by the Run goroutine.
	state     *domain.MarketState
	ledgers   map[string]*domain.Ledger
	top       []domain.TopTrade
	liquidity float64
	spread    float64
}

// New creates an engine. Run must be started before commands are
// submitted.
func New(cfg Config, store Store, gate *risk.Gate, log *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		store:     store,
		gate:      gate,
		hub:       NewHub(),
		log:       log,
		now:       time.Now,
		inbox:     make(chan any, 256),
		ledgers:   make(map[string]*domain.Ledger),
		liquidity: 1.0,
		spread:    cfg.BaseSpread,
	}
}

// Hub exposes the broadcast hub for the transport layer.
func (e *Engine) Hub() *Hub {
	return e.hub
}

// Run is the engine loop. It MUST run in exactly one goroutine; it owns
// the market state for the lifetime of the process.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.warmStart(); err != nil {
		return err
	}
	e.log.Info("engine started",
		slog.Float64("price", e.state.Price),
		slog.Duration("tick", e.cfg.TickInterval))

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine stopping")
			return nil
		case <-ticker.C:
			e.safely("tick", e.tick)
		case cmd := <-e.inbox:
			e.safely("command", func() { e.dispatch(cmd) })
		}
	}
}

// safely runs one loop iteration, logging and skipping on panic so a bad
// tick never kills the timer loop. State from the prior successful tick
// is preserved.
func (e *Engine) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("engine iteration failed", slog.String("in", what), slog.Any("panic", r))
		}
	}()
	fn()
}

func (e *Engine) warmStart() error {
	state, err := e.store.LoadMarket()
	if err != nil {
		return fmt.Errorf("warm start: %w", err)
	}
	nowMS := e.now().UnixMilli()
	if state == nil {
		state = domain.NewMarketState(nowMS)
	} else {
		replayed := sim.CatchUp(state, nowMS, e.cfg.MaxReplaySeconds)
		infra.GlobalMetrics.RecordReplay(replayed)
		if replayed > 0 {
			e.log.Info("caught up persisted market", slog.Int64("seconds", replayed))
		}
	}
	e.state = state

	top, err := e.store.TopTrades()
	if err != nil {
		return fmt.Errorf("warm start: %w", err)
	}
	e.top = top
	return nil
}

func (e *Engine) dispatch(cmd any) {
	switch c := cmd.(type) {
	case orderCmd:
		ack, err := e.handleOrder(c.identity, c.side, c.size)
		c.reply <- orderReply{ack: ack, err: err}
	case liquidateCmd:
		ack, err := e.handleLiquidate(c.identity)
		c.reply <- orderReply{ack: ack, err: err}
	case snapshotCmd:
		c.reply <- e.snapshotEvent()
	default:
		e.log.Warn("unknown command", slog.Any("cmd", cmd))
	}
}

func (e *Engine) tick() {
	replayed := sim.CatchUp(e.state, e.now().UnixMilli(), e.cfg.MaxReplaySeconds)
	infra.GlobalMetrics.RecordReplay(replayed)
	infra.GlobalMetrics.RecordTick()

	// Liquidity recovers geometrically toward 1 after trade shocks.
	e.liquidity += (1 - e.liquidity) * e.cfg.LiquidityRecovery
	e.spread = e.cfg.BaseSpread + e.cfg.SpreadVolFactor*math.Abs(e.state.Velocity)

	if err := e.store.SaveMarket(e.state); err != nil {
		infra.GlobalMetrics.RecordStorageFailure()
		e.log.Error("tick persist failed", slog.Any("error", err))
		// State survives in memory; next tick retries the write.
	}

	e.hub.Broadcast(Event{
		Type:       "tick",
		Price:      e.state.Price,
		Velocity:   e.state.Velocity,
		Spread:     e.spread,
		Liquidity:  e.liquidity,
		CurrentBar: e.state.CurrentBar,
	})
}

func (e *Engine) handleOrder(identity string, side domain.Side, size int64) (OrderAck, error) {
	if identity == "" {
		return OrderAck{}, domain.NewInvalidOrder("identity is required")
	}

	dec := e.gate.Check(identity, size)
	if !dec.Allowed {
		infra.GlobalMetrics.RecordOrderRejected()
		return OrderAck{}, domain.NewInvalidOrder(fmt.Sprintf(
			"size %d exceeds limit %d", size, dec.MaxSize))
	}

	sim.CatchUp(e.state, e.now().UnixMilli(), e.cfg.MaxReplaySeconds)

	ledger, err := e.ledger(identity)
	if err != nil {
		return OrderAck{}, err
	}

	quote := e.quote(size, dec.SlippageMult)
	res, err := exchange.Execute(ledger, e.state, side, size, quote, e.now().UnixMilli())
	if err != nil {
		infra.GlobalMetrics.RecordOrderRejected()
		return OrderAck{}, err
	}
	infra.GlobalMetrics.RecordOrderFilled()

	// Large trades consume liquidity; recovery happens tick by tick.
	e.liquidity /= 1 + float64(size)/float64(e.cfg.ReferenceDepth)
	if e.liquidity < minLiquidity {
		e.liquidity = minLiquidity
	}

	if res.RealizedPnl > 0 {
		e.top = domain.OfferTopTrade(e.top, domain.TopTrade{
			Identity:    identity,
			RealizedPnl: res.RealizedPnl,
			Size:        res.ClosedSize,
		})
		if err := e.store.SaveTopTrades(e.top); err != nil {
			infra.GlobalMetrics.RecordStorageFailure()
			e.log.Error("leaderboard persist failed", slog.Any("error", err))
		}
	}

	e.persist(ledger)

	e.hub.Broadcast(Event{
		Type:     "trade",
		Identity: identity,
		Side:     side,
		Size:     size,
		Price:    res.Fill.Price,
	})

	return OrderAck{
		Fill:        res.Fill,
		RealizedPnl: res.RealizedPnl,
		Cash:        ledger.Cash,
		Position:    ledger.Position,
		AvgCost:     ledger.AvgCost,
		Equity:      ledger.Equity(e.state.Price),
	}, nil
}

func (e *Engine) handleLiquidate(identity string) (OrderAck, error) {
	if identity == "" {
		return OrderAck{}, domain.NewInvalidOrder("identity is required")
	}

	sim.CatchUp(e.state, e.now().UnixMilli(), e.cfg.MaxReplaySeconds)

	ledger, err := e.ledger(identity)
	if err != nil {
		return OrderAck{}, err
	}

	settled := exchange.Liquidate(ledger, e.state)
	e.persist(ledger)

	if settled != 0 {
		// Closing a long prints as a sell on the tape, closing a short
		// as a buy.
		side, size := domain.SideSell, settled
		if settled < 0 {
			side, size = domain.SideBuy, -settled
		}
		e.hub.Broadcast(Event{
			Type:     "trade",
			Identity: identity,
			Side:     side,
			Size:     size,
			Price:    e.state.Price,
		})
	}

	return OrderAck{
		Cash:     ledger.Cash,
		Position: ledger.Position,
		AvgCost:  ledger.AvgCost,
		Equity:   ledger.Equity(e.state.Price),
	}, nil
}

// quote builds the executable quote for an order of the given size: the
// volatility-dependent spread plus a slippage term proportional to the
// order's share of reference depth, inflated while liquidity is shocked.
func (e *Engine) quote(size int64, slippageMult float64) exchange.Quote {
	mid := e.state.Price
	half := e.spread / 2
	slip := e.cfg.SlippageFactor * mid *
		(float64(size) / float64(e.cfg.ReferenceDepth)) / e.liquidity * slippageMult
	return exchange.Quote{Bid: mid - half - slip, Ask: mid + half + slip}
}

func (e *Engine) ledger(identity string) (*domain.Ledger, error) {
	if l, ok := e.ledgers[identity]; ok {
		return l, nil
	}
	l, err := e.store.LoadLedger(identity)
	if err != nil {
		return nil, err
	}
	if l == nil {
		l = domain.NewLedger(identity)
	}
	e.ledgers[identity] = l
	return l, nil
}

func (e *Engine) persist(ledger *domain.Ledger) {
	if err := e.store.SaveMarket(e.state); err != nil {
		infra.GlobalMetrics.RecordStorageFailure()
		e.log.Error("market persist failed", slog.Any("error", err))
	}
	if err := e.store.SaveLedger(ledger); err != nil {
		infra.GlobalMetrics.RecordStorageFailure()
		e.log.Error("ledger persist failed", slog.Any("error", err))
	}
}

func (e *Engine) snapshotEvent() Event {
	return Event{
		Type:       "snapshot",
		Price:      e.state.Price,
		Velocity:   e.state.Velocity,
		Spread:     e.spread,
		Liquidity:  e.liquidity,
		Bars:       e.state.Bars,
		CurrentBar: e.state.CurrentBar,
		Book:       exchange.BookLevels(e.state.Price, 5),
		TopTrades:  e.top,
	}
}

// SubmitOrder queues an order and waits for the engine to execute it.
func (e *Engine) SubmitOrder(ctx context.Context, identity string, side domain.Side, size int64) (OrderAck, error) {
	reply := make(chan orderReply, 1)
	select {
	case e.inbox <- orderCmd{identity: identity, side: side, size: size, reply: reply}:
	case <-ctx.Done():
		return OrderAck{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.ack, r.err
	case <-ctx.Done():
		return OrderAck{}, ctx.Err()
	}
}

// SubmitLiquidate queues a forced liquidation and waits for the result.
func (e *Engine) SubmitLiquidate(ctx context.Context, identity string) (OrderAck, error) {
	reply := make(chan orderReply, 1)
	select {
	case e.inbox <- liquidateCmd{identity: identity, reply: reply}:
	case <-ctx.Done():
		return OrderAck{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.ack, r.err
	case <-ctx.Done():
		return OrderAck{}, ctx.Err()
	}
}

// Snapshot returns a full state frame, for new subscribers.
func (e *Engine) Snapshot(ctx context.Context) (Event, error) {
	reply := make(chan Event, 1)
	select {
	case e.inbox <- snapshotCmd{reply: reply}:
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
	select {
	case ev := <-reply:
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}
