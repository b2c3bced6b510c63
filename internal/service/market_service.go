// Package service orchestrates the stateless deployment shape: every
// operation loads persisted state, replays it to the present, mutates it
// through the exchange, and writes it back. There is no cross-request
// locking; concurrent writers race under last-write-wins.
package service

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"synthex/internal/domain"
	"synthex/internal/exchange"
	"synthex/internal/infra"
	"synthex/internal/sim"
)

// Store is the persistence port consumed by the service. Satisfied by
// storage.Store; tests may substitute a fake.
type Store interface {
	LoadMarket() (*domain.MarketState, error)
	SaveMarket(*domain.MarketState) error
	LoadLedger(identity string) (*domain.Ledger, error)
	SaveLedger(*domain.Ledger) error
	TopTrades() ([]domain.TopTrade, error)
	SaveTopTrades([]domain.TopTrade) error
}

// LedgerView is the identity-facing account snapshot.
type LedgerView struct {
	Identity string        `json:"identity"`
	Cash     float64       `json:"cash"`
	Position int64         `json:"position"`
	AvgCost  float64       `json:"avg_cost"`
	Equity   float64       `json:"equity"`
	Fills    []domain.Fill `json:"fills"`
}

// MarketView is the full market snapshot returned to collaborators.
type MarketView struct {
	Price      float64              `json:"price"`
	Velocity   float64              `json:"velocity"`
	Visitors   float64              `json:"visitors"`
	Requests   float64              `json:"requests"`
	Bars       []domain.Candle      `json:"bars"`
	CurrentBar *domain.Candle       `json:"current_bar,omitempty"`
	Book       []exchange.BookLevel `json:"book"`
	TopTrades  []domain.TopTrade    `json:"top_trades"`
	Ledger     *LedgerView          `json:"ledger,omitempty"`
}

// TradeView is the response to a trade or liquidation.
type TradeView struct {
	Ledger      LedgerView        `json:"ledger"`
	RealizedPnl float64           `json:"realized_pnl"`
	Price       float64           `json:"price"`
	TopTrades   []domain.TopTrade `json:"top_trades"`
}

const bookLevels = 5

// MarketService implements the stateless shape's operations.
type MarketService struct {
	store            Store
	log              *slog.Logger
	maxReplaySeconds int64
	now              func() time.Time
}

// NewMarketService creates the service. maxReplaySeconds caps the replay
// span after long idle periods; 0 disables the cap.
func NewMarketService(store Store, log *slog.Logger, maxReplaySeconds int64) *MarketService {
	return &MarketService{
		store:            store,
		log:              log,
		maxReplaySeconds: maxReplaySeconds,
		now:              time.Now,
	}
}

// currentMarket loads the market (seeding it lazily on first access) and
// replays it to now. The advanced state is not yet persisted; callers
// persist after their own mutations so each operation writes back once.
func (s *MarketService) currentMarket() (*domain.MarketState, error) {
	state, err := s.store.LoadMarket()
	if err != nil {
		return nil, err
	}
	nowMS := s.now().UnixMilli()
	if state == nil {
		state = domain.NewMarketState(nowMS)
	}
	replayed := sim.CatchUp(state, nowMS, s.maxReplaySeconds)
	infra.GlobalMetrics.RecordReplay(replayed)
	if replayed > 0 {
		s.log.Debug("market replayed", slog.Int64("seconds", replayed), slog.Float64("price", state.Price))
	}
	return state, nil
}

// Snapshot returns the current market view, advancing and persisting the
// state as a side effect. identity may be empty; when given and the
// identity has traded before, its ledger snapshot is included.
func (s *MarketService) Snapshot(identity string) (*MarketView, error) {
	state, err := s.currentMarket()
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveMarket(state); err != nil {
		return nil, err
	}

	top, err := s.store.TopTrades()
	if err != nil {
		return nil, err
	}

	view := &MarketView{
		Price:      round2(state.Price),
		Velocity:   state.Velocity,
		Visitors:   state.Visitors,
		Requests:   state.Requests,
		Bars:       state.Bars,
		CurrentBar: state.CurrentBar,
		Book:       exchange.BookLevels(state.Price, bookLevels),
		TopTrades:  top,
	}

	if identity != "" {
		ledger, err := s.store.LoadLedger(identity)
		if err != nil {
			return nil, err
		}
		if ledger != nil {
			lv := ledgerView(ledger, state.Price)
			view.Ledger = &lv
		}
	}
	return view, nil
}

// Trade executes one order for the identity and persists market, ledger
// and leaderboard. Rejections leave every piece of state untouched.
func (s *MarketService) Trade(identity string, side domain.Side, size int64) (*TradeView, error) {
	if identity == "" {
		return nil, domain.NewInvalidOrder("identity is required")
	}

	state, err := s.currentMarket()
	if err != nil {
		return nil, err
	}

	ledger, err := s.store.LoadLedger(identity)
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		ledger = domain.NewLedger(identity)
	}

	res, err := exchange.Execute(ledger, state, side, size, exchange.FixedQuote(state.Price), s.now().UnixMilli())
	if err != nil {
		infra.GlobalMetrics.RecordOrderRejected()
		return nil, err
	}
	infra.GlobalMetrics.RecordOrderFilled()

	top, err := s.store.TopTrades()
	if err != nil {
		return nil, err
	}
	if res.RealizedPnl > 0 {
		top = domain.OfferTopTrade(top, domain.TopTrade{
			Identity:    identity,
			RealizedPnl: res.RealizedPnl,
			Size:        res.ClosedSize,
		})
		if err := s.store.SaveTopTrades(top); err != nil {
			return nil, err
		}
	}

	if err := s.store.SaveMarket(state); err != nil {
		return nil, err
	}
	if err := s.store.SaveLedger(ledger); err != nil {
		return nil, err
	}

	s.log.Info("trade executed",
		slog.String("identity", identity),
		slog.String("side", string(side)),
		slog.Int64("size", size),
		slog.Float64("price", res.Fill.Price),
		slog.Float64("realized_pnl", res.RealizedPnl))

	return &TradeView{
		Ledger:      ledgerView(ledger, state.Price),
		RealizedPnl: round2(res.RealizedPnl),
		Price:       round2(res.Fill.Price),
		TopTrades:   top,
	}, nil
}

// Liquidate force-closes the identity's position at the current mid
// price. A flat ledger is a no-op (idempotent).
func (s *MarketService) Liquidate(identity string) (*TradeView, error) {
	if identity == "" {
		return nil, domain.NewInvalidOrder("identity is required")
	}

	state, err := s.currentMarket()
	if err != nil {
		return nil, err
	}

	ledger, err := s.store.LoadLedger(identity)
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		ledger = domain.NewLedger(identity)
	}

	settled := exchange.Liquidate(ledger, state)

	if err := s.store.SaveMarket(state); err != nil {
		return nil, err
	}
	if err := s.store.SaveLedger(ledger); err != nil {
		return nil, err
	}

	top, err := s.store.TopTrades()
	if err != nil {
		return nil, err
	}

	if settled != 0 {
		s.log.Info("position liquidated",
			slog.String("identity", identity),
			slog.Int64("settled", settled),
			slog.Float64("price", state.Price))
	}

	return &TradeView{
		Ledger:    ledgerView(ledger, state.Price),
		Price:     round2(state.Price),
		TopTrades: top,
	}, nil
}

func ledgerView(l *domain.Ledger, price float64) LedgerView {
	return LedgerView{
		Identity: l.Identity,
		Cash:     round2(l.Cash),
		Position: l.Position,
		AvgCost:  round2(l.AvgCost),
		Equity:   round2(l.Equity(price)),
		Fills:    l.Fills,
	}
}

// round2 quantizes a display value to two decimal places. Stored state is
// never rounded; this is presentation only.
func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
