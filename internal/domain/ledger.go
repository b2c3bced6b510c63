package domain

// Side labels the direction of an order or fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Fill is one executed order. Immutable once recorded.
type Fill struct {
	ID         string  `json:"id"`
	Side       Side    `json:"side"`
	Price      float64 `json:"price"`
	Size       int64   `json:"size"`
	ExecutedMS int64   `json:"executed"`
}

// Ledger is the trading account of one identity.
// Position is signed: positive = long, negative = short.
// Invariant: Position == 0 implies AvgCost == 0.
type Ledger struct {
	Identity string  `json:"identity"`
	Cash     float64 `json:"cash"`
	Position int64   `json:"position"`
	AvgCost  float64 `json:"avg_cost"`
	// Fills is the bounded trade history, newest first.
	Fills []Fill `json:"fills"`
}

// NewLedger seeds a fresh account with the fixed starting balance.
func NewLedger(identity string) *Ledger {
	return &Ledger{Identity: identity, Cash: StartingCash}
}

// Equity is the mark-to-market account value at the given mid price.
func (l *Ledger) Equity(price float64) float64 {
	return l.Cash + float64(l.Position)*price
}

// RecordFill prepends a fill and truncates the history to its cap.
func (l *Ledger) RecordFill(f Fill) {
	l.Fills = append([]Fill{f}, l.Fills...)
	if len(l.Fills) > FillHistoryCap {
		l.Fills = l.Fills[:FillHistoryCap]
	}
}

// TopTrade is one leaderboard entry: a profitable close.
type TopTrade struct {
	Identity    string  `json:"identity"`
	RealizedPnl float64 `json:"realized_pnl"`
	Size        int64   `json:"size"`
}

// OfferTopTrade inserts a candidate into the leaderboard, keeping it
// sorted by realized P&L descending and trimmed to TopTradeCap.
func OfferTopTrade(board []TopTrade, t TopTrade) []TopTrade {
	out := make([]TopTrade, 0, len(board)+1)
	inserted := false
	for _, b := range board {
		if !inserted && t.RealizedPnl > b.RealizedPnl {
			out = append(out, t)
			inserted = true
		}
		out = append(out, b)
	}
	if !inserted {
		out = append(out, t)
	}
	if len(out) > TopTradeCap {
		out = out[:TopTradeCap]
	}
	return out
}
