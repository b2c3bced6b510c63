// Package exchange prices orders against the current market, keeps
// weighted-average cost-basis accounting across long/short flips, and
// settles forced liquidations.
package exchange

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"synthex/internal/domain"
)

// Quote is the executable bid/ask around the current mid price.
type Quote struct {
	Bid float64
	Ask float64
}

// FixedQuote builds the stateless-shape quote: a fixed half spread
// around the mid.
func FixedQuote(mid float64) Quote {
	return Quote{Bid: mid - domain.HalfSpread, Ask: mid + domain.HalfSpread}
}

// Result describes one executed order.
type Result struct {
	Fill        domain.Fill
	RealizedPnl float64
	ClosedSize  int64
}

// Execute fills an order for size units at the quoted price, updating the
// ledger's cash and cost basis and feeding bounded market impact back into
// the market state.
//
// All validation happens before any mutation: on error both the ledger and
// the market are untouched.
func Execute(l *domain.Ledger, m *domain.MarketState, side domain.Side, size int64, q Quote, nowMS int64) (Result, error) {
	if !side.Valid() {
		return Result{}, domain.NewInvalidOrder(fmt.Sprintf("unknown side %q", side))
	}
	if size <= 0 {
		return Result{}, domain.NewInvalidOrder(fmt.Sprintf("size must be a positive integer, got %d", size))
	}

	price := q.Ask
	if side == domain.SideSell {
		price = q.Bid
	}

	if side == domain.SideBuy && price*float64(size) > l.Cash {
		return Result{}, domain.NewInsufficientFunds(fmt.Sprintf(
			"need %.2f, have %.2f", price*float64(size), l.Cash))
	}

	if side == domain.SideBuy {
		l.Cash -= price * float64(size)
	} else {
		l.Cash += price * float64(size)
	}

	res := Result{}
	oldPos := l.Position
	signed := size
	if side == domain.SideSell {
		signed = -size
	}

	switch {
	case oldPos == 0 || sameSign(oldPos, signed):
		// Opening from flat or adding to an existing position:
		// volume-weighted average cost.
		newPos := oldPos + signed
		l.AvgCost = (l.AvgCost*math.Abs(float64(oldPos)) + price*float64(size)) / math.Abs(float64(newPos))
		l.Position = newPos
	default:
		// Reducing, closing, or flipping through flat.
		closed := size
		if abs := absInt64(oldPos); abs < closed {
			closed = abs
		}
		dir := float64(1)
		if oldPos < 0 {
			dir = -1
		}
		res.ClosedSize = closed
		res.RealizedPnl = (price - l.AvgCost) * float64(closed) * dir

		remainder := size - closed
		switch {
		case remainder > 0:
			// Flip: the excess opens a fresh position on the other side.
			l.Position = signed + oldPos
			l.AvgCost = price
		case absInt64(oldPos) == closed:
			l.Position = 0
			l.AvgCost = 0
		default:
			l.Position = oldPos + signed
		}
	}

	res.Fill = domain.Fill{
		ID:         uuid.NewString(),
		Side:       side,
		Price:      price,
		Size:       size,
		ExecutedMS: nowMS,
	}
	l.RecordFill(res.Fill)

	m.ApplyImpact(side, size)

	return res, nil
}

// Liquidate force-closes any open position at the current mid price with
// no spread. Idempotent on a flat ledger. The leaderboard is never
// touched: a forced close is not a skillful one.
func Liquidate(l *domain.Ledger, m *domain.MarketState) int64 {
	if l.Position == 0 {
		return 0
	}
	settled := l.Position
	l.Cash += float64(l.Position) * m.Price
	l.Position = 0
	l.AvgCost = 0
	return settled
}

func sameSign(a, b int64) bool {
	return (a > 0) == (b > 0)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
