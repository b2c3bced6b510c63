package exchange

import (
	"math"

	"synthex/internal/domain"
)

// BookLevel is one cosmetic order-book level.
type BookLevel struct {
	Side  domain.Side `json:"side"`
	Price float64     `json:"price"`
	Size  int64       `json:"size"`
}

// BookLevels generates a cosmetic depth ladder around the mid price.
// There is no real resting book behind it; sizes are a deterministic
// function of price and level so the ladder is stable between requests
// at the same price.
func BookLevels(mid float64, levels int) []BookLevel {
	out := make([]BookLevel, 0, levels*2)
	for i := 1; i <= levels; i++ {
		step := float64(i) * domain.HalfSpread
		wob := 1 + 0.3*math.Sin(mid+float64(i))
		size := int64(math.Max(1, 200.0/float64(i)*wob))
		out = append(out, BookLevel{Side: domain.SideBuy, Price: mid - step, Size: size})
		out = append(out, BookLevel{Side: domain.SideSell, Price: mid + step, Size: size})
	}
	return out
}
