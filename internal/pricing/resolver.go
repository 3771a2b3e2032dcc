// Package pricing extracts a single executable price for a leg from the
// option-chain snapshot.
package pricing

import (
	"math"

	"spread-monitor/internal/models"
)

// QuoteLookup finds the quote for a contract.
type QuoteLookup interface {
	LookupContract(ct models.Contract) (models.Quote, bool)
}

// Resolver prices contracts against a QuoteLookup. It is a pure function of
// the lookup's current snapshot and its arguments.
type Resolver struct {
	quotes QuoteLookup
}

// NewResolver creates a resolver over quotes.
func NewResolver(quotes QuoteLookup) *Resolver {
	return &Resolver{quotes: quotes}
}

// Resolve returns the executable price of ct when transacting side. BUY uses
// the bid ladder and SELL the ask ladder. It returns false when no quote or
// no valid price is available.
func (r *Resolver) Resolve(ct models.Contract, side models.OrderSide, cfg models.PricingConfig) (float64, bool) {
	q, ok := r.quotes.LookupContract(ct)
	if !ok {
		return 0, false
	}
	return PriceFromLadder(q.Ladder(side), cfg)
}

// PriceFromLadder applies cfg to a best-to-worst ladder.
func PriceFromLadder(ladder []models.PriceLevel, cfg models.PricingConfig) (float64, bool) {
	if len(ladder) == 0 {
		return 0, false
	}
	if cfg.Method == models.PricingDepth {
		return depthPrice(ladder, cfg.DepthIndex)
	}
	return averagePrice(ladder, cfg.AverageDepth)
}

func depthPrice(ladder []models.PriceLevel, depthIndex int) (float64, bool) {
	idx := clamp(depthIndex-1, 0, len(ladder)-1)
	price := ladder[idx].Price
	if !validPrice(price) {
		return 0, false
	}
	return price, true
}

func averagePrice(ladder []models.PriceLevel, averageDepth int) (float64, bool) {
	window := clamp(averageDepth, 1, len(ladder))

	var sum float64
	var n int
	for _, level := range ladder[:window] {
		if !validPrice(level.Price) {
			continue
		}
		sum += level.Price
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// validPrice rejects zero-fill placeholders and non-numeric values.
func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
