// Package spread computes the forward and reverse spread of multi-leg
// strategies.
package spread

import (
	"time"

	"github.com/rs/zerolog"

	"spread-monitor/internal/models"
)

// LegPricer resolves an executable price for a contract and side.
type LegPricer interface {
	Resolve(ct models.Contract, side models.OrderSide, cfg models.PricingConfig) (float64, bool)
}

// SkipReason explains why a leg did not contribute.
type SkipReason string

const (
	SkipNoPrice         SkipReason = "no_price"
	SkipInvalidQuantity SkipReason = "invalid_quantity"
	SkipInvalidSide     SkipReason = "invalid_side"
)

// Skip records one leg excluded from an aggregate.
type Skip struct {
	LegID  string     `json:"legId"`
	Reason SkipReason `json:"reason"`
}

// Contribution is one leg's signed share of an aggregate.
type Contribution struct {
	LegID    string           `json:"legId"`
	Side     models.OrderSide `json:"side"`
	Price    float64          `json:"price"`
	Quantity int              `json:"quantity"`
	Signed   float64          `json:"signed"`
}

// Result is a best-effort sum over the legs that resolved a price.
type Result struct {
	Total       float64        `json:"total"`
	Valid       bool           `json:"valid"`
	Contributed []Contribution `json:"contributed"`
	Skipped     []Skip         `json:"skipped"`
}

// Value returns the total, or false when no leg resolved a price.
func (r Result) Value() (float64, bool) {
	return r.Total, r.Valid
}

// accumulator carries the running total and the set of contributing legs.
type accumulator struct {
	result Result
}

func (a *accumulator) add(leg models.LegSpec, side models.OrderSide, price float64) {
	signed := side.Sign() * price * float64(leg.Quantity)
	a.result.Total += signed
	a.result.Valid = true
	a.result.Contributed = append(a.result.Contributed, Contribution{
		LegID:    leg.ID,
		Side:     side,
		Price:    price,
		Quantity: leg.Quantity,
		Signed:   signed,
	})
}

func (a *accumulator) skip(legID string, reason SkipReason) {
	a.result.Skipped = append(a.result.Skipped, Skip{LegID: legID, Reason: reason})
}

// Snapshot is the full spread state of one strategy at one instant.
type Snapshot struct {
	StrategyID      string    `json:"strategyId"`
	Forward         Result    `json:"forward"`
	Reverse         Result    `json:"reverse"`
	BiddingLegID    string    `json:"biddingLegId,omitempty"`
	BiddingLegPrice *float64  `json:"biddingLegPrice"`
	ComputedAt      time.Time `json:"computedAt"`
}

// Engine computes spreads through a LegPricer.
type Engine struct {
	pricer LegPricer
	logger zerolog.Logger
	now    func() time.Time
}

// NewEngine creates a spread engine.
func NewEngine(pricer LegPricer, logger zerolog.Logger) *Engine {
	return &Engine{
		pricer: pricer,
		logger: logger.With().Str("component", "spread").Logger(),
		now:    time.Now,
	}
}

// Forward sums sign(side) x price x quantity over the legs as specified.
func (e *Engine) Forward(s models.StrategySpec) Result {
	return e.compute(s, false)
}

// Reverse is Forward with every leg's side inverted before pricing, so it
// reflects the opposite side of the book rather than a negated forward.
func (e *Engine) Reverse(s models.StrategySpec) Result {
	return e.compute(s, true)
}

// Compute returns forward, reverse and the bidding leg price.
func (e *Engine) Compute(s models.StrategySpec) Snapshot {
	snap := Snapshot{
		StrategyID: s.ID,
		Forward:    e.Forward(s),
		Reverse:    e.Reverse(s),
		ComputedAt: e.now(),
	}
	if leg, ok := s.BiddingLeg(); ok {
		snap.BiddingLegID = leg.ID
		if price, ok := e.pricer.Resolve(leg.Contract(), leg.Side, leg.Pricing); ok {
			snap.BiddingLegPrice = &price
		}
	}
	return snap
}

func (e *Engine) compute(s models.StrategySpec, invert bool) Result {
	var acc accumulator
	log := e.logger.With().Str("strategy_id", s.ID).Bool("reverse", invert).Logger()

	for _, leg := range s.Legs {
		if leg.Quantity <= 0 {
			log.Warn().Str("leg_id", leg.ID).Int("quantity", leg.Quantity).Msg("Leg has invalid quantity, excluded from spread")
			acc.skip(leg.ID, SkipInvalidQuantity)
			continue
		}
		if !leg.Side.Valid() {
			log.Warn().Str("leg_id", leg.ID).Str("side", string(leg.Side)).Msg("Leg has invalid side, excluded from spread")
			acc.skip(leg.ID, SkipInvalidSide)
			continue
		}

		side := leg.Side
		if invert {
			side = side.Opposite()
		}

		price, ok := e.pricer.Resolve(leg.Contract(), side, leg.Pricing)
		if !ok {
			log.Debug().Str("leg_id", leg.ID).Str("contract", leg.Contract().String()).Msg("No price for leg, skipped")
			acc.skip(leg.ID, SkipNoPrice)
			continue
		}
		acc.add(leg, side, price)
	}

	return acc.result
}
