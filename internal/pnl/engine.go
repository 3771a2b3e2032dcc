// Package pnl computes realized and unrealized profit and loss of strategy
// orders.
package pnl

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spread-monitor/internal/models"
	"spread-monitor/internal/status"
)

// LivePricer resolves the current executable price of a contract.
type LivePricer interface {
	Resolve(ct models.Contract, side models.OrderSide, cfg models.PricingConfig) (float64, bool)
}

// ExitLookup finds the closing fill recorded under key.
type ExitLookup interface {
	ExitFill(key string) (models.ExitFill, bool)
}

// ExitBook is a map based ExitLookup.
type ExitBook map[string]models.ExitFill

// ExitFill implements ExitLookup.
func (b ExitBook) ExitFill(key string) (models.ExitFill, bool) {
	f, ok := b[key]
	return f, ok
}

// SkipReason explains why no result was produced for an order.
type SkipReason string

const (
	SkipNotEntered  SkipReason = "not_entered"
	SkipMalformed   SkipReason = "malformed"
	SkipNoExitFill  SkipReason = "no_exit_fill"
	SkipNoLivePrice SkipReason = "no_live_price"
)

// Transient reports whether the skip may clear on a later tick, in which case
// the previous result of the order stays visible.
func (r SkipReason) Transient() bool {
	return r == SkipNoExitFill || r == SkipNoLivePrice
}

// Engine derives PnLResults from order records.
type Engine struct {
	pricer   LivePricer
	defaults models.PricingConfig
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEngine creates a PnL engine. defaults prices open orders that carry no
// pricing parameters of their own.
func NewEngine(pricer LivePricer, defaults models.PricingConfig, logger zerolog.Logger) *Engine {
	return &Engine{
		pricer:   pricer,
		defaults: defaults,
		logger:   logger.With().Str("component", "pnl").Logger(),
		now:      time.Now,
	}
}

// Compute returns the PnL of one order, or a skip reason when no result can
// be produced this tick.
func (e *Engine) Compute(order models.OrderRecord, exits ExitLookup) (models.PnLResult, SkipReason, bool) {
	if !order.Entered {
		return models.PnLResult{}, SkipNotEntered, false
	}
	if !validEntry(order) {
		return models.PnLResult{}, SkipMalformed, false
	}

	result := models.PnLResult{
		OrderID:    order.OrderID,
		LegID:      order.LegID,
		EntryPrice: order.EntryPrice,
		Quantity:   order.Quantity,
		Side:       order.Side,
		IsExited:   order.Exited,
		Status:     status.Classify(order.RawStatus).String(),
		ComputedAt: e.now(),
	}

	if order.Exited {
		if exits == nil || order.ExitRecordKey == "" {
			return models.PnLResult{}, SkipNoExitFill, false
		}
		fill, ok := exits.ExitFill(order.ExitRecordKey)
		if !ok || !(fill.Price > 0) {
			return models.PnLResult{}, SkipNoExitFill, false
		}
		exitPrice := fill.Price
		result.ExitPrice = &exitPrice
		result.PnL = signedPnL(order.Side, order.EntryPrice, exitPrice, order.Quantity)
		return result, "", true
	}

	cfg := e.defaults
	if order.Pricing != nil {
		cfg = *order.Pricing
	}
	current, ok := e.pricer.Resolve(order.Contract(), order.Side, cfg)
	if !ok {
		return models.PnLResult{}, SkipNoLivePrice, false
	}
	result.CurrentPrice = &current
	result.PnL = signedPnL(order.Side, order.EntryPrice, current, order.Quantity)
	return result, "", true
}

// Batch is the outcome of computing a whole order list.
type Batch struct {
	Results map[string]models.PnLResult
	Skipped map[string]SkipReason
}

// ComputeAll computes every order. Orders that skip are absent from Results.
func (e *Engine) ComputeAll(orders []models.OrderRecord, exits ExitLookup) Batch {
	batch := Batch{
		Results: make(map[string]models.PnLResult, len(orders)),
		Skipped: make(map[string]SkipReason),
	}
	for _, o := range orders {
		res, reason, ok := e.Compute(o, exits)
		if !ok {
			batch.Skipped[o.OrderID] = reason
			if reason == SkipMalformed {
				e.logger.Warn().Str("order_id", o.OrderID).Str("side", string(o.Side)).
					Int("quantity", o.Quantity).Float64("entry_price", o.EntryPrice).
					Msg("Order is missing entry data, skipped")
			} else {
				e.logger.Debug().Str("order_id", o.OrderID).Str("reason", string(reason)).Msg("Order PnL skipped")
			}
			continue
		}
		batch.Results[o.OrderID] = res
	}
	return batch
}

func validEntry(o models.OrderRecord) bool {
	return o.OrderID != "" && o.Side.Valid() && o.Quantity > 0 && o.EntryPrice > 0
}

// signedPnL is (exit-entry)*qty for BUY and (entry-exit)*qty for SELL,
// rounded to two decimals.
func signedPnL(side models.OrderSide, entry, exit float64, qty int) float64 {
	diff := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	if side == models.OrderSideSell {
		diff = diff.Neg()
	}
	pnl, _ := diff.Mul(decimal.NewFromInt(int64(qty))).Round(2).Float64()
	return pnl
}

// Summary aggregates the results of one strategy.
type Summary struct {
	StrategyID string  `json:"strategyId"`
	TotalPnL   float64 `json:"totalPnl"`
	Realized   float64 `json:"realized"`
	Unrealized float64 `json:"unrealized"`
	Orders     int     `json:"orders"`
	Finished   int     `json:"finished"`
	Pending    int     `json:"pending"`
}

// Summarize sums every present result. Orders without a result do not
// contribute, which is distinct from contributing zero.
func Summarize(strategyID string, results map[string]models.PnLResult) Summary {
	s := Summary{StrategyID: strategyID, Orders: len(results)}
	total, realized, unrealized := decimal.Zero, decimal.Zero, decimal.Zero
	for _, r := range results {
		v := decimal.NewFromFloat(r.PnL)
		total = total.Add(v)
		if r.IsExited {
			realized = realized.Add(v)
		} else {
			unrealized = unrealized.Add(v)
		}
		if status.IsPending(r.Status) {
			s.Pending++
		} else {
			s.Finished++
		}
	}
	s.TotalPnL, _ = total.Round(2).Float64()
	s.Realized, _ = realized.Round(2).Float64()
	s.Unrealized, _ = unrealized.Round(2).Float64()
	return s
}
