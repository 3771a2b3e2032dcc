package models

import "time"

// OrderRecord is one upstream fill or attempt for a strategy leg.
// The monitor never mutates it; PnL is derived from it on every tick.
type OrderRecord struct {
	OrderID        string
	StrategyID     string
	LegID          string
	Symbol         string
	Expiry         string
	Strike         float64
	OptionType     OptionType
	Side           OrderSide
	Quantity       int
	EntryPrice     float64
	EntryTimestamp time.Time
	Entered        bool
	Exited         bool
	ExitRecordKey  string
	RawStatus      string
	// Pricing is the order's own pricing parameters, nil when absent upstream.
	Pricing *PricingConfig
}

// Contract returns the order's contract identity.
func (o OrderRecord) Contract() Contract {
	return Contract{
		Symbol:     o.Symbol,
		Expiry:     o.Expiry,
		Strike:     o.Strike,
		OptionType: o.OptionType,
	}
}

// ExitFill is the closing fill matched to an exited order.
type ExitFill struct {
	Key       string
	Price     float64
	Quantity  int
	Timestamp time.Time
}

// PnLResult is the derived profit and loss of one order. It is replaced
// wholesale on every tick.
type PnLResult struct {
	OrderID      string    `json:"orderId"`
	LegID        string    `json:"legId,omitempty"`
	PnL          float64   `json:"pnl"`
	EntryPrice   float64   `json:"entryPrice"`
	ExitPrice    *float64  `json:"exitPrice"`
	CurrentPrice *float64  `json:"currentPrice"`
	Quantity     int       `json:"quantity"`
	Side         OrderSide `json:"side"`
	IsExited     bool      `json:"isExited"`
	Status       string    `json:"status"`
	ComputedAt   time.Time `json:"computedAt"`
}
