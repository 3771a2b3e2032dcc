package models

import "time"

// PriceLevel is one level of a bid or ask ladder.
type PriceLevel struct {
	Price float64
}

// Quote is a full market snapshot for one option contract.
// Bids and Asks are ordered best to worst.
type Quote struct {
	Contract
	Bids []PriceLevel
	Asks []PriceLevel
	LTP  float64
}

// Ladder returns the ladder transacted against for side.
// BUY is priced off the bid ladder and SELL off the ask ladder.
func (q Quote) Ladder(side OrderSide) []PriceLevel {
	if side == OrderSideSell {
		return q.Asks
	}
	return q.Bids
}

// ChainSnapshot is an immutable option-chain snapshot.
type ChainSnapshot struct {
	Quotes    []Quote
	FetchedAt time.Time
}
