package models

import "strings"

// PricingMethod selects how a price is extracted from a ladder.
type PricingMethod string

const (
	PricingAverage PricingMethod = "average"
	PricingDepth   PricingMethod = "depth"
)

// Ladder depth bounds for AverageDepth and DepthIndex.
const (
	MinDepth = 1
	MaxDepth = 5
)

// PricingConfig controls price extraction for a leg. Only the field that
// matches Method is authoritative.
type PricingConfig struct {
	Method       PricingMethod `json:"method" mapstructure:"method"`
	AverageDepth int           `json:"averageDepth" mapstructure:"average_depth"`
	DepthIndex   int           `json:"depthIndex" mapstructure:"depth_index"`
}

// DefaultPricingConfig returns best-level averaging.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Method:       PricingAverage,
		AverageDepth: 1,
		DepthIndex:   1,
	}
}

// ParsePricingMethod normalizes a method name.
func ParsePricingMethod(s string) (PricingMethod, bool) {
	switch PricingMethod(strings.ToLower(strings.TrimSpace(s))) {
	case PricingAverage:
		return PricingAverage, true
	case PricingDepth:
		return PricingDepth, true
	}
	return "", false
}

// LegSpec is one leg of a strategy. ID is scoped to its strategy.
type LegSpec struct {
	ID         string        `json:"id"`
	Symbol     string        `json:"symbol"`
	Strike     float64       `json:"strike"`
	Expiry     string        `json:"expiry"`
	OptionType OptionType    `json:"optionType"`
	Side       OrderSide     `json:"side"`
	Quantity   int           `json:"quantity"`
	Pricing    PricingConfig `json:"pricing"`
}

// Contract returns the leg's contract identity.
func (l LegSpec) Contract() Contract {
	return Contract{
		Symbol:     l.Symbol,
		Expiry:     l.Expiry,
		Strike:     l.Strike,
		OptionType: l.OptionType,
	}
}

// StrategySpec is an ordered set of legs. Leg order is significant.
type StrategySpec struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Legs         []LegSpec `json:"legs"`
	BiddingLegID string    `json:"biddingLegId,omitempty"`
}

// BiddingLeg returns the designated bidding leg, falling back to the first
// leg when unset or when the id is not present.
func (s StrategySpec) BiddingLeg() (LegSpec, bool) {
	if len(s.Legs) == 0 {
		return LegSpec{}, false
	}
	if s.BiddingLegID != "" {
		for _, leg := range s.Legs {
			if leg.ID == s.BiddingLegID {
				return leg, true
			}
		}
	}
	return s.Legs[0], true
}
