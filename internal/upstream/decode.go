package upstream

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"spread-monitor/internal/errors"
	"spread-monitor/internal/models"
)

// flexFloat decodes a JSON number or numeric string. Anything else decodes as
// NaN so pricing treats it as an invalid level.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = flexFloat(math.NaN())
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			*f = flexFloat(math.NaN())
			return nil
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		*f = flexFloat(math.NaN())
		return nil
	}
	*f = flexFloat(v)
	return nil
}

// flexString decodes a JSON string or number into its string form.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

type levelEnvelope struct {
	Price flexFloat `json:"price"`
}

// quoteEnvelope is one entry of the option-chain snapshot endpoint.
type quoteEnvelope struct {
	SymbolName  string          `json:"symbolname"`
	StrikePrice flexFloat       `json:"strikeprice"`
	OptionType  string          `json:"optiontype"`
	Expiry      flexString      `json:"expiry"`
	BidValues   []levelEnvelope `json:"bidValues"`
	AskValues   []levelEnvelope `json:"askValues"`
	LTP         flexFloat       `json:"ltp"`
}

func toLevels(in []levelEnvelope) []models.PriceLevel {
	out := make([]models.PriceLevel, len(in))
	for i, l := range in {
		out[i] = models.PriceLevel{Price: float64(l.Price)}
	}
	return out
}

// toQuote converts an envelope. Envelopes without a usable strike or option
// type cannot be matched and are rejected.
func (e quoteEnvelope) toQuote() (models.Quote, error) {
	strike := float64(e.StrikePrice)
	if math.IsNaN(strike) || strike <= 0 {
		return models.Quote{}, errors.NewDataError("quote", e.SymbolName, "invalid strike", nil)
	}
	ot, ok := models.ParseOptionType(e.OptionType)
	if !ok {
		return models.Quote{}, errors.NewDataError("quote", e.SymbolName, "invalid option type "+e.OptionType, nil)
	}
	ltp := float64(e.LTP)
	if math.IsNaN(ltp) {
		ltp = 0
	}
	return models.Quote{
		Contract: models.Contract{
			Symbol:     e.SymbolName,
			Expiry:     string(e.Expiry),
			Strike:     strike,
			OptionType: ot,
		},
		Bids: toLevels(e.BidValues),
		Asks: toLevels(e.AskValues),
		LTP:  ltp,
	}, nil
}

// DecodeOrder maps a raw order-details entry onto an OrderRecord using the
// alias table. Fields that cannot be determined stay zero valued; the PnL
// engine decides whether the record is usable.
func DecodeOrder(r Record, strategyID string) models.OrderRecord {
	o := models.OrderRecord{StrategyID: strategyID}

	o.OrderID, _ = FieldOrderID.String(r)
	o.LegID, _ = FieldLegID.String(r)
	o.Symbol, _ = FieldSymbol.String(r)
	o.Strike, _ = FieldStrike.Float(r)
	o.Expiry, _ = FieldExpiry.String(r)
	if s, ok := FieldOptionType.String(r); ok {
		o.OptionType, _ = models.ParseOptionType(s)
	}
	if s, ok := FieldSide.String(r); ok {
		o.Side, _ = models.ParseOrderSide(s)
	}
	o.Quantity, _ = FieldQuantity.Int(r)
	o.EntryPrice, _ = FieldEntryPrice.Float(r)
	o.EntryTimestamp, _ = FieldEntryTimestamp.Time(r)
	o.Entered, _ = FieldEntered.Bool(r)
	o.Exited, _ = FieldExited.Bool(r)
	o.ExitRecordKey, _ = FieldExitRecordKey.String(r)
	o.RawStatus, _ = FieldStatus.String(r)
	if id, ok := FieldStrategyID.String(r); ok && o.StrategyID == "" {
		o.StrategyID = id
	}
	o.Pricing = decodePricing(r)

	return o
}

func decodePricing(r Record) *models.PricingConfig {
	src := r
	if nested, ok := r["pricing"].(map[string]any); ok {
		src = Record(nested)
	}
	method, ok := FieldPricingMethod.String(src)
	if !ok {
		return nil
	}
	m, ok := models.ParsePricingMethod(method)
	if !ok {
		return nil
	}
	cfg := models.DefaultPricingConfig()
	cfg.Method = m
	if v, ok := FieldAverageDepth.Int(src); ok {
		cfg.AverageDepth = v
	}
	if v, ok := FieldDepthIndex.Int(src); ok {
		cfg.DepthIndex = v
	}
	return &cfg
}

// DecodeExitFill maps a raw exit-fill entry.
func DecodeExitFill(r Record, key string) (models.ExitFill, bool) {
	price, ok := FieldExitPrice.Float(r)
	if !ok || price <= 0 {
		return models.ExitFill{}, false
	}
	fill := models.ExitFill{Key: key, Price: price}
	fill.Quantity, _ = FieldExitQuantity.Int(r)
	fill.Timestamp, _ = FieldEntryTimestamp.Time(r)
	return fill, true
}

// strategyEnvelope is one entry of the strategy list endpoint.
type strategyEnvelope struct {
	ID           flexString    `json:"id"`
	Name         string        `json:"name"`
	BiddingLegID flexString    `json:"biddingLegId"`
	Legs         []legEnvelope `json:"legs"`
}

type legEnvelope struct {
	ID         flexString `json:"id"`
	Symbol     string     `json:"symbol"`
	Strike     flexFloat  `json:"strike"`
	Expiry     flexString `json:"expiry"`
	OptionType string     `json:"optionType"`
	Side       string     `json:"side"`
	Quantity   flexFloat  `json:"quantity"`
	Pricing    struct {
		Method       string    `json:"method"`
		AverageDepth flexFloat `json:"averageDepth"`
		DepthIndex   flexFloat `json:"depthIndex"`
	} `json:"pricing"`
}

func (e strategyEnvelope) toSpec() models.StrategySpec {
	spec := models.StrategySpec{
		ID:           string(e.ID),
		Name:         e.Name,
		BiddingLegID: string(e.BiddingLegID),
		Legs:         make([]models.LegSpec, 0, len(e.Legs)),
	}
	for i, l := range e.Legs {
		leg := models.LegSpec{
			ID:      string(l.ID),
			Symbol:  l.Symbol,
			Strike:  float64(l.Strike),
			Expiry:  string(l.Expiry),
			Pricing: models.DefaultPricingConfig(),
		}
		if leg.ID == "" {
			leg.ID = strconv.Itoa(i)
		}
		leg.OptionType, _ = models.ParseOptionType(l.OptionType)
		leg.Side, _ = models.ParseOrderSide(l.Side)
		// Non-integral or non-numeric quantities become 0 and are excluded
		// by the spread engine.
		if q := float64(l.Quantity); !math.IsNaN(q) && q == math.Trunc(q) {
			leg.Quantity = int(q)
		}
		if m, ok := models.ParsePricingMethod(l.Pricing.Method); ok {
			leg.Pricing.Method = m
		}
		if d := float64(l.Pricing.AverageDepth); !math.IsNaN(d) && d >= 1 {
			leg.Pricing.AverageDepth = int(d)
		}
		if d := float64(l.Pricing.DepthIndex); !math.IsNaN(d) && d >= 1 {
			leg.Pricing.DepthIndex = int(d)
		}
		spec.Legs = append(spec.Legs, leg)
	}
	return spec
}
