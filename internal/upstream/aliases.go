package upstream

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Field is one concept probed under several upstream keys. Keys are tried in
// order and the first present, well-typed value wins.
type Field struct {
	Name string
	Keys []string
}

// Prioritized aliases per order concept. This table is the only place that
// knows upstream spellings.
var (
	FieldOrderID        = Field{"order id", []string{"orderId", "order_id", "id", "_id"}}
	FieldLegID          = Field{"leg id", []string{"legId", "leg_id", "legID"}}
	FieldSymbol         = Field{"symbol", []string{"symbol", "symbolname", "tradingsymbol"}}
	FieldStrike         = Field{"strike", []string{"strike", "strikeprice", "strikePrice"}}
	FieldExpiry         = Field{"expiry", []string{"expiry", "expiryDate", "expiry_date"}}
	FieldOptionType     = Field{"option type", []string{"optionType", "optiontype", "option_type"}}
	FieldSide           = Field{"side", []string{"side", "transactionType", "transaction_type", "action"}}
	FieldQuantity       = Field{"quantity", []string{"quantity", "filledQuantity", "filled_quantity", "qty"}}
	FieldEntryPrice     = Field{"entry price", []string{"entryPrice", "averagePrice", "average_price", "fillPrice", "price"}}
	FieldEntryTimestamp = Field{"entry timestamp", []string{"entryTimestamp", "entryTime", "timestamp"}}
	FieldEntered        = Field{"entered", []string{"entered", "isEntered"}}
	FieldExited         = Field{"exited", []string{"exited", "isExited"}}
	FieldExitRecordKey  = Field{"exit record key", []string{"exitRecordKey", "orderDetailsKey", "order_details_key", "exitKey"}}
	FieldStatus         = Field{"status", []string{"status", "orderStatus", "order_status"}}
	FieldExitPrice      = Field{"exit price", []string{"exitPrice", "averagePrice", "average_price", "fillPrice", "price"}}
	FieldExitQuantity   = Field{"exit quantity", []string{"quantity", "filledQuantity", "filled_quantity", "qty"}}
	FieldPricingMethod  = Field{"pricing method", []string{"pricingMethod", "method"}}
	FieldAverageDepth   = Field{"average depth", []string{"averageDepth", "average_depth"}}
	FieldDepthIndex     = Field{"depth index", []string{"depthIndex", "depth_index"}}
	FieldStrategyID     = Field{"strategy id", []string{"strategyId", "strategy_id"}}
)

// Record is one raw upstream JSON object.
type Record map[string]any

func (f Field) raw(r Record) (any, bool) {
	for _, k := range f.Keys {
		if v, ok := r[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// String returns the first non-empty string or number under f's keys.
func (f Field) String(r Record) (string, bool) {
	for _, k := range f.Keys {
		if s, ok := asString(r[k]); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// Float returns the first numeric value under f's keys. Numeric strings are
// accepted.
func (f Field) Float(r Record) (float64, bool) {
	for _, k := range f.Keys {
		if v, ok := asFloat(r[k]); ok {
			return v, true
		}
	}
	return 0, false
}

// Int returns the first integral value under f's keys.
func (f Field) Int(r Record) (int, bool) {
	v, ok := f.Float(r)
	if !ok || v != math.Trunc(v) {
		return 0, false
	}
	return int(v), true
}

// Bool returns the first boolean under f's keys. "true"/"false" strings and
// 0/1 numbers are accepted.
func (f Field) Bool(r Record) (bool, bool) {
	for _, k := range f.Keys {
		switch v := r[k].(type) {
		case bool:
			return v, true
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b, true
			}
		case float64:
			return v != 0, true
		case json.Number:
			if n, err := v.Float64(); err == nil {
				return n != 0, true
			}
		}
	}
	return false, false
}

// Time returns the first parseable timestamp under f's keys. RFC3339 strings,
// "2006-01-02 15:04:05" strings and unix epoch seconds or milliseconds are
// accepted.
func (f Field) Time(r Record) (time.Time, bool) {
	v, ok := f.raw(r)
	if !ok {
		return time.Time{}, false
	}
	if s, ok := v.(string); ok {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	if n, ok := asFloat(v); ok && n > 0 {
		if n > 1e12 {
			return time.UnixMilli(int64(n)), true
		}
		return time.Unix(int64(n), 0), true
	}
	return time.Time{}, false
}

func asString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	}
	return "", false
}

func asFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
