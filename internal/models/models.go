// Package models provides domain models for the strategy monitor.
package models

import (
	"fmt"
	"strings"
)

// OrderSide represents the side of a leg or an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// ParseOrderSide normalizes an upstream side string.
func ParseOrderSide(s string) (OrderSide, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "B":
		return OrderSideBuy, true
	case "SELL", "S":
		return OrderSideSell, true
	}
	return "", false
}

// Valid reports whether the side is BUY or SELL.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// Opposite returns the inverted side.
func (s OrderSide) Opposite() OrderSide {
	switch s {
	case OrderSideBuy:
		return OrderSideSell
	case OrderSideSell:
		return OrderSideBuy
	}
	return s
}

// Sign returns +1 for BUY and -1 for SELL.
func (s OrderSide) Sign() float64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

// OptionType represents a call or put.
type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

// ParseOptionType normalizes an upstream option type string.
func ParseOptionType(s string) (OptionType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CE", "CALL", "C":
		return OptionCall, true
	case "PE", "PUT", "P":
		return OptionPut, true
	}
	return "", false
}

// Contract identifies one option contract.
type Contract struct {
	Symbol     string
	Expiry     string
	Strike     float64
	OptionType OptionType
}

func (c Contract) String() string {
	return fmt.Sprintf("%s %s %g %s", c.Symbol, c.Expiry, c.Strike, c.OptionType)
}
