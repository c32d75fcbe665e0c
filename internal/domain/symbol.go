package domain

import "github.com/shopspring/decimal"

// SymbolInfo holds the exchange filters needed to produce valid quantities and prices.
type SymbolInfo struct {
	Symbol         string
	MinQty         decimal.Decimal // LOT_SIZE.minQty
	StepSize       decimal.Decimal // LOT_SIZE.stepSize
	TickSize       decimal.Decimal // PRICE_FILTER.tickSize
	MinNotional    decimal.Decimal // MIN_NOTIONAL.notional
	PricePrecision int32
}

// Valid reports whether the metadata is usable by the calculators.
func (s *SymbolInfo) Valid() bool {
	return s != nil && s.StepSize.IsPositive() && s.TickSize.IsPositive() && !s.MinQty.IsNegative()
}
