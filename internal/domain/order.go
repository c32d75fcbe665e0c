package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderResult is the canonical view of an exchange order, produced both from REST
// responses and from decoded push-channel order updates.
type OrderResult struct {
	OrderID       int64           `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Type          OrderType       `json:"type"`
	Status        OrderStatus     `json:"status"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	Price         decimal.Decimal `json:"price"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	StopPrice     decimal.Decimal `json:"stopPrice"`
	ReduceOnly    bool            `json:"reduceOnly"`
	UpdateTime    time.Time       `json:"updateTime"`
}

// IsFilled reports whether the order is fully filled. A nil result is never filled.
func (r *OrderResult) IsFilled() bool {
	return r != nil && r.Status == StatusFilled
}

// IsOpen reports whether the order is still working on the exchange.
func (r *OrderResult) IsOpen() bool {
	return r != nil && (r.Status == StatusNew || r.Status == StatusPartiallyFilled)
}

// FilledQty returns the executed quantity, falling back to the original quantity for
// FILLED results that did not carry an executed amount.
func (r *OrderResult) FilledQty() decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	if r.ExecutedQty.IsPositive() {
		return r.ExecutedQty
	}
	if r.Status == StatusFilled {
		return r.OrigQty
	}
	return decimal.Zero
}

// FillPrice returns the average fill price, or the order price when no average is known.
func (r *OrderResult) FillPrice() decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	if r.AvgPrice.IsPositive() {
		return r.AvgPrice
	}
	return r.Price
}
