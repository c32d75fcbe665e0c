package domain

import "github.com/shopspring/decimal"

// TradeContext binds a trade to its owning account for the duration of one operation.
// Every derived value is computed from the stored order results on read.
type TradeContext struct {
	Trade   *Trade
	Account Account
}

// NewTradeContext binds trade to account.
func NewTradeContext(trade *Trade, account Account) TradeContext {
	return TradeContext{Trade: trade, Account: account}
}

func (c TradeContext) Symbol() string { return c.Trade.Variant.Symbol }
func (c TradeContext) Side() OrderSide { return c.Trade.Variant.Side }
func (c TradeContext) CloseSide() OrderSide { return c.Trade.Variant.Side.Opposite() }
func (c TradeContext) Leverage() int { return c.Trade.Leverage }

// FilledQuantity is the executed entry quantity: the market entry, or the sum of filled
// limit rungs on the ladder path.
func (c TradeContext) FilledQuantity() decimal.Decimal {
	if c.Trade.EntryPath == EntryPathLimit {
		sum := decimal.Zero
		for _, lo := range c.Trade.Variant.LimitOrders {
			if lo.Result.IsFilled() {
				sum = sum.Add(lo.Result.FilledQty())
			}
		}
		return sum
	}
	if c.Trade.Entry.IsFilled() {
		return c.Trade.Entry.FilledQty()
	}
	return decimal.Zero
}

// EntryPrice is the average entry price weighted by filled quantity.
func (c TradeContext) EntryPrice() decimal.Decimal {
	if c.Trade.EntryPath != EntryPathLimit {
		if c.Trade.Entry == nil {
			return decimal.Zero
		}
		return c.Trade.Entry.FillPrice()
	}
	notional, qty := decimal.Zero, decimal.Zero
	for _, lo := range c.Trade.Variant.LimitOrders {
		if !lo.Result.IsFilled() {
			continue
		}
		price := lo.Result.FillPrice()
		if price.IsZero() {
			price = lo.Price
		}
		q := lo.Result.FilledQty()
		notional = notional.Add(price.Mul(q))
		qty = qty.Add(q)
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return notional.Div(qty)
}

// FilledTakeProfitQuantity sums the quantities of FILLED take-profit rungs.
func (c TradeContext) FilledTakeProfitQuantity() decimal.Decimal {
	sum := decimal.Zero
	for _, tp := range c.Trade.Variant.TakeProfits {
		if tp.Result.IsFilled() {
			sum = sum.Add(tp.Result.FilledQty())
		}
	}
	return sum
}

// RemainingQuantity is the position still exposed: filled entry minus realized take-profits.
func (c TradeContext) RemainingQuantity() decimal.Decimal {
	rem := c.FilledQuantity().Sub(c.FilledTakeProfitQuantity())
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

func (c TradeContext) EntryFilled() bool { return c.FilledQuantity().IsPositive() }
func (c TradeContext) StopLossPlaced() bool { return c.Trade.StopLoss.IsOpen() }
func (c TradeContext) StopLossFilled() bool { return c.Trade.StopLoss.IsFilled() }
func (c TradeContext) TakeProfitPlaced() bool { return c.OpenTakeProfit() != nil }

// TakeProfitFilled reports whether at least one rung has filled.
func (c TradeContext) TakeProfitFilled() bool {
	for _, tp := range c.Trade.Variant.TakeProfits {
		if tp.Result.IsFilled() {
			return true
		}
	}
	return false
}

// OpenTakeProfit returns the working take-profit rung, if any.
func (c TradeContext) OpenTakeProfit() *TakeProfit {
	for _, tp := range c.Trade.Variant.SortedTakeProfits() {
		if tp.Result.IsOpen() {
			return tp
		}
	}
	return nil
}

// FullyRealized reports whether every filled entry unit has been taken as profit.
func (c TradeContext) FullyRealized() bool {
	filled := c.FilledQuantity()
	return filled.IsPositive() && c.FilledTakeProfitQuantity().Equal(filled)
}

// OpenOrders lists every working order of the trade.
func (c TradeContext) OpenOrders() []*OrderResult {
	var out []*OrderResult
	if c.Trade.Entry.IsOpen() {
		out = append(out, c.Trade.Entry)
	}
	for _, lo := range c.Trade.Variant.LimitOrders {
		if lo.Result.IsOpen() {
			out = append(out, lo.Result)
		}
	}
	if c.Trade.StopLoss.IsOpen() {
		out = append(out, c.Trade.StopLoss)
	}
	for _, tp := range c.Trade.Variant.TakeProfits {
		if tp.Result.IsOpen() {
			out = append(out, tp.Result)
		}
	}
	return out
}
