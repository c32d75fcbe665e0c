// Package calc turns raw amounts into quantities and prices the exchange accepts.
// Every function is pure and works on exact decimals; missing metadata is an error.
package calc

import (
	"fmt"

	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

func checkInfo(info *domain.SymbolInfo) error {
	if !info.Valid() {
		symbol := ""
		if info != nil {
			symbol = info.Symbol
		}
		return fmt.Errorf("%w: %q has no usable LOT_SIZE/PRICE_FILTER", ports.ErrMissingSymbolInfo, symbol)
	}
	return nil
}

// RoundToStep rounds x up to the nearest multiple of step.
func RoundToStep(x, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return x
	}
	return x.Div(step).Ceil().Mul(step)
}

// RoundQuantity rounds qty up to the lot step, then clamps it to at least the minimum quantity.
func RoundQuantity(qty decimal.Decimal, info *domain.SymbolInfo) (decimal.Decimal, error) {
	if err := checkInfo(info); err != nil {
		return decimal.Zero, err
	}
	q := RoundToStep(qty, info.StepSize)
	if q.LessThan(info.MinQty) {
		q = RoundToStep(info.MinQty, info.StepSize)
	}
	return q, nil
}

// RoundPrice rounds price to the symbol's precision, then snaps it up to a tick multiple.
func RoundPrice(price decimal.Decimal, info *domain.SymbolInfo) (decimal.Decimal, error) {
	if err := checkInfo(info); err != nil {
		return decimal.Zero, err
	}
	precision := info.PricePrecision
	if precision <= 0 {
		precision = places(info.TickSize)
	}
	return RoundToStep(price.Round(precision), info.TickSize), nil
}

// places is the number of decimal places needed to represent d.
func places(d decimal.Decimal) int32 {
	exp := d.Exponent()
	if exp >= 0 {
		return 0
	}
	// strip trailing zeros so "0.0100" yields 2
	s := d.String()
	n := int32(0)
	seenDot := false
	for _, r := range s {
		if r == '.' {
			seenDot = true
			continue
		}
		if seenDot {
			n++
		}
	}
	return n
}

// minStep is the smallest quantity a rung may carry.
func minStep(info *domain.SymbolInfo) decimal.Decimal {
	if info.MinQty.IsPositive() {
		return info.MinQty
	}
	return info.StepSize
}

// Sum adds quantities.
func Sum(qs []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, q := range qs {
		total = total.Add(q)
	}
	return total
}

// SplitTakeProfits distributes filled across the rungs by percent. Each rung is rounded
// per RoundQuantity; once the running sum would overshoot filled, the excess comes off the
// current rung, and when that leaves the rung below the minimum step the rung is zeroed and
// its remainder folds into the previous one. Any shortfall lands on the last non-zero rung,
// so the ladder always sums to filled exactly.
func SplitTakeProfits(filled decimal.Decimal, percents []decimal.Decimal, info *domain.SymbolInfo) ([]decimal.Decimal, error) {
	if err := checkInfo(info); err != nil {
		return nil, err
	}
	out := make([]decimal.Decimal, len(percents))
	if len(percents) == 0 || !filled.IsPositive() {
		return out, nil
	}

	running := decimal.Zero
	for i, pct := range percents {
		q, err := RoundQuantity(filled.Mul(pct).Div(hundred), info)
		if err != nil {
			return nil, err
		}
		if running.Add(q).GreaterThan(filled) {
			excess := running.Add(q).Sub(filled)
			q = q.Sub(excess)
			if i > 0 && q.LessThan(minStep(info)) {
				out[i-1] = out[i-1].Add(q)
				running = running.Add(q)
				q = decimal.Zero
			}
		}
		out[i] = q
		running = running.Add(q)
	}

	if short := filled.Sub(running); short.IsPositive() {
		last := len(out) - 1
		for last > 0 && out[last].IsZero() {
			last--
		}
		out[last] = out[last].Add(short)
	}
	return out, nil
}

// SizeMarketEntry derives the entry quantity for a margin budget at price, raising it to
// the exchange minimum notional when needed.
func SizeMarketEntry(budget decimal.Decimal, leverage int, price decimal.Decimal, info *domain.SymbolInfo) (decimal.Decimal, error) {
	if err := checkInfo(info); err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() || leverage <= 0 || !budget.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: budget %s, leverage %d, price %s", ports.ErrConfiguration, budget, leverage, price)
	}
	notional := budget.Mul(decimal.NewFromInt(int64(leverage)))
	if notional.LessThan(info.MinNotional) {
		notional = info.MinNotional
	}
	return RoundQuantity(notional.Div(price), info)
}

// LadderSizing is the input for SizeLimitLadder.
type LadderSizing struct {
	Budget           decimal.Decimal // margin in USDT for the whole ladder
	Leverage         int
	TolerancePercent decimal.Decimal // allowed overshoot of Budget after minimum-notional raises
}

// SizeLimitLadder sizes each limit-entry rung from an even split of the budget. When the
// split notional falls below the exchange minimum the rung margin is raised to
// minNotional/leverage. It fails when the resulting total margin exceeds the budget by
// more than the tolerance.
func SizeLimitLadder(in LadderSizing, prices []decimal.Decimal, info *domain.SymbolInfo) ([]decimal.Decimal, error) {
	if err := checkInfo(info); err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, nil
	}
	if in.Leverage <= 0 || !in.Budget.IsPositive() {
		return nil, fmt.Errorf("%w: budget %s, leverage %d", ports.ErrConfiguration, in.Budget, in.Leverage)
	}

	lev := decimal.NewFromInt(int64(in.Leverage))
	margin := in.Budget.Div(decimal.NewFromInt(int64(len(prices))))
	if margin.Mul(lev).LessThan(info.MinNotional) {
		margin = info.MinNotional.Div(lev)
	}

	out := make([]decimal.Decimal, len(prices))
	totalMargin := decimal.Zero
	for i, price := range prices {
		if !price.IsPositive() {
			return nil, fmt.Errorf("%w: rung %d has price %s", ports.ErrConfiguration, i+1, price)
		}
		q, err := RoundQuantity(margin.Mul(lev).Div(price), info)
		if err != nil {
			return nil, err
		}
		out[i] = q
		totalMargin = totalMargin.Add(q.Mul(price).Div(lev))
	}

	limit := in.Budget.Mul(hundred.Add(in.TolerancePercent)).Div(hundred)
	if totalMargin.GreaterThan(limit) {
		return nil, fmt.Errorf("%w: ladder needs %s USDT margin, budget %s (+%s%%)",
			ports.ErrBudgetExceeded, totalMargin.StringFixed(2), in.Budget, in.TolerancePercent)
	}
	return out, nil
}
