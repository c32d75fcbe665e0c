package risk

import (
	"fmt"

	"futuresDesk/internal/calc"
	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RiskConfig holds the per-trade bounds.
type RiskConfig struct {
	MaxLeverage            int
	DefaultBudget          decimal.Decimal // margin per trade when the account sets none
	BudgetTolerancePercent decimal.Decimal // how far min-notional raises may push a ladder past its budget
	MaxPositionNotional    decimal.Decimal // zero disables the check
}

// RiskManager validates trade intents and sizes them within the per-trade bounds.
type RiskManager struct {
	config RiskConfig
}

// NewRiskManager creates a new risk manager instance
func NewRiskManager(config RiskConfig) *RiskManager {
	if config.MaxLeverage <= 0 {
		config.MaxLeverage = 20
	}
	return &RiskManager{config: config}
}

// ValidateVariant rejects intents the managers cannot execute safely.
func (r *RiskManager) ValidateVariant(v domain.TradeVariant) error {
	var problems []string
	if v.Symbol == "" {
		problems = append(problems, "symbol is empty")
	}
	if v.Side != domain.Buy && v.Side != domain.Sell {
		problems = append(problems, fmt.Sprintf("unknown side %q", v.Side))
	}
	if !v.EntryFrom.IsPositive() || !v.EntryTo.IsPositive() {
		problems = append(problems, "entry zone must be positive")
	}
	low, high := v.EntryFrom, v.EntryTo
	if low.GreaterThan(high) {
		low, high = high, low
	}
	if v.StopLoss.IsPositive() {
		if v.Side == domain.Buy && v.StopLoss.GreaterThanOrEqual(low) {
			problems = append(problems, fmt.Sprintf("stop %s is not below the entry zone", v.StopLoss))
		}
		if v.Side == domain.Sell && v.StopLoss.LessThanOrEqual(high) {
			problems = append(problems, fmt.Sprintf("stop %s is not above the entry zone", v.StopLoss))
		}
	}
	total := decimal.Zero
	for _, tp := range v.TakeProfits {
		if !tp.Price.IsPositive() || !tp.ClosePercent.IsPositive() {
			problems = append(problems, fmt.Sprintf("take-profit %d needs a positive price and percent", tp.Index))
		}
		total = total.Add(tp.ClosePercent)
	}
	if total.GreaterThan(hundred) {
		problems = append(problems, fmt.Sprintf("take-profit percents add up to %s", total))
	}
	for _, lo := range v.LimitOrders {
		if !lo.Price.IsPositive() {
			problems = append(problems, fmt.Sprintf("limit order %d needs a positive price", lo.Index))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %v", ports.ErrInvalidRequest, problems)
	}
	return nil
}

// Leverage picks the leverage for v: the top of the signal's range, capped at the
// configured maximum. It fails when even the bottom of the range exceeds the cap.
func (r *RiskManager) Leverage(v domain.TradeVariant) (int, error) {
	lo, hi := v.LeverageMin, v.LeverageMax
	if lo <= 0 {
		lo = 1
	}
	if hi < lo {
		hi = lo
	}
	if lo > r.config.MaxLeverage {
		return 0, fmt.Errorf("%w: leverage %d exceeds maximum allowed %d", ports.ErrConfiguration, lo, r.config.MaxLeverage)
	}
	if hi > r.config.MaxLeverage {
		hi = r.config.MaxLeverage
	}
	return hi, nil
}

// Budget returns the margin available to one trade of account.
func (r *RiskManager) Budget(account domain.Account) (decimal.Decimal, error) {
	budget := account.BudgetUSDT
	if !budget.IsPositive() {
		budget = r.config.DefaultBudget
	}
	if !budget.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no trade budget for account %s", ports.ErrConfiguration, account.ID)
	}
	return budget, nil
}

// LadderSizing builds the input for sizing a limit-entry ladder.
func (r *RiskManager) LadderSizing(account domain.Account, leverage int) (calc.LadderSizing, error) {
	budget, err := r.Budget(account)
	if err != nil {
		return calc.LadderSizing{}, err
	}
	return calc.LadderSizing{Budget: budget, Leverage: leverage, TolerancePercent: r.config.BudgetTolerancePercent}, nil
}

// CheckPosition enforces the per-trade notional bound.
func (r *RiskManager) CheckPosition(qty, price decimal.Decimal) error {
	if !r.config.MaxPositionNotional.IsPositive() {
		return nil
	}
	notional := qty.Mul(price)
	if notional.GreaterThan(r.config.MaxPositionNotional) {
		return fmt.Errorf("%w: position notional %s exceeds maximum allowed %s",
			ports.ErrBudgetExceeded, notional.StringFixed(2), r.config.MaxPositionNotional)
	}
	return nil
}
