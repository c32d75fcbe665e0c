package trading

import (
	"context"
	"fmt"
	"time"

	"futuresDesk/internal/calc"
	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	three   = decimal.NewFromInt(3)
)

// TakeProfitManager walks the take-profit ladder one rung at a time.
type TakeProfitManager struct {
	exchange ports.ExchangeProvider
	symbols  ports.SymbolInfoProvider
	repo     ports.TradeRepository
	stopLoss *StopLossManager
	logger   ports.Logger
	now      func() time.Time
}

// NewTakeProfitManager creates a TakeProfitManager.
func NewTakeProfitManager(exchange ports.ExchangeProvider, symbols ports.SymbolInfoProvider, repo ports.TradeRepository, stopLoss *StopLossManager, logger ports.Logger) *TakeProfitManager {
	return &TakeProfitManager{exchange: exchange, symbols: symbols, repo: repo, stopLoss: stopLoss, logger: logger, now: utcNow}
}

// SplitQuantities distributes the filled entry quantity across the ladder by percent.
// Rungs that already filled keep their quantity.
func (m *TakeProfitManager) SplitQuantities(ctx context.Context, tc domain.TradeContext) error {
	tps := tc.Trade.Variant.SortedTakeProfits()
	if len(tps) == 0 {
		return nil
	}
	info, err := m.symbols.SymbolInfo(ctx, tc.Symbol())
	if err != nil {
		return err
	}
	percents := make([]decimal.Decimal, len(tps))
	for i, tp := range tps {
		percents[i] = tp.ClosePercent
	}
	qtys, err := calc.SplitTakeProfits(tc.FilledQuantity(), percents, info)
	if err != nil {
		return err
	}
	for i, tp := range tps {
		if !tp.Result.IsFilled() {
			tp.Quantity = qtys[i]
		}
	}
	return nil
}

// nextRung returns the first rung, in ladder order, with a quantity and no order yet,
// together with its 1-based rung number.
func nextRung(tc domain.TradeContext) (*domain.TakeProfit, int) {
	for i, tp := range tc.Trade.Variant.SortedTakeProfits() {
		if tp.Quantity.IsPositive() && tp.Result == nil {
			return tp, i + 1
		}
	}
	return nil, 0
}

// rungByNumber returns the rung with the given 1-based ladder position.
func rungByNumber(tc domain.TradeContext, n int) *domain.TakeProfit {
	tps := tc.Trade.Variant.SortedTakeProfits()
	if n < 1 || n > len(tps) {
		return nil
	}
	return tps[n-1]
}

// Request builds the order for the next rung without sending it. It returns nil when a
// rung is already working or the ladder is exhausted.
func (m *TakeProfitManager) Request(ctx context.Context, tc domain.TradeContext) (*ports.OrderRequest, *domain.TakeProfit, error) {
	if tc.TakeProfitPlaced() {
		return nil, nil, nil
	}
	tp, n := nextRung(tc)
	if tp == nil {
		return nil, nil, nil
	}
	info, err := m.symbols.SymbolInfo(ctx, tc.Symbol())
	if err != nil {
		return nil, nil, err
	}
	price, err := calc.RoundPrice(tp.Price, info)
	if err != nil {
		return nil, nil, err
	}
	req := closeRequest(tc, domain.TakeProfitRole(n), domain.OrderTypeTakeProfitMarket, tp.Quantity, m.now())
	req.StopPrice = price
	return &req, tp, nil
}

// Record stores a placed take-profit order on its rung.
func (m *TakeProfitManager) Record(tc domain.TradeContext, tp *domain.TakeProfit, r *domain.OrderResult) {
	tp.Result = r
	tp.ResultTime = m.now()
	tc.Trade.AddLog(fmt.Sprintf("take-profit %d placed at %s for %s", tp.Index, r.StopPrice, r.OrigQty))
}

// OpenFirst places the first rung of the ladder.
func (m *TakeProfitManager) OpenFirst(ctx context.Context, tc domain.TradeContext) error {
	return m.OpenNext(ctx, tc)
}

// OpenNext places the next rung unless one is already working.
func (m *TakeProfitManager) OpenNext(ctx context.Context, tc domain.TradeContext) error {
	op := "TakeProfitManager.OpenNext"
	req, tp, err := m.Request(ctx, tc)
	if err != nil || req == nil {
		return err
	}
	client := m.exchange.ForAccount(tc.Account)
	res, err := client.PlaceOrder(ctx, *req)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	m.Record(tc, tp, res)
	m.logger.Info(ctx, op+": Take profit order placed", tradeFields(tc, map[string]interface{}{
		"orderID": res.OrderID, "rung": tp.Index, "stopPrice": req.StopPrice.String(), "quantity": req.Quantity.String(),
	}))
	return nil
}

// OnFilled reacts to a filled rung. A fully realized position loses its stop and any
// working rung and is closed; otherwise the stop is moved and the next rung opens.
func (m *TakeProfitManager) OnFilled(ctx context.Context, tc domain.TradeContext) error {
	op := "TakeProfitManager.OnFilled"
	if tc.FullyRealized() {
		m.logger.Info(ctx, op+": Position fully realized, closing trade", tradeFields(tc))
		if err := m.stopLoss.Close(ctx, tc); err != nil {
			return err
		}
		if open := tc.OpenTakeProfit(); open != nil {
			client := m.exchange.ForAccount(tc.Account)
			if err := cancelOrderWarn(ctx, m.logger, client, tc, open.Result, "take-profit", domain.StatusClosedManually); err != nil {
				return err
			}
		}
		tc.Trade.MarkClosed(domain.CloseReasonTakeProfit)
		return nil
	}

	if err := m.stopLoss.Move(ctx, tc, nil); err != nil {
		return err
	}
	return m.OpenNext(ctx, tc)
}

// TakeSomeProfit closes part of the position at market on operator request: the size of
// the pending (or next) rung, or a third of what remains when there is no ladder.
func (m *TakeProfitManager) TakeSomeProfit(ctx context.Context, tc domain.TradeContext) error {
	op := "TakeProfitManager.TakeSomeProfit"
	remaining := tc.RemainingQuantity()
	if !tc.EntryFilled() || !remaining.IsPositive() {
		return fmt.Errorf("%w: trade %s has no open position", ports.ErrInvalidRequest, tc.Trade.ID)
	}

	client := m.exchange.ForAccount(tc.Account)
	target := tc.OpenTakeProfit()
	if target == nil {
		target, _ = nextRung(tc)
	}

	var qty decimal.Decimal
	if target != nil {
		qty = target.Quantity
	} else {
		info, err := m.symbols.SymbolInfo(ctx, tc.Symbol())
		if err != nil {
			return err
		}
		if qty, err = calc.RoundQuantity(remaining.Div(three), info); err != nil {
			return err
		}
	}
	if qty.GreaterThan(remaining) {
		qty = remaining
	}

	// The pending rung is canceled and its result cleared and persisted before the market
	// order goes out, so a late fill of the old order no longer matches this trade.
	if target != nil && target.Result.IsOpen() {
		if err := cancelOrderWarn(ctx, m.logger, client, tc, target.Result, "take-profit", domain.StatusClosedManually); err != nil {
			return err
		}
		if target.Result.IsFilled() {
			m.logger.Info(ctx, op+": Pending rung filled before it could be canceled", tradeFields(tc))
			return m.OnFilled(ctx, tc)
		}
		target.Result = nil
		if err := m.repo.Update(ctx, tc.Trade); err != nil {
			return err
		}
	}

	req := closeRequest(tc, domain.ManualRole(), domain.OrderTypeMarket, qty, m.now())
	res, err := client.PlaceOrder(ctx, req)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	if target == nil {
		filled := tc.FilledQuantity()
		target = &domain.TakeProfit{
			Index:        len(tc.Trade.Variant.TakeProfits),
			Price:        res.FillPrice(),
			ClosePercent: qty.Mul(hundred).Div(filled).Round(2),
			Quantity:     qty,
		}
		tc.Trade.Variant.TakeProfits = append(tc.Trade.Variant.TakeProfits, target)
	}
	target.Result = res
	target.ResultTime = m.now()
	target.Manual = true
	tc.Trade.AddLog(fmt.Sprintf("manual take-profit of %s at market", qty))
	m.logger.Info(ctx, op+": Manual take profit placed", tradeFields(tc, map[string]interface{}{"orderID": res.OrderID, "quantity": qty.String()}))

	if !res.IsFilled() {
		return nil
	}
	return m.OnFilled(ctx, tc)
}
