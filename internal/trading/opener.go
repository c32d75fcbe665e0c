package trading

import (
	"context"
	"fmt"
	"time"

	"futuresDesk/internal/calc"
	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"
	"futuresDesk/internal/risk"
)

// EntryOpener turns an accepted trade intent into a live trade.
type EntryOpener struct {
	exchange   ports.ExchangeProvider
	symbols    ports.SymbolInfoProvider
	repo       ports.TradeRepository
	risk       *risk.RiskManager
	guard      *Guard
	stopLoss   *StopLossManager
	takeProfit *TakeProfitManager
	limit      *LimitEntryManager
	logger     ports.Logger
	now        func() time.Time
}

// defaultLadder builds a two-rung ladder on the entry zone bounds for intents that
// arrive outside the zone without one.
func defaultLadder(v domain.TradeVariant) []*domain.LimitOrder {
	if v.EntryFrom.Equal(v.EntryTo) {
		return []*domain.LimitOrder{{Index: 0, Price: v.EntryFrom}}
	}
	return []*domain.LimitOrder{
		{Index: 0, Price: v.EntryFrom},
		{Index: 1, Price: v.EntryTo},
	}
}

// Open validates variant, picks the entry path once from the current mark price, saves
// the trade and then places its first orders. The trade is returned even when order
// placement failed; the failure is on its audit log.
func (o *EntryOpener) Open(ctx context.Context, account domain.Account, variant domain.TradeVariant) (*domain.Trade, error) {
	op := "EntryOpener.Open"
	if err := o.risk.ValidateVariant(variant); err != nil {
		return nil, err
	}
	leverage, err := o.risk.Leverage(variant)
	if err != nil {
		return nil, err
	}
	info, err := o.symbols.SymbolInfo(ctx, variant.Symbol)
	if err != nil {
		return nil, err
	}

	client := o.exchange.ForAccount(account)
	mark, err := client.MarkPrice(ctx, variant.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: mark price: %w", op, err)
	}

	path := domain.EntryPathMarket
	if !variant.InEntryZone(mark) {
		path = domain.EntryPathLimit
		if len(variant.LimitOrders) == 0 {
			variant.LimitOrders = defaultLadder(variant)
		}
	}

	if err := client.SetLeverage(ctx, variant.Symbol, leverage); err != nil {
		return nil, fmt.Errorf("%s: set leverage: %w", op, err)
	}

	trade := domain.NewTrade(account.ID, variant, path, leverage, o.now())
	trade.AddLog(fmt.Sprintf("trade accepted: %s %s via %s at mark %s, leverage %d", variant.Side, variant.Symbol, path, mark, leverage))
	// the trade must be durable before any of its orders can produce fill events
	if err := o.repo.Save(ctx, trade); err != nil {
		return nil, fmt.Errorf("%s: save trade: %w", op, err)
	}
	o.logger.Info(ctx, op+": Trade saved", map[string]interface{}{
		"accountID": account.ID, "tradeID": trade.ID, "symbol": variant.Symbol, "entryPath": path, "markPrice": mark.String(),
	})

	tc := domain.NewTradeContext(trade, account)
	err = o.guard.Run(ctx, tc, "OpenTrade", func(ctx context.Context) error {
		if path == domain.EntryPathLimit {
			return o.limit.OpenLimitOrders(ctx, tc)
		}

		budget, err := o.risk.Budget(account)
		if err != nil {
			return err
		}
		qty, err := calc.SizeMarketEntry(budget, leverage, mark, info)
		if err != nil {
			return err
		}
		if err := o.risk.CheckPosition(qty, mark); err != nil {
			return err
		}

		req := ports.OrderRequest{
			Symbol:        variant.Symbol,
			Side:          variant.Side,
			Type:          domain.OrderTypeMarket,
			Quantity:      qty,
			ClientOrderID: domain.EntryMarketRole().ClientOrderID(account.ID, variant.Symbol, o.now()),
		}
		res, err := client.PlaceOrder(ctx, req)
		if err != nil {
			return fmt.Errorf("%s: entry order: %w", op, err)
		}
		trade.Entry = res
		trade.AddLog(fmt.Sprintf("market entry %d for %s", res.OrderID, qty))
		if !res.IsFilled() {
			// protective orders follow once the fill event arrives
			return nil
		}
		return armPosition(ctx, tc, o.stopLoss, o.takeProfit)
	})
	return trade, err
}

// armPosition sizes the ladder and places the stop-loss and the first take-profit for a
// freshly filled market entry.
func armPosition(ctx context.Context, tc domain.TradeContext, sl *StopLossManager, tp *TakeProfitManager) error {
	if err := tp.SplitQuantities(ctx, tc); err != nil {
		return err
	}
	if err := sl.Place(ctx, tc, nil); err != nil {
		return err
	}
	return tp.OpenFirst(ctx, tc)
}
