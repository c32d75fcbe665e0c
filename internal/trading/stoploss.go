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

// DefaultStopLossMoveDelay separates the cancel and the re-place of a moved stop.
const DefaultStopLossMoveDelay = 500 * time.Millisecond

// StopLossManager keeps one reduce-only stop-market order protecting the remaining position.
type StopLossManager struct {
	exchange  ports.ExchangeProvider
	symbols   ports.SymbolInfoProvider
	logger    ports.Logger
	moveDelay time.Duration
	now       func() time.Time
}

// NewStopLossManager creates a StopLossManager. A negative moveDelay selects the default.
func NewStopLossManager(exchange ports.ExchangeProvider, symbols ports.SymbolInfoProvider, logger ports.Logger, moveDelay time.Duration) *StopLossManager {
	if moveDelay < 0 {
		moveDelay = DefaultStopLossMoveDelay
	}
	return &StopLossManager{exchange: exchange, symbols: symbols, logger: logger, moveDelay: moveDelay, now: utcNow}
}

// referencePrice picks the stop price: forced wins; otherwise the most recently filled
// take-profit rung decides (entry price after rung 0, the prior rung's price after later
// ones); with nothing filled the variant's stop applies.
func referencePrice(tc domain.TradeContext, forced *decimal.Decimal) decimal.Decimal {
	if forced != nil {
		return *forced
	}
	ref := tc.Trade.Variant.StopLoss
	tps := tc.Trade.Variant.SortedTakeProfits()
	for i, tp := range tps {
		if !tp.Result.IsFilled() {
			continue
		}
		if i == 0 {
			ref = tc.EntryPrice()
		} else {
			ref = tps[i-1].Price
		}
	}
	return ref
}

// Request builds the stop-loss order for tc without sending it. It returns nil when
// there is nothing to protect or no stop price is known.
func (m *StopLossManager) Request(ctx context.Context, tc domain.TradeContext, forced *decimal.Decimal) (*ports.OrderRequest, error) {
	op := "StopLossManager.Request"
	if forced == nil && !tc.Trade.Variant.StopLoss.IsPositive() {
		m.logger.Warn(ctx, op+": No stop price on the signal and none forced, skipping", tradeFields(tc))
		tc.Trade.AddLog("stop-loss skipped: no stop price")
		return nil, nil
	}

	remaining := tc.RemainingQuantity()
	if !remaining.IsPositive() {
		m.logger.Debug(ctx, op+": Nothing left to protect", tradeFields(tc))
		return nil, nil
	}

	info, err := m.symbols.SymbolInfo(ctx, tc.Symbol())
	if err != nil {
		return nil, err
	}
	price, err := calc.RoundPrice(referencePrice(tc, forced), info)
	if err != nil {
		return nil, err
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: stop price resolved to %s", ports.ErrConfiguration, price)
	}

	req := closeRequest(tc, domain.StopLossRole(), domain.OrderTypeStopMarket, remaining, m.now())
	req.StopPrice = price
	return &req, nil
}

// Record stores a placed stop-loss on the trade.
func (m *StopLossManager) Record(tc domain.TradeContext, r *domain.OrderResult) {
	tc.Trade.StopLoss = r
	tc.Trade.StopLossTime = m.now()
	tc.Trade.AddLog(fmt.Sprintf("stop-loss placed at %s for %s", r.StopPrice, r.OrigQty))
}

// Place puts a stop-loss for the remaining quantity. An already working stop is
// canceled first so at most one exists.
func (m *StopLossManager) Place(ctx context.Context, tc domain.TradeContext, forced *decimal.Decimal) error {
	op := "StopLossManager.Place"
	req, err := m.Request(ctx, tc, forced)
	if err != nil || req == nil {
		return err
	}
	if tc.StopLossPlaced() {
		if err := m.Close(ctx, tc); err != nil {
			return err
		}
	}

	client := m.exchange.ForAccount(tc.Account)
	res, err := client.PlaceOrder(ctx, *req)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	m.Record(tc, res)
	m.logger.Info(ctx, op+": Stop loss order placed", tradeFields(tc, map[string]interface{}{
		"orderID": res.OrderID, "stopPrice": req.StopPrice.String(), "quantity": req.Quantity.String(),
	}))
	return nil
}

// Move cancels the working stop, waits the configured delay and places a new one.
func (m *StopLossManager) Move(ctx context.Context, tc domain.TradeContext, newPrice *decimal.Decimal) error {
	if err := m.Close(ctx, tc); err != nil {
		return err
	}
	if m.moveDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.moveDelay):
		}
	}
	return m.Place(ctx, tc, newPrice)
}

// Close cancels the working stop, if any.
func (m *StopLossManager) Close(ctx context.Context, tc domain.TradeContext) error {
	if !tc.StopLossPlaced() {
		return nil
	}
	client := m.exchange.ForAccount(tc.Account)
	return cancelOrderWarn(ctx, m.logger, client, tc, tc.Trade.StopLoss, "stop-loss", domain.StatusCanceled)
}
