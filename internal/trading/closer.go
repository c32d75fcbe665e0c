package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"

	"github.com/shopspring/decimal"
)

// Closer force-closes trades: every working order is canceled and the remaining
// position goes out at market, reduce-only.
type Closer struct {
	exchange ports.ExchangeProvider
	logger   ports.Logger
	now      func() time.Time
}

// NewCloser creates a Closer.
func NewCloser(exchange ports.ExchangeProvider, logger ports.Logger) *Closer {
	return &Closer{exchange: exchange, logger: logger, now: utcNow}
}

// Close cancels the trade's open orders, market-closes what remains and marks the
// trade closed with reason. Closed trades are left alone.
func (c *Closer) Close(ctx context.Context, tc domain.TradeContext, reason domain.CloseReason) error {
	op := "Closer.Close"
	if tc.Trade.Closed {
		return nil
	}
	client := c.exchange.ForAccount(tc.Account)

	if open := tc.OpenOrders(); len(open) > 0 {
		if err := cancelAll(ctx, c.logger, client, tc, open, domain.StatusClosedManually); err != nil {
			return err
		}
	}

	remaining := c.closeQuantity(ctx, client, tc)
	if remaining.IsPositive() {
		req := closeRequest(tc, domain.ManualRole(), domain.OrderTypeMarket, remaining, c.now())
		res, err := client.PlaceOrder(ctx, req)
		switch {
		case errors.Is(err, ports.ErrReduceOnlyRejected):
			// position already flat on the exchange
			c.logger.Warn(ctx, op+": Reduce-only close rejected, position already flat", tradeFields(tc))
			tc.Trade.AddLog("close skipped: no position left on the exchange")
		case err != nil:
			return fmt.Errorf("%s failed: %w", op, err)
		default:
			tc.Trade.ManualClose = res
			tc.Trade.AddLog(fmt.Sprintf("remaining %s closed at market", remaining))
			c.logger.Info(ctx, op+": Closing market order placed", tradeFields(tc, map[string]interface{}{
				"orderID": res.OrderID, "quantity": remaining.String(), "avgPrice": res.AvgPrice.String(),
			}))
		}
	}

	tc.Trade.MarkClosed(reason)
	return nil
}

// closeQuantity is the trade's remaining quantity, capped by the position the account
// actually holds in the trade's direction. When the position cannot be read the trade's
// own figure is used and a flat position surfaces as a reduce-only rejection.
func (c *Closer) closeQuantity(ctx context.Context, client ports.OrderGateway, tc domain.TradeContext) decimal.Decimal {
	op := "Closer.closeQuantity"
	remaining := tc.RemainingQuantity()
	if !remaining.IsPositive() {
		return remaining
	}
	amount, err := client.PositionAmount(ctx, tc.Symbol())
	if err != nil {
		c.logger.Warn(ctx, op+": Position unavailable, closing the tracked quantity", tradeFields(tc, map[string]interface{}{"error": err.Error()}))
		return remaining
	}
	if tc.Trade.Variant.Side == domain.Sell {
		amount = amount.Neg()
	}
	if !amount.IsPositive() {
		c.logger.Warn(ctx, op+": No position left on the exchange", tradeFields(tc, map[string]interface{}{"remaining": remaining.String()}))
		tc.Trade.AddLog("close skipped: no position left on the exchange")
		return decimal.Zero
	}
	if amount.LessThan(remaining) {
		tc.Trade.AddLog(fmt.Sprintf("close capped at the exchange position %s", amount))
		return amount
	}
	return remaining
}
