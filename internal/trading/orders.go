package trading

import (
	"context"
	"errors"
	"time"

	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"

	"github.com/shopspring/decimal"
)

const (
	maxBatchOrders = 5
	maxBatchCancel = 10
)

func utcNow() time.Time { return time.Now().UTC() }

// tradeFields returns the common log fields for tc.
func tradeFields(tc domain.TradeContext, extra ...map[string]interface{}) map[string]interface{} {
	f := map[string]interface{}{
		"accountID": tc.Account.ID,
		"tradeID":   tc.Trade.ID,
		"symbol":    tc.Symbol(),
	}
	for _, e := range extra {
		for k, v := range e {
			f[k] = v
		}
	}
	return f
}

// closeRequest builds a reduce-only order on the closing side of tc.
func closeRequest(tc domain.TradeContext, role domain.OrderRole, typ domain.OrderType, qty decimal.Decimal, now time.Time) ports.OrderRequest {
	return ports.OrderRequest{
		Symbol:        tc.Symbol(),
		Side:          tc.CloseSide(),
		Type:          typ,
		Quantity:      qty,
		ReduceOnly:    true,
		ClientOrderID: role.ClientOrderID(tc.Account.ID, tc.Symbol(), now),
	}
}

// markCanceled records the outcome of a cancel on r. The status from the exchange wins
// when it reports a fill that raced the cancel.
func markCanceled(r *domain.OrderResult, reply *domain.OrderResult, status domain.OrderStatus) {
	if r == nil {
		return
	}
	if reply != nil && reply.Status == domain.StatusFilled {
		r.Status = domain.StatusFilled
		r.ExecutedQty = reply.ExecutedQty
		return
	}
	r.Status = status
}

// cancelOrderWarn cancels one order, treating an order the exchange no longer knows as done.
func cancelOrderWarn(ctx context.Context, logger ports.Logger, client ports.OrderGateway, tc domain.TradeContext, r *domain.OrderResult, label string, status domain.OrderStatus) error {
	op := "cancelOrderWarn"
	if r == nil || r.OrderID == 0 {
		return nil
	}
	reply, err := client.CancelOrder(ctx, tc.Symbol(), r.OrderID)
	if err != nil {
		if errors.Is(err, ports.ErrOrderNotFound) {
			logger.Warn(ctx, op+": Order not found, likely already filled or cancelled", tradeFields(tc, map[string]interface{}{"orderID": r.OrderID, "type": label}))
			markCanceled(r, nil, status)
			return nil
		}
		logger.Error(ctx, err, op+": Failed to cancel order", tradeFields(tc, map[string]interface{}{"orderID": r.OrderID, "type": label}))
		return err
	}
	markCanceled(r, reply, status)
	tc.Trade.AddLog(label + " order canceled")
	return nil
}

// cancelAll cancels orders in batches, marking each with status. Entries the exchange
// reports as unknown are treated as gone.
func cancelAll(ctx context.Context, logger ports.Logger, client ports.OrderGateway, tc domain.TradeContext, orders []*domain.OrderResult, status domain.OrderStatus) error {
	op := "cancelAll"
	var errs []error
	for start := 0; start < len(orders); start += maxBatchCancel {
		end := min(start+maxBatchCancel, len(orders))
		chunk := orders[start:end]
		ids := make([]int64, len(chunk))
		byID := make(map[int64]*domain.OrderResult, len(chunk))
		for i, r := range chunk {
			ids[i] = r.OrderID
			byID[r.OrderID] = r
		}

		results, err := client.CancelBatch(ctx, tc.Symbol(), ids)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for i, res := range results {
			switch {
			case res.Err == nil && res.Order != nil:
				markCanceled(byID[res.Order.OrderID], res.Order, status)
			case errors.Is(res.Err, ports.ErrOrderNotFound) && i < len(chunk):
				markCanceled(chunk[i], nil, status)
			case res.Err != nil:
				errs = append(errs, res.Err)
			}
		}
		logger.Info(ctx, op+": Batch cancel submitted", tradeFields(tc, map[string]interface{}{"orderIDs": ids}))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	tc.Trade.AddLog("open orders canceled")
	return nil
}
