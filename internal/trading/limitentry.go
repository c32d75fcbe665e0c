package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"futuresDesk/internal/calc"
	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"
	"futuresDesk/internal/risk"

	"github.com/shopspring/decimal"
)

// LimitEntryManager opens a position through a ladder of limit orders and arms the
// protective orders once the first rung fills.
type LimitEntryManager struct {
	exchange   ports.ExchangeProvider
	symbols    ports.SymbolInfoProvider
	risk       *risk.RiskManager
	stopLoss   *StopLossManager
	takeProfit *TakeProfitManager
	logger     ports.Logger
	now        func() time.Time
}

// NewLimitEntryManager creates a LimitEntryManager.
func NewLimitEntryManager(
	exchange ports.ExchangeProvider,
	symbols ports.SymbolInfoProvider,
	riskManager *risk.RiskManager,
	stopLoss *StopLossManager,
	takeProfit *TakeProfitManager,
	logger ports.Logger,
) *LimitEntryManager {
	return &LimitEntryManager{
		exchange:   exchange,
		symbols:    symbols,
		risk:       riskManager,
		stopLoss:   stopLoss,
		takeProfit: takeProfit,
		logger:     logger,
		now:        utcNow,
	}
}

// OpenLimitOrders sizes every rung from the account budget and submits the ladder.
// Results are recorded by submission position.
func (m *LimitEntryManager) OpenLimitOrders(ctx context.Context, tc domain.TradeContext) error {
	op := "LimitEntryManager.OpenLimitOrders"
	rungs := tc.Trade.Variant.SortedLimitOrders()
	if len(rungs) == 0 {
		return fmt.Errorf("%w: trade %s has no limit-entry ladder", ports.ErrConfiguration, tc.Trade.ID)
	}

	info, err := m.symbols.SymbolInfo(ctx, tc.Symbol())
	if err != nil {
		return err
	}
	prices := make([]decimal.Decimal, len(rungs))
	for i, lo := range rungs {
		if prices[i], err = calc.RoundPrice(lo.Price, info); err != nil {
			return err
		}
	}
	sizing, err := m.risk.LadderSizing(tc.Account, tc.Leverage())
	if err != nil {
		return err
	}
	qtys, err := calc.SizeLimitLadder(sizing, prices, info)
	if err != nil {
		return err
	}

	reqs := make([]ports.OrderRequest, len(rungs))
	now := m.now()
	for i, lo := range rungs {
		lo.Quantity = qtys[i]
		reqs[i] = ports.OrderRequest{
			Symbol:        tc.Symbol(),
			Side:          tc.Side(),
			Type:          domain.OrderTypeLimit,
			Quantity:      qtys[i],
			Price:         prices[i],
			ClientOrderID: domain.EntryLimitRole(i+1).ClientOrderID(tc.Account.ID, tc.Symbol(), now),
		}
	}

	client := m.exchange.ForAccount(tc.Account)
	var errs []error
	for start := 0; start < len(reqs); start += maxBatchOrders {
		end := min(start+maxBatchOrders, len(reqs))
		results, err := client.PlaceBatch(ctx, reqs[start:end])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s failed: %w", op, err))
			continue
		}
		for i, res := range results {
			lo := rungs[start+i]
			if res.Err != nil {
				errs = append(errs, fmt.Errorf("limit order %d: %w", lo.Index, res.Err))
				continue
			}
			lo.Result = res.Order
			lo.ResultTime = now
			tc.Trade.AddLog(fmt.Sprintf("limit order %d placed at %s for %s", lo.Index, res.Order.Price, res.Order.OrigQty))
		}
	}
	m.logger.Info(ctx, op+": Limit ladder submitted", tradeFields(tc, map[string]interface{}{"rungs": len(reqs), "failed": len(errs)}))
	return errors.Join(errs...)
}

// OnFilledLimitOrder arms the position after a limit rung filled: every other working
// order of the trade is canceled in one batch, then the stop-loss and the first
// take-profit go out together in a second batch. Batch results are attributed by the
// role encoded in their client order id.
func (m *LimitEntryManager) OnFilledLimitOrder(ctx context.Context, tc domain.TradeContext, filled *domain.LimitOrder) error {
	op := "LimitEntryManager.OnFilledLimitOrder"
	client := m.exchange.ForAccount(tc.Account)

	var stale []*domain.OrderResult
	for _, r := range tc.OpenOrders() {
		if filled != nil && r == filled.Result {
			continue
		}
		stale = append(stale, r)
	}
	if len(stale) > 0 {
		if err := cancelAll(ctx, m.logger, client, tc, stale, domain.StatusCanceled); err != nil {
			return err
		}
	}

	if err := m.takeProfit.SplitQuantities(ctx, tc); err != nil {
		return err
	}
	// rungs whose orders were just canceled become eligible again
	for _, tp := range tc.Trade.Variant.TakeProfits {
		if tp.Result != nil && tp.Result.Status == domain.StatusCanceled {
			tp.Result = nil
		}
	}

	var reqs []ports.OrderRequest
	slReq, err := m.stopLoss.Request(ctx, tc, nil)
	if err != nil {
		return err
	}
	if slReq != nil {
		reqs = append(reqs, *slReq)
	}
	tpReq, _, err := m.takeProfit.Request(ctx, tc)
	if err != nil {
		return err
	}
	if tpReq != nil {
		reqs = append(reqs, *tpReq)
	}
	if len(reqs) == 0 {
		return nil
	}

	results, err := client.PlaceBatch(ctx, reqs)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	return m.attribute(ctx, tc, results)
}

// attribute stores batch results by the role decoded from their client order ids.
func (m *LimitEntryManager) attribute(ctx context.Context, tc domain.TradeContext, results []ports.BatchResult) error {
	op := "LimitEntryManager.attribute"
	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, res.Err)
			continue
		}
		role, err := domain.DecodeRole(res.Order.ClientOrderID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ports.ErrMatching, err))
			continue
		}
		switch role.Kind {
		case domain.RoleStopLoss:
			m.stopLoss.Record(tc, res.Order)
		case domain.RoleTakeProfit:
			tp := rungByNumber(tc, role.Rung)
			if tp == nil {
				errs = append(errs, fmt.Errorf("%w: take-profit rung %d out of range", ports.ErrMatching, role.Rung))
				continue
			}
			m.takeProfit.Record(tc, tp, res.Order)
		default:
			errs = append(errs, fmt.Errorf("%w: unexpected %s order %d in protective batch", ports.ErrMatching, role.Kind, res.Order.OrderID))
			continue
		}
		m.logger.Info(ctx, op+": Protective order placed", tradeFields(tc, map[string]interface{}{
			"orderID": res.Order.OrderID, "role": role.Kind.String(), "rung": role.Rung,
		}))
	}
	return errors.Join(errs...)
}
