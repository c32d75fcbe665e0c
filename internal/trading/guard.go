package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"
)

// Guard runs trade operations with finally-semantics: whatever happens inside, the
// trade is persisted afterwards, failures land in its audit log with the error flag
// raised, and the owner is notified.
type Guard struct {
	repo     ports.TradeRepository
	exchange ports.ExchangeProvider
	notifier ports.Notifier
	logger   ports.Logger
	now      func() time.Time
}

// NewGuard creates a Guard. exchange and notifier may be nil; without exchange, orders
// placed on a stale trade copy are not withdrawn.
func NewGuard(repo ports.TradeRepository, exchange ports.ExchangeProvider, notifier ports.Notifier, logger ports.Logger) *Guard {
	return &Guard{repo: repo, exchange: exchange, notifier: notifier, logger: logger, now: utcNow}
}

// Run executes fn for tc and persists tc.Trade before returning. A panic inside fn is
// converted into an error. The returned error joins fn's failure with any persistence
// failure; ErrVersionConflict stays detectable with errors.Is. When the update loses
// to a concurrent change, the orders fn placed are canceled before returning, so a retry
// on the reloaded trade starts from what the exchange and the store agree on.
func (g *Guard) Run(ctx context.Context, tc domain.TradeContext, op string, fn func(ctx context.Context) error) (err error) {
	wasClosed := tc.Trade.Closed
	working := openOrderIDs(tc)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s panicked: %v", op, p)
		}
		// persist even when the caller's context is already gone
		persistCtx := context.WithoutCancel(ctx)

		if err != nil {
			tc.Trade.AddError(op, err)
			g.logger.Error(ctx, err, op+": Trade operation failed", tradeFields(tc))
			g.Notify(persistCtx, tc.Account, fmt.Sprintf("%s %s: %s failed: %v", tc.Symbol(), tc.Trade.ID, op, err))
		} else if !wasClosed && tc.Trade.Closed {
			g.Notify(persistCtx, tc.Account, fmt.Sprintf("%s %s closed (%s)", tc.Symbol(), tc.Trade.ID, tc.Trade.CloseReason))
		}

		tc.Trade.UpdatedAt = g.now()
		if uerr := g.repo.Update(persistCtx, tc.Trade); uerr != nil {
			g.logger.Error(ctx, uerr, op+": Failed to persist trade", tradeFields(tc))
			err = errors.Join(err, uerr)
			if errors.Is(uerr, ports.ErrVersionConflict) {
				g.withdraw(persistCtx, tc, working)
			}
		}
	}()

	return fn(ctx)
}

// Notify delivers message to the account owner, logging delivery failures.
func (g *Guard) Notify(ctx context.Context, account domain.Account, message string) {
	if g.notifier == nil {
		return
	}
	if err := g.notifier.Notify(ctx, account, message); err != nil {
		g.logger.Warn(ctx, "Failed to notify account owner", map[string]interface{}{"accountID": account.ID, "error": err.Error()})
	}
}

func openOrderIDs(tc domain.TradeContext) map[int64]bool {
	ids := make(map[int64]bool)
	for _, r := range tc.OpenOrders() {
		ids[r.OrderID] = true
	}
	return ids
}

// withdraw cancels the working orders of tc that were not working before the operation.
// They belong to a trade copy that was never stored, so nothing else tracks them.
func (g *Guard) withdraw(ctx context.Context, tc domain.TradeContext, before map[int64]bool) {
	op := "Guard.withdraw"
	if g.exchange == nil {
		return
	}
	var placed []*domain.OrderResult
	var ids []int64
	for _, r := range tc.OpenOrders() {
		if r.OrderID != 0 && !before[r.OrderID] {
			placed = append(placed, r)
			ids = append(ids, r.OrderID)
		}
	}
	if len(placed) == 0 {
		return
	}

	fields := tradeFields(tc, map[string]interface{}{"orderIDs": ids})
	g.logger.Warn(ctx, op+": Trade changed concurrently, canceling orders placed on the stale copy", fields)
	client := g.exchange.ForAccount(tc.Account)
	if err := cancelAll(ctx, g.logger, client, tc, placed, domain.StatusCanceled); err != nil {
		g.logger.Error(ctx, err, op+": Orders of the stale copy may still be working", fields)
	}
}
