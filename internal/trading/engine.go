// Package trading drives trades through their lifecycle: entry, protective stop,
// take-profit ladder and closure.
package trading

import (
	"context"
	"fmt"
	"time"

	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"
	"futuresDesk/internal/risk"
)

// Config holds the engine's tunables.
type Config struct {
	StopLossMoveDelay time.Duration
}

// Engine is the entry point for every trade operation. Each operation runs under the
// Guard, so the trade is persisted whatever the outcome.
type Engine struct {
	exchange   ports.ExchangeProvider
	repo       ports.TradeRepository
	accounts   ports.AccountSource
	logger     ports.Logger
	guard      *Guard
	stopLoss   *StopLossManager
	takeProfit *TakeProfitManager
	limit      *LimitEntryManager
	closer     *Closer
	opener     *EntryOpener
	now        func() time.Time
}

// NewEngine wires the managers around the given collaborators. notifier may be nil.
func NewEngine(
	cfg Config,
	exchange ports.ExchangeProvider,
	symbols ports.SymbolInfoProvider,
	repo ports.TradeRepository,
	accounts ports.AccountSource,
	notifier ports.Notifier,
	riskManager *risk.RiskManager,
	logger ports.Logger,
) (*Engine, error) {
	if exchange == nil || symbols == nil || repo == nil || accounts == nil || riskManager == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}

	guard := NewGuard(repo, exchange, notifier, logger)
	sl := NewStopLossManager(exchange, symbols, logger, cfg.StopLossMoveDelay)
	tp := NewTakeProfitManager(exchange, symbols, repo, sl, logger)
	limit := NewLimitEntryManager(exchange, symbols, riskManager, sl, tp, logger)
	closer := NewCloser(exchange, logger)

	return &Engine{
		exchange:   exchange,
		repo:       repo,
		accounts:   accounts,
		logger:     logger,
		guard:      guard,
		stopLoss:   sl,
		takeProfit: tp,
		limit:      limit,
		closer:     closer,
		opener: &EntryOpener{
			exchange:   exchange,
			symbols:    symbols,
			repo:       repo,
			risk:       riskManager,
			guard:      guard,
			stopLoss:   sl,
			takeProfit: tp,
			limit:      limit,
			logger:     logger,
			now:        utcNow,
		},
		now: utcNow,
	}, nil
}

// Dispatch routes a filled order to the manager owning its slot in trade. Events for
// orders the trade does not reference fail with ErrMatching and change nothing; events
// for slots already recorded as filled are ignored.
func (e *Engine) Dispatch(ctx context.Context, account domain.Account, trade *domain.Trade, result *domain.OrderResult) error {
	op := "Dispatch"
	match := trade.MatchOrder(result.OrderID)
	if match.Kind == domain.MatchNone {
		return fmt.Errorf("%w: order %d not referenced by trade %s", ports.ErrMatching, result.OrderID, trade.ID)
	}
	if match.Current(trade).IsFilled() {
		e.logger.Debug(ctx, op+": Slot already filled, ignoring", map[string]interface{}{
			"tradeID": trade.ID, "orderID": result.OrderID, "slot": match.Kind.String(),
		})
		return nil
	}

	tc := domain.NewTradeContext(trade, account)
	return e.guard.Run(ctx, tc, op, func(ctx context.Context) error {
		trade.ApplyResult(match, result, e.now())
		trade.AddLog(fmt.Sprintf("%s order %d %s", match.Kind, result.OrderID, result.Status))
		e.logger.Info(ctx, op+": Order update applied", tradeFields(tc, map[string]interface{}{
			"orderID": result.OrderID, "slot": match.Kind.String(), "status": result.Status,
		}))

		if trade.Closed || !result.IsFilled() {
			return nil
		}

		switch match.Kind {
		case domain.MatchEntry:
			if tc.StopLossPlaced() || tc.TakeProfitPlaced() {
				return nil
			}
			return armPosition(ctx, tc, e.stopLoss, e.takeProfit)
		case domain.MatchLimitOrder:
			return e.limit.OnFilledLimitOrder(ctx, tc, match.LimitOrder)
		case domain.MatchStopLoss:
			return e.onStopLossFilled(ctx, tc)
		case domain.MatchTakeProfit:
			return e.takeProfit.OnFilled(ctx, tc)
		case domain.MatchManualClose:
			return nil
		}
		return nil
	})
}

// onStopLossFilled cancels every order still working for the trade and closes it.
func (e *Engine) onStopLossFilled(ctx context.Context, tc domain.TradeContext) error {
	open := tc.OpenOrders()
	if len(open) > 0 {
		client := e.exchange.ForAccount(tc.Account)
		if err := cancelAll(ctx, e.logger, client, tc, open, domain.StatusCanceled); err != nil {
			return err
		}
	}
	tc.Trade.MarkClosed(domain.CloseReasonStopLoss)
	return nil
}

// OpenTrade opens a new trade for accountID.
func (e *Engine) OpenTrade(ctx context.Context, accountID string, variant domain.TradeVariant) (*domain.Trade, error) {
	account, err := e.accounts.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return e.opener.Open(ctx, account, variant)
}

// TakeSomeProfit closes part of a trade's position at market.
func (e *Engine) TakeSomeProfit(ctx context.Context, tradeID string) error {
	tc, err := e.load(ctx, tradeID)
	if err != nil {
		return err
	}
	if tc.Trade.Closed {
		return fmt.Errorf("%w: trade %s is closed", ports.ErrInvalidRequest, tradeID)
	}
	return e.guard.Run(ctx, tc, "TakeSomeProfit", func(ctx context.Context) error {
		return e.takeProfit.TakeSomeProfit(ctx, tc)
	})
}

// CloseTrade force-closes a trade. Closing an already closed trade is a no-op.
func (e *Engine) CloseTrade(ctx context.Context, tradeID string, reason domain.CloseReason) error {
	tc, err := e.load(ctx, tradeID)
	if err != nil {
		return err
	}
	if tc.Trade.Closed {
		return nil
	}
	return e.guard.Run(ctx, tc, "CloseTrade", func(ctx context.Context) error {
		return e.closer.Close(ctx, tc, reason)
	})
}

func (e *Engine) load(ctx context.Context, tradeID string) (domain.TradeContext, error) {
	trade, err := e.repo.FindByID(ctx, tradeID)
	if err != nil {
		return domain.TradeContext{}, err
	}
	if trade == nil {
		return domain.TradeContext{}, fmt.Errorf("%w: trade %s", ports.ErrNotFound, tradeID)
	}
	account, err := e.accounts.Account(ctx, trade.AccountID)
	if err != nil {
		return domain.TradeContext{}, err
	}
	return domain.NewTradeContext(trade, account), nil
}
