// Package watchdog force-closes trades once the mark price runs past their ladder.
//
// One subscription to the public mark-price channel is kept per symbol with open trades.
// Each watched trade carries its own close limit: its second take-profit rung, or its last
// rung when the ladder is shorter. Crossings are confirmed against the trades still open
// before anything is closed, and a subscription whose symbol has no open trades left is
// torn down.
package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"
	"futuresDesk/internal/registry"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	eventMarkPriceUpdate = "markPriceUpdate"
	maxParallelCloses    = 8
)

// Closer force-closes one trade.
type Closer interface {
	CloseTrade(ctx context.Context, tradeID string, reason domain.CloseReason) error
}

// limit is the close threshold of one trade.
type limit struct {
	side  domain.OrderSide
	price decimal.Decimal
}

func limitOf(trade *domain.Trade) (limit, bool) {
	if trade.Closed {
		return limit{}, false
	}
	price, ok := trade.Variant.AutoCloseLimit()
	if !ok {
		return limit{}, false
	}
	return limit{side: trade.Variant.Side, price: price}, true
}

// crossed reports whether price is at or past the limit in the ladder's direction.
func (l limit) crossed(price decimal.Decimal) bool {
	if l.side == domain.Sell {
		return price.LessThanOrEqual(l.price)
	}
	return price.GreaterThanOrEqual(l.price)
}

type subscription struct {
	symbol string
	conn   ports.StreamConn
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	limits map[string]limit // by trade id
}

func (s *subscription) watch(tradeID string, l limit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[tradeID] = l
}

// reset replaces the watched limits with those of trades and returns how many remain.
func (s *subscription) reset(trades []*domain.Trade) int {
	limits := make(map[string]limit, len(trades))
	for _, t := range trades {
		if l, ok := limitOf(t); ok {
			limits[t.ID] = l
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits = limits
	return len(limits)
}

// crossed returns the ids of watched trades whose limit price has crossed, sorted.
func (s *subscription) crossed(price decimal.Decimal) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, l := range s.limits {
		if l.crossed(price) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Watchdog owns the per-symbol mark-price subscriptions.
type Watchdog struct {
	dialer ports.StreamDialer
	repo   ports.TradeRepository
	closer Closer
	logger ports.Logger

	mu   sync.Mutex // serializes opening and teardown
	subs *registry.Registry[string, *subscription]
}

// New creates a Watchdog with no subscriptions.
func New(dialer ports.StreamDialer, repo ports.TradeRepository, closer Closer, logger ports.Logger) *Watchdog {
	return &Watchdog{
		dialer: dialer,
		repo:   repo,
		closer: closer,
		logger: logger,
		subs:   registry.New[string, *subscription](),
	}
}

// Subscribed reports whether symbol has a live subscription.
func (w *Watchdog) Subscribed(symbol string) bool {
	_, ok := w.subs.Get(symbol)
	return ok
}

// Open starts watching trade. The symbol's subscription is opened when none exists;
// otherwise the trade's limit joins the existing one. Closed trades and trades without
// take-profits are skipped.
func (w *Watchdog) Open(ctx context.Context, trade *domain.Trade) error {
	op := "Watchdog.Open"
	fields := map[string]interface{}{"tradeID": trade.ID, "symbol": trade.Symbol()}
	if trade.Closed {
		return nil
	}
	l, ok := limitOf(trade)
	if !ok {
		w.logger.Debug(ctx, op+": Trade has no take-profits, nothing to watch", fields)
		return nil
	}
	fields["limit"] = l.price.String()
	fields["side"] = l.side

	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.subs.Get(trade.Symbol()); ok {
		s.watch(trade.ID, l)
		return nil
	}

	conn, err := w.dialer.MarkPriceStream(ctx, trade.Symbol())
	if err != nil {
		return fmt.Errorf("%s: subscribe %s: %w", op, trade.Symbol(), err)
	}
	// the subscription outlives the request that opened it
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &subscription{
		symbol: trade.Symbol(),
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
		limits: map[string]limit{trade.ID: l},
	}
	w.subs.Add(s.symbol, s)
	go w.run(sctx, s)

	w.logger.Info(ctx, op+": Watching mark price", fields)
	return nil
}

// Sync opens subscriptions for every open trade in trades, then refreshes every
// subscription from the trades still open on its symbol, tearing down those with none.
// Failures are logged and the remaining trades and symbols are still processed.
func (w *Watchdog) Sync(ctx context.Context, trades []*domain.Trade) {
	for _, t := range trades {
		if err := w.Open(ctx, t); err != nil {
			w.logger.Error(ctx, err, "Watchdog.Sync: Failed to open subscription", map[string]interface{}{"tradeID": t.ID, "symbol": t.Symbol()})
		}
	}
	for _, s := range w.subs.Snapshot() {
		if _, err := w.refresh(ctx, s); err != nil {
			w.logger.Error(ctx, err, "Watchdog.Sync: Failed to refresh subscription", map[string]interface{}{"symbol": s.symbol})
		}
	}
}

// refresh reloads the open trades of s's symbol into its limits and tears s down when
// none remain.
func (w *Watchdog) refresh(ctx context.Context, s *subscription) ([]*domain.Trade, error) {
	open, err := w.repo.FindOpenBySymbol(ctx, s.symbol)
	if err != nil {
		return nil, fmt.Errorf("load open trades for %s: %w", s.symbol, err)
	}
	if s.reset(open) == 0 {
		w.logger.Info(ctx, "Watchdog.refresh: No open trades left on symbol", map[string]interface{}{"symbol": s.symbol})
		w.teardown(ctx, s)
	}
	return open, nil
}

// Audit logs the live subscriptions and returns their symbols.
func (w *Watchdog) Audit(ctx context.Context) []string {
	symbols := registry.Keys(w.subs)
	w.logger.Info(ctx, "Watchdog.Audit: Open subscriptions", map[string]interface{}{
		"count":   len(symbols),
		"symbols": symbols,
	})
	return symbols
}

// Stop closes every subscription.
func (w *Watchdog) Stop(ctx context.Context) {
	for _, s := range w.subs.Snapshot() {
		w.teardown(ctx, s)
		<-s.done
	}
}

func (w *Watchdog) teardown(ctx context.Context, s *subscription) {
	s.once.Do(func() {
		w.mu.Lock()
		if cur, ok := w.subs.Get(s.symbol); ok && cur == s {
			w.subs.Remove(s.symbol)
		}
		w.mu.Unlock()

		s.cancel()
		if err := s.conn.Close(); err != nil {
			w.logger.Debug(ctx, "Watchdog.teardown: Close returned error", map[string]interface{}{"symbol": s.symbol, "error": err.Error()})
		}
		w.logger.Info(ctx, "Watchdog.teardown: Subscription closed", map[string]interface{}{"symbol": s.symbol})
	})
}

func (w *Watchdog) run(ctx context.Context, s *subscription) {
	defer close(s.done)
	fields := map[string]interface{}{"symbol": s.symbol}
	for {
		msg, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error(ctx, err, "Watchdog.run: Mark price stream failed", fields)
			}
			w.teardown(ctx, s)
			return
		}

		price, ok, err := decodeMarkPrice(msg)
		if err != nil {
			w.logger.Warn(ctx, "Watchdog.run: Undecodable mark price dropped", map[string]interface{}{"symbol": s.symbol, "error": err.Error()})
			continue
		}
		if !ok || len(s.crossed(price)) == 0 {
			continue
		}

		// limits may belong to trades closed since they were watched
		open, err := w.refresh(ctx, s)
		if err != nil {
			w.logger.Error(ctx, err, "Watchdog.run: Crossing not confirmed", fields)
			continue
		}
		if ctx.Err() != nil {
			// torn down: nothing left to watch
			return
		}
		crossed := s.crossed(price)
		if len(crossed) == 0 {
			w.logger.Debug(ctx, "Watchdog.run: Crossing belonged to closed trades", map[string]interface{}{"symbol": s.symbol, "markPrice": price.String()})
			continue
		}

		w.logger.Warn(ctx, "Watchdog.run: Mark price crossed close limit", map[string]interface{}{
			"symbol": s.symbol, "markPrice": price.String(), "tradeIDs": crossed,
		})
		remaining, err := w.closeTrades(ctx, s.symbol, open)
		if err != nil {
			w.logger.Error(ctx, err, "Watchdog.run: Force close incomplete", fields)
		}
		if remaining == 0 {
			w.teardown(ctx, s)
			return
		}
	}
}

// closeTrades force-closes trades, every open trade on symbol across all accounts, and
// returns how many trades on symbol are still open afterwards.
func (w *Watchdog) closeTrades(ctx context.Context, symbol string, trades []*domain.Trade) (int, error) {
	var g errgroup.Group
	g.SetLimit(maxParallelCloses)
	for _, t := range trades {
		tradeID := t.ID
		g.Go(func() error {
			return w.closer.CloseTrade(ctx, tradeID, domain.CloseReasonAutoClose)
		})
	}
	closeErr := g.Wait()

	remaining, err := w.repo.FindOpenBySymbol(ctx, symbol)
	if err != nil {
		return -1, fmt.Errorf("recheck open trades for %s: %w", symbol, err)
	}
	return len(remaining), closeErr
}

type markPriceEvent struct {
	Type      string          `json:"e"`
	EventTime int64           `json:"E"`
	Symbol    string          `json:"s"`
	MarkPrice string          `json:"p"`
	Data      json.RawMessage `json:"data"` // combined-stream wrapper

	// estimated settle price; declared so it is not matched onto MarkPrice
	SettlePrice string `json:"P"`
}

// decodeMarkPrice extracts the mark price from a markPriceUpdate frame. ok is false for
// frames of other types.
func decodeMarkPrice(msg []byte) (decimal.Decimal, bool, error) {
	var ev markPriceEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return decimal.Zero, false, fmt.Errorf("%w: decode mark price: %v", ports.ErrInvalidRequest, err)
	}
	if ev.Type == "" && len(ev.Data) > 0 {
		return decodeMarkPrice(ev.Data)
	}
	if ev.Type != eventMarkPriceUpdate {
		return decimal.Zero, false, nil
	}
	price, err := decimal.NewFromString(ev.MarkPrice)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("%w: mark price %q: %v", ports.ErrInvalidRequest, ev.MarkPrice, err)
	}
	return price, true, nil
}
