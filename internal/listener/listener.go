// Package listener keeps one account's private push session and reconciles its fill
// events against stored trades.
package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"futuresDesk/internal/dedup"
	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"

	"github.com/jpillora/backoff"
)

const (
	DefaultKeepAliveInterval = 30 * time.Minute
	DefaultLookupDeadline    = 2 * time.Second
	DefaultUpdateRetries     = 3

	deleteKeyTimeout = 5 * time.Second
)

// Dispatcher routes a filled order to the owning trade's manager.
type Dispatcher interface {
	Dispatch(ctx context.Context, account domain.Account, trade *domain.Trade, result *domain.OrderResult) error
}

// Config tunes a Listener. Zero values select the defaults.
type Config struct {
	KeepAliveInterval time.Duration
	// LookupDeadline bounds how long a fill waits for its trade to become visible.
	// Negative means a single lookup.
	LookupDeadline time.Duration
	UpdateRetries  int
	DedupTTL       time.Duration
}

func (c Config) withDefaults() Config {
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.LookupDeadline == 0 {
		c.LookupDeadline = DefaultLookupDeadline
	}
	if c.LookupDeadline < 0 {
		c.LookupDeadline = 0
	}
	if c.UpdateRetries <= 0 {
		c.UpdateRetries = DefaultUpdateRetries
	}
	return c
}

type session struct {
	key    string
	conn   ports.StreamConn
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Listener owns at most one live push session for its account. Events of one session
// are handled strictly in arrival order.
type Listener struct {
	account    domain.Account
	keys       ports.SessionKeyService
	dialer     ports.StreamDialer
	repo       ports.TradeRepository
	dispatcher Dispatcher
	seen       *dedup.Suppressor
	logger     ports.Logger
	cfg        Config

	mu      sync.Mutex
	session *session
}

// New creates a Listener for account.
func New(
	account domain.Account,
	keys ports.SessionKeyService,
	dialer ports.StreamDialer,
	repo ports.TradeRepository,
	dispatcher Dispatcher,
	logger ports.Logger,
	cfg Config,
) *Listener {
	cfg = cfg.withDefaults()
	return &Listener{
		account:    account,
		keys:       keys,
		dialer:     dialer,
		repo:       repo,
		dispatcher: dispatcher,
		seen:       dedup.New(cfg.DedupTTL),
		logger:     logger,
		cfg:        cfg,
	}
}

func (l *Listener) fields(extra ...map[string]interface{}) map[string]interface{} {
	f := map[string]interface{}{"accountID": l.account.ID}
	for _, e := range extra {
		for k, v := range e {
			f[k] = v
		}
	}
	return f
}

// Running reports whether a session is live.
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session != nil
}

// Start opens the push session: a fresh session key, the connection, the keep-alive loop
// and the read loop. Starting a running listener is a no-op, so a scheduler may call it
// repeatedly to reconnect dropped sessions.
func (l *Listener) Start(ctx context.Context) error {
	op := "Listener.Start"
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session != nil {
		return nil
	}

	key, err := l.keys.CreateSessionKey(ctx)
	if err != nil {
		return fmt.Errorf("%s: create session key: %w", op, err)
	}
	conn, err := l.dialer.UserStream(ctx, key)
	if err != nil {
		l.deleteKey(ctx, key)
		return fmt.Errorf("%s: connect: %w", op, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &session{key: key, conn: conn, cancel: cancel, done: make(chan struct{})}
	l.session = s

	go l.keepAlive(sctx, s)
	go l.readLoop(sctx, s)

	l.logger.Info(ctx, op+": User stream started", l.fields())
	return nil
}

// Stop tears the session down and deletes its key, waiting for the read loop to exit.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	s := l.session
	l.mu.Unlock()
	if s == nil {
		return nil
	}
	l.teardown(ctx, s, true)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// teardown closes s once. The key is deleted unless the exchange already expired it.
func (l *Listener) teardown(ctx context.Context, s *session, deleteKey bool) {
	s.once.Do(func() {
		l.mu.Lock()
		if l.session == s {
			l.session = nil
		}
		l.mu.Unlock()

		s.cancel()
		if err := s.conn.Close(); err != nil {
			l.logger.Debug(ctx, "Listener.teardown: Close returned error", l.fields(map[string]interface{}{"error": err.Error()}))
		}
		if deleteKey {
			l.deleteKey(ctx, s.key)
		}
		l.logger.Info(ctx, "Listener.teardown: User stream closed", l.fields(map[string]interface{}{"keyDeleted": deleteKey}))
	})
}

func (l *Listener) deleteKey(ctx context.Context, key string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteKeyTimeout)
	defer cancel()
	if err := l.keys.DeleteSessionKey(dctx, key); err != nil {
		l.logger.Warn(ctx, "Failed to delete session key", l.fields(map[string]interface{}{"error": err.Error()}))
	}
}

func (l *Listener) keepAlive(ctx context.Context, s *session) {
	ticker := time.NewTicker(l.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.keys.KeepAliveSessionKey(ctx, s.key); err != nil {
				l.logger.Warn(ctx, "Listener.keepAlive: Keep-alive failed", l.fields(map[string]interface{}{"error": err.Error()}))
			}
		}
	}
}

func (l *Listener) readLoop(ctx context.Context, s *session) {
	defer close(s.done)
	for {
		msg, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Error(ctx, err, "Listener.readLoop: User stream read failed", l.fields())
			}
			l.teardown(ctx, s, true)
			return
		}

		ev, err := Decode(msg)
		if err != nil {
			l.logger.Warn(ctx, "Listener.readLoop: Undecodable message dropped", l.fields(map[string]interface{}{"error": err.Error()}))
			continue
		}
		switch ev.Type {
		case EventListenKeyExpired:
			l.logger.Warn(ctx, "Listener.readLoop: Session key expired, closing stream", l.fields())
			l.teardown(ctx, s, false)
			return
		case EventOrderTradeUpdate:
			// errors are logged inside; one bad event never stops the loop
			_ = l.HandleOrderUpdate(ctx, ev.OrderUpdate)
		}
	}
}

// HandleOrderUpdate reconciles one order update: anything but a completed fill is
// ignored, duplicates are suppressed, the owning trade is looked up and the update is
// dispatched, retrying on concurrent modification.
func (l *Listener) HandleOrderUpdate(ctx context.Context, u *OrderUpdate) error {
	op := "Listener.HandleOrderUpdate"
	if !u.Complete() {
		return nil
	}
	orderID := u.Order.OrderID
	fields := l.fields(map[string]interface{}{"orderID": orderID, "symbol": u.Order.Symbol})

	if l.seen.Seen(orderID) {
		l.logger.Debug(ctx, op+": Duplicate fill suppressed", fields)
		return nil
	}

	trade, err := l.lookup(ctx, orderID)
	if err != nil {
		l.seen.Forget(orderID)
		l.logger.Error(ctx, err, op+": Trade lookup failed", fields)
		return err
	}
	if trade == nil {
		err := fmt.Errorf("%w: order %d matches no trade of account %s", ports.ErrMatching, orderID, l.account.ID)
		l.logger.Error(ctx, err, op+": Unmatched fill event", fields)
		return err
	}
	fields["tradeID"] = trade.ID

	for attempt := 0; ; attempt++ {
		result := *u.Order
		err = l.dispatcher.Dispatch(ctx, l.account, trade, &result)
		if !errors.Is(err, ports.ErrVersionConflict) || attempt >= l.cfg.UpdateRetries {
			break
		}
		l.logger.Warn(ctx, op+": Trade changed concurrently, reloading", fields)
		trade, err = l.repo.FindByID(ctx, trade.ID)
		if err != nil || trade == nil {
			err = errors.Join(fmt.Errorf("%s: reload trade: %w", op, ports.ErrVersionConflict), err)
			break
		}
	}
	if err != nil {
		l.logger.Error(ctx, err, op+": Fill handling failed", fields)
	}
	return err
}

// lookup finds the trade referencing orderID, retrying with backoff until the deadline
// so a trade saved moments after its order went out is still found.
func (l *Listener) lookup(ctx context.Context, orderID int64) (*domain.Trade, error) {
	deadline := time.Now().Add(l.cfg.LookupDeadline)
	b := &backoff.Backoff{Min: 25 * time.Millisecond, Max: 400 * time.Millisecond, Factor: 2}
	for {
		trade, err := l.repo.FindByFillEvent(ctx, orderID, l.account.ID)
		if err != nil || trade != nil {
			return trade, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := b.Duration()
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}
