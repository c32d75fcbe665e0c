package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"
	"futuresDesk/internal/registry"

	"golang.org/x/sync/errgroup"
)

const (
	defaultStartInterval = time.Minute
	defaultAuditInterval = time.Minute
	maxParallelStarts    = 8
	shutdownTimeout      = 10 * time.Second
)

// Listener is one account's push session.
type Listener interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
}

// ListenerFactory builds the listener for account.
type ListenerFactory func(account domain.Account) Listener

// Watchdog is the auto-close watchdog as seen by the scheduler.
type Watchdog interface {
	Sync(ctx context.Context, trades []*domain.Trade)
	Audit(ctx context.Context) []string
	Stop(ctx context.Context)
}

// Reloader is implemented by account sources that can re-read their backing store.
type Reloader interface {
	Reload() error
}

// Config holds the scheduler intervals.
type Config struct {
	ListenerStartInterval time.Duration
	WatchdogAuditInterval time.Duration
}

// Service keeps one listener running per account and the watchdog in step with the
// open trades.
type Service struct {
	cfg         Config
	accounts    ports.AccountSource
	repo        ports.TradeRepository
	newListener ListenerFactory
	watchdog    Watchdog
	logger      ports.Logger
	listeners   *registry.Registry[string, Listener]
}

// NewService creates a new application service instance.
func NewService(
	cfg Config,
	accounts ports.AccountSource,
	repo ports.TradeRepository,
	newListener ListenerFactory,
	watchdog Watchdog,
	logger ports.Logger,
) (*Service, error) {
	if accounts == nil || repo == nil || newListener == nil || watchdog == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Service")
	}
	if cfg.ListenerStartInterval <= 0 {
		cfg.ListenerStartInterval = defaultStartInterval
	}
	if cfg.WatchdogAuditInterval <= 0 {
		cfg.WatchdogAuditInterval = defaultAuditInterval
	}
	return &Service{
		cfg:         cfg,
		accounts:    accounts,
		repo:        repo,
		newListener: newListener,
		watchdog:    watchdog,
		logger:      logger,
		listeners:   registry.New[string, Listener](),
	}, nil
}

// Start runs the service until ctx is canceled or SIGINT/SIGTERM arrives.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting futures desk service...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	return s.Serve(ctx)
}

// Serve bootstraps the watchdog, starts the listeners and then re-runs both on their
// intervals. On return every listener and subscription has been stopped.
func (s *Service) Serve(ctx context.Context) error {
	if _, err := s.accounts.Accounts(ctx); err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	s.SyncWatchdog(ctx)
	s.StartListeners(ctx)

	startTicker := time.NewTicker(s.cfg.ListenerStartInterval)
	defer startTicker.Stop()
	auditTicker := time.NewTicker(s.cfg.WatchdogAuditInterval)
	defer auditTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Main context cancelled, initiating shutdown...")
			s.shutdown(context.WithoutCancel(ctx))
			s.logger.Info(ctx, "Futures desk service stopped.")
			return nil
		case <-startTicker.C:
			if r, ok := s.accounts.(Reloader); ok {
				if err := r.Reload(); err != nil {
					s.logger.Error(ctx, err, "Failed to reload accounts, keeping the current set")
				}
			}
			s.StartListeners(ctx)
		case <-auditTicker.C:
			s.SyncWatchdog(ctx)
			s.watchdog.Audit(ctx)
		}
	}
}

// StartListeners starts the listener of every account that has none running and stops
// listeners of accounts that are gone. A failing account never holds up the others.
func (s *Service) StartListeners(ctx context.Context) {
	op := "StartListeners"
	accounts, err := s.accounts.Accounts(ctx)
	if err != nil {
		s.logger.Error(ctx, err, op+": Failed to list accounts")
		return
	}

	active := make(map[string]bool, len(accounts))
	var g errgroup.Group
	g.SetLimit(maxParallelStarts)
	for _, acc := range accounts {
		active[acc.ID] = true
		l, ok := s.listeners.Get(acc.ID)
		if !ok {
			l, _ = s.listeners.Add(acc.ID, s.newListener(acc))
		}
		if l.Running() {
			continue
		}
		accountID := acc.ID
		g.Go(func() error {
			if err := l.Start(ctx); err != nil {
				s.logger.Error(ctx, err, op+": Listener failed to start, retrying next round", map[string]interface{}{"accountID": accountID})
				return nil
			}
			return nil
		})
	}
	_ = g.Wait()

	for id, l := range s.listeners.Snapshot() {
		if active[id] {
			continue
		}
		if err := l.Stop(ctx); err != nil {
			s.logger.Warn(ctx, op+": Failed to stop listener of removed account", map[string]interface{}{"accountID": id, "error": err.Error()})
		}
		s.listeners.Remove(id)
		s.logger.Info(ctx, op+": Account removed, listener stopped", map[string]interface{}{"accountID": id})
	}
}

// SyncWatchdog loads every account's open trades and hands them to the watchdog.
func (s *Service) SyncWatchdog(ctx context.Context) {
	op := "SyncWatchdog"
	accounts, err := s.accounts.Accounts(ctx)
	if err != nil {
		s.logger.Error(ctx, err, op+": Failed to list accounts")
		return
	}
	var open []*domain.Trade
	for _, acc := range accounts {
		trades, err := s.repo.FindOpenForAccount(ctx, acc.ID)
		if err != nil {
			s.logger.Error(ctx, err, op+": Failed to load open trades", map[string]interface{}{"accountID": acc.ID})
			continue
		}
		open = append(open, trades...)
	}
	s.watchdog.Sync(ctx, open)
	s.logger.Debug(ctx, op+": Watchdog synced", map[string]interface{}{"openTrades": len(open)})
}

// Running lists the accounts whose listener has a live session.
func (s *Service) Running() []string {
	var ids []string
	for _, id := range registry.Keys(s.listeners) {
		if l, ok := s.listeners.Get(id); ok && l.Running() {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Service) shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var g errgroup.Group
	for id, l := range s.listeners.Snapshot() {
		id, l := id, l
		g.Go(func() error {
			if err := l.Stop(ctx); err != nil {
				s.logger.Warn(ctx, "Listener did not stop cleanly", map[string]interface{}{"accountID": id, "error": err.Error()})
			}
			return nil
		})
	}
	_ = g.Wait()
	s.watchdog.Stop(ctx)
}
