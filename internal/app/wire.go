package app

import (
	"context"
	"errors"
	"fmt"

	"futuresDesk/config"
	"futuresDesk/internal/adapters/accounts"
	"futuresDesk/internal/adapters/binanceclient"
	"futuresDesk/internal/adapters/sqlite"
	"futuresDesk/internal/adapters/telegram"
	"futuresDesk/internal/adapters/wsstream"
	"futuresDesk/internal/domain"
	"futuresDesk/internal/listener"
	"futuresDesk/internal/ports"
	"futuresDesk/internal/risk"
	"futuresDesk/internal/trading"
	"futuresDesk/internal/watchdog"
)

// Components is the wired object graph shared by the service and the operator CLI.
type Components struct {
	Config   *config.Config
	Logger   ports.Logger
	Repo     *sqlite.Repository
	Accounts *accounts.FileSource
	Exchange *binanceclient.Provider
	Symbols  *binanceclient.SymbolCache
	Dialer   *wsstream.Dialer
	Engine   *trading.Engine
	Watchdog *watchdog.Watchdog
}

// Build wires every adapter and manager from cfg.
func Build(cfg *config.Config, logger ports.Logger) (*Components, error) {
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: logger})
	if err != nil {
		return nil, err
	}
	c := &Components{Config: cfg, Logger: logger, Repo: repo}
	fail := func(err error) (*Components, error) {
		return nil, errors.Join(err, c.Close())
	}

	if c.Accounts, err = accounts.NewFileSource(cfg.AccountsFile); err != nil {
		return fail(err)
	}
	if c.Exchange, err = binanceclient.NewProvider(binanceclient.Config{
		UseTestnet: cfg.IsTestnet,
		Logger:     logger,
		RateLimit:  cfg.RESTRateLimit,
	}); err != nil {
		return fail(err)
	}
	c.Symbols = binanceclient.NewSymbolCache(c.Exchange.Public(), 0)

	if c.Dialer, err = wsstream.NewDialer(wsstream.Config{UseTestnet: cfg.IsTestnet, Logger: logger}); err != nil {
		return fail(err)
	}
	notifier, err := telegram.NewNotifier(cfg.TelegramBotToken, logger)
	if err != nil {
		return fail(err)
	}

	riskManager := risk.NewRiskManager(risk.RiskConfig{
		MaxLeverage:            cfg.MaxLeverage,
		DefaultBudget:          cfg.DefaultTradeBudget,
		BudgetTolerancePercent: cfg.BudgetTolerancePercent,
		MaxPositionNotional:    cfg.MaxPositionNotional,
	})
	if c.Engine, err = trading.NewEngine(
		trading.Config{StopLossMoveDelay: cfg.StopLossMoveDelay},
		c.Exchange, c.Symbols, repo, c.Accounts, notifier, riskManager, logger,
	); err != nil {
		return fail(err)
	}
	c.Watchdog = watchdog.New(c.Dialer, repo, c.Engine, logger)
	return c, nil
}

// ListenerConfig derives the listener settings from the configuration.
func (c *Components) ListenerConfig() listener.Config {
	return listener.Config{
		KeepAliveInterval: c.Config.SessionKeepAlive,
		LookupDeadline:    c.Config.TradeLookupTimeout,
		UpdateRetries:     c.Config.UpdateRetries,
		DedupTTL:          c.Config.DedupTTL,
	}
}

// NewService builds the scheduler over the wired components.
func (c *Components) NewService() (*Service, error) {
	lcfg := c.ListenerConfig()
	factory := func(account domain.Account) Listener {
		return listener.New(account, c.Exchange.ForAccount(account), c.Dialer, c.Repo, c.Engine, c.Logger, lcfg)
	}
	return NewService(Config{
		ListenerStartInterval: c.Config.ListenerStartInterval,
		WatchdogAuditInterval: c.Config.WatchdogAuditInterval,
	}, c.Accounts, c.Repo, factory, c.Watchdog, c.Logger)
}

// OpenTrade opens a trade and starts watching its symbol right away.
func (c *Components) OpenTrade(ctx context.Context, accountID string, variant domain.TradeVariant) (*domain.Trade, error) {
	trade, err := c.Engine.OpenTrade(ctx, accountID, variant)
	if err != nil {
		return trade, err
	}
	if err := c.Watchdog.Open(ctx, trade); err != nil {
		c.Logger.Warn(ctx, "OpenTrade: Watchdog subscription deferred to the next sync", map[string]interface{}{"tradeID": trade.ID, "error": err.Error()})
	}
	return trade, nil
}

// Close releases the database.
func (c *Components) Close() error {
	if c.Repo == nil {
		return nil
	}
	if err := c.Repo.Close(); err != nil {
		return fmt.Errorf("close repository: %w", err)
	}
	return nil
}
