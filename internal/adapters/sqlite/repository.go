package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.TradeRepository using SQLite.
// A trade is stored as one JSON document next to the columns the finders filter on;
// trade_orders maps every exchange order id the trade references back to it.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	ctx := context.Background()
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/futures_desk.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}

	// One writer at a time; the version check in Update relies on it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(ctx); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(ctx, "SQLite trade store ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		closed INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL,
		data TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_orders (
		order_id INTEGER NOT NULL,
		account_id TEXT NOT NULL,
		trade_id TEXT NOT NULL,
		PRIMARY KEY (order_id, account_id, trade_id)
	);

	CREATE INDEX IF NOT EXISTS idx_trades_account_closed ON trades (account_id, closed);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_closed ON trades (symbol, closed);
	CREATE INDEX IF NOT EXISTS idx_trade_orders_trade ON trade_orders (trade_id);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// Save inserts a new trade. An empty ID is replaced by a fresh UUID; the version starts at 1.
func (r *Repository) Save(ctx context.Context, trade *domain.Trade) error {
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	trade.Version = 1
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("failed to encode trade %s: %w", trade.ID, err)
	}

	const query = `
	INSERT INTO trades (id, account_id, symbol, closed, version, data, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	err = r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, trade.ID, trade.AccountID, trade.Symbol(), trade.Closed,
			trade.Version, string(data), trade.CreatedAt, trade.UpdatedAt); err != nil {
			return err
		}
		return indexOrders(ctx, tx, trade)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("trade %s: %w", trade.ID, ports.ErrDuplicateEntry)
		}
		return fmt.Errorf("%w: insert trade %s: %w", ports.ErrUpdateFailed, trade.ID, err)
	}
	r.logger.Debug(ctx, "Trade saved", map[string]interface{}{"tradeID": trade.ID, "accountID": trade.AccountID, "symbol": trade.Symbol()})
	return nil
}

// Update writes trade when its version matches the stored row and advances the version.
func (r *Repository) Update(ctx context.Context, trade *domain.Trade) error {
	expected := trade.Version
	trade.Version = expected + 1
	data, err := json.Marshal(trade)
	if err != nil {
		trade.Version = expected
		return fmt.Errorf("failed to encode trade %s: %w", trade.ID, err)
	}

	const query = `
	UPDATE trades
	SET closed = ?, version = ?, data = ?, updated_at = ?
	WHERE id = ? AND version = ?`

	err = r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, trade.Closed, trade.Version, string(data), trade.UpdatedAt, trade.ID, expected)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades WHERE id = ?`, trade.ID).Scan(&exists)
			if err != nil {
				return err
			}
			if exists == 0 {
				return fmt.Errorf("trade %s: %w", trade.ID, ports.ErrNotFound)
			}
			return fmt.Errorf("trade %s at version %d: %w", trade.ID, expected, ports.ErrVersionConflict)
		}
		return indexOrders(ctx, tx, trade)
	})
	if err != nil {
		trade.Version = expected
		if errors.Is(err, ports.ErrVersionConflict) || errors.Is(err, ports.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: update trade %s: %w", ports.ErrUpdateFailed, trade.ID, err)
	}
	r.logger.Debug(ctx, "Trade updated", map[string]interface{}{"tradeID": trade.ID, "version": trade.Version, "closed": trade.Closed})
	return nil
}

// FindByID retrieves a trade by its identifier.
func (r *Repository) FindByID(ctx context.Context, id string) (*domain.Trade, error) {
	row := r.db.QueryRowContext(ctx, `SELECT data FROM trades WHERE id = ?`, id)
	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "Trade not found by ID", map[string]interface{}{"tradeID": id})
			return nil, nil
		}
		return nil, fmt.Errorf("%w: trade %s: %w", ports.ErrQueryFailed, id, err)
	}
	return trade, nil
}

// FindOpenForAccount lists the account's open trades, oldest first.
func (r *Repository) FindOpenForAccount(ctx context.Context, accountID string) ([]*domain.Trade, error) {
	const query = `SELECT data FROM trades WHERE account_id = ? AND closed = 0 ORDER BY created_at, id`
	return r.list(ctx, query, accountID)
}

// FindOpenBySymbol lists open trades on symbol across every account, oldest first.
func (r *Repository) FindOpenBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	const query = `SELECT data FROM trades WHERE symbol = ? AND closed = 0 ORDER BY created_at, id`
	return r.list(ctx, query, symbol)
}

// FindRecent lists the most recently updated trades of every account.
func (r *Repository) FindRecent(ctx context.Context, limit int) ([]*domain.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT data FROM trades ORDER BY updated_at DESC, id LIMIT ?`
	return r.list(ctx, query, limit)
}

// FindByFillEvent finds the account's trade referencing orderID, closed trades included.
func (r *Repository) FindByFillEvent(ctx context.Context, orderID int64, accountID string) (*domain.Trade, error) {
	const query = `
	SELECT t.data FROM trades t
	JOIN trade_orders o ON o.trade_id = t.id
	WHERE o.order_id = ? AND o.account_id = ?
	ORDER BY t.created_at DESC
	LIMIT 1`

	trade, err := scanTrade(r.db.QueryRowContext(ctx, query, orderID, accountID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: order %d of account %s: %w", ports.ErrQueryFailed, orderID, accountID, err)
	}
	return trade, nil
}

func (r *Repository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan trade: %w", ports.ErrQueryFailed, err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate trades: %w", ports.ErrQueryFailed, err)
	}
	return trades, nil
}

func (r *Repository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// indexOrders rewrites the order id index of trade.
func indexOrders(ctx context.Context, tx *sql.Tx, trade *domain.Trade) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM trade_orders WHERE trade_id = ?`, trade.ID); err != nil {
		return err
	}
	for _, id := range trade.OrderIDs() {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO trade_orders (order_id, account_id, trade_id) VALUES (?, ?, ?)`,
			id, trade.AccountID, trade.ID); err != nil {
			return err
		}
	}
	return nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(s scanner) (*domain.Trade, error) {
	var data string
	if err := s.Scan(&data); err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	trade := &domain.Trade{}
	if err := json.Unmarshal([]byte(data), trade); err != nil {
		return nil, fmt.Errorf("decode trade document: %w", err)
	}
	return trade, nil
}
