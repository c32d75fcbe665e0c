package ports

import (
	"context"

	"futuresDesk/internal/domain"
)

// TradeRepository persists the trade aggregate.
// Finders return nil, nil when nothing matches.
type TradeRepository interface {
	// Save stores a new trade, assigning its ID and initial version.
	Save(ctx context.Context, trade *domain.Trade) error
	// Update writes trade if its version still matches the stored one and bumps the version.
	// Returns ErrVersionConflict when another writer got there first.
	Update(ctx context.Context, trade *domain.Trade) error
	// FindByID retrieves a trade by its identifier.
	FindByID(ctx context.Context, id string) (*domain.Trade, error)
	// FindOpenForAccount lists the account's trades that are not closed.
	FindOpenForAccount(ctx context.Context, accountID string) ([]*domain.Trade, error)
	// FindOpenBySymbol lists open trades on symbol across every account.
	FindOpenBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error)
	// FindByFillEvent finds the account's trade that references the exchange order id.
	FindByFillEvent(ctx context.Context, orderID int64, accountID string) (*domain.Trade, error)
}
