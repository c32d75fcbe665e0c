package ports

import (
	"context"

	"futuresDesk/internal/domain"
)

// AccountSource supplies the accounts the engine trades for.
type AccountSource interface {
	Accounts(ctx context.Context) ([]domain.Account, error)
	// Account returns ErrNotFound when id is unknown.
	Account(ctx context.Context, id string) (domain.Account, error)
}

// Notifier delivers a message to an account owner.
type Notifier interface {
	Notify(ctx context.Context, account domain.Account, message string) error
}
