package ports

import (
	"context"

	"futuresDesk/internal/domain"

	"github.com/shopspring/decimal"
)

// OrderRequest describes a single order to submit.
type OrderRequest struct {
	Symbol        string
	Side          domain.OrderSide
	Type          domain.OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal // LIMIT only
	StopPrice     decimal.Decimal // STOP_MARKET / TAKE_PROFIT_MARKET only
	ReduceOnly    bool
	ClientOrderID string
}

// BatchResult is the outcome of one entry of a batch request, aligned with the submitted position.
type BatchResult struct {
	Order *domain.OrderResult
	Err   error
}

// OrderGateway signs and sends order requests for one account.
// Errors are normalized to the sentinel errors of this package.
type OrderGateway interface {
	// PlaceOrder submits one order. Market orders return their fill result.
	PlaceOrder(ctx context.Context, req OrderRequest) (*domain.OrderResult, error)
	// PlaceBatch submits up to five orders in one request.
	PlaceBatch(ctx context.Context, reqs []OrderRequest) ([]BatchResult, error)
	// CancelOrder cancels an open order by its exchange id.
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*domain.OrderResult, error)
	// CancelBatch cancels up to ten orders of one symbol in one request.
	CancelBatch(ctx context.Context, symbol string, orderIDs []int64) ([]BatchResult, error)
	// OpenOrders lists the account's working orders on symbol.
	OpenOrders(ctx context.Context, symbol string) ([]*domain.OrderResult, error)
	// PositionAmount returns the signed position size on symbol (zero when flat).
	PositionAmount(ctx context.Context, symbol string) (decimal.Decimal, error)
	// SetLeverage sets the leverage for symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	// MarkPrice retrieves the current mark price for symbol.
	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// SessionKeyService manages the key authorizing an account's private push channel.
type SessionKeyService interface {
	CreateSessionKey(ctx context.Context) (string, error)
	// KeepAliveSessionKey extends the key's validity. Calling it repeatedly is harmless.
	KeepAliveSessionKey(ctx context.Context, key string) error
	DeleteSessionKey(ctx context.Context, key string) error
}

// ExchangeClient is everything the engine needs from the exchange for one account.
type ExchangeClient interface {
	OrderGateway
	SessionKeyService
}

// ExchangeProvider hands out the exchange client bound to an account's credentials.
type ExchangeProvider interface {
	ForAccount(account domain.Account) ExchangeClient
}

// SymbolInfoProvider supplies exchange symbol metadata.
// Returns an error wrapping ErrMissingSymbolInfo when the symbol is unknown.
type SymbolInfoProvider interface {
	SymbolInfo(ctx context.Context, symbol string) (*domain.SymbolInfo, error)
}
