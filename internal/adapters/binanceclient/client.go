package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	defaultRateLimit = 10 // requests per second
	maxBatchOrders   = 5
	maxBatchCancel   = 10
)

// Client implements ports.ExchangeClient for one account using the go-binance library.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	limiter       *rate.Limiter
	accountID     string
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	BaseURL    string // overrides the production/testnet URL when set
	AccountID  string // attached to log fields
	Logger     ports.Logger
	RateLimit  float64 // REST requests per second, 0 means the default
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	return newClient(cfg), nil
}

func newClient(cfg Config) *Client {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Debug(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.",
			map[string]interface{}{"accountID": cfg.AccountID})
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Debug(context.Background(), "Binance client configured", map[string]interface{}{"baseURL": client.BaseURL, "accountID": cfg.AccountID})

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		limiter:       rate.NewLimiter(rate.Limit(limit), int(limit)+1),
		accountID:     cfg.AccountID,
	}
}

func (c *Client) fields(extra map[string]interface{}) map[string]interface{} {
	extra["accountID"] = c.accountID
	return extra
}

// wait paces REST calls so one account never bursts past the exchange weight limits.
func (c *Client) wait(ctx context.Context, op string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ports.ErrContextCanceled, err)
	}
	return nil
}

// mapAPIError translates a Binance error code into the matching ports error.
func mapAPIError(code int64) error {
	switch code {
	case -1003: // Too many requests
		return ports.ErrRateLimited
	case -1021: // Timestamp for this request is outside of the recvWindow
		return ports.ErrTimeout
	case -1022: // Signature for this request is not valid
		return ports.ErrAuthenticationFailed
	case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
		return ports.ErrInvalidRequest
	case -2010: // New order rejected
		return ports.ErrOrderPlacementFailed
	case -2011: // Cancel order rejected
		return ports.ErrOrderCancelFailed
	case -2013: // Order does not exist
		return ports.ErrOrderNotFound
	case -2014, -2015: // API-key format invalid / invalid key, IP or permissions
		return ports.ErrInvalidAPIKeys
	case -2019, -3005, -3041, -4047: // Margin, balance or position limit insufficient
		return ports.ErrInsufficientFunds
	case -2021: // Order would immediately trigger
		return ports.ErrOrderPlacementFailed
	case -2022: // ReduceOnly Order is rejected
		return ports.ErrReduceOnlyRejected
	case -4003, -4014, -4015, -4164: // Quantity, price, leverage or notional out of range
		return ports.ErrInvalidRequest
	default:
		return ports.ErrUnknown
	}
}

// handleError translates common Binance API errors into standardized ports errors.
// Every error the exchange itself returns additionally wraps ErrExchangeRejection.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := c.fields(map[string]interface{}{"operation": operation, "originalError": err.Error()})

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message
		mappedErr := mapAPIError(apiErr.Code)
		finalErr := fmt.Errorf("%s failed: %w: %w: %w", operation, ports.ErrExchangeRejection, mappedErr, err)
		if errors.Is(mappedErr, ports.ErrOrderNotFound) {
			// callers routinely cancel orders that already filled
			c.logger.Debug(ctx, fmt.Sprintf("%s failed with API error", operation), fields)
		} else {
			c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		}
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// buildOrder turns a request into a go-binance create-order service.
func (c *Client) buildOrder(req ports.OrderRequest) *futures.CreateOrderService {
	s := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type)).
		Quantity(req.Quantity.String())
	if req.ClientOrderID != "" {
		s = s.NewClientOrderID(req.ClientOrderID)
	}
	if req.ReduceOnly {
		s = s.ReduceOnly(true)
	}
	switch req.Type {
	case domain.OrderTypeLimit:
		s = s.Price(req.Price.String()).TimeInForce(futures.TimeInForceTypeGTC)
	case domain.OrderTypeStopMarket, domain.OrderTypeTakeProfitMarket:
		s = s.StopPrice(req.StopPrice.String()).WorkingType(futures.WorkingTypeMarkPrice)
	case domain.OrderTypeMarket:
		s = s.NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	}
	return s
}

func validateRequest(req ports.OrderRequest) error {
	if req.Symbol == "" || !req.Quantity.IsPositive() {
		return fmt.Errorf("%w: order needs a symbol and a positive quantity", ports.ErrInvalidRequest)
	}
	if req.Type == domain.OrderTypeLimit && !req.Price.IsPositive() {
		return fmt.Errorf("%w: limit order without price", ports.ErrInvalidRequest)
	}
	if (req.Type == domain.OrderTypeStopMarket || req.Type == domain.OrderTypeTakeProfitMarket) && !req.StopPrice.IsPositive() {
		return fmt.Errorf("%w: %s order without stop price", ports.ErrInvalidRequest, req.Type)
	}
	return nil
}

// PlaceOrder submits one order. Market orders are placed with a RESULT response so the
// returned result carries the fill.
func (c *Client) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*domain.OrderResult, error) {
	op := "PlaceOrder"
	if err := validateRequest(req); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	order, err := c.buildOrder(req).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	res := fromCreateOrder(order)
	c.logger.Info(ctx, op+" successful", c.fields(map[string]interface{}{
		"symbol":        req.Symbol,
		"side":          req.Side,
		"type":          req.Type,
		"quantity":      req.Quantity.String(),
		"clientOrderID": req.ClientOrderID,
		"orderID":       res.OrderID,
		"status":        res.Status,
	}))
	return res, nil
}

// PlaceBatch submits up to five orders in one request. Entries the exchange rejects carry
// their own error; the call fails as a whole only when the request itself fails.
func (c *Client) PlaceBatch(ctx context.Context, reqs []ports.OrderRequest) ([]ports.BatchResult, error) {
	op := "PlaceBatch"
	if len(reqs) == 0 {
		return nil, nil
	}
	if len(reqs) > maxBatchOrders {
		return nil, fmt.Errorf("%s: %w: %d orders exceed the batch limit of %d", op, ports.ErrInvalidRequest, len(reqs), maxBatchOrders)
	}
	services := make([]*futures.CreateOrderService, len(reqs))
	for i, req := range reqs {
		if err := validateRequest(req); err != nil {
			return nil, fmt.Errorf("%s: order %d: %w", op, i, err)
		}
		services[i] = c.buildOrder(req)
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	resp, err := c.futuresClient.NewCreateBatchOrdersService().OrderList(services).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	out := make([]ports.BatchResult, len(reqs))
	for i := range reqs {
		switch {
		case i < len(resp.Errors) && resp.Errors[i] != nil:
			out[i].Err = c.handleError(ctx, resp.Errors[i], fmt.Sprintf("%s[%d]", op, i))
		case i < len(resp.Orders) && resp.Orders[i] != nil:
			out[i].Order = fromOrder(resp.Orders[i])
		default:
			out[i].Err = fmt.Errorf("%s[%d]: %w: no result returned", op, i, ports.ErrOrderPlacementFailed)
		}
	}
	c.logger.Info(ctx, op+" completed", c.fields(map[string]interface{}{"orders": len(reqs)}))
	return out, nil
}

// CancelOrder cancels an open order on Binance.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*domain.OrderResult, error) {
	op := "CancelOrder"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	c.logger.Debug(ctx, "Attempting to cancel order", c.fields(map[string]interface{}{"symbol": symbol, "orderID": orderID}))

	res, err := c.futuresClient.NewCancelOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	out := fromCancelOrder(res)
	c.logger.Info(ctx, op+" successful", c.fields(map[string]interface{}{"symbol": symbol, "orderID": orderID, "status": out.Status}))
	return out, nil
}

// CancelBatch cancels up to ten orders of one symbol in one request.
func (c *Client) CancelBatch(ctx context.Context, symbol string, orderIDs []int64) ([]ports.BatchResult, error) {
	op := "CancelBatch"
	if len(orderIDs) == 0 {
		return nil, nil
	}
	if len(orderIDs) > maxBatchCancel {
		return nil, fmt.Errorf("%s: %w: %d orders exceed the batch limit of %d", op, ports.ErrInvalidRequest, len(orderIDs), maxBatchCancel)
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	res, err := c.futuresClient.NewCancelMultipleOrdersService().
		Symbol(symbol).
		OrderIDList(orderIDs).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	// rejected entries come back as empty objects; match the rest by id
	byID := make(map[int64]*futures.CancelOrderResponse, len(res))
	for _, r := range res {
		if r != nil && r.OrderID != 0 {
			byID[r.OrderID] = r
		}
	}
	out := make([]ports.BatchResult, len(orderIDs))
	for i, id := range orderIDs {
		if r, ok := byID[id]; ok {
			out[i].Order = fromCancelOrder(r)
			continue
		}
		out[i].Err = fmt.Errorf("%s: order %d: %w: %w", op, id, ports.ErrExchangeRejection, ports.ErrOrderCancelFailed)
	}
	c.logger.Info(ctx, op+" completed", c.fields(map[string]interface{}{"symbol": symbol, "orders": len(orderIDs), "canceled": len(byID)}))
	return out, nil
}

// OpenOrders lists the account's working orders on symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]*domain.OrderResult, error) {
	op := "OpenOrders"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	orders, err := c.futuresClient.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make([]*domain.OrderResult, 0, len(orders))
	for _, o := range orders {
		out = append(out, fromOrder(o))
	}
	return out, nil
}

// PositionAmount returns the signed position size on symbol (zero when flat).
func (c *Client) PositionAmount(ctx context.Context, symbol string) (decimal.Decimal, error) {
	op := "PositionAmount"
	if err := c.wait(ctx, op); err != nil {
		return decimal.Zero, err
	}
	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, err, op)
	}
	total := decimal.Zero
	for _, p := range positions {
		if p.Symbol != symbol {
			continue
		}
		total = total.Add(parseDecimal(p.PositionAmt))
	}
	return total, nil
}

// SetLeverage sets the leverage for a specific symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", c.fields(map[string]interface{}{"symbol": symbol, "leverage": leverage}))
	return nil
}

// MarkPrice retrieves the current mark price for a given symbol.
func (c *Client) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	op := "MarkPrice"
	if err := c.wait(ctx, op); err != nil {
		return decimal.Zero, err
	}
	tickers, err := c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		return decimal.Zero, c.handleError(ctx, fmt.Errorf("no price data returned for symbol %s", symbol), op)
	}

	price, err := decimal.NewFromString(tickers[0].MarkPrice)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", tickers[0].MarkPrice, err)
		return decimal.Zero, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// CreateSessionKey starts a user data stream and returns its listen key.
func (c *Client) CreateSessionKey(ctx context.Context) (string, error) {
	op := "CreateSessionKey"
	if err := c.wait(ctx, op); err != nil {
		return "", err
	}
	key, err := c.futuresClient.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return "", c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful", c.fields(map[string]interface{}{}))
	return key, nil
}

// KeepAliveSessionKey extends the listen key's validity by another hour.
func (c *Client) KeepAliveSessionKey(ctx context.Context, key string) error {
	op := "KeepAliveSessionKey"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	if err := c.futuresClient.NewKeepaliveUserStreamService().ListenKey(key).Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	return nil
}

// DeleteSessionKey closes the user data stream.
func (c *Client) DeleteSessionKey(ctx context.Context, key string) error {
	op := "DeleteSessionKey"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	if err := c.futuresClient.NewCloseUserStreamService().ListenKey(key).Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	return nil
}
