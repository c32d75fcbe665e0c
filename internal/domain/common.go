package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the side that reduces a position opened on s.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderStatus is the lifecycle status of an exchange order as tracked by a trade.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusClosedManually  OrderStatus = "CLOSED_MANUALLY"
)

// OrderType is the exchange order type used by the engine.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// EntryPath is the way a trade's position is opened. It is chosen once, before any order is placed.
type EntryPath string

const (
	EntryPathMarket EntryPath = "MARKET"
	EntryPathLimit  EntryPath = "LIMIT_LADDER"
)

// CloseReason indicates why a trade was closed.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "SL"
	CloseReasonTakeProfit CloseReason = "TP"
	CloseReasonManual     CloseReason = "MANUAL"
	CloseReasonAutoClose  CloseReason = "AUTO_CLOSE" // mark price crossed the watchdog limit
	CloseReasonUnknown    CloseReason = "Unknown"
)
