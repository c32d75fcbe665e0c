package binanceclient

import (
	"strings"
	"time"

	"futuresDesk/internal/domain"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

// parseDecimal reads an exchange decimal string; empty or malformed values are zero.
func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func status(s futures.OrderStatusType) domain.OrderStatus {
	return domain.OrderStatus(strings.ToUpper(string(s)))
}

func fromCreateOrder(o *futures.CreateOrderResponse) *domain.OrderResult {
	if o == nil {
		return nil
	}
	return &domain.OrderResult{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          domain.OrderSide(o.Side),
		Type:          domain.OrderType(o.Type),
		Status:        status(o.Status),
		OrigQty:       parseDecimal(o.OrigQuantity),
		ExecutedQty:   parseDecimal(o.ExecutedQuantity),
		Price:         parseDecimal(o.Price),
		AvgPrice:      parseDecimal(o.AvgPrice),
		StopPrice:     parseDecimal(o.StopPrice),
		ReduceOnly:    o.ReduceOnly,
		UpdateTime:    fromMillis(o.UpdateTime),
	}
}

func fromOrder(o *futures.Order) *domain.OrderResult {
	if o == nil {
		return nil
	}
	return &domain.OrderResult{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          domain.OrderSide(o.Side),
		Type:          domain.OrderType(o.Type),
		Status:        status(o.Status),
		OrigQty:       parseDecimal(o.OrigQuantity),
		ExecutedQty:   parseDecimal(o.ExecutedQuantity),
		Price:         parseDecimal(o.Price),
		AvgPrice:      parseDecimal(o.AvgPrice),
		StopPrice:     parseDecimal(o.StopPrice),
		ReduceOnly:    o.ReduceOnly,
		UpdateTime:    fromMillis(o.UpdateTime),
	}
}

// fromCancelOrder translates a cancel reply; it carries no average price.
func fromCancelOrder(o *futures.CancelOrderResponse) *domain.OrderResult {
	if o == nil {
		return nil
	}
	return &domain.OrderResult{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          domain.OrderSide(o.Side),
		Type:          domain.OrderType(o.Type),
		Status:        status(o.Status),
		OrigQty:       parseDecimal(o.OrigQuantity),
		ExecutedQty:   parseDecimal(o.ExecutedQuantity),
		Price:         parseDecimal(o.Price),
		StopPrice:     parseDecimal(o.StopPrice),
		ReduceOnly:    o.ReduceOnly,
		UpdateTime:    fromMillis(o.UpdateTime),
	}
}

// fromSymbol reads the LOT_SIZE, PRICE_FILTER and MIN_NOTIONAL filters of a symbol.
func fromSymbol(s futures.Symbol) *domain.SymbolInfo {
	info := &domain.SymbolInfo{
		Symbol:         s.Symbol,
		PricePrecision: int32(s.PricePrecision),
	}
	str := func(f map[string]interface{}, key string) string {
		v, _ := f[key].(string)
		return v
	}
	for _, f := range s.Filters {
		switch f["filterType"] {
		case "LOT_SIZE":
			info.MinQty = parseDecimal(str(f, "minQty"))
			info.StepSize = parseDecimal(str(f, "stepSize"))
		case "PRICE_FILTER":
			info.TickSize = parseDecimal(str(f, "tickSize"))
		case "MIN_NOTIONAL":
			info.MinNotional = parseDecimal(str(f, "notional"))
		}
	}
	return info
}
