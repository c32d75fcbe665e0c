package listener

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"

	"github.com/shopspring/decimal"
)

// Push-channel event types handled by the listener.
const (
	EventOrderTradeUpdate = "ORDER_TRADE_UPDATE"
	EventListenKeyExpired = "listenKeyExpired"

	executionTrade = "TRADE"
)

// OrderUpdate is a decoded ORDER_TRADE_UPDATE.
type OrderUpdate struct {
	ExecutionType string
	Order         *domain.OrderResult
}

// Complete reports whether the update is an execution that left the order fully filled.
func (u *OrderUpdate) Complete() bool {
	return u != nil && u.ExecutionType == executionTrade && u.Order.IsFilled()
}

// Event is one decoded push-channel message.
type Event struct {
	Type        string
	Time        time.Time
	OrderUpdate *OrderUpdate // set for ORDER_TRADE_UPDATE
}

type envelope struct {
	Type      string          `json:"e"`
	EventTime int64           `json:"E"`
	Order     json.RawMessage `json:"o"`
	Data      json.RawMessage `json:"data"` // combined-stream wrapper
}

type compactOrder struct {
	Symbol        string `json:"s"`
	ClientOrderID string `json:"c"`
	Side          string `json:"S"`
	Type          string `json:"o"`
	OrigQty       string `json:"q"`
	Price         string `json:"p"`
	AvgPrice      string `json:"ap"`
	StopPrice     string `json:"sp"`
	ExecutionType string `json:"x"`
	Status        string `json:"X"`
	OrderID       int64  `json:"i"`
	CumQty        string `json:"z"`
	TradeTime     int64  `json:"T"`
	ReduceOnly    bool   `json:"R"`

	// Unused keys that would otherwise land on the fields above through
	// case-insensitive matching.
	TradeID         int64  `json:"t"`
	ActivationPrice string `json:"AP"`
}

// Decode turns a raw push-channel frame into an Event. Frames of other event types are
// returned with only Type and Time set.
func Decode(msg []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return Event{}, fmt.Errorf("%w: decode event: %v", ports.ErrInvalidRequest, err)
	}
	if env.Type == "" && len(env.Data) > 0 {
		return Decode(env.Data)
	}

	ev := Event{Type: env.Type}
	if env.EventTime > 0 {
		ev.Time = time.UnixMilli(env.EventTime).UTC()
	}
	if env.Type != EventOrderTradeUpdate {
		return ev, nil
	}
	if len(env.Order) == 0 {
		return Event{}, fmt.Errorf("%w: order update without order payload", ports.ErrInvalidRequest)
	}

	var o compactOrder
	if err := json.Unmarshal(env.Order, &o); err != nil {
		return Event{}, fmt.Errorf("%w: decode order update: %v", ports.ErrInvalidRequest, err)
	}
	order, err := o.toResult()
	if err != nil {
		return Event{}, err
	}
	ev.OrderUpdate = &OrderUpdate{ExecutionType: strings.ToUpper(o.ExecutionType), Order: order}
	return ev, nil
}

func (o compactOrder) toResult() (*domain.OrderResult, error) {
	var errs []string
	parse := func(field, s string) decimal.Decimal {
		if s == "" {
			return decimal.Zero
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q", field, s))
		}
		return v
	}

	r := &domain.OrderResult{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          domain.OrderSide(strings.ToUpper(o.Side)),
		Type:          domain.OrderType(strings.ToUpper(o.Type)),
		Status:        domain.OrderStatus(strings.ToUpper(o.Status)),
		OrigQty:       parse("q", o.OrigQty),
		ExecutedQty:   parse("z", o.CumQty),
		Price:         parse("p", o.Price),
		AvgPrice:      parse("ap", o.AvgPrice),
		StopPrice:     parse("sp", o.StopPrice),
		ReduceOnly:    o.ReduceOnly,
	}
	if o.TradeTime > 0 {
		r.UpdateTime = time.UnixMilli(o.TradeTime).UTC()
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: bad decimal fields %v in order %d", ports.ErrInvalidRequest, errs, o.OrderID)
	}
	return r, nil
}
