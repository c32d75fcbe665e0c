package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// TakeProfit is one rung of a take-profit ladder.
type TakeProfit struct {
	Index        int             `json:"index"`
	Price        decimal.Decimal `json:"price"`
	ClosePercent decimal.Decimal `json:"closePercent"`
	Quantity     decimal.Decimal `json:"quantity"`
	Result       *OrderResult    `json:"result,omitempty"`
	ResultTime   time.Time       `json:"resultTime"`
	Manual       bool            `json:"manual,omitempty"` // closed by an operator market order
}

// LimitOrder is one rung of a staged limit-entry ladder.
type LimitOrder struct {
	Index      int             `json:"index"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Result     *OrderResult    `json:"result,omitempty"`
	ResultTime time.Time       `json:"resultTime"`
}

// TradeVariant is the structured trade intent produced from an accepted signal.
type TradeVariant struct {
	Side        OrderSide       `json:"side"`
	Symbol      string          `json:"symbol"`
	EntryFrom   decimal.Decimal `json:"entryFrom"`
	EntryTo     decimal.Decimal `json:"entryTo"`
	StopLoss    decimal.Decimal `json:"stopLoss"` // zero when the signal carries no stop
	TakeProfits []*TakeProfit   `json:"takeProfits"`
	LeverageMin int             `json:"leverageMin"`
	LeverageMax int             `json:"leverageMax"`
	LimitOrders []*LimitOrder   `json:"limitOrders,omitempty"`
}

// InEntryZone reports whether price lies inside the immediate-fill entry band.
func (v TradeVariant) InEntryZone(price decimal.Decimal) bool {
	low, high := v.EntryFrom, v.EntryTo
	if low.GreaterThan(high) {
		low, high = high, low
	}
	return price.GreaterThanOrEqual(low) && price.LessThanOrEqual(high)
}

// SortedTakeProfits returns the ladder ordered by rung index. The returned pointers
// alias the variant's rungs.
func (v TradeVariant) SortedTakeProfits() []*TakeProfit {
	out := make([]*TakeProfit, len(v.TakeProfits))
	copy(out, v.TakeProfits)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// SortedLimitOrders returns the limit-entry ladder ordered by rung index.
func (v TradeVariant) SortedLimitOrders() []*LimitOrder {
	out := make([]*LimitOrder, len(v.LimitOrders))
	copy(out, v.LimitOrders)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// AutoCloseLimit is the mark price past which open orders for the signal are force-closed:
// the second take-profit rung, or the last one when the ladder is shorter.
func (v TradeVariant) AutoCloseLimit() (decimal.Decimal, bool) {
	tps := v.SortedTakeProfits()
	switch {
	case len(tps) == 0:
		return decimal.Zero, false
	case len(tps) >= 2:
		return tps[1].Price, true
	default:
		return tps[len(tps)-1].Price, true
	}
}

// AuditEntry is one line of a trade's audit log.
type AuditEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// Trade is the aggregate root tracking one position's full order lifecycle.
type Trade struct {
	ID           string       `json:"id"`
	AccountID    string       `json:"accountId"`
	Variant      TradeVariant `json:"variant"`
	EntryPath    EntryPath    `json:"entryPath"`
	Leverage     int          `json:"leverage"`
	Entry        *OrderResult `json:"entry,omitempty"`
	StopLoss     *OrderResult `json:"stopLoss,omitempty"`
	StopLossTime time.Time    `json:"stopLossTime"`
	ManualClose  *OrderResult `json:"manualClose,omitempty"`
	Closed       bool         `json:"closed"`
	CloseReason  CloseReason  `json:"closeReason,omitempty"`
	HasError     bool         `json:"hasError"`
	Log          []AuditEntry `json:"log"`
	Version      int64        `json:"version"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// NewTrade creates a pre-entry trade. The entry path is fixed here and never changes.
func NewTrade(accountID string, variant TradeVariant, path EntryPath, leverage int, now time.Time) *Trade {
	return &Trade{
		AccountID: accountID,
		Variant:   variant,
		EntryPath: path,
		Leverage:  leverage,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Symbol returns the traded symbol.
func (t *Trade) Symbol() string { return t.Variant.Symbol }

// AddLog appends an informational audit entry.
func (t *Trade) AddLog(msg string) {
	t.Log = append(t.Log, AuditEntry{Time: time.Now().UTC(), Level: "info", Message: msg})
}

// AddError appends an error audit entry and raises the error flag.
func (t *Trade) AddError(op string, err error) {
	t.HasError = true
	t.Log = append(t.Log, AuditEntry{Time: time.Now().UTC(), Level: "error", Message: fmt.Sprintf("%s: %v", op, err)})
}

// MarkClosed soft-closes the trade.
func (t *Trade) MarkClosed(reason CloseReason) {
	t.Closed = true
	t.CloseReason = reason
	t.AddLog(fmt.Sprintf("trade closed (%s)", reason))
}

// OrderIDs lists every exchange order id currently referenced by the trade.
func (t *Trade) OrderIDs() []int64 {
	var ids []int64
	add := func(r *OrderResult) {
		if r != nil && r.OrderID != 0 {
			ids = append(ids, r.OrderID)
		}
	}
	add(t.Entry)
	for _, lo := range t.Variant.LimitOrders {
		add(lo.Result)
	}
	add(t.StopLoss)
	for _, tp := range t.Variant.TakeProfits {
		add(tp.Result)
	}
	add(t.ManualClose)
	return ids
}

// MatchKind names the trade slot an exchange order belongs to.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchEntry
	MatchLimitOrder
	MatchStopLoss
	MatchTakeProfit
	MatchManualClose
)

func (k MatchKind) String() string {
	switch k {
	case MatchEntry:
		return "entry"
	case MatchLimitOrder:
		return "limit-order"
	case MatchStopLoss:
		return "stop-loss"
	case MatchTakeProfit:
		return "take-profit"
	case MatchManualClose:
		return "manual-close"
	default:
		return "none"
	}
}

// OrderMatch locates an order inside a trade.
type OrderMatch struct {
	Kind       MatchKind
	LimitOrder *LimitOrder
	TakeProfit *TakeProfit
}

// Current returns the result currently stored in the matched slot.
func (m OrderMatch) Current(t *Trade) *OrderResult {
	switch m.Kind {
	case MatchEntry:
		return t.Entry
	case MatchLimitOrder:
		return m.LimitOrder.Result
	case MatchStopLoss:
		return t.StopLoss
	case MatchTakeProfit:
		return m.TakeProfit.Result
	case MatchManualClose:
		return t.ManualClose
	}
	return nil
}

// MatchOrder finds the slot owning orderID, testing the entry, each limit rung,
// the stop-loss and then each take-profit rung, in that order.
func (t *Trade) MatchOrder(orderID int64) OrderMatch {
	if orderID == 0 {
		return OrderMatch{Kind: MatchNone}
	}
	if t.Entry != nil && t.Entry.OrderID == orderID {
		return OrderMatch{Kind: MatchEntry}
	}
	for _, lo := range t.Variant.LimitOrders {
		if lo.Result != nil && lo.Result.OrderID == orderID {
			return OrderMatch{Kind: MatchLimitOrder, LimitOrder: lo}
		}
	}
	if t.StopLoss != nil && t.StopLoss.OrderID == orderID {
		return OrderMatch{Kind: MatchStopLoss}
	}
	for _, tp := range t.Variant.TakeProfits {
		if tp.Result != nil && tp.Result.OrderID == orderID {
			return OrderMatch{Kind: MatchTakeProfit, TakeProfit: tp}
		}
	}
	if t.ManualClose != nil && t.ManualClose.OrderID == orderID {
		return OrderMatch{Kind: MatchManualClose}
	}
	return OrderMatch{Kind: MatchNone}
}

// ApplyResult stores r in the matched slot, keeping the client order id when the update lacks one.
func (t *Trade) ApplyResult(m OrderMatch, r *OrderResult, now time.Time) {
	if prev := m.Current(t); prev != nil && r.ClientOrderID == "" {
		r.ClientOrderID = prev.ClientOrderID
	}
	switch m.Kind {
	case MatchEntry:
		t.Entry = r
	case MatchLimitOrder:
		m.LimitOrder.Result = r
		m.LimitOrder.ResultTime = now
	case MatchStopLoss:
		t.StopLoss = r
		t.StopLossTime = now
	case MatchTakeProfit:
		m.TakeProfit.Result = r
		m.TakeProfit.ResultTime = now
	case MatchManualClose:
		t.ManualClose = r
	}
	t.UpdatedAt = now
}
