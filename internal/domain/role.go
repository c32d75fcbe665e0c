package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RoleKind is the purpose of an order within a trade.
type RoleKind int

const (
	RoleEntryMarket RoleKind = iota + 1
	RoleEntryLimit
	RoleTakeProfit
	RoleStopLoss
	RoleManual // operator or watchdog market close
)

var rolePrefixes = map[RoleKind]string{
	RoleEntryMarket: "em",
	RoleEntryLimit:  "el",
	RoleTakeProfit:  "tp",
	RoleStopLoss:    "sl",
	RoleManual:      "mc",
}

func (k RoleKind) String() string {
	switch k {
	case RoleEntryMarket:
		return "entry-market"
	case RoleEntryLimit:
		return "entry-limit"
	case RoleTakeProfit:
		return "take-profit"
	case RoleStopLoss:
		return "stop-loss"
	case RoleManual:
		return "manual"
	default:
		return "unknown"
	}
}

// ErrUnknownRole is returned when a client order id does not carry a known role prefix.
var ErrUnknownRole = errors.New("unknown order role")

// OrderRole identifies an order's role and, for laddered roles, its rung number.
type OrderRole struct {
	Kind RoleKind
	Rung int // 1-based; 0 for roles without a rung
}

func EntryMarketRole() OrderRole { return OrderRole{Kind: RoleEntryMarket} }
func EntryLimitRole(rung int) OrderRole { return OrderRole{Kind: RoleEntryLimit, Rung: rung} }
func TakeProfitRole(rung int) OrderRole { return OrderRole{Kind: RoleTakeProfit, Rung: rung} }
func StopLossRole() OrderRole { return OrderRole{Kind: RoleStopLoss} }
func ManualRole() OrderRole { return OrderRole{Kind: RoleManual} }

// HasRung reports whether the role is laddered.
func (r OrderRole) HasRung() bool {
	return r.Kind == RoleEntryLimit || r.Kind == RoleTakeProfit
}

// ClientOrderID encodes the role as {prefix}{rung?}_{accountID}_{symbol}_{last 3 digits of epoch ms}.
func (r OrderRole) ClientOrderID(accountID, symbol string, now time.Time) string {
	prefix, ok := rolePrefixes[r.Kind]
	if !ok {
		prefix = "xx"
	}
	head := prefix
	if r.HasRung() {
		head += strconv.Itoa(r.Rung)
	}
	return fmt.Sprintf("%s_%s_%s_%03d", head, accountID, symbol, now.UnixMilli()%1000)
}

// DecodeRole recovers the role from a client order id by stripping the trailing digits
// of its first underscore-delimited segment.
func DecodeRole(clientOrderID string) (OrderRole, error) {
	head, _, _ := strings.Cut(clientOrderID, "_")
	prefix := strings.TrimRight(head, "0123456789")
	digits := head[len(prefix):]

	var kind RoleKind
	for k, p := range rolePrefixes {
		if p == prefix {
			kind = k
			break
		}
	}
	if kind == 0 {
		return OrderRole{}, fmt.Errorf("%w: %q", ErrUnknownRole, clientOrderID)
	}

	role := OrderRole{Kind: kind}
	if digits != "" {
		rung, err := strconv.Atoi(digits)
		if err != nil {
			return OrderRole{}, fmt.Errorf("%w: bad rung in %q", ErrUnknownRole, clientOrderID)
		}
		role.Rung = rung
	}
	if role.HasRung() && role.Rung == 0 {
		return OrderRole{}, fmt.Errorf("%w: missing rung in %q", ErrUnknownRole, clientOrderID)
	}
	return role, nil
}
