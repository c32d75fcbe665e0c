package domain

import "github.com/shopspring/decimal"

// Account is an exchange account the engine trades on behalf of.
type Account struct {
	ID         string
	APIKey     string
	SecretKey  string
	ChatID     int64           // notification target, 0 when the owner has none
	BudgetUSDT decimal.Decimal // margin per trade, zero means the configured default
}
