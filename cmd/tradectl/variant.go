package main

import (
	"fmt"
	"strings"

	"futuresDesk/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// variantFile is the operator-facing layout of a trade intent. Prices are strings so
// they reach decimal without a float round trip.
type variantFile struct {
	Symbol      string `yaml:"symbol"`
	Side        string `yaml:"side"`
	EntryFrom   string `yaml:"entry_from"`
	EntryTo     string `yaml:"entry_to"`
	StopLoss    string `yaml:"stop_loss"`
	LeverageMin int    `yaml:"leverage_min"`
	LeverageMax int    `yaml:"leverage_max"`
	TakeProfits []struct {
		Price        string `yaml:"price"`
		ClosePercent string `yaml:"close_percent"`
	} `yaml:"take_profits"`
}

func parseVariant(raw []byte) (domain.TradeVariant, error) {
	var f variantFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return domain.TradeVariant{}, fmt.Errorf("decode variant: %w", err)
	}

	var errs []string
	num := func(field, s string, optional bool) decimal.Decimal {
		if s == "" && optional {
			return decimal.Zero
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not a number", field, s))
		}
		return d
	}

	v := domain.TradeVariant{
		Symbol:      strings.ToUpper(strings.TrimSpace(f.Symbol)),
		Side:        domain.OrderSide(strings.ToUpper(strings.TrimSpace(f.Side))),
		EntryFrom:   num("entry_from", f.EntryFrom, false),
		EntryTo:     num("entry_to", f.EntryTo, false),
		StopLoss:    num("stop_loss", f.StopLoss, true),
		LeverageMin: f.LeverageMin,
		LeverageMax: f.LeverageMax,
	}
	for i, tp := range f.TakeProfits {
		v.TakeProfits = append(v.TakeProfits, &domain.TakeProfit{
			Index:        i + 1,
			Price:        num(fmt.Sprintf("take_profits[%d].price", i), tp.Price, false),
			ClosePercent: num(fmt.Sprintf("take_profits[%d].close_percent", i), tp.ClosePercent, false),
		})
	}
	if len(errs) > 0 {
		return domain.TradeVariant{}, fmt.Errorf("invalid variant: %s", strings.Join(errs, "; "))
	}
	return v, nil
}
