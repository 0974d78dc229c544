// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FormatUSDT formats an amount with four decimals and the quote currency.
func FormatUSDT(amount decimal.Decimal) string {
	return amount.StringFixed(4) + " USDT"
}

// FormatPnL formats profit or loss with an explicit sign.
func FormatPnL(pnl decimal.Decimal) string {
	if pnl.IsPositive() {
		return "+" + FormatUSDT(pnl)
	}
	return FormatUSDT(pnl)
}

// FormatPercent formats a fraction as a percentage, 0.0125 -> 1.25%.
func FormatPercent(fraction float64) string {
	return fmt.Sprintf("%.2f%%", fraction*100)
}

// FormatCompact formats a volume in compact form (K/M/B).
func FormatCompact(amount decimal.Decimal) string {
	f := amount.Abs().InexactFloat64()
	sign := ""
	if amount.IsNegative() {
		sign = "-"
	}
	switch {
	case f >= 1e9:
		return fmt.Sprintf("%s%.2fB", sign, f/1e9)
	case f >= 1e6:
		return fmt.Sprintf("%s%.2fM", sign, f/1e6)
	case f >= 1e3:
		return fmt.Sprintf("%s%.2fK", sign, f/1e3)
	}
	return sign + amount.Abs().StringFixed(2)
}

// StartOfDay returns midnight UTC of the day containing t. Crypto venues
// trade around the clock, so the UTC calendar day is the trading day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
