package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidMoney = errors.New("invalid money amount")
)

// DefaultCurrency is the wallet currency for domestic rails.
const DefaultCurrency = "INR"

// maxAmount keeps balances well inside NUMERIC(18,2).
var maxAmount = decimal.New(1, 15)

// ParseAmount parses a user-entered amount such as "1500" or "12.34".
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, ErrInvalidMoney
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidMoney, err)
	}
	return d, RequirePositive(d)
}

// RequirePositive rejects zero, negative, over-precise or absurdly large amounts.
// Wallets hold at most two fraction digits (paise).
func RequirePositive(d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidMoney)
	}
	if d.Exponent() < -2 && !d.Equal(d.Round(2)) {
		return fmt.Errorf("%w: at most two decimal places", ErrInvalidMoney)
	}
	if d.GreaterThanOrEqual(maxAmount) {
		return fmt.Errorf("%w: too large", ErrInvalidMoney)
	}
	return nil
}

// Format renders d with exactly two decimals, e.g. 3500.00 or -12.50.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Group renders d with thousands separators, e.g. 1,234,567.50.
func Group(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}
	fixed := Format(d)
	whole, frac := fixed[:len(fixed)-3], fixed[len(fixed)-2:]

	var b strings.Builder
	for i := 0; i < len(whole); i++ {
		b.WriteByte(whole[i])
		if rem := len(whole) - i - 1; rem > 0 && rem%3 == 0 {
			b.WriteByte(',')
		}
	}
	return sign + b.String() + "." + frac
}

// FormatSigned prefixes outgoing amounts with a minus sign for statements.
func FormatSigned(d decimal.Decimal, outgoing bool) string {
	if outgoing {
		return "-" + Group(d.Abs())
	}
	return "+" + Group(d.Abs())
}
