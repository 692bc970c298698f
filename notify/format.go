package notify

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultSymbol is the wallet's currency symbol.
const DefaultSymbol = "रु"

// Currency renders amounts for user-facing messages: the symbol followed by
// the amount with exactly two decimal places and thousands separators,
// e.g. रु1,234.50.
type Currency string

// Format renders amount in the currency's display form.
func (c Currency) Format(amount decimal.Decimal) string {
	fixed := amount.StringFixed(2)

	neg := strings.HasPrefix(fixed, "-")
	if neg {
		fixed = fixed[1:]
	}
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(string(c))
	for i, d := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}
