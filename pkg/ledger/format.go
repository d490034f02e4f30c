package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// NumberFormat holds the separators used when amounts are shown to people.
type NumberFormat struct {
	Thousands string
	Decimal   string
}

var (
	// International renders 1234.5 as "1,234.50".
	International = NumberFormat{Thousands: ",", Decimal: "."}
	// Indonesian renders 1234.5 as "1.234,50".
	Indonesian = NumberFormat{Thousands: ".", Decimal: ","}
)

// ParseNumberFormat resolves a configured format name.
func ParseNumberFormat(name string) (NumberFormat, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "international", "en":
		return International, nil
	case "indonesian", "id":
		return Indonesian, nil
	}
	return NumberFormat{}, fmt.Errorf("unknown number format %q", name)
}

// Format renders d with two decimals and grouped thousands.
func (f NumberFormat) Format(d decimal.Decimal) string {
	d = d.Round(2)
	intPart, frac, _ := strings.Cut(d.Abs().StringFixed(2), ".")
	s := groupThousands(intPart, f.Thousands) + f.Decimal + frac
	if d.IsNegative() {
		return "-" + s
	}
	return s
}

// Money renders d prefixed with the currency symbol, e.g. "Rp 1,000.00".
func (f NumberFormat) Money(c Currency, d decimal.Decimal) string {
	return c.Symbol + " " + f.Format(d)
}

func groupThousands(digits, sep string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
