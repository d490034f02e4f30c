package ledger

import "strings"

// DefaultCurrency is used for owners without settings and for unknown codes.
const DefaultCurrency = "IDR"

// Currency is one entry of the display catalog.
type Currency struct {
	Code   string `json:"code"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// catalog order is the order shown to clients; IDR must stay first.
var catalog = []Currency{
	{Code: "IDR", Symbol: "Rp", Name: "Rupiah Indonesia"},
	{Code: "USD", Symbol: "$", Name: "US Dollar"},
	{Code: "EUR", Symbol: "€", Name: "Euro"},
	{Code: "GBP", Symbol: "£", Name: "British Pound"},
	{Code: "JPY", Symbol: "¥", Name: "Japanese Yen"},
	{Code: "SGD", Symbol: "S$", Name: "Singapore Dollar"},
	{Code: "THB", Symbol: "฿", Name: "Baht Thailand"},
	{Code: "KHR", Symbol: "៛", Name: "Riel Kamboja"},
}

// Currencies returns a copy of the catalog.
func Currencies() []Currency {
	out := make([]Currency, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns the catalog entry for code. Unknown codes resolve to IDR.
func Lookup(code string) Currency {
	if c, ok := find(code); ok {
		return c
	}
	return catalog[0]
}

// IsKnownCurrency reports whether code is in the catalog (case-insensitive).
func IsKnownCurrency(code string) bool {
	_, ok := find(code)
	return ok
}

func find(code string) (Currency, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, c := range catalog {
		if c.Code == code {
			return c, true
		}
	}
	return Currency{}, false
}
