package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Stats are the totals over an owner's (optionally filtered) ledger.
type Stats struct {
	TotalIncome      decimal.Decimal `json:"totalIncome"`
	TotalExpense     decimal.Decimal `json:"totalExpense"`
	Balance          decimal.Decimal `json:"balance"`
	TransactionCount int             `json:"transactionCount"`
	Currency         string          `json:"currency"`
	Filtered         bool            `json:"filtered"`
	FilterDate       string          `json:"filterDate,omitempty"`
}

// Filter keeps the transactions whose Date equals filterDate, preserving
// order. A blank filterDate returns txs unchanged.
func Filter(txs []Transaction, filterDate string) []Transaction {
	filterDate = strings.TrimSpace(filterDate)
	if filterDate == "" {
		return txs
	}
	out := make([]Transaction, 0, len(txs))
	for _, t := range txs {
		if t.Date == filterDate {
			out = append(out, t)
		}
	}
	return out
}

// Aggregate computes totals over txs restricted to filterDate. The result
// carries DefaultCurrency; callers set the owner's currency.
func Aggregate(txs []Transaction, filterDate string) Stats {
	filterDate = strings.TrimSpace(filterDate)
	s := Stats{
		TotalIncome:  decimal.Zero,
		TotalExpense: decimal.Zero,
		Currency:     DefaultCurrency,
		Filtered:     filterDate != "",
		FilterDate:   filterDate,
	}
	for _, t := range Filter(txs, filterDate) {
		switch t.Type {
		case Income:
			s.TotalIncome = s.TotalIncome.Add(t.Amount)
		case Expense:
			s.TotalExpense = s.TotalExpense.Add(t.Amount)
		}
		s.TransactionCount++
	}
	s.Balance = s.TotalIncome.Sub(s.TotalExpense)
	return s
}
