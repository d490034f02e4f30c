package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sample() []Transaction {
	return []Transaction{
		{ID: 1, Type: Income, Amount: dec("1000000"), Date: "2025-03-01"},
		{ID: 2, Type: Expense, Amount: dec("125000"), Date: "2025-03-01"},
		{ID: 3, Type: Expense, Amount: dec("2000000"), Date: "2025-03-02"},
		{ID: 4, Type: Income, Amount: dec("50000.25"), Date: "2025-03-03"},
	}
}

func TestAggregateScenario(t *testing.T) {
	txs := []Transaction{
		{Type: Income, Amount: dec("1000000")},
		{Type: Expense, Amount: dec("125000")},
	}
	s := Aggregate(txs, "")
	if !s.TotalIncome.Equal(dec("1000000")) || !s.TotalExpense.Equal(dec("125000")) {
		t.Fatalf("totals = %s / %s", s.TotalIncome, s.TotalExpense)
	}
	if !s.Balance.Equal(dec("875000")) || s.TransactionCount != 2 {
		t.Fatalf("balance=%s count=%d", s.Balance, s.TransactionCount)
	}
	if s.Currency != "IDR" || s.Filtered {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestAggregateBalanceIdentity(t *testing.T) {
	txs := sample()
	for _, fd := range []string{"", "2025-03-01", "2025-03-02", "2025-03-03", "1999-01-01"} {
		s := Aggregate(txs, fd)
		if !s.Balance.Equal(s.TotalIncome.Sub(s.TotalExpense)) {
			t.Fatalf("filter %q: balance %s != income %s - expense %s", fd, s.Balance, s.TotalIncome, s.TotalExpense)
		}
	}
}

func TestAggregateFilterCountsExactDate(t *testing.T) {
	txs := sample()
	tests := map[string]int{
		"":            4,
		"2025-03-01":  2,
		"2025-03-02":  1,
		" 2025-03-03": 1,
		"2025-3-1":    0,
	}
	for fd, want := range tests {
		s := Aggregate(txs, fd)
		if s.TransactionCount != want {
			t.Fatalf("filter %q: count %d, want %d", fd, s.TransactionCount, want)
		}
		if len(Filter(txs, fd)) != want {
			t.Fatalf("filter %q: Filter len %d, want %d", fd, len(Filter(txs, fd)), want)
		}
	}
}

func TestAggregateNegativeBalance(t *testing.T) {
	s := Aggregate(sample(), "2025-03-02")
	if !s.Balance.Equal(dec("-2000000")) {
		t.Fatalf("balance = %s", s.Balance)
	}
	if !s.Filtered || s.FilterDate != "2025-03-02" {
		t.Fatalf("filter echo missing: %+v", s)
	}
}

func TestAggregateEmpty(t *testing.T) {
	s := Aggregate(nil, "")
	if !s.TotalIncome.IsZero() || !s.TotalExpense.IsZero() || !s.Balance.IsZero() || s.TransactionCount != 0 {
		t.Fatalf("expected zero stats got %+v", s)
	}
}

func TestFilterKeepsOrder(t *testing.T) {
	out := Filter(sample(), "2025-03-01")
	if len(out) != 2 || out[0].ID != 1 || out[1].ID != 2 {
		t.Fatalf("unexpected filtered order %+v", out)
	}
}
