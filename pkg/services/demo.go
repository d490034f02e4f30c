package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"dhfinance/pkg/ledger"
	"dhfinance/pkg/logging"
)

// SeedDemo fills an empty ledger with three sample transactions dated today.
// It reports whether anything was written.
func (s *LedgerService) SeedDemo(ctx context.Context, o Owner) (bool, error) {
	if err := checkOwner(o); err != nil {
		return false, err
	}
	existing, err := s.store.Transactions(ctx, o.ID)
	if err != nil {
		return false, fmt.Errorf("load transactions: %w", err)
	}
	if len(existing) > 0 {
		return false, nil
	}
	now := s.now()
	today := now.Format(ledger.DateLayout)
	var samples []ledger.Transaction
	for _, t := range []ledger.Transaction{
		{Type: ledger.Income, Amount: decimal.NewFromInt(1000000), Description: "Gaji Bulanan",
			HasProof: true, ProofDetails: "https://prnt.sc/fk8Ctptkwt3"},
		{Type: ledger.Expense, Amount: decimal.NewFromInt(125000), Description: "Belanja Bulanan",
			ProofDetails: ledger.NoProofPlaceholder},
		{Type: ledger.Income, Amount: decimal.NewFromInt(500000), Description: "Transfer dari Klien",
			HasProof: true, ProofDetails: "https://example.com/bukti-transfer.jpg"},
	} {
		t.ID = ledger.NextID(samples)
		t.Date, t.CreatedAt = today, now
		samples = append(samples, t)
	}
	set, err := s.store.Settings(ctx, o.ID)
	if err != nil {
		return false, fmt.Errorf("load settings: %w", err)
	}
	if err := s.store.ReplaceLedger(ctx, o.ID, set.Currency, samples); err != nil {
		return false, fmt.Errorf("seed demo ledger: %w", err)
	}
	s.log.InfoContext(ctx, "seeded demo ledger", logging.FieldOwner, o.Username, "count", len(samples))
	return true, nil
}
