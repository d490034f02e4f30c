package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dhfinance/pkg/events"
	"dhfinance/pkg/ledger"
)

const (
	BackupVersion     = 1
	BackupContentType = "application/json"
)

// Backup is the document written by Backup and read by Restore.
type Backup struct {
	Version      int                  `json:"version"`
	ExportedAt   time.Time            `json:"exportedAt"`
	Owner        string               `json:"owner"`
	Settings     BackupSettings       `json:"settings"`
	Transactions []ledger.Transaction `json:"transactions"`
}

type BackupSettings struct {
	Currency string `json:"currency"`
}

// backupEntry mirrors ledger.Transaction with a loosely typed amount so
// restored rows go through the validator.
type backupEntry struct {
	ID           int64     `json:"id"`
	Type         string    `json:"type"`
	Amount       any       `json:"amount"`
	Description  *string   `json:"description"`
	Date         string    `json:"date"`
	HasProof     bool      `json:"hasProof"`
	ProofDetails string    `json:"proofDetails"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Backup serializes the owner's ledger and settings.
func (s *LedgerService) Backup(ctx context.Context, o Owner) (Export, error) {
	txs, cur, err := s.load(ctx, o)
	if err != nil {
		return Export{}, err
	}
	now := s.now()
	doc := Backup{
		Version:      BackupVersion,
		ExportedAt:   now.UTC(),
		Owner:        o.Username,
		Settings:     BackupSettings{Currency: cur.Code},
		Transactions: txs,
	}
	if doc.Transactions == nil {
		doc.Transactions = []ledger.Transaction{}
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Export{}, fmt.Errorf("encode backup: %w", err)
	}
	return Export{
		Filename:    fmt.Sprintf("%s_backup_%s_%s.json", s.prefix, o.Username, now.Format("20060102_150405")),
		ContentType: BackupContentType,
		Body:        body,
	}, nil
}

// Restore replaces the owner's ledger and currency with the contents of a
// backup document. Every entry is validated before anything is written, and
// the replacement happens in a single store transaction.
func (s *LedgerService) Restore(ctx context.Context, o Owner, data []byte) (int, error) {
	if err := checkOwner(o); err != nil {
		return 0, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return 0, fmt.Errorf("%w: backup is not a JSON object: %v", ledger.ErrInvalidInput, err)
	}
	for _, key := range []string{"settings", "transactions"} {
		if _, ok := raw[key]; !ok {
			return 0, fmt.Errorf("%w: backup has no %q key", ledger.ErrInvalidInput, key)
		}
	}

	var settings BackupSettings
	if err := json.Unmarshal(raw["settings"], &settings); err != nil {
		return 0, fmt.Errorf("%w: settings: %v", ledger.ErrInvalidInput, err)
	}
	currency := strings.ToUpper(strings.TrimSpace(settings.Currency))
	if currency == "" {
		currency = ledger.DefaultCurrency
	}
	if !ledger.IsKnownCurrency(currency) {
		return 0, fmt.Errorf("%w (got %q)", ledger.ErrUnknownCurrency, currency)
	}

	var entries []backupEntry
	td := json.NewDecoder(bytes.NewReader(raw["transactions"]))
	td.UseNumber()
	if err := td.Decode(&entries); err != nil {
		return 0, fmt.Errorf("%w: transactions: %v", ledger.ErrInvalidInput, err)
	}

	now := s.now()
	seen := make(map[int64]bool, len(entries))
	txs := make([]ledger.Transaction, 0, len(entries))
	for i, e := range entries {
		if e.ID <= 0 {
			return 0, fmt.Errorf("%w: transaction %d has no positive id", ledger.ErrValidation, i+1)
		}
		if seen[e.ID] {
			return 0, fmt.Errorf("%w: duplicate transaction id %d", ledger.ErrValidation, e.ID)
		}
		seen[e.ID] = true

		created := e.CreatedAt
		if created.IsZero() {
			created = now
		}
		t, err := ledger.Normalize(ledger.Payload{
			Type:         e.Type,
			Amount:       e.Amount,
			Description:  e.Description,
			Date:         e.Date,
			HasProof:     e.HasProof,
			ProofDetails: e.ProofDetails,
		}, created)
		if err != nil {
			return 0, fmt.Errorf("transaction %d: %w", e.ID, err)
		}
		t.ID = e.ID
		txs = append(txs, t)
	}

	if err := s.store.ReplaceLedger(ctx, o.ID, currency, txs); err != nil {
		return 0, fmt.Errorf("restore ledger: %w", err)
	}
	s.publish(ctx, events.Event{Kind: events.LedgerRestored, Owner: o.Username, Currency: currency, Count: len(txs)})
	return len(txs), nil
}
