package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dhfinance/models"
	"dhfinance/pkg/events"
	"dhfinance/pkg/ledger"
	"dhfinance/pkg/store"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Kind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

var fixedNow = time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)

func newService(t *testing.T) (*LedgerService, *recordingPublisher, Owner, store.Store) {
	t.Helper()
	st, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "svc.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	u := models.User{Username: "budi", HashedPassword: []byte("x")}
	if err := st.CreateUser(context.Background(), &u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	pub := &recordingPublisher{}
	svc := NewLedgerService(st, pub, nil, "").WithClock(func() time.Time { return fixedNow })
	return svc, pub, Owner{ID: u.ID, Username: u.Username}, st
}

func strPtr(s string) *string { return &s }

func TestAddListAndStats(t *testing.T) {
	svc, pub, o, _ := newService(t)
	ctx := context.Background()

	in, err := svc.Add(ctx, o, ledger.Payload{Type: "income", Amount: float64(1000000), Description: strPtr("Gaji"), Date: "2025-03-01"})
	if err != nil {
		t.Fatalf("add income: %v", err)
	}
	if in.ID != 1 {
		t.Fatalf("first id = %d", in.ID)
	}
	out, err := svc.Add(ctx, o, ledger.Payload{Type: "expense", Amount: "125000", Date: "2025-03-02"})
	if err != nil {
		t.Fatalf("add expense: %v", err)
	}
	if out.ID != 2 || out.Description != ledger.DescriptionPlaceholder {
		t.Fatalf("expense = %+v", out)
	}

	stats, err := svc.Stats(ctx, o, "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !stats.Balance.Equal(decimal.NewFromInt(875000)) || stats.TransactionCount != 2 || stats.Currency != "IDR" {
		t.Fatalf("stats = %+v", stats)
	}

	filtered, _ := svc.List(ctx, o, "2025-03-02")
	if len(filtered) != 1 || filtered[0].ID != 2 {
		t.Fatalf("filtered list = %+v", filtered)
	}
	fstats, _ := svc.Stats(ctx, o, "2025-03-02")
	if !fstats.Filtered || fstats.FilterDate != "2025-03-02" || !fstats.Balance.Equal(decimal.NewFromInt(-125000)) {
		t.Fatalf("filtered stats = %+v", fstats)
	}

	kinds := pub.kinds()
	if len(kinds) != 2 || kinds[0] != events.TransactionCreated {
		t.Fatalf("events = %v", kinds)
	}
	if pub.events[0].Amount == nil || !pub.events[0].Amount.Equal(decimal.NewFromInt(1000000)) {
		t.Fatalf("event amount = %v", pub.events[0].Amount)
	}
}

func TestAddRejectsInvalidPayload(t *testing.T) {
	svc, pub, o, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		p    ledger.Payload
		want error
	}{
		{"bad type", ledger.Payload{Type: "transfer", Amount: "1"}, ledger.ErrInvalidType},
		{"bad amount", ledger.Payload{Amount: "abc"}, ledger.ErrInvalidAmount},
		{"negative", ledger.Payload{Amount: float64(-5)}, ledger.ErrNegativeAmount},
		{"bad date", ledger.Payload{Amount: "1", Date: "15/03/2025"}, ledger.ErrInvalidDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Add(ctx, o, tt.p)
			if !errors.Is(err, tt.want) || !errors.Is(err, ledger.ErrValidation) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := svc.Add(ctx, Owner{}, ledger.Payload{}); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Fatalf("missing owner err = %v", err)
	}
	if len(pub.kinds()) != 0 {
		t.Fatalf("rejected adds published events: %v", pub.kinds())
	}
}

func TestPublishFailureDoesNotFailAdd(t *testing.T) {
	svc, pub, o, _ := newService(t)
	pub.err = errors.New("broker down")
	if _, err := svc.Add(context.Background(), o, ledger.Payload{Amount: "10"}); err != nil {
		t.Fatalf("add: %v", err)
	}
}

func TestDelete(t *testing.T) {
	svc, pub, o, _ := newService(t)
	ctx := context.Background()
	svc.Add(ctx, o, ledger.Payload{Amount: "1"})
	svc.Add(ctx, o, ledger.Payload{Amount: "2"})

	deleted, err := svc.Delete(ctx, o, 2)
	if err != nil || deleted.ID != 2 || !deleted.Amount.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("delete = %+v, %v", deleted, err)
	}
	if _, err := svc.Delete(ctx, o, 2); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
	if _, err := svc.Delete(ctx, o, 0); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Fatalf("zero id err = %v", err)
	}
	next, _ := svc.Add(ctx, o, ledger.Payload{Amount: "3"})
	if next.ID != 2 {
		t.Fatalf("id after deleting the highest = %d, want 2", next.ID)
	}
	if k := pub.kinds(); k[2] != events.TransactionDeleted {
		t.Fatalf("events = %v", k)
	}
}

func TestUpdateCurrency(t *testing.T) {
	svc, pub, o, _ := newService(t)
	ctx := context.Background()

	set, err := svc.Settings(ctx, o)
	if err != nil || set.Currency != "IDR" {
		t.Fatalf("default settings = %+v, %v", set, err)
	}
	set, err = svc.UpdateCurrency(ctx, o, " usd ")
	if err != nil || set.Currency != "USD" {
		t.Fatalf("update = %+v, %v", set, err)
	}
	if _, err := svc.UpdateCurrency(ctx, o, "XYZ"); !errors.Is(err, ledger.ErrUnknownCurrency) {
		t.Fatalf("unknown currency err = %v", err)
	}
	if _, err := svc.UpdateCurrency(ctx, o, ""); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Fatalf("blank currency err = %v", err)
	}
	stats, _ := svc.Stats(ctx, o, "")
	if stats.Currency != "USD" {
		t.Fatalf("stats currency = %q", stats.Currency)
	}
	if k := pub.kinds(); len(k) != 1 || k[0] != events.CurrencyChanged {
		t.Fatalf("events = %v", k)
	}
}

func TestExports(t *testing.T) {
	svc, _, o, _ := newService(t)
	ctx := context.Background()
	svc.Add(ctx, o, ledger.Payload{Type: "income", Amount: "1000", Date: "2025-03-01"})
	svc.Add(ctx, o, ledger.Payload{Type: "expense", Amount: "250", Date: "2025-03-02"})

	csvExp, err := svc.ExportCSV(ctx, o, "2025-03-01")
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if csvExp.Filename != "dh_finance_budi_filter_2025-03-01_20250315_103000.csv" {
		t.Fatalf("csv filename = %q", csvExp.Filename)
	}
	if csvExp.ContentType != ledger.CSVContentType || !bytes.HasPrefix(csvExp.Body, []byte{0xEF, 0xBB, 0xBF}) {
		t.Fatalf("csv export = %q %q", csvExp.ContentType, csvExp.Body[:3])
	}
	if lines := strings.Split(strings.TrimSpace(string(csvExp.Body)), "\r\n"); len(lines) != 2 {
		t.Fatalf("csv rows = %d, want header plus one", len(lines))
	}

	doc, err := svc.ExportWord(ctx, o, "")
	if err != nil {
		t.Fatalf("word: %v", err)
	}
	if doc.Filename != "dh_finance_budi_20250315_103000.doc" || doc.ContentType != ledger.WordContentType {
		t.Fatalf("word export = %q %q", doc.Filename, doc.ContentType)
	}
	body := string(doc.Body)
	if !strings.Contains(body, "+ Rp 1,000.00") || !strings.Contains(body, "- Rp 250.00") {
		t.Fatalf("word body lacks signed amounts")
	}
}

func TestBackupAndRestore(t *testing.T) {
	svc, pub, o, _ := newService(t)
	ctx := context.Background()
	svc.Add(ctx, o, ledger.Payload{Type: "income", Amount: "1000.50", Date: "2025-03-01"})
	svc.Add(ctx, o, ledger.Payload{Type: "expense", Amount: "20", Date: "2025-03-01"})
	svc.UpdateCurrency(ctx, o, "EUR")

	exp, err := svc.Backup(ctx, o)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if exp.Filename != "dh_finance_backup_budi_20250315_103000.json" {
		t.Fatalf("backup filename = %q", exp.Filename)
	}
	var doc Backup
	if err := json.Unmarshal(exp.Body, &doc); err != nil {
		t.Fatalf("decode backup: %v", err)
	}
	if doc.Version != BackupVersion || doc.Owner != "budi" || doc.Settings.Currency != "EUR" || len(doc.Transactions) != 2 {
		t.Fatalf("backup doc = %+v", doc)
	}

	svc.Delete(ctx, o, 1)
	svc.UpdateCurrency(ctx, o, "IDR")

	n, err := svc.Restore(ctx, o, exp.Body)
	if err != nil || n != 2 {
		t.Fatalf("restore = %d, %v", n, err)
	}
	txs, _ := svc.List(ctx, o, "")
	if len(txs) != 2 || txs[0].ID != 1 || !txs[0].Amount.Equal(decimal.RequireFromString("1000.5")) {
		t.Fatalf("restored = %+v", txs)
	}
	set, _ := svc.Settings(ctx, o)
	if set.Currency != "EUR" {
		t.Fatalf("restored currency = %q", set.Currency)
	}
	if k := pub.kinds(); k[len(k)-1] != events.LedgerRestored {
		t.Fatalf("last event = %v", k[len(k)-1])
	}
}

func TestRestoreRejects(t *testing.T) {
	svc, _, o, _ := newService(t)
	ctx := context.Background()
	svc.Add(ctx, o, ledger.Payload{Amount: "5"})

	tests := []struct {
		name string
		body string
		want error
	}{
		{"not json", `nope`, ledger.ErrInvalidInput},
		{"missing settings", `{"transactions": []}`, ledger.ErrInvalidInput},
		{"missing transactions", `{"settings": {"currency": "IDR"}}`, ledger.ErrInvalidInput},
		{"unknown currency", `{"settings": {"currency": "XYZ"}, "transactions": []}`, ledger.ErrUnknownCurrency},
		{"duplicate ids", `{"settings": {}, "transactions": [{"id": 1, "amount": 1}, {"id": 1, "amount": 2}]}`, ledger.ErrValidation},
		{"bad amount", `{"settings": {}, "transactions": [{"id": 1, "amount": "x"}]}`, ledger.ErrInvalidAmount},
		{"zero id", `{"settings": {}, "transactions": [{"amount": 1}]}`, ledger.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Restore(ctx, o, []byte(tt.body)); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if txs, _ := svc.List(ctx, o, ""); len(txs) != 1 {
		t.Fatalf("rejected restores changed the ledger: %d rows", len(txs))
	}
}

func TestSeedDemo(t *testing.T) {
	svc, _, o, _ := newService(t)
	ctx := context.Background()

	seeded, err := svc.SeedDemo(ctx, o)
	if err != nil || !seeded {
		t.Fatalf("seed = %v, %v", seeded, err)
	}
	stats, _ := svc.Stats(ctx, o, fixedNow.Format(ledger.DateLayout))
	if stats.TransactionCount != 3 || !stats.Balance.Equal(decimal.NewFromInt(1375000)) {
		t.Fatalf("demo stats = %+v", stats)
	}
	txs, _ := svc.List(ctx, o, "")
	for i, tx := range txs {
		if tx.ID != int64(i+1) {
			t.Fatalf("demo ids = %+v", txs)
		}
	}
	next, err := svc.Add(ctx, o, ledger.Payload{Amount: "1"})
	if err != nil || next.ID != 4 {
		t.Fatalf("add after seed = %+v, %v", next, err)
	}
	again, err := svc.SeedDemo(ctx, o)
	if err != nil || again {
		t.Fatalf("second seed = %v, %v", again, err)
	}
}
