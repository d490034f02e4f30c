package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dhfinance/models"
	"dhfinance/pkg/config"
	"dhfinance/pkg/events"
	"dhfinance/pkg/ledger"
	"dhfinance/pkg/services"
	"dhfinance/pkg/store"
)

func TestRunPrintsTotalsAndWritesExports(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	st, err := store.OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	u := models.User{Username: "budi", HashedPassword: []byte("hash")}
	if err := st.CreateUser(ctx, &u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	svc := services.NewLedgerService(st, events.Nop{}, nil, "")
	owner := services.Owner{ID: u.ID, Username: u.Username}
	for _, p := range []ledger.Payload{
		{Type: "income", Amount: "1000", Date: "2025-03-01"},
		{Type: "expense", Amount: "2500.5", Date: "2025-03-02"},
	} {
		if _, err := svc.Add(ctx, owner, p); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	st.Close()

	cfg := &config.Config{DBDriver: "sqlite", SQLitePath: dbPath, NumberFormat: "international", ExportPrefix: "dh_finance"}
	out := t.TempDir()
	var buf bytes.Buffer
	if err := run(ctx, cfg, &buf, "budi", "", true, out); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := buf.String()
	for _, want := range []string{
		"records=2",
		"income=Rp 1,000.00",
		"expense=Rp 2,500.50",
		"balance=-Rp 1,500.50",
		"2|2025-03-02|expense|2500.50|Tanpa keterangan|Tidak ada bukti transfer",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}

	files, err := os.ReadDir(out)
	if err != nil {
		t.Fatalf("read out dir: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("exports written = %d", len(files))
	}
	for _, f := range files {
		if !strings.HasPrefix(f.Name(), "dh_finance_budi_") {
			t.Fatalf("unexpected export %s", f.Name())
		}
	}
}

func TestRunUnknownUser(t *testing.T) {
	cfg := &config.Config{DBDriver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "ledger.db"), NumberFormat: "international"}
	var buf bytes.Buffer
	if err := run(context.Background(), cfg, &buf, "ghost", "", false, ""); err == nil {
		t.Fatalf("expected error for unknown user")
	}
}
