package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"dhfinance/pkg/config"
	"dhfinance/pkg/events"
	"dhfinance/pkg/ledger"
	"dhfinance/pkg/logging"
	"dhfinance/pkg/services"
	"dhfinance/pkg/store"
)

// ledger_report prints a user's totals and optionally writes the CSV and
// Word exports to disk.
func main() {
	username := flag.String("username", "demo", "username to report for")
	date := flag.String("date", "", "only include transactions on this day (YYYY-MM-DD)")
	list := flag.Bool("list", false, "list matching transactions")
	outDir := flag.String("out", "", "directory to write the CSV and Word exports to")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	cfg := config.Load()
	logger := logging.Setup(cfg.LogLevel, os.Stderr)

	if err := run(context.Background(), cfg, os.Stdout, *username, *date, *list, *outDir); err != nil {
		logger.Error("report failed", logging.FieldError, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, w io.Writer, username, date string, list bool, outDir string) error {
	nf, err := ledger.ParseNumberFormat(cfg.NumberFormat)
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, store.Options{
		Driver:      cfg.DBDriver,
		DSN:         cfg.DBDSN,
		SQLitePath:  cfg.SQLitePath,
		AutoMigrate: cfg.DBAutoMigrate,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	u, err := st.UserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("user %q: %w", username, err)
	}
	owner := services.Owner{ID: u.ID, Username: u.Username}
	svc := services.NewLedgerService(st, events.Nop{}, ledger.NewRenderer(nf), cfg.ExportPrefix)

	stats, err := svc.Stats(ctx, owner, date)
	if err != nil {
		return err
	}
	cur := ledger.Lookup(stats.Currency)
	scope := "all dates"
	if stats.Filtered {
		scope = stats.FilterDate
	}
	fmt.Fprintf(w, "Report for user=%s (%s):\n", owner.Username, scope)
	fmt.Fprintf(w, "  records=%d\n", stats.TransactionCount)
	fmt.Fprintf(w, "  income=%s\n", nf.Money(cur, stats.TotalIncome))
	fmt.Fprintf(w, "  expense=%s\n", nf.Money(cur, stats.TotalExpense))
	fmt.Fprintf(w, "  balance=%s\n", signed(nf, cur, stats.Balance))

	if list {
		txs, err := svc.List(ctx, owner, date)
		if err != nil {
			return err
		}
		for _, t := range txs {
			fmt.Fprintf(w, "%d|%s|%s|%s|%s|%s\n", t.ID, t.Date, t.Type, t.Amount.StringFixed(2), t.Description, t.ProofDetails)
		}
	}

	if outDir == "" {
		return nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, export := range []func(context.Context, services.Owner, string) (services.Export, error){svc.ExportCSV, svc.ExportWord} {
		exp, err := export(ctx, owner, date)
		if err != nil {
			return err
		}
		p := filepath.Join(outDir, exp.Filename)
		if err := os.WriteFile(p, exp.Body, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(w, "wrote %s\n", p)
	}
	return nil
}

func signed(nf ledger.NumberFormat, c ledger.Currency, d decimal.Decimal) string {
	if d.IsNegative() {
		return "-" + nf.Money(c, d.Abs())
	}
	return nf.Money(c, d)
}
