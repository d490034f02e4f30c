package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/shopspring/decimal"

	"dhfinance/pkg/config"
	"dhfinance/pkg/events"
	"dhfinance/pkg/importer"
	"dhfinance/pkg/ledger"
	"dhfinance/pkg/logging"
	"dhfinance/pkg/ocr"
	"dhfinance/pkg/services"
	"dhfinance/pkg/store"
)

// proof_import scans a directory of transfer-proof images, reads each amount
// by OCR and records it as an expense of the given user. With -watch it keeps
// importing files as they appear.
func main() {
	username := flag.String("username", "admin", "user the expenses are recorded for")
	dir := flag.String("dir", "", "directory to scan (default UPLOAD_BASE/<username>)")
	baseURL := flag.String("base-url", "", "public URL of the server, used in proof links (default http://localhost:PORT)")
	dryRun := flag.Bool("dry-run", false, "only report what would be imported; no database writes")
	watch := flag.Bool("watch", false, "keep watching the directory for new files")
	workers := flag.Int("workers", 0, "worker pool size (default NumCPU)")
	lang := flag.String("lang", "", "tesseract language (default eng)")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	cfg := config.Load()
	logger := logging.Setup(cfg.LogLevel, nil)
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Options{
		Driver:      cfg.DBDriver,
		DSN:         cfg.DBDSN,
		SQLitePath:  cfg.SQLitePath,
		AutoMigrate: cfg.DBAutoMigrate,
	})
	if err != nil {
		logger.Error("failed to open store", logging.FieldError, err)
		os.Exit(1)
	}
	defer st.Close()

	u, err := st.UserByUsername(ctx, *username)
	if err != nil {
		logger.Error("user not found", logging.FieldOwner, *username, logging.FieldError, err)
		os.Exit(1)
	}
	owner := services.Owner{ID: u.ID, Username: u.Username}

	pub := events.Publisher(events.Nop{})
	if cfg.AMQPURL != "" {
		if p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue); err != nil {
			logger.Warn("event broker unavailable, continuing without events", logging.FieldError, err)
		} else {
			pub = p
		}
	}
	defer pub.Close()

	nf, err := ledger.ParseNumberFormat(cfg.NumberFormat)
	if err != nil {
		logger.Error("invalid number format", logging.FieldError, err)
		os.Exit(1)
	}
	svc := services.NewLedgerService(st, pub, ledger.NewRenderer(nf), cfg.ExportPrefix)

	if *dir == "" {
		*dir = filepath.Join(cfg.UploadBase, owner.Username)
	}
	if *baseURL == "" {
		*baseURL = "http://localhost:" + cfg.Port
	}
	im := importer.New(st, svc, ocr.NewExtractor(ocr.Tesseract{Language: *lang}), owner, importer.Options{
		Dir:           *dir,
		PublicPath:    "/uploads/" + owner.Username,
		BaseURL:       *baseURL,
		MinConfidence: cfg.OCRMinConfidence,
		Workers:       *workers,
		DryRun:        *dryRun,
	})

	if err := im.Preload(ctx); err != nil {
		logger.Error("preload failed", logging.FieldError, err)
		os.Exit(1)
	}
	sum, err := im.Scan(ctx)
	if err != nil {
		logger.Error("scan failed", logging.FieldError, err)
		os.Exit(1)
	}
	logger.Info("scan finished",
		"imported", sum.Imported,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"simulated", sum.Simulated)

	if *watch {
		if err := im.Watch(ctx); err != nil {
			logger.Error("watch failed", logging.FieldError, err)
			os.Exit(1)
		}
	}
}
