package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"dhfinance/pkg/auth"
	"dhfinance/pkg/config"
	"dhfinance/pkg/events"
	"dhfinance/pkg/ledger"
	"dhfinance/pkg/logging"
	"dhfinance/pkg/ocr"
	"dhfinance/pkg/services"
	"dhfinance/pkg/store"
)

func init() {
	// amounts are JSON numbers on the wire
	decimal.MarshalJSONWithoutQuotes = true
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	cfg := config.Load()
	logger := logging.Setup(cfg.LogLevel, nil)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", logging.FieldError, err)
		os.Exit(1)
	}
	if cfg.UsesDevSecret() {
		logger.Warn("JWT_SECRET is not set, using the development secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[1:]); err != nil {
		logger.Error("fatal", logging.FieldError, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, args []string) error {
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

	pub, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	defer pub.Close()

	a, err := newApp(cfg, st, pub)
	if err != nil {
		return err
	}

	// `dhfinance migrate` applies migrations and seeds, then exits.
	if len(args) > 0 && args[0] == "migrate" {
		if err := a.seed(ctx); err != nil {
			return err
		}
		fmt.Println("migration and seeding completed")
		return nil
	}
	if err := a.seed(ctx); err != nil {
		return err
	}

	gin.SetMode(cfg.GinMode)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", srv.Addr, "store", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	if cfg.AMQPURL == "" {
		return events.Nop{}, nil
	}
	pub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		return nil, fmt.Errorf("connect event broker: %w", err)
	}
	return pub, nil
}

// app carries the dependencies of the HTTP handlers.
type app struct {
	cfg       *config.Config
	store     store.Store
	auth      *auth.Service
	ledger    *services.LedgerService
	extractor *ocr.Extractor // nil when OCR is disabled
	log       *slog.Logger
	now       func() time.Time
}

func newApp(cfg *config.Config, st store.Store, pub events.Publisher) (*app, error) {
	nf, err := ledger.ParseNumberFormat(cfg.NumberFormat)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:   cfg,
		store: st,
		auth: auth.NewService(st, auth.Options{
			Secret:     cfg.JWTSecret,
			AccessTTL:  cfg.AccessTokenTTL,
			RefreshTTL: cfg.RefreshTokenTTL,
		}),
		ledger: services.NewLedgerService(st, pub, ledger.NewRenderer(nf), cfg.ExportPrefix),
		log:    logging.For(logging.ComponentApp),
		now:    time.Now,
	}
	if cfg.OCREnabled {
		a.extractor = ocr.NewExtractor(ocr.Tesseract{})
	}
	return a, nil
}
