package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"dhfinance/pkg/config"
	"dhfinance/pkg/events"
	"dhfinance/pkg/logging"
)

// ledger_events consumes the ledger event queue and writes one log line per
// event. It is the reference consumer for AMQP_URL/AMQP_QUEUE.
func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	cfg := config.Load()
	logger := logging.Setup(cfg.LogLevel, nil)
	decimal.MarshalJSONWithoutQuotes = true

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is not set")
		os.Exit(1)
	}
	sub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("failed to connect to event broker", logging.FieldError, err)
		os.Exit(1)
	}
	defer sub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("consuming ledger events", "queue", cfg.AMQPQueue)
	if err := sub.Consume(ctx, logEvent(logging.For(logging.ComponentEvents))); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", logging.FieldError, err)
		os.Exit(1)
	}
}

var errMalformedEvent = errors.New("malformed ledger event")

// logEvent returns a handler that logs each event. Events without a kind or
// owner are rejected so the broker drops them.
func logEvent(log *slog.Logger) func(context.Context, events.Event) error {
	return func(ctx context.Context, e events.Event) error {
		if e.Kind == "" || e.Owner == "" {
			return fmt.Errorf("%w: kind=%q owner=%q", errMalformedEvent, e.Kind, e.Owner)
		}
		attrs := []any{"kind", e.Kind, logging.FieldOwner, e.Owner, "at", e.Timestamp}
		switch e.Kind {
		case events.TransactionCreated, events.TransactionDeleted:
			attrs = append(attrs, "transaction", e.TransactionID, "type", e.Type)
			if e.Amount != nil {
				attrs = append(attrs, logging.FieldAmount, e.Amount.String())
			}
		case events.CurrencyChanged:
			attrs = append(attrs, "currency", e.Currency)
		case events.LedgerRestored:
			attrs = append(attrs, "count", e.Count)
		}
		log.InfoContext(ctx, "ledger event", attrs...)
		return nil
	}
}
