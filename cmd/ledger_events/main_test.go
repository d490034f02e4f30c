package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dhfinance/pkg/events"
)

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	handle := logEvent(slog.New(slog.NewTextHandler(&buf, nil)))
	amount := decimal.NewFromInt(125000)
	at := time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		e    events.Event
		want []string
	}{
		{"created", events.Event{Kind: events.TransactionCreated, Owner: "budi", TransactionID: 2, Type: "expense", Amount: &amount, Timestamp: at},
			[]string{"kind=transaction.created", "owner=budi", "transaction=2", "type=expense", "amount=125000"}},
		{"currency", events.Event{Kind: events.CurrencyChanged, Owner: "budi", Currency: "USD", Timestamp: at},
			[]string{"kind=settings.currency_changed", "currency=USD"}},
		{"restored", events.Event{Kind: events.LedgerRestored, Owner: "budi", Count: 3, Timestamp: at},
			[]string{"kind=ledger.restored", "count=3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			if err := handle(context.Background(), tt.e); err != nil {
				t.Fatalf("handle: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Fatalf("log %q missing %q", buf.String(), w)
				}
			}
		})
	}
}

func TestLogEventRejectsMalformed(t *testing.T) {
	handle := logEvent(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	for _, e := range []events.Event{{Owner: "budi"}, {Kind: events.TransactionDeleted}} {
		if err := handle(context.Background(), e); !errors.Is(err, errMalformedEvent) {
			t.Fatalf("handle(%+v) = %v", e, err)
		}
	}
}
