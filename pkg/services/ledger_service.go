// Package services orchestrates ledger operations across the store, the
// ledger engine and the event publisher.
package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dhfinance/models"
	"dhfinance/pkg/events"
	"dhfinance/pkg/ledger"
	"dhfinance/pkg/logging"
	"dhfinance/pkg/store"
)

// Owner identifies whose ledger an operation acts on.
type Owner struct {
	ID       uint
	Username string
}

// Export is a rendered document ready to be sent as an attachment.
type Export struct {
	Filename    string
	ContentType string
	Body        []byte
}

// LedgerService saves to the store first and then publishes a change event.
// Publish failures are logged and never fail the request.
type LedgerService struct {
	store     store.LedgerStore
	publisher events.Publisher
	renderer  *ledger.Renderer
	prefix    string
	now       func() time.Time
	log       *slog.Logger
}

func NewLedgerService(st store.LedgerStore, pub events.Publisher, r *ledger.Renderer, filePrefix string) *LedgerService {
	if pub == nil {
		pub = events.Nop{}
	}
	if r == nil {
		r = ledger.NewRenderer(ledger.International)
	}
	if filePrefix == "" {
		filePrefix = ledger.DefaultFilePrefix
	}
	return &LedgerService{
		store:     st,
		publisher: pub,
		renderer:  r,
		prefix:    filePrefix,
		now:       time.Now,
		log:       logging.For(logging.ComponentLedger),
	}
}

// WithClock replaces the time source. Used by tests and the importer.
func (s *LedgerService) WithClock(now func() time.Time) *LedgerService {
	s.now = now
	return s
}

func checkOwner(o Owner) error {
	if o.ID == 0 || strings.TrimSpace(o.Username) == "" {
		return fmt.Errorf("%w: missing owner", ledger.ErrInvalidInput)
	}
	return nil
}

// List returns the owner's transactions, restricted to filterDate when set.
func (s *LedgerService) List(ctx context.Context, o Owner, filterDate string) ([]ledger.Transaction, error) {
	if err := checkOwner(o); err != nil {
		return nil, err
	}
	txs, err := s.store.Transactions(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	return ledger.Filter(txs, filterDate), nil
}

// Add validates p and stores it with the next id of the owner's ledger.
func (s *LedgerService) Add(ctx context.Context, o Owner, p ledger.Payload) (ledger.Transaction, error) {
	if err := checkOwner(o); err != nil {
		return ledger.Transaction{}, err
	}
	t, err := ledger.Normalize(p, s.now())
	if err != nil {
		return ledger.Transaction{}, err
	}
	t, err = s.store.AddTransaction(ctx, o.ID, t)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}
	amount := t.Amount
	s.publish(ctx, events.Event{
		Kind:          events.TransactionCreated,
		Owner:         o.Username,
		TransactionID: t.ID,
		Type:          string(t.Type),
		Amount:        &amount,
	})
	return t, nil
}

// Delete removes transaction id from the owner's ledger and returns it.
func (s *LedgerService) Delete(ctx context.Context, o Owner, id int64) (ledger.Transaction, error) {
	if err := checkOwner(o); err != nil {
		return ledger.Transaction{}, err
	}
	if id <= 0 {
		return ledger.Transaction{}, fmt.Errorf("%w: transaction id must be positive", ledger.ErrInvalidInput)
	}
	t, err := s.store.DeleteTransaction(ctx, o.ID, id)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("delete transaction %d: %w", id, err)
	}
	amount := t.Amount
	s.publish(ctx, events.Event{
		Kind:          events.TransactionDeleted,
		Owner:         o.Username,
		TransactionID: t.ID,
		Type:          string(t.Type),
		Amount:        &amount,
	})
	return t, nil
}

// Stats aggregates the owner's ledger in the owner's currency.
func (s *LedgerService) Stats(ctx context.Context, o Owner, filterDate string) (ledger.Stats, error) {
	txs, cur, err := s.load(ctx, o)
	if err != nil {
		return ledger.Stats{}, err
	}
	st := ledger.Aggregate(txs, filterDate)
	st.Currency = cur.Code
	return st, nil
}

func (s *LedgerService) load(ctx context.Context, o Owner) ([]ledger.Transaction, ledger.Currency, error) {
	if err := checkOwner(o); err != nil {
		return nil, ledger.Currency{}, err
	}
	txs, err := s.store.Transactions(ctx, o.ID)
	if err != nil {
		return nil, ledger.Currency{}, fmt.Errorf("load transactions: %w", err)
	}
	set, err := s.store.Settings(ctx, o.ID)
	if err != nil {
		return nil, ledger.Currency{}, fmt.Errorf("load settings: %w", err)
	}
	return txs, ledger.Lookup(set.Currency), nil
}

// Settings returns the owner's settings, creating the default on first use.
func (s *LedgerService) Settings(ctx context.Context, o Owner) (models.Setting, error) {
	if err := checkOwner(o); err != nil {
		return models.Setting{}, err
	}
	set, err := s.store.Settings(ctx, o.ID)
	if err != nil {
		return models.Setting{}, fmt.Errorf("load settings: %w", err)
	}
	return set, nil
}

// UpdateCurrency changes the owner's currency. Codes outside the catalog are
// rejected with ledger.ErrUnknownCurrency.
func (s *LedgerService) UpdateCurrency(ctx context.Context, o Owner, code string) (models.Setting, error) {
	if err := checkOwner(o); err != nil {
		return models.Setting{}, err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return models.Setting{}, fmt.Errorf("%w: currency is required", ledger.ErrInvalidInput)
	}
	if !ledger.IsKnownCurrency(code) {
		return models.Setting{}, fmt.Errorf("%w (got %q)", ledger.ErrUnknownCurrency, code)
	}
	set, err := s.store.UpdateCurrency(ctx, o.ID, code)
	if err != nil {
		return models.Setting{}, fmt.Errorf("update currency: %w", err)
	}
	s.publish(ctx, events.Event{Kind: events.CurrencyChanged, Owner: o.Username, Currency: code})
	return set, nil
}

// ExportCSV renders the filtered ledger as a spreadsheet-friendly CSV.
func (s *LedgerService) ExportCSV(ctx context.Context, o Owner, filterDate string) (Export, error) {
	txs, cur, err := s.load(ctx, o)
	if err != nil {
		return Export{}, err
	}
	var buf bytes.Buffer
	if err := s.renderer.RenderCSV(&buf, ledger.Filter(txs, filterDate), cur.Code); err != nil {
		return Export{}, fmt.Errorf("render csv: %w", err)
	}
	return Export{
		Filename:    ledger.Filename(s.prefix, o.Username, filterDate, s.now(), "csv"),
		ContentType: ledger.CSVContentType,
		Body:        buf.Bytes(),
	}, nil
}

// ExportWord renders the filtered ledger as an HTML document Word opens.
func (s *LedgerService) ExportWord(ctx context.Context, o Owner, filterDate string) (Export, error) {
	txs, cur, err := s.load(ctx, o)
	if err != nil {
		return Export{}, err
	}
	now := s.now()
	stats := ledger.Aggregate(txs, filterDate)
	stats.Currency = cur.Code
	rep := ledger.Report{
		Owner:        o.Username,
		Currency:     cur,
		Transactions: ledger.Filter(txs, filterDate),
		Stats:        stats,
		FilterDate:   strings.TrimSpace(filterDate),
		GeneratedAt:  now,
	}
	var buf bytes.Buffer
	if err := s.renderer.RenderWord(&buf, rep); err != nil {
		return Export{}, fmt.Errorf("render word: %w", err)
	}
	return Export{
		Filename:    ledger.Filename(s.prefix, o.Username, filterDate, now, "doc"),
		ContentType: ledger.WordContentType,
		Body:        buf.Bytes(),
	}, nil
}

func (s *LedgerService) publish(ctx context.Context, e events.Event) {
	e.Timestamp = s.now().UTC()
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log.ErrorContext(ctx, "publish event failed",
			"kind", e.Kind,
			logging.FieldOwner, e.Owner,
			logging.FieldError, err)
	}
}
