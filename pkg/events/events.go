// Package events publishes ledger changes to interested consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Kind names a ledger change.
type Kind string

const (
	TransactionCreated Kind = "transaction.created"
	TransactionDeleted Kind = "transaction.deleted"
	CurrencyChanged    Kind = "settings.currency_changed"
	LedgerRestored     Kind = "ledger.restored"
)

// Event is the JSON body of a published message. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind          Kind             `json:"kind"`
	Owner         string           `json:"owner"`
	TransactionID int64            `json:"transactionId,omitempty"`
	Type          string           `json:"type,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Currency      string           `json:"currency,omitempty"`
	Count         int              `json:"count,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON decodes a published message body.
func FromJSON(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
