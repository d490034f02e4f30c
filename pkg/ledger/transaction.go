package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type is the direction of a transaction.
type Type string

const (
	Income  Type = "income"
	Expense Type = "expense"
)

// Label is the Indonesian label used in exported documents.
func (t Type) Label() string {
	if t == Income {
		return "Uang Masuk"
	}
	return "Uang Keluar"
}

const (
	// DateLayout is the storage and filter format of Transaction.Date.
	DateLayout = "2006-01-02"

	DescriptionPlaceholder = "Tanpa keterangan"
	NoProofPlaceholder     = "Tidak ada bukti transfer"
)

// Transaction is one normalized ledger entry of an owner.
type Transaction struct {
	ID           int64           `json:"id"`
	Type         Type            `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	Date         string          `json:"date"`
	HasProof     bool            `json:"hasProof"`
	ProofDetails string          `json:"proofDetails"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// NextID returns max(ids)+1, or 1 for an empty ledger.
func NextID(txs []Transaction) int64 {
	var max int64
	for _, t := range txs {
		if t.ID > max {
			max = t.ID
		}
	}
	return max + 1
}
