package models

import (
	"time"

	"github.com/shopspring/decimal"

	"dhfinance/pkg/ledger"
)

// Transaction is the stored form of a ledger entry. Number is the per-owner
// id exposed to clients; ID is the table's surrogate key.
type Transaction struct {
	ID           uint `gorm:"primaryKey"`
	CreatedAt    time.Time
	UserID       uint            `gorm:"not null;uniqueIndex:idx_transactions_user_number;index:idx_transactions_user_date"`
	User         *User           `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Number       int64           `gorm:"not null;uniqueIndex:idx_transactions_user_number"`
	Type         string          `gorm:"size:16;not null"`
	Amount       decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Description  string          `gorm:"size:500"`
	Date         string          `gorm:"size:10;not null;index:idx_transactions_user_date"`
	HasProof     bool            `gorm:"not null;default:false"`
	ProofDetails string          `gorm:"size:1024"`
}

// Ledger converts the row to the engine type.
func (t Transaction) Ledger() ledger.Transaction {
	return ledger.Transaction{
		ID:           t.Number,
		Type:         ledger.Type(t.Type),
		Amount:       t.Amount,
		Description:  t.Description,
		Date:         t.Date,
		HasProof:     t.HasProof,
		ProofDetails: t.ProofDetails,
		CreatedAt:    t.CreatedAt,
	}
}

// TransactionFromLedger builds a row for userID, keeping lt.ID as Number.
func TransactionFromLedger(userID uint, lt ledger.Transaction) Transaction {
	return Transaction{
		CreatedAt:    lt.CreatedAt,
		UserID:       userID,
		Number:       lt.ID,
		Type:         string(lt.Type),
		Amount:       lt.Amount,
		Description:  lt.Description,
		Date:         lt.Date,
		HasProof:     lt.HasProof,
		ProofDetails: lt.ProofDetails,
	}
}
