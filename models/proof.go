package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Proof records an uploaded transfer receipt image and what OCR found in it.
type Proof struct {
	ID             uint                `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
	UserID         uint                `gorm:"not null;uniqueIndex:idx_proofs_user_file" json:"-"`
	User           *User               `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	FileName       string              `gorm:"size:255;not null;uniqueIndex:idx_proofs_user_file" json:"fileName"`
	StorePath      string              `gorm:"size:512;not null" json:"storePath"` // public path under /uploads
	ContentType    string              `gorm:"size:128" json:"contentType"`
	DetectedAmount decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"detectedAmount"`
	Confidence     float64             `json:"confidence"`
	// TransactionNumber links the ledger entry created from this proof, if any.
	TransactionNumber *int64 `json:"transactionId,omitempty"`
	// Failed marks OCR failures; the row is kept so the owner can review it.
	Failed       bool   `gorm:"default:false;index" json:"failed"`
	FailedReason string `gorm:"size:255" json:"failedReason,omitempty"`
}
