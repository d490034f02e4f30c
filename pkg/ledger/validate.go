package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Payload is the raw transaction body accepted from clients. Amount may be a
// JSON number or a numeric string.
type Payload struct {
	Type         string  `json:"type"`
	Amount       any     `json:"amount"`
	Description  *string `json:"description"`
	Date         string  `json:"date"`
	HasProof     bool    `json:"hasProof"`
	ProofDetails string  `json:"proofDetails"`
}

// Normalize turns a payload into a Transaction ready to be stored. Absent
// fields take their defaults; present but malformed fields are rejected with
// an error wrapping ErrValidation. The ID is left for the store to assign.
func Normalize(p Payload, now time.Time) (Transaction, error) {
	typ, err := ParseType(p.Type)
	if err != nil {
		return Transaction{}, err
	}
	amount, err := ParseAmount(p.Amount)
	if err != nil {
		return Transaction{}, err
	}
	date, err := normalizeDate(p.Date, now)
	if err != nil {
		return Transaction{}, err
	}
	desc := DescriptionPlaceholder
	if p.Description != nil && strings.TrimSpace(*p.Description) != "" {
		desc = strings.TrimSpace(*p.Description)
	}
	return Transaction{
		Type:         typ,
		Amount:       amount,
		Description:  desc,
		Date:         date,
		HasProof:     p.HasProof,
		ProofDetails: NormalizeProof(p.HasProof, p.ProofDetails),
		CreatedAt:    now,
	}, nil
}

// ParseType maps a client type string to a Type. Blank means expense.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return Expense, nil
	case string(Income):
		return Income, nil
	case string(Expense):
		return Expense, nil
	}
	return "", fmt.Errorf("%w (got %q)", ErrInvalidType, s)
}

// ParseAmount converts a decoded JSON value into a non-negative amount rounded
// to two decimal places. nil and blank strings mean zero.
func ParseAmount(v any) (decimal.Decimal, error) {
	var (
		d   decimal.Decimal
		err error
	)
	switch x := v.(type) {
	case nil:
		return decimal.Zero, nil
	case float64:
		d = decimal.NewFromFloat(x)
	case float32:
		d = decimal.NewFromFloat32(x)
	case int:
		d = decimal.NewFromInt(int64(x))
	case int64:
		d = decimal.NewFromInt(x)
	case json.Number:
		d, err = decimal.NewFromString(x.String())
	case decimal.Decimal:
		d = x
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return decimal.Zero, nil
		}
		d, err = decimal.NewFromString(s)
	default:
		return decimal.Zero, fmt.Errorf("%w (got %T)", ErrInvalidAmount, v)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w (got %v)", ErrInvalidAmount, v)
	}
	if d.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	if !inAmountRange(d) {
		return decimal.Zero, fmt.Errorf("%w (more than %d integer digits)", ErrInvalidAmount, MaxAmountDigits)
	}
	return d.Round(2), nil
}

// MaxAmountDigits is the number of integer digits an amount may have; stores
// keep amounts as numeric(20,2).
const MaxAmountDigits = 18

// maxFractionExp bounds how far below the cents an input may reach before it
// is rounded.
const maxFractionExp = -32

// inAmountRange checks magnitude from coefficient and exponent alone, so a
// short literal such as 1e2000000 is never expanded.
func inAmountRange(d decimal.Decimal) bool {
	if d.IsZero() {
		return true
	}
	exp := d.Exponent()
	if exp < maxFractionExp {
		return false
	}
	digits := len(d.Coefficient().String())
	if d.Coefficient().Sign() < 0 {
		digits--
	}
	return digits+int(exp) <= MaxAmountDigits
}

// NormalizeProof applies the proof rules: a scheme-less detail gets https://
// when proof is claimed, and the placeholder replaces anything otherwise.
func NormalizeProof(hasProof bool, details string) string {
	if !hasProof {
		return NoProofPlaceholder
	}
	details = strings.TrimSpace(details)
	if details == "" {
		return details
	}
	low := strings.ToLower(details)
	if strings.HasPrefix(low, "http://") || strings.HasPrefix(low, "https://") {
		return details
	}
	return "https://" + details
}

func normalizeDate(s string, now time.Time) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now.Format(DateLayout), nil
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", fmt.Errorf("%w (got %q)", ErrInvalidDate, s)
	}
	return s, nil
}
