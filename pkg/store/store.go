// Package store persists users, tokens, ledgers, settings and proofs.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dhfinance/models"
	"dhfinance/pkg/ledger"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("record already exists")
)

type RoleStore interface {
	// EnsureRole returns the role called name, creating it when missing.
	EnsureRole(ctx context.Context, name, description string) (models.Role, error)
	RoleByID(ctx context.Context, id uint) (models.Role, error)
}

type UserStore interface {
	// CreateUser inserts u and sets its ID. Duplicate usernames give ErrConflict.
	CreateUser(ctx context.Context, u *models.User) error
	UserByUsername(ctx context.Context, username string) (models.User, error)
	UserByID(ctx context.Context, id uint) (models.User, error)
	TouchLastLogin(ctx context.Context, id uint, at time.Time) error
}

type TokenStore interface {
	CreateRefreshToken(ctx context.Context, rt *models.RefreshToken) error
	RefreshTokenByHash(ctx context.Context, hash string) (models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id uint) error
}

// LedgerStore keeps each owner's transactions and settings. Writes for one
// owner are serialized so ids stay unique.
type LedgerStore interface {
	// Transactions returns the owner's ledger ordered by id.
	Transactions(ctx context.Context, userID uint) ([]ledger.Transaction, error)
	// AddTransaction stores t with id max(existing)+1 and returns it.
	AddTransaction(ctx context.Context, userID uint, t ledger.Transaction) (ledger.Transaction, error)
	// DeleteTransaction removes one entry permanently and returns it.
	DeleteTransaction(ctx context.Context, userID uint, id int64) (ledger.Transaction, error)
	// ReplaceLedger swaps the owner's transactions and currency in one
	// database transaction, keeping the given ids and timestamps.
	ReplaceLedger(ctx context.Context, userID uint, currency string, txs []ledger.Transaction) error

	// Settings returns the owner's settings, creating the IDR default on
	// first access.
	Settings(ctx context.Context, userID uint) (models.Setting, error)
	UpdateCurrency(ctx context.Context, userID uint, code string) (models.Setting, error)
}

type ProofStore interface {
	CreateProof(ctx context.Context, p *models.Proof) error
	UpdateProof(ctx context.Context, p *models.Proof) error
	Proofs(ctx context.Context, userID uint) ([]models.Proof, error)
	ProofByFileName(ctx context.Context, userID uint, fileName string) (models.Proof, error)
}

// Counts summarises table sizes for the health endpoint.
type Counts struct {
	Users        int64 `json:"users"`
	Transactions int64 `json:"transactions"`
}

// Store is implemented by every backend.
type Store interface {
	RoleStore
	UserStore
	TokenStore
	LedgerStore
	ProofStore

	Counts(ctx context.Context) (Counts, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options select and configure a backend.
type Options struct {
	Driver      string // postgres or sqlite
	DSN         string
	SQLitePath  string
	AutoMigrate bool
}

// Open connects to the configured backend and applies its migrations.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "postgres":
		return OpenPostgres(ctx, opts.DSN, opts.AutoMigrate)
	case "sqlite":
		return OpenSQLite(ctx, opts.SQLitePath)
	}
	return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
}
