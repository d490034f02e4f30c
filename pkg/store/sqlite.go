package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"dhfinance/models"
	"dhfinance/pkg/ledger"
	"dhfinance/pkg/logging"
)

const timeLayout = time.RFC3339Nano

// SQLiteStore is the single-file backend. It holds one connection, so all
// writes are serialized.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

// OpenSQLite creates the database file if needed and migrates it.
func OpenSQLite(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	if err := RunSQLiteMigrations(dbPath); err != nil {
		return nil, err
	}
	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &SQLiteStore{db: db, log: logging.For(logging.ComponentStore), now: time.Now}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) stamp() string { return s.now().UTC().Format(timeLayout) }

func (s *SQLiteStore) EnsureRole(ctx context.Context, name, description string) (models.Role, error) {
	now := s.stamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO roles (created_at, updated_at, name, description) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`, now, now, name, description)
	if err != nil {
		return models.Role{}, sqliteError(err)
	}
	return s.scanRole(s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at, name, description FROM roles WHERE name = ?`, name))
}

func (s *SQLiteStore) RoleByID(ctx context.Context, id uint) (models.Role, error) {
	return s.scanRole(s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at, name, description FROM roles WHERE id = ?`, id))
}

func (s *SQLiteStore) scanRole(row *sql.Row) (models.Role, error) {
	var (
		r                models.Role
		created, updated string
	)
	if err := row.Scan(&r.ID, &created, &updated, &r.Name, &r.Description); err != nil {
		return models.Role{}, sqliteError(err)
	}
	r.CreatedAt, r.UpdatedAt = parseTime(created), parseTime(updated)
	return r, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (created_at, updated_at, username, email, hashed_password, role_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		now.Format(timeLayout), now.Format(timeLayout), u.Username, u.Email, u.HashedPassword, nullUint(u.RoleID))
	if err != nil {
		return sqliteError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint(id)
	u.CreatedAt, u.UpdatedAt = now, now
	return nil
}

const userColumns = `id, created_at, updated_at, username, email, hashed_password, role_id, last_login`

func (s *SQLiteStore) UserByUsername(ctx context.Context, username string) (models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

func (s *SQLiteStore) UserByID(ctx context.Context, id uint) (models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func scanUser(row *sql.Row) (models.User, error) {
	var (
		u                models.User
		created, updated string
		roleID           sql.NullInt64
		lastLogin        sql.NullString
	)
	if err := row.Scan(&u.ID, &created, &updated, &u.Username, &u.Email, &u.HashedPassword, &roleID, &lastLogin); err != nil {
		return models.User{}, sqliteError(err)
	}
	u.CreatedAt, u.UpdatedAt = parseTime(created), parseTime(updated)
	if roleID.Valid {
		rid := uint(roleID.Int64)
		u.RoleID = &rid
	}
	if lastLogin.Valid {
		t := parseTime(lastLogin.String)
		u.LastLogin = &t
	}
	return u, nil
}

func (s *SQLiteStore) TouchLastLogin(ctx context.Context, id uint, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = ?, updated_at = ? WHERE id = ?`,
		at.UTC().Format(timeLayout), s.stamp(), id)
	return affectedOne(res, err)
}

func (s *SQLiteStore) CreateRefreshToken(ctx context.Context, rt *models.RefreshToken) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (created_at, updated_at, user_id, token_hash, expires_at, revoked)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		now.Format(timeLayout), now.Format(timeLayout), rt.UserID, rt.TokenHash, rt.ExpiresAt.UTC().Format(timeLayout), rt.Revoked)
	if err != nil {
		return sqliteError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rt.ID = uint(id)
	rt.CreatedAt, rt.UpdatedAt = now, now
	return nil
}

func (s *SQLiteStore) RefreshTokenByHash(ctx context.Context, hash string) (models.RefreshToken, error) {
	var (
		rt                        models.RefreshToken
		created, updated, expires string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at, user_id, token_hash, expires_at, revoked
		 FROM refresh_tokens WHERE token_hash = ?`, hash).
		Scan(&rt.ID, &created, &updated, &rt.UserID, &rt.TokenHash, &expires, &rt.Revoked)
	if err != nil {
		return models.RefreshToken{}, sqliteError(err)
	}
	rt.CreatedAt, rt.UpdatedAt, rt.ExpiresAt = parseTime(created), parseTime(updated), parseTime(expires)
	return rt, nil
}

func (s *SQLiteStore) RevokeRefreshToken(ctx context.Context, id uint) error {
	res, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = 1, updated_at = ? WHERE id = ?`, s.stamp(), id)
	return affectedOne(res, err)
}

const transactionColumns = `number, type, amount, description, date, has_proof, proof_details, created_at`

func scanTransaction(sc interface{ Scan(...any) error }) (ledger.Transaction, error) {
	var (
		t       ledger.Transaction
		typ     string
		amount  string
		created string
	)
	if err := sc.Scan(&t.ID, &typ, &amount, &t.Description, &t.Date, &t.HasProof, &t.ProofDetails, &created); err != nil {
		return ledger.Transaction{}, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction %d: bad amount %q: %w", t.ID, amount, err)
	}
	t.Type, t.Amount, t.CreatedAt = ledger.Type(typ), d, parseTime(created)
	return t, nil
}

func (s *SQLiteStore) Transactions(ctx context.Context, userID uint) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? ORDER BY number`, userID)
	if err != nil {
		return nil, sqliteError(err)
	}
	defer rows.Close()
	out := []ledger.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTransaction(ctx context.Context, db execer, userID uint, t ledger.Transaction) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO transactions (created_at, user_id, number, type, amount, description, date, has_proof, proof_details)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.CreatedAt.UTC().Format(timeLayout), userID, t.ID, string(t.Type), t.Amount.StringFixed(2),
		t.Description, t.Date, t.HasProof, t.ProofDetails)
	return err
}

func (s *SQLiteStore) AddTransaction(ctx context.Context, userID uint, t ledger.Transaction) (ledger.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists); err != nil {
		return ledger.Transaction{}, sqliteError(err)
	}
	var max int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(number), 0) FROM transactions WHERE user_id = ?`, userID).Scan(&max); err != nil {
		return ledger.Transaction{}, sqliteError(err)
	}
	t.ID = max + 1
	t.Amount = t.Amount.Round(2)
	if err := insertTransaction(ctx, tx, userID, t); err != nil {
		return ledger.Transaction{}, sqliteError(err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.Transaction{}, sqliteError(err)
	}
	return t, nil
}

func (s *SQLiteStore) DeleteTransaction(ctx context.Context, userID uint, id int64) (ledger.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer tx.Rollback()

	t, err := scanTransaction(tx.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? AND number = ?`, userID, id))
	if err != nil {
		return ledger.Transaction{}, sqliteError(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE user_id = ? AND number = ?`, userID, id); err != nil {
		return ledger.Transaction{}, sqliteError(err)
	}
	return t, sqliteError(tx.Commit())
}

func (s *SQLiteStore) ReplaceLedger(ctx context.Context, userID uint, currency string, txs []ledger.Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists); err != nil {
		return sqliteError(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE user_id = ?`, userID); err != nil {
		return sqliteError(err)
	}
	for _, t := range txs {
		if err := insertTransaction(ctx, tx, userID, t); err != nil {
			return sqliteError(err)
		}
	}
	if err := s.upsertCurrency(ctx, tx, userID, currency); err != nil {
		return sqliteError(err)
	}
	return sqliteError(tx.Commit())
}

func (s *SQLiteStore) upsertCurrency(ctx context.Context, db execer, userID uint, code string) error {
	now := s.stamp()
	_, err := db.ExecContext(ctx,
		`INSERT INTO settings (created_at, updated_at, user_id, currency) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET currency = excluded.currency, updated_at = excluded.updated_at`,
		now, now, userID, code)
	return err
}

func (s *SQLiteStore) Settings(ctx context.Context, userID uint) (models.Setting, error) {
	now := s.stamp()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (created_at, updated_at, user_id, currency) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO NOTHING`, now, now, userID, ledger.DefaultCurrency); err != nil {
		return models.Setting{}, sqliteError(err)
	}
	return s.readSettings(ctx, userID)
}

func (s *SQLiteStore) UpdateCurrency(ctx context.Context, userID uint, code string) (models.Setting, error) {
	if err := s.upsertCurrency(ctx, s.db, userID, code); err != nil {
		return models.Setting{}, sqliteError(err)
	}
	return s.readSettings(ctx, userID)
}

func (s *SQLiteStore) readSettings(ctx context.Context, userID uint) (models.Setting, error) {
	var (
		st               models.Setting
		created, updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at, user_id, currency FROM settings WHERE user_id = ?`, userID).
		Scan(&st.ID, &created, &updated, &st.UserID, &st.Currency)
	if err != nil {
		return models.Setting{}, sqliteError(err)
	}
	st.CreatedAt, st.UpdatedAt = parseTime(created), parseTime(updated)
	return st, nil
}

func (s *SQLiteStore) CreateProof(ctx context.Context, p *models.Proof) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO proofs (created_at, updated_at, user_id, file_name, store_path, content_type,
		     detected_amount, confidence, transaction_number, failed, failed_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		now.Format(timeLayout), now.Format(timeLayout), p.UserID, p.FileName, p.StorePath, p.ContentType,
		nullDecimal(p.DetectedAmount), p.Confidence, nullInt64(p.TransactionNumber), p.Failed, p.FailedReason)
	if err != nil {
		return sqliteError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint(id)
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

func (s *SQLiteStore) UpdateProof(ctx context.Context, p *models.Proof) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE proofs SET updated_at = ?, store_path = ?, content_type = ?, detected_amount = ?,
		     confidence = ?, transaction_number = ?, failed = ?, failed_reason = ?
		 WHERE id = ? AND user_id = ?`,
		now.Format(timeLayout), p.StorePath, p.ContentType, nullDecimal(p.DetectedAmount),
		p.Confidence, nullInt64(p.TransactionNumber), p.Failed, p.FailedReason, p.ID, p.UserID)
	if err := affectedOne(res, err); err != nil {
		return err
	}
	p.UpdatedAt = now
	return nil
}

const proofColumns = `id, created_at, updated_at, user_id, file_name, store_path, content_type,
	detected_amount, confidence, transaction_number, failed, failed_reason`

func scanProof(sc interface{ Scan(...any) error }) (models.Proof, error) {
	var (
		p                models.Proof
		created, updated string
		amount           sql.NullString
		number           sql.NullInt64
	)
	err := sc.Scan(&p.ID, &created, &updated, &p.UserID, &p.FileName, &p.StorePath, &p.ContentType,
		&amount, &p.Confidence, &number, &p.Failed, &p.FailedReason)
	if err != nil {
		return models.Proof{}, err
	}
	p.CreatedAt, p.UpdatedAt = parseTime(created), parseTime(updated)
	if amount.Valid {
		if d, err := decimal.NewFromString(amount.String); err == nil {
			p.DetectedAmount = decimal.NewNullDecimal(d)
		}
	}
	if number.Valid {
		n := number.Int64
		p.TransactionNumber = &n
	}
	return p, nil
}

func (s *SQLiteStore) Proofs(ctx context.Context, userID uint) ([]models.Proof, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+proofColumns+` FROM proofs WHERE user_id = ? ORDER BY id DESC LIMIT 200`, userID)
	if err != nil {
		return nil, sqliteError(err)
	}
	defer rows.Close()
	out := []models.Proof{}
	for rows.Next() {
		p, err := scanProof(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ProofByFileName(ctx context.Context, userID uint, fileName string) (models.Proof, error) {
	p, err := scanProof(s.db.QueryRowContext(ctx,
		`SELECT `+proofColumns+` FROM proofs WHERE user_id = ? AND file_name = ?`, userID, fileName))
	return p, sqliteError(err)
}

func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM users), (SELECT COUNT(*) FROM transactions)`).
		Scan(&c.Users, &c.Transactions)
	return c, sqliteError(err)
}

// sqliteError translates driver errors into the package sentinels.
func sqliteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}
	return err
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return sqliteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullUint(v *uint) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullDecimal(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.StringFixed(2)
}
