package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dhfinance/models"
	"dhfinance/pkg/ledger"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createUser(t *testing.T, s Store, name string) models.User {
	t.Helper()
	ctx := context.Background()
	role, err := s.EnsureRole(ctx, models.RoleUser, "regular user")
	if err != nil {
		t.Fatalf("ensure role: %v", err)
	}
	u := models.User{Username: name, HashedPassword: []byte("hash"), RoleID: &role.ID}
	if err := s.CreateUser(ctx, &u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func expense(amount string) ledger.Transaction {
	return ledger.Transaction{
		Type:         ledger.Expense,
		Amount:       decimal.RequireFromString(amount),
		Description:  "kopi",
		Date:         "2025-03-01",
		ProofDetails: ledger.NoProofPlaceholder,
		CreatedAt:    time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestSQLiteUsersAndRoles(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	r1, err := s.EnsureRole(ctx, models.RoleAdministrator, "full access")
	if err != nil {
		t.Fatalf("ensure role: %v", err)
	}
	r2, err := s.EnsureRole(ctx, models.RoleAdministrator, "ignored")
	if err != nil || r2.ID != r1.ID || r2.Description != "full access" {
		t.Fatalf("EnsureRole not idempotent: %+v %+v %v", r1, r2, err)
	}

	u := createUser(t, s, "budi")
	dup := models.User{Username: "budi", HashedPassword: []byte("x")}
	if err := s.CreateUser(ctx, &dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate user err = %v, want ErrConflict", err)
	}

	got, err := s.UserByUsername(ctx, "budi")
	if err != nil || got.ID != u.ID || got.RoleID == nil || string(got.HashedPassword) != "hash" {
		t.Fatalf("UserByUsername = %+v, %v", got, err)
	}
	if _, err := s.UserByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing user err = %v", err)
	}

	at := time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC)
	if err := s.TouchLastLogin(ctx, u.ID, at); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _ = s.UserByID(ctx, u.ID)
	if got.LastLogin == nil || !got.LastLogin.Equal(at) {
		t.Fatalf("last login = %v", got.LastLogin)
	}
}

func TestSQLiteRefreshTokens(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	u := createUser(t, s, "budi")

	rt := models.RefreshToken{UserID: u.ID, TokenHash: "abc", ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.CreateRefreshToken(ctx, &rt); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.RefreshTokenByHash(ctx, "abc")
	if err != nil || got.ID != rt.ID || !got.Usable(time.Now()) {
		t.Fatalf("lookup = %+v, %v", got, err)
	}
	if err := s.RevokeRefreshToken(ctx, rt.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	got, _ = s.RefreshTokenByHash(ctx, "abc")
	if got.Usable(time.Now()) {
		t.Fatalf("revoked token still usable")
	}
	if err := s.RevokeRefreshToken(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("revoke missing err = %v", err)
	}
}

func TestSQLiteTransactionIDs(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	u := createUser(t, s, "budi")
	other := createUser(t, s, "sari")

	for i, want := range []int64{1, 2, 3} {
		got, err := s.AddTransaction(ctx, u.ID, expense("1000"))
		if err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
		if got.ID != want {
			t.Fatalf("add %d: id %d, want %d", i, got.ID, want)
		}
	}
	// ids are per owner
	if got, _ := s.AddTransaction(ctx, other.ID, expense("5")); got.ID != 1 {
		t.Fatalf("other owner first id = %d", got.ID)
	}

	deleted, err := s.DeleteTransaction(ctx, u.ID, 2)
	if err != nil || deleted.ID != 2 {
		t.Fatalf("delete = %+v, %v", deleted, err)
	}
	if _, err := s.DeleteTransaction(ctx, u.ID, 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
	if _, err := s.DeleteTransaction(ctx, other.ID, 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-owner delete err = %v", err)
	}
	// max remaining is 3, so the next id is 4
	if got, _ := s.AddTransaction(ctx, u.ID, expense("1")); got.ID != 4 {
		t.Fatalf("id after delete = %d, want 4", got.ID)
	}

	txs, err := s.Transactions(ctx, u.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []int64
	for _, tx := range txs {
		ids = append(ids, tx.ID)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 3 || ids[2] != 4 {
		t.Fatalf("ids = %v", ids)
	}
	if !txs[0].Amount.Equal(decimal.RequireFromString("1000")) || txs[0].Description != "kopi" {
		t.Fatalf("round trip lost fields: %+v", txs[0])
	}
	if !txs[0].CreatedAt.Equal(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("created at = %v", txs[0].CreatedAt)
	}
}

func TestSQLiteConcurrentAddsKeepIDsUnique(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	u := createUser(t, s, "budi")

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AddTransaction(ctx, u.ID, expense("1")); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent add: %v", err)
	}
	txs, _ := s.Transactions(ctx, u.ID)
	if len(txs) != n || txs[n-1].ID != n {
		t.Fatalf("got %d transactions, last id %d", len(txs), txs[len(txs)-1].ID)
	}
}

func TestSQLiteAddForMissingOwner(t *testing.T) {
	s := newSQLiteStore(t)
	if _, err := s.AddTransaction(context.Background(), 42, expense("1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteSettings(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	u := createUser(t, s, "budi")

	st, err := s.Settings(ctx, u.ID)
	if err != nil || st.Currency != "IDR" {
		t.Fatalf("lazy settings = %+v, %v", st, err)
	}
	st, err = s.UpdateCurrency(ctx, u.ID, "USD")
	if err != nil || st.Currency != "USD" {
		t.Fatalf("update = %+v, %v", st, err)
	}
	st, _ = s.Settings(ctx, u.ID)
	if st.Currency != "USD" {
		t.Fatalf("settings reset to %q", st.Currency)
	}
}

func TestSQLiteReplaceLedger(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	u := createUser(t, s, "budi")
	for i := 0; i < 3; i++ {
		s.AddTransaction(ctx, u.ID, expense("10"))
	}

	restored := []ledger.Transaction{expense("7"), expense("8")}
	restored[0].ID, restored[1].ID = 10, 12
	if err := s.ReplaceLedger(ctx, u.ID, "EUR", restored); err != nil {
		t.Fatalf("replace: %v", err)
	}
	txs, _ := s.Transactions(ctx, u.ID)
	if len(txs) != 2 || txs[0].ID != 10 || txs[1].ID != 12 {
		t.Fatalf("restored ledger = %+v", txs)
	}
	if st, _ := s.Settings(ctx, u.ID); st.Currency != "EUR" {
		t.Fatalf("currency = %q", st.Currency)
	}
	if got, _ := s.AddTransaction(ctx, u.ID, expense("1")); got.ID != 13 {
		t.Fatalf("next id after restore = %d", got.ID)
	}

	dup := []ledger.Transaction{expense("1"), expense("2")}
	dup[0].ID, dup[1].ID = 5, 5
	if err := s.ReplaceLedger(ctx, u.ID, "IDR", dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate ids err = %v", err)
	}
	if txs, _ := s.Transactions(ctx, u.ID); len(txs) != 3 {
		t.Fatalf("failed restore was not rolled back: %d rows", len(txs))
	}
}

func TestSQLiteProofs(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	u := createUser(t, s, "budi")

	p := models.Proof{UserID: u.ID, FileName: "struk.jpg", StorePath: "/uploads/budi/struk.jpg", ContentType: "image/jpeg"}
	if err := s.CreateProof(ctx, &p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateProof(ctx, &models.Proof{UserID: u.ID, FileName: "struk.jpg", StorePath: "x"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate proof err = %v", err)
	}
	n := int64(4)
	p.DetectedAmount = decimal.NewNullDecimal(decimal.RequireFromString("600000"))
	p.Confidence = 0.85
	p.TransactionNumber = &n
	if err := s.UpdateProof(ctx, &p); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.ProofByFileName(ctx, u.ID, "struk.jpg")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !got.DetectedAmount.Valid || !got.DetectedAmount.Decimal.Equal(decimal.RequireFromString("600000")) {
		t.Fatalf("detected amount = %+v", got.DetectedAmount)
	}
	if got.TransactionNumber == nil || *got.TransactionNumber != 4 {
		t.Fatalf("transaction number = %v", got.TransactionNumber)
	}
	list, _ := s.Proofs(ctx, u.ID)
	if len(list) != 1 {
		t.Fatalf("proofs = %d", len(list))
	}
}

func TestSQLiteCountsAndPing(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	u := createUser(t, s, "budi")
	s.AddTransaction(ctx, u.ID, expense("1"))
	s.AddTransaction(ctx, u.ID, expense("2"))

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	c, err := s.Counts(ctx)
	if err != nil || c.Users != 1 || c.Transactions != 2 {
		t.Fatalf("counts = %+v, %v", c, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "mongo"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
