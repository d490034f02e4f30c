package importer

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"dhfinance/models"
	"dhfinance/pkg/events"
	"dhfinance/pkg/ledger"
	"dhfinance/pkg/ocr"
	"dhfinance/pkg/services"
	"dhfinance/pkg/store"
)

// shapeRecognizer reads landscape images as receipts and everything else as
// a logo without digits.
type shapeRecognizer struct{}

func (shapeRecognizer) Recognize(_ context.Context, img image.Image, _ string) (string, error) {
	b := img.Bounds()
	if b.Dx() > b.Dy() {
		return "Transfer Berhasil Rp 75.000", nil
	}
	return "TERIMA KASIH", nil
}

type fixture struct {
	store  *store.SQLiteStore
	ledger *services.LedgerService
	owner  services.Owner
	dir    string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	role, err := st.EnsureRole(ctx, models.RoleUser, "regular user")
	if err != nil {
		t.Fatalf("ensure role: %v", err)
	}
	u := models.User{Username: "budi", HashedPassword: []byte("hash"), RoleID: &role.ID}
	if err := st.CreateUser(ctx, &u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return fixture{
		store:  st,
		ledger: services.NewLedgerService(st, events.Nop{}, nil, ""),
		owner:  services.Owner{ID: u.ID, Username: u.Username},
		dir:    t.TempDir(),
	}
}

func (f fixture) importer(dryRun bool) *Importer {
	return New(f.store, f.ledger, ocr.NewExtractor(shapeRecognizer{}), f.owner, Options{
		Dir:           f.dir,
		PublicPath:    "/uploads/budi",
		BaseURL:       "http://localhost:8081/",
		MinConfidence: 0.15,
		Workers:       2,
		DryRun:        dryRun,
		Settle:        50 * time.Millisecond,
	})
}

func writeImage(t *testing.T, dir, name string, w, h int) {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{250, 250, 250, 255})
	if err := imaging.Save(img, filepath.Join(dir, name)); err != nil {
		t.Fatalf("save %s: %v", name, err)
	}
}

func TestScanImportsReceipts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	writeImage(t, f.dir, "a.png", 600, 300)
	writeImage(t, f.dir, "b.jpg", 800, 400)
	writeImage(t, f.dir, "logo.png", 300, 300)
	writeImage(t, f.dir, "a.ocr.png", 600, 300)
	os.WriteFile(filepath.Join(f.dir, "notes.txt"), []byte("x"), 0o644)

	im := f.importer(false)
	if err := im.Preload(ctx); err != nil {
		t.Fatalf("preload: %v", err)
	}
	sum, err := im.Scan(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if sum.Imported != 2 || sum.Failed != 1 || sum.Skipped != 0 {
		t.Fatalf("summary = %+v", sum)
	}

	txs, err := f.ledger.List(ctx, f.owner, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("transactions = %d", len(txs))
	}
	for _, tx := range txs {
		if tx.Type != ledger.Expense || tx.Amount.IntPart() != 75000 || !tx.HasProof {
			t.Fatalf("transaction = %+v", tx)
		}
	}
	if txs[0].ID == txs[1].ID {
		t.Fatalf("duplicate ids %d", txs[0].ID)
	}

	proofs, err := f.store.Proofs(ctx, f.owner.ID)
	if err != nil {
		t.Fatalf("proofs: %v", err)
	}
	if len(proofs) != 3 {
		t.Fatalf("proofs = %d", len(proofs))
	}
	for _, p := range proofs {
		switch p.FileName {
		case "logo.png":
			if !p.Failed || p.TransactionNumber != nil {
				t.Fatalf("logo proof = %+v", p)
			}
		default:
			if p.Failed || p.TransactionNumber == nil || p.StorePath != "/uploads/budi/"+p.FileName {
				t.Fatalf("proof = %+v", p)
			}
		}
	}
	want := "http://localhost:8081/uploads/budi/a.png"
	found := false
	for _, tx := range txs {
		found = found || tx.ProofDetails == want
	}
	if !found {
		t.Fatalf("no transaction links %s", want)
	}

	// a fresh importer skips everything that already has a proof row
	again := f.importer(false)
	if err := again.Preload(ctx); err != nil {
		t.Fatalf("preload: %v", err)
	}
	sum, err = again.Scan(ctx)
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if sum.Skipped != 3 || sum.Imported != 0 {
		t.Fatalf("rescan summary = %+v", sum)
	}
}

func TestScanDryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	writeImage(t, f.dir, "a.png", 600, 300)

	sum, err := f.importer(true).Scan(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if sum.Simulated != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if proofs, _ := f.store.Proofs(ctx, f.owner.ID); len(proofs) != 0 {
		t.Fatalf("dry run stored %d proofs", len(proofs))
	}
}

func TestWatchPicksUpNewFiles(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	im := f.importer(false)
	done := make(chan error, 1)
	go func() { done <- im.Watch(ctx) }()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	writeImage(t, f.dir, "new.png", 600, 300)

	deadline := time.Now().Add(5 * time.Second)
	for {
		txs, err := f.ledger.List(context.Background(), f.owner, "")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(txs) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("watched file was not imported")
		}
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watch: %v", err)
	}
}

func TestSupported(t *testing.T) {
	tests := map[string]bool{
		"a.PNG":     true,
		"b.jpeg":    true,
		"c.tiff":    true,
		"d.ocr.png": false,
		"e.pdf":     false,
		"f":         false,
	}
	for name, want := range tests {
		if got := Supported(name); got != want {
			t.Errorf("Supported(%q) = %v, want %v", name, got, want)
		}
	}
}
