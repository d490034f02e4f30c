// Package importer records a directory of transfer-proof images as expense
// transactions, reading each amount by OCR.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"dhfinance/models"
	"dhfinance/pkg/ledger"
	"dhfinance/pkg/logging"
	"dhfinance/pkg/ocr"
	"dhfinance/pkg/services"
	"dhfinance/pkg/store"
)

// Outcome describes what happened to one file.
type Outcome string

const (
	Imported  Outcome = "imported"
	Skipped   Outcome = "skipped"
	Failed    Outcome = "failed"
	Simulated Outcome = "simulated"
)

// Options configure an Importer.
type Options struct {
	Dir string
	// PublicPath is the URL path the directory is served under, e.g.
	// /uploads/demo. BaseURL is prepended when linking transactions.
	PublicPath    string
	BaseURL       string
	MinConfidence float64
	Workers       int
	DryRun        bool
	// Settle is how long a new file must stay unchanged in watch mode.
	Settle time.Duration
}

// Summary counts outcomes of a scan.
type Summary struct {
	Imported  int
	Skipped   int
	Failed    int
	Simulated int
}

func (s *Summary) add(o Outcome) {
	switch o {
	case Imported:
		s.Imported++
	case Skipped:
		s.Skipped++
	case Failed:
		s.Failed++
	case Simulated:
		s.Simulated++
	}
}

type Importer struct {
	proofs    store.ProofStore
	ledger    *services.LedgerService
	extractor *ocr.Extractor
	owner     services.Owner
	opts      Options
	log       *slog.Logger

	mu   sync.Mutex
	seen map[string]bool
}

func New(proofs store.ProofStore, ls *services.LedgerService, ex *ocr.Extractor, owner services.Owner, opts Options) *Importer {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Settle <= 0 {
		opts.Settle = 300 * time.Millisecond
	}
	return &Importer{
		proofs:    proofs,
		ledger:    ls,
		extractor: ex,
		owner:     owner,
		opts:      opts,
		log:       logging.For(logging.ComponentImport).With(logging.FieldOwner, owner.Username),
		seen:      make(map[string]bool),
	}
}

// Preload marks every file that already has a proof row so scans skip it
// without touching the database again.
func (im *Importer) Preload(ctx context.Context) error {
	if im.opts.DryRun {
		return nil
	}
	existing, err := im.proofs.Proofs(ctx, im.owner.ID)
	if err != nil {
		return fmt.Errorf("preload proofs: %w", err)
	}
	im.mu.Lock()
	for _, p := range existing {
		im.seen[p.FileName] = true
	}
	im.mu.Unlock()
	im.log.InfoContext(ctx, "preloaded proofs", "count", len(existing))
	return nil
}

// Scan processes every supported image currently in the directory.
func (im *Importer) Scan(ctx context.Context) (Summary, error) {
	files, err := ListImages(im.opts.Dir)
	if err != nil {
		return Summary{}, err
	}
	im.log.InfoContext(ctx, "scanning", "dir", im.opts.Dir, "files", len(files), "workers", im.opts.Workers)

	var (
		mu  sync.Mutex
		sum Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.opts.Workers)
	for _, name := range files {
		g.Go(func() error {
			out, err := im.ProcessFile(gctx, name)
			if err != nil {
				return err
			}
			mu.Lock()
			sum.add(out)
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	return sum, err
}

// Watch processes files created in the directory until ctx is cancelled.
// A file is picked up once it has not changed for Options.Settle.
func (im *Importer) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(im.opts.Dir); err != nil {
		return err
	}
	im.log.InfoContext(ctx, "watching", "dir", im.opts.Dir)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.opts.Workers)
	pending := map[string]time.Time{}
	ticker := time.NewTicker(im.opts.Settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-gctx.Done():
			return g.Wait()
		case ev, ok := <-w.Events:
			if !ok {
				return g.Wait()
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if Supported(name) {
				pending[name] = time.Now()
			}
		case now := <-ticker.C:
			for name, t := range pending {
				if now.Sub(t) < im.opts.Settle {
					continue
				}
				delete(pending, name)
				g.Go(func() error {
					_, err := im.ProcessFile(gctx, name)
					return err
				})
			}
		case err, ok := <-w.Errors:
			if !ok {
				return g.Wait()
			}
			im.log.WarnContext(ctx, "watch error", logging.FieldError, err)
		}
	}
}

// ProcessFile records one image. Per-file problems are logged and reported
// as Failed; only store errors are returned.
func (im *Importer) ProcessFile(ctx context.Context, name string) (Outcome, error) {
	if !im.claim(name) {
		return Skipped, nil
	}
	log := im.log.With(logging.FieldFile, name)
	full := filepath.Join(im.opts.Dir, name)

	if im.opts.DryRun {
		if im.extractor != nil {
			if res, err := im.extractor.ExtractFile(ctx, full); err == nil {
				log.InfoContext(ctx, "would import", logging.FieldAmount, res.Amount.String(), "confidence", res.Confidence)
			} else {
				log.InfoContext(ctx, "would fail", logging.FieldError, err)
			}
		}
		return Simulated, nil
	}

	publicPath := path.Join(im.opts.PublicPath, name)
	proof := models.Proof{
		UserID:      im.owner.ID,
		FileName:    name,
		StorePath:   publicPath,
		ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(name))),
	}
	if err := im.proofs.CreateProof(ctx, &proof); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Skipped, nil
		}
		return Failed, fmt.Errorf("create proof %s: %w", name, err)
	}

	out, reason := im.recordTransaction(ctx, full, &proof)
	if out == Failed {
		proof.Failed, proof.FailedReason = true, reason
		log.WarnContext(ctx, "proof not imported", "reason", reason)
	}
	if err := im.proofs.UpdateProof(ctx, &proof); err != nil {
		return Failed, fmt.Errorf("update proof %s: %w", name, err)
	}
	if out == Imported {
		log.InfoContext(ctx, "imported", logging.FieldAmount, proof.DetectedAmount.Decimal.String(), "transaction", *proof.TransactionNumber)
	}
	return out, nil
}

func (im *Importer) recordTransaction(ctx context.Context, full string, proof *models.Proof) (Outcome, string) {
	if im.extractor == nil {
		return Failed, "ocr disabled"
	}
	res, err := im.extractor.ExtractFile(ctx, full)
	if err != nil {
		return Failed, err.Error()
	}
	if res.Confidence < im.opts.MinConfidence {
		return Failed, fmt.Sprintf("low confidence %.2f", res.Confidence)
	}
	proof.DetectedAmount.Decimal, proof.DetectedAmount.Valid = res.Amount, true
	proof.Confidence = res.Confidence

	date := ""
	if fi, err := os.Stat(full); err == nil {
		date = fi.ModTime().Format(ledger.DateLayout)
	}
	desc := "Bukti transfer " + proof.FileName
	t, err := im.ledger.Add(ctx, im.owner, ledger.Payload{
		Type:         string(ledger.Expense),
		Amount:       res.Amount,
		Description:  &desc,
		Date:         date,
		HasProof:     true,
		ProofDetails: strings.TrimRight(im.opts.BaseURL, "/") + proof.StorePath,
	})
	if err != nil {
		return Failed, err.Error()
	}
	proof.TransactionNumber = &t.ID
	return Imported, ""
}

// claim reports whether name has not been handled yet and marks it.
func (im *Importer) claim(name string) bool {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.seen[name] {
		return false
	}
	im.seen[name] = true
	return true
}

// ListImages returns the supported image files in dir, sorted by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && Supported(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Supported reports whether name looks like an image the OCR can read.
// Intermediate OCR files (*.ocr.*) are ignored.
func Supported(name string) bool {
	if strings.Contains(name, ".ocr.") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff":
		return true
	}
	return false
}
