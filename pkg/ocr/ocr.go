// Package ocr reads transfer-proof images and suggests the amount they show.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/shopspring/decimal"

	"dhfinance/pkg/logging"
)

var (
	// ErrNoAmount is returned when no plausible monetary amount can be extracted.
	ErrNoAmount = errors.New("no amount detected")
	// ErrNotReceipt is returned for images with a little text and no digits,
	// such as logos.
	ErrNotReceipt = fmt.Errorf("%w: image does not look like a receipt", ErrNoAmount)
)

const (
	currencyWhitelist = "0123456789RpIDRidri.,:()/- "
	digitWhitelist    = "0123456789., "
	fullWhitelist     = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz.,:()/- "
)

// Recognizer turns an image into text. whitelist limits the characters the
// engine may emit; empty means no limit.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image, whitelist string) (string, error)
}

// Result is an amount suggestion. Amount is in whole currency units.
type Result struct {
	Amount     decimal.Decimal
	Confidence float64
	Raw        string
	Text       string
}

// Passes holds the text of each recognition pass over one image.
type Passes struct {
	Text     string // preprocessed image, currency whitelist
	Digits   string // preprocessed image, digits only
	Original string // untouched image, full alphabet
}

type Extractor struct {
	rec Recognizer
	log *slog.Logger
}

func NewExtractor(rec Recognizer) *Extractor {
	return &Extractor{rec: rec, log: logging.For(logging.ComponentOCR)}
}

// ExtractFile opens the image at path and extracts an amount from it.
func (e *Extractor) ExtractFile(ctx context.Context, path string) (Result, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return Result{}, fmt.Errorf("open image: %w", err)
	}
	res, err := e.Extract(ctx, img)
	if err != nil {
		e.log.DebugContext(ctx, "no amount extracted", logging.FieldFile, path, logging.FieldError, err)
		return res, err
	}
	e.log.DebugContext(ctx, "amount extracted",
		logging.FieldFile, path,
		logging.FieldAmount, res.Amount.String(),
		"raw", res.Raw,
		"confidence", res.Confidence)
	return res, nil
}

// Extract runs three recognition passes over img and scores the candidates.
func (e *Extractor) Extract(ctx context.Context, img image.Image) (Result, error) {
	pre := Preprocess(img)
	text, err := e.rec.Recognize(ctx, pre, currencyWhitelist)
	if err != nil {
		return Result{}, fmt.Errorf("ocr: %w", err)
	}
	p := Passes{Text: text}
	if p.Digits, err = e.rec.Recognize(ctx, pre, digitWhitelist); err != nil {
		e.log.WarnContext(ctx, "digit pass failed", logging.FieldError, err)
	}
	if p.Original, err = e.rec.Recognize(ctx, img, fullWhitelist); err != nil {
		e.log.WarnContext(ctx, "original pass failed", logging.FieldError, err)
	}
	return FromPasses(p)
}

// FromPasses picks the most likely amount from recognized text.
func FromPasses(p Passes) (Result, error) {
	text := normalizeText(p.Text)
	all := normalizeText(p.Text + " " + p.Digits + " " + p.Original)
	if looksLikeLogo(text) && looksLikeLogo(all) {
		return Result{Text: text}, ErrNotReceipt
	}

	cands := findCandidates(text)
	cands = appendUnique(cands, scanCurrencyNumbers(all)...)
	if raw := flexibleCurrency(all); raw != "" {
		cands = appendUnique(cands, raw)
	}
	if raw := zeroBlockAfterMarker(all); raw != "" {
		cands = appendUnique(cands, raw)
	}

	amt, raw, ok := BestAmount(cands)
	if !ok {
		if n, r := ribu(all); n > 0 {
			return Result{Amount: decimal.NewFromInt(n), Confidence: 0.5, Raw: r, Text: text}, nil
		}
		if n, r := standaloneZeroBlock(all); n > 0 {
			return Result{Amount: decimal.NewFromInt(n), Confidence: 0.35, Raw: r, Text: text}, nil
		}
		return Result{Text: text}, ErrNoAmount
	}

	// Rp followed by mangled digits (O for 0 and so on) is rebuilt and
	// preferred when the chosen match lacks a currency marker.
	if n, r := fuzzyCurrency(all); n > 0 && (!hasCurrency(raw) || n != amt) {
		amt, raw = n, r
	}

	conf := float64(len(raw)) / float64(len(text)+1)
	if conf > 1 {
		conf = 1
	}
	low := strings.ToLower(raw)
	if hasCurrency(raw) || strings.HasSuffix(low, ",00") || strings.HasSuffix(low, ".00") {
		conf = max(conf, 0.85)
	}

	// A bare digit run inside currency context that lands just off a
	// thousand is usually a misread separator.
	if hasCurrency(text) && !hasCurrency(raw) && !strings.ContainsAny(raw, ".,") && amt >= 1000 {
		if rem := amt % 1000; rem <= 20 || rem >= 980 {
			amt -= rem
		}
	}
	return Result{Amount: decimal.NewFromInt(amt), Confidence: conf, Raw: raw, Text: text}, nil
}

func looksLikeLogo(text string) bool {
	t := strings.TrimSpace(text)
	return t != "" && len(t) < 40 && onlyDigits(t) == ""
}

func normalizeText(t string) string {
	return strings.Join(strings.Fields(t), " ")
}

func hasCurrency(s string) bool {
	low := strings.ToLower(s)
	return strings.Contains(low, "rp") || strings.Contains(low, "idr")
}

func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		dup := false
		for _, d := range dst {
			if strings.EqualFold(d, it) {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, it)
		}
	}
	return dst
}
