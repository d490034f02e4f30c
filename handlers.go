package main

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"dhfinance/models"
	"dhfinance/pkg/auth"
	"dhfinance/pkg/ledger"
	"dhfinance/pkg/logging"
	"dhfinance/pkg/ocr"
	"dhfinance/pkg/services"
	"dhfinance/pkg/store"
)

func init() {
	// keep JSON amounts exact instead of decoding them as float64
	binding.EnableDecoderUseNumber = true
}

const thumbnailWidth = 320

var (
	unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	proofExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".tif": true, ".tiff": true}
)

func (a *app) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware())
	r.Static("/uploads", a.cfg.UploadBase)

	api := r.Group("/api")
	api.POST("/register", a.registerHandler)
	api.POST("/login", a.loginHandler)
	api.POST("/refresh", a.refreshHandler)
	api.POST("/logout", a.logoutHandler)
	api.GET("/currencies", a.currenciesHandler)
	api.GET("/health", a.healthHandler)

	authed := api.Group("")
	authed.Use(a.jwtAuthMiddleware())
	authed.GET("/me", a.meHandler)
	authed.GET("/transactions", a.listTransactionsHandler)
	authed.POST("/transactions", a.addTransactionHandler)
	authed.DELETE("/transactions/:id", a.deleteTransactionHandler)
	authed.GET("/stats", a.statsHandler)
	authed.GET("/settings", a.settingsHandler)
	authed.PUT("/settings/currency", a.updateCurrencyHandler)
	authed.GET("/export/excel", a.exportCSVHandler)
	authed.GET("/export/word", a.exportWordHandler)
	authed.GET("/backup", a.backupHandler)
	authed.POST("/restore", a.restoreHandler)
	authed.POST("/proofs", a.uploadProofHandler)
	authed.GET("/proofs", a.listProofsHandler)
	return r
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

// respondError maps domain errors to status codes. Unexpected errors are
// attached to the context for the request logger and hidden from clients.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidUsername):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrValidation):
		fail(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, store.ErrNotFound):
		fail(c, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrUserExists):
		fail(c, http.StatusConflict, "username sudah terdaftar")
	case errors.Is(err, store.ErrConflict):
		fail(c, http.StatusConflict, "record already exists")
	case errors.Is(err, auth.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, "username atau password salah")
	case errors.Is(err, auth.ErrInvalidToken):
		fail(c, http.StatusUnauthorized, err.Error())
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, "internal server error")
	}
}

func (a *app) listTransactionsHandler(c *gin.Context) {
	o, ok := a.readOwner(c)
	if !ok {
		return
	}
	filterDate := strings.TrimSpace(c.Query("filterDate"))
	txs, err := a.ledger.List(c.Request.Context(), o, filterDate)
	if err != nil {
		respondError(c, err)
		return
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	resp := gin.H{"success": true, "transactions": txs, "count": len(txs), "filtered": filterDate != ""}
	if filterDate != "" {
		resp["filterDate"] = filterDate
	}
	c.JSON(http.StatusOK, resp)
}

func (a *app) addTransactionHandler(c *gin.Context) {
	o, ok := a.self(c)
	if !ok {
		return
	}
	var p ledger.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		respondError(c, fmt.Errorf("%w: %v", ledger.ErrInvalidInput, err))
		return
	}
	t, err := a.ledger.Add(c.Request.Context(), o, p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Transaksi berhasil disimpan!", "transaction": t})
}

func (a *app) deleteTransactionHandler(c *gin.Context) {
	o, ok := a.self(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, fmt.Errorf("%w: transaction id must be a number", ledger.ErrInvalidInput))
		return
	}
	t, err := a.ledger.Delete(c.Request.Context(), o, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fail(c, http.StatusNotFound, "Transaksi tidak ditemukan")
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Transaksi berhasil dihapus!", "deletedTransaction": t})
}

func (a *app) statsHandler(c *gin.Context) {
	o, ok := a.readOwner(c)
	if !ok {
		return
	}
	st, err := a.ledger.Stats(c.Request.Context(), o, c.Query("filterDate"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": st})
}

func (a *app) settingsHandler(c *gin.Context) {
	o, ok := a.readOwner(c)
	if !ok {
		return
	}
	set, err := a.ledger.Settings(c.Request.Context(), o)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "settings": gin.H{"currency": set.Currency}})
}

func (a *app) updateCurrencyHandler(c *gin.Context) {
	o, ok := a.self(c)
	if !ok {
		return
	}
	var req struct {
		Currency string `json:"currency"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", ledger.ErrInvalidInput, err))
		return
	}
	set, err := a.ledger.UpdateCurrency(c.Request.Context(), o, req.Currency)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Mata uang berhasil diupdate", "currency": set.Currency})
}

func (a *app) currenciesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "currencies": ledger.Currencies()})
}

func (a *app) exportCSVHandler(c *gin.Context) {
	o, ok := a.readOwner(c)
	if !ok {
		return
	}
	exp, err := a.ledger.ExportCSV(c.Request.Context(), o, c.Query("filterDate"))
	sendExport(c, exp, err)
}

func (a *app) exportWordHandler(c *gin.Context) {
	o, ok := a.readOwner(c)
	if !ok {
		return
	}
	exp, err := a.ledger.ExportWord(c.Request.Context(), o, c.Query("filterDate"))
	sendExport(c, exp, err)
}

func (a *app) backupHandler(c *gin.Context) {
	o, ok := a.readOwner(c)
	if !ok {
		return
	}
	exp, err := a.ledger.Backup(c.Request.Context(), o)
	sendExport(c, exp, err)
}

func sendExport(c *gin.Context, exp services.Export, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": exp.Filename}))
	c.Data(http.StatusOK, exp.ContentType, exp.Body)
}

// restoreHandler accepts the backup either as a multipart "file" field or
// as the raw request body.
func (a *app) restoreHandler(c *gin.Context) {
	o, ok := a.self(c)
	if !ok {
		return
	}
	var r io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			fail(c, http.StatusBadRequest, "Tidak ada file yang diupload")
			return
		}
		if !strings.HasSuffix(strings.ToLower(fh.Filename), ".json") {
			fail(c, http.StatusBadRequest, "File harus berupa JSON")
			return
		}
		f, err := fh.Open()
		if err != nil {
			respondError(c, err)
			return
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(io.LimitReader(r, a.cfg.UploadMaxBytes+1))
	if err != nil {
		respondError(c, fmt.Errorf("%w: %v", ledger.ErrInvalidInput, err))
		return
	}
	if int64(len(data)) > a.cfg.UploadMaxBytes {
		fail(c, http.StatusRequestEntityTooLarge, "backup too large")
		return
	}
	n, err := a.ledger.Restore(c.Request.Context(), o, data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Data berhasil direstore dari backup", "count": n})
}

// uploadProofHandler stores a transfer-proof image under UPLOAD_BASE/<owner>/,
// suggests its amount by OCR when enabled, and optionally records it as an
// expense when create_transaction=true. Sending a proof again that has no
// transaction yet only retries the transaction step.
func (a *app) uploadProofHandler(c *gin.Context) {
	o, ok := a.self(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "file missing")
		return
	}
	if fh.Size > a.cfg.UploadMaxBytes {
		fail(c, http.StatusBadRequest, fmt.Sprintf("file too large (max %d bytes)", a.cfg.UploadMaxBytes))
		return
	}
	name := sanitizeFileName(fh.Filename)
	if !proofExtensions[strings.ToLower(filepath.Ext(name))] {
		fail(c, http.StatusBadRequest, "proof must be an image")
		return
	}
	publicPath := "/uploads/" + o.Username + "/" + name
	createTx := c.PostForm("create_transaction") == "true"

	resp := gin.H{"success": true, "message": "file uploaded"}
	proof, err := a.store.ProofByFileName(ctx, o.ID, name)
	switch {
	case err == nil:
		if proof.TransactionNumber != nil || !createTx {
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "file already uploaded", "proof": proof})
			return
		}
		resp["message"] = "file already uploaded"
	case errors.Is(err, store.ErrNotFound):
		if proof, err = a.saveProof(c, o, fh, name, publicPath, resp); err != nil {
			respondError(c, err)
			return
		}
	default:
		respondError(c, err)
		return
	}
	if proof.DetectedAmount.Valid {
		resp["suggestedAmount"] = proof.DetectedAmount.Decimal
	}

	if createTx {
		t, err := a.proofTransaction(c, o, &proof, publicPath)
		if err != nil {
			// the OCR result is kept so a corrected retry can link the expense
			if uerr := a.store.UpdateProof(ctx, &proof); uerr != nil {
				a.log.WarnContext(ctx, "save proof failed", logging.FieldFile, name, logging.FieldError, uerr)
			}
			respondError(c, err)
			return
		}
		resp["transaction"] = t
	}

	if err := a.store.UpdateProof(ctx, &proof); err != nil {
		respondError(c, err)
		return
	}
	resp["proof"] = proof
	c.JSON(http.StatusOK, resp)
}

// saveProof writes the upload and its thumbnail, creates the proof row and
// fills in the OCR result. The row is persisted again by the caller.
func (a *app) saveProof(c *gin.Context, o services.Owner, fh *multipart.FileHeader, name, publicPath string, resp gin.H) (models.Proof, error) {
	ctx := c.Request.Context()
	dir := filepath.Join(a.cfg.UploadBase, o.Username)
	if err := os.MkdirAll(filepath.Join(dir, "thumbs"), 0o755); err != nil {
		return models.Proof{}, err
	}
	fullPath := filepath.Join(dir, name)
	if err := c.SaveUploadedFile(fh, fullPath); err != nil {
		return models.Proof{}, fmt.Errorf("save upload: %w", err)
	}
	proof := models.Proof{
		UserID:      o.ID,
		FileName:    name,
		StorePath:   publicPath,
		ContentType: fh.Header.Get("Content-Type"),
	}
	if err := a.store.CreateProof(ctx, &proof); err != nil {
		return models.Proof{}, err
	}

	if err := ocr.Thumbnail(fullPath, filepath.Join(dir, "thumbs", name), thumbnailWidth); err != nil {
		a.log.WarnContext(ctx, "thumbnail failed", logging.FieldFile, fullPath, logging.FieldError, err)
	} else {
		resp["thumbnail"] = "/uploads/" + o.Username + "/thumbs/" + name
	}

	if a.extractor != nil {
		res, err := a.extractor.ExtractFile(ctx, fullPath)
		switch {
		case err != nil:
			proof.Failed, proof.FailedReason = true, err.Error()
		case res.Confidence < a.cfg.OCRMinConfidence:
			proof.Failed, proof.FailedReason = true, fmt.Sprintf("low confidence %.2f", res.Confidence)
		default:
			proof.DetectedAmount.Decimal, proof.DetectedAmount.Valid = res.Amount, true
			proof.Confidence = res.Confidence
		}
	}
	return proof, nil
}

// proofTransaction records the expense for proof, preferring an explicit
// amount form field over the OCR suggestion, and links it to the proof.
func (a *app) proofTransaction(c *gin.Context, o services.Owner, proof *models.Proof, publicPath string) (ledger.Transaction, error) {
	var amount any = c.PostForm("amount")
	if amount == "" {
		if !proof.DetectedAmount.Valid {
			return ledger.Transaction{}, fmt.Errorf("%w: no amount detected; send amount explicitly", ledger.ErrValidation)
		}
		amount = proof.DetectedAmount.Decimal
	}
	desc := c.PostForm("description")
	t, err := a.ledger.Add(c.Request.Context(), o, ledger.Payload{
		Type:         string(ledger.Expense),
		Amount:       amount,
		Description:  &desc,
		Date:         c.PostForm("date"),
		HasProof:     true,
		ProofDetails: absoluteURL(c, publicPath),
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	proof.TransactionNumber = &t.ID
	return t, nil
}

func (a *app) listProofsHandler(c *gin.Context) {
	o, ok := a.readOwner(c)
	if !ok {
		return
	}
	proofs, err := a.store.Proofs(c.Request.Context(), o.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if proofs == nil {
		proofs = []models.Proof{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "proofs": proofs, "count": len(proofs)})
}

func (a *app) healthHandler(c *gin.Context) {
	ctx := c.Request.Context()
	resp := gin.H{"timestamp": a.now().UTC()}
	if err := a.store.Ping(ctx); err != nil {
		resp["status"], resp["store"] = "unhealthy", err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	counts, err := a.store.Counts(ctx)
	if err != nil {
		resp["status"], resp["store"] = "unhealthy", err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	resp["status"], resp["store"] = "healthy", "ok"
	resp["users"], resp["transactions"] = counts.Users, counts.Transactions
	c.JSON(http.StatusOK, resp)
}

func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeFileChars.ReplaceAllString(name, "_")
	if name == "" || name == "." || strings.Trim(name, "._") == "" {
		return "proof"
	}
	return name
}

func absoluteURL(c *gin.Context, path string) string {
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + path
}
