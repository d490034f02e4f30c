// Package logging configures log/slog for the service and its tools.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Field names shared by every component.
const (
	FieldComponent = "component"
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status_code"
	FieldDuration  = "duration_ms"
	FieldClientIP  = "client_ip"
	FieldOwner     = "owner"
	FieldOperation = "operation"
	FieldError     = "error"
	FieldFile      = "file"
	FieldAmount    = "amount"
)

// Component names.
const (
	ComponentApp    = "app"
	ComponentHTTP   = "http"
	ComponentStore  = "store"
	ComponentAuth   = "auth"
	ComponentLedger = "ledger"
	ComponentEvents = "events"
	ComponentOCR    = "ocr"
	ComponentImport = "import"
)

// Setup installs a text handler on w (stdout when nil) as the slog default
// and returns it.
func Setup(level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// For returns the default logger tagged with component.
func For(component string) *slog.Logger {
	return slog.Default().With(FieldComponent, component)
}
