/*
Package observability sets up logging and metrics for the engine process.

PURPOSE:
  InitLogger installs the process-wide slog handler. Metrics implements the
  observer interfaces of the ledger, the tier limit guard and the accrual
  run, and serves them in Prometheus format.

SEE ALSO:
  - generic/ledger.go: LedgerObserver
  - kyc/guard.go: RejectionObserver
  - savings/service.go: AccrualObserver
*/
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type LogConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json", "text"
	// Output defaults to stdout.
	Output io.Writer
}

// InitLogger builds the logger and makes it the slog default.
func InitLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
