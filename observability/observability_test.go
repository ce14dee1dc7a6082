package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/savings-engine/generic"
	"github.com/warp/savings-engine/savings"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
		{"", slog.LevelInfo},
		{"xyzzy", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestInitLogger_JSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := InitLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	logger.Info("dropped")
	slog.Warn("kept", "account_id", "acct-1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "acct-1", rec["account_id"])
}

func TestMetrics_Observers(t *testing.T) {
	m := NewMetrics()

	m.TransferApplied(generic.EntryInterest, generic.NewMoney(547, generic.NGN))
	m.TransferApplied(generic.EntryInterest, generic.NewMoney(3, generic.NGN))
	m.ConflictRetried()
	m.LimitRejected("daily_limit")
	m.AccountAccrued(generic.ProductFlexible, generic.RunCompleted, generic.NewMoney(547, generic.NGN))
	m.AccountAccrued(generic.ProductFixed, savings.StatusSkipped, generic.Zero(generic.NGN))
	m.RunFinished(savings.Report{Duration: 2 * time.Second, Failures: []savings.Failure{{AccountID: "x"}}})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transfers.WithLabelValues("interest")))
	assert.Equal(t, 550.0, testutil.ToFloat64(m.transferVolume.WithLabelValues("NGN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflictRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.limitRejections.WithLabelValues("daily_limit")))
	assert.Equal(t, 547.0, testutil.ToFloat64(m.accrualInterest))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.accrualAccounts.WithLabelValues("fixed", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.accrualFailures))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "ledger_conflict_retries_total 1")
	assert.Contains(t, rec.Body.String(), "savings_accrual_run_duration_seconds_count 1")
}
