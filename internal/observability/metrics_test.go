package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordOperation(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.OperationsTotal.WithLabelValues("deposit", "ok"))
	RecordOperation("deposit", "ok", 0.01, 1_700_000_000)
	RecordOperation("deposit", "balance", 0.01, 0)

	assert.Equal(t, before+1, testutil.ToFloat64(DefaultMetrics.OperationsTotal.WithLabelValues("deposit", "ok")))
	assert.Equal(t, float64(1_700_000_000), testutil.ToFloat64(DefaultMetrics.LastCommittedOpTime))
}

func TestRecordExchangeCall(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.ExchangeCallErrors.WithLabelValues("swap"))
	RecordExchangeCall("swap", 0.2, nil)
	RecordExchangeCall("swap", 0.2, errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(DefaultMetrics.ExchangeCallErrors.WithLabelValues("swap")))
}

func TestSetCustodyBalanced(t *testing.T) {
	SetCustodyBalanced("native", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(DefaultMetrics.CustodyBalanced.WithLabelValues("native")))
	SetCustodyBalanced("native", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(DefaultMetrics.CustodyBalanced.WithLabelValues("native")))
}

func TestHandler(t *testing.T) {
	RecordSlippageRejected()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "custody_ledger_ledger_slippage_rejections_total"))
}
