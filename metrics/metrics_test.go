package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	before := testutil.ToFloat64(ledgerTransactions.WithLabelValues("placeBid", "ok"))
	ObserveLedgerTx("placeBid", "ok")
	assert.Equal(t, before+1, testutil.ToFloat64(ledgerTransactions.WithLabelValues("placeBid", "ok")))

	SetLedgerHeight(42)
	assert.Equal(t, float64(42), testutil.ToFloat64(ledgerHeight))
}

func TestMetricsServer(t *testing.T) {
	ObserveOutcome("consumer", "deployed")

	srv, err := New("127.0.0.1:0")
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `federation_coordinator_outcomes_total{role="consumer",status="deployed"}`)
}
