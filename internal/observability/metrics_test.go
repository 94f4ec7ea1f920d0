package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesSeries(t *testing.T) {
	RecordDispatch("RESPONDED", 10*time.Millisecond)
	RecordModelInvocation("anthropic", time.Second, true)
	RecordTokens(12, 30)
	RecordCapabilityInvocation("calculator", time.Millisecond, false)
	RecordUsageRecord("sent")
	SetUsageQueueDepth(3)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `agentcore_dispatch_total{state="RESPONDED"}`)
	assert.Contains(t, body, `agentcore_model_invocation_total{provider="anthropic",status="success"}`)
	assert.Contains(t, body, `agentcore_capability_invocations_total{capability="calculator",status="error"}`)
	assert.Contains(t, body, `agentcore_usage_records_total{status="sent"}`)
	assert.Contains(t, body, "agentcore_usage_queue_depth 3")
}

func TestEnsureRegisteredIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		EnsureRegistered()
		EnsureRegistered()
	})
}
