package observability

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestRecorders(t *testing.T) {
	InitMetrics()
	InitMetrics()

	before := testutil.ToFloat64(agentItemsTotal.WithLabelValues("Deliver", "Success"))
	RecordAgentItem("Deliver", "Success", 15*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(agentItemsTotal.WithLabelValues("Deliver", "Success")))

	before = testutil.ToFloat64(claimedRecordsTotal.WithLabelValues("Send", "OutMessages"))
	RecordClaimed("Send", "OutMessages", 0)
	RecordClaimed("Send", "OutMessages", 3)
	assert.Equal(t, before+3, testutil.ToFloat64(claimedRecordsTotal.WithLabelValues("Send", "OutMessages")))

	before = testutil.ToFloat64(cleanupDeletedTotal.WithLabelValues("InMessages"))
	RecordCleanUp("InMessages", 0)
	RecordCleanUp("InMessages", 2)
	assert.Equal(t, before+2, testutil.ToFloat64(cleanupDeletedTotal.WithLabelValues("InMessages")))

	RecordSend("FILE", "Success")
	RecordStep("Deliver", "SendDeliverMessage", "Success", time.Millisecond)
	RecordHTTPRequest("/msh", "200", time.Millisecond)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `msh_sender_results_total{method="FILE",result="Success"}`)
	assert.Contains(t, string(body), "msh_step_duration_seconds")
}

func TestSpans(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "agent.item", attribute.String("agent", "Deliver"))
	require.NotNil(t, ctx)
	EndSpan(span, errors.New("boom"))
	assert.False(t, span.IsRecording(), "ended")
}
