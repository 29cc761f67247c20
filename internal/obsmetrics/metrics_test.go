package obsmetrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	reg := NewRegistry()
	m := NewMetrics(reg)

	m.PathwayRequestsTotal.WithLabelValues("summarize", "success").Inc()
	m.PathwayRequestDuration.WithLabelValues("summarize").Observe(0.25)
	m.VendorDispatchTotal.WithLabelValues("openai", "success").Inc()
	m.ToolInvocationsTotal.WithLabelValues("sys_tool_lookup", "success").Inc()
	m.CompressionsTotal.WithLabelValues("summarized").Inc()
	m.ChunkSplitCount.WithLabelValues("summarize").Observe(3)
	m.HTTPRequestDuration.WithLabelValues("POST", "/v1/chat/completions", "200").Observe(0.1)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, want := range []string{
		"cortex_pathway_requests_total",
		"cortex_pathway_request_duration_seconds",
		"cortex_vendor_dispatch_total",
		"cortex_tool_invocations_total",
		"cortex_history_compressions_total",
		"cortex_pathway_chunk_count",
		"cortex_http_request_duration_seconds",
	} {
		assert.True(t, names[want], "missing metric family %s", want)
	}
}

func TestHandlerServesTextExposition(t *testing.T) {
	reg := NewRegistry()
	m := NewMetrics(reg)
	m.PathwayRequestsTotal.WithLabelValues("summarize", "success").Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/internal/metrics", nil)
	Handler(reg).ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "cortex_pathway_requests_total"))
}
