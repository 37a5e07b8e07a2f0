package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SPLsSaved(3)
		m.ListPage(OutcomeOK)
		m.DetailSynced(OutcomeOK)
		m.IssueRecorded(IssueData)
		m.UpstreamRequest(EndpointList, OutcomeOK, time.Second)
	})
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.SPLsSaved(3)
	m.SPLsSaved(0)
	m.ListPage(OutcomeOK)
	m.ListPage(OutcomeParseError)
	m.ListPage(OutcomeOK)
	m.DetailSynced(OutcomeDownloadFailed)
	m.IssueRecorded(IssueParsing)
	m.UpstreamRequest(EndpointDetail, OutcomeCacheHit, 0)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.splsSaved))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.listPages.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.listPages.WithLabelValues(OutcomeParseError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.detailsSynced.WithLabelValues(OutcomeDownloadFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.issuesRecorded.WithLabelValues(IssueParsing)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamRequests.WithLabelValues(EndpointDetail, OutcomeCacheHit)))
	assert.Equal(t, 0, testutil.CollectAndCount(m.upstreamLatency), "cache hits are not timed")
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SPLsSaved(5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "medsearch_spls_saved_total 5"), "body: %s", body)
}
