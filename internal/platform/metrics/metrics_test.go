package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.RecordOutcome("done")
	m.RecordOutcome("done")
	m.RecordOutcome("persisted_but_not_published")
	m.ObserveStage("persisting", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("persisted_but_not_published")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration, "register_user_stage_duration_seconds"))
}

func TestMetrics_Push(t *testing.T) {
	var (
		mu     sync.Mutex
		path   string
		method string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, method, body = r.URL.Path, r.Method, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New()
	m.RecordOutcome("done")

	require.NoError(t, m.Push(context.Background(), srv.URL, "register_user"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/register_user", path)
	assert.True(t, strings.Contains(body, "register_user_outcomes_total"))
}

func TestMetrics_PushFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := New().Push(context.Background(), srv.URL, "register_user")
	assert.Error(t, err)
}
