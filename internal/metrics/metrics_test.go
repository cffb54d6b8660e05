package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterServesMetricsAndHealth(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	jobs := prometheus.NewCounter(prometheus.CounterOpts{Name: "countly_etl_test_total", Help: "test"})
	reg.MustRegister(jobs)
	jobs.Add(3)

	ts := httptest.NewServer(NewRouter(reg, "crawl-names", "run-1", time.Now()))
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	var health Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "crawl-names", health.Job)
	assert.Equal(t, "run-1", health.RunID)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "countly_etl_test_total 3")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMiddlewareRecordsRoutes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	ts := httptest.NewServer(NewRouter(reg, "job", "id", time.Now()))
	t.Cleanup(ts.Close)

	for _, path := range []string{"/healthz", "/healthz", "/missing"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	m, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, m)

	count, err := testutil.GatherAndCount(reg, "countly_etl_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStartAndShutdown(t *testing.T) {
	t.Parallel()

	srv, err := Start("127.0.0.1:0", NewRouter(NewRegistry(), "job", "id", time.Now()), nil)
	require.NoError(t, err)

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))
	var nilSrv *Server
	require.NoError(t, nilSrv.Shutdown(context.Background()))
}

func TestStartBadAddress(t *testing.T) {
	t.Parallel()

	_, err := Start("256.0.0.1:bad", http.NotFoundHandler(), nil)
	require.Error(t, err)
}

func TestRateLimitObserver(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	observe := NewRateLimitObserver(reg)
	observe("shop.example.com", 250*time.Millisecond)
	observe("shop.example.com", 750*time.Millisecond)

	assert.Equal(t, 1, testutil.CollectAndCount(reg, "countly_etl_rate_limit_delay_seconds"))
}
