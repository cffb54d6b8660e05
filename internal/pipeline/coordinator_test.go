package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/countly-etl/internal/fetcher"
	"github.com/JakeFAU/countly-etl/internal/model"
	"github.com/JakeFAU/countly-etl/internal/progress"
	"github.com/JakeFAU/countly-etl/internal/scrape"
)

// memStore is an in-memory product collection with the same eligibility rules
// as the Mongo implementation.
type memStore struct {
	mu        sync.Mutex
	records   map[string]*model.Product
	writes    [][]model.ProductUpdate
	pageSizes []int
	failOn    string
	failAfter int
}

func newMemStore(records ...model.Product) *memStore {
	s := &memStore{records: map[string]*model.Product{}}
	for i := range records {
		r := records[i]
		s.records[r.ProductID] = &r
	}
	return s
}

func (s *memStore) eligible(p *model.Product, ceiling int) bool {
	return p.Status == model.StatusPending && p.CurrentURL != "" && p.RetryCount < ceiling
}

func (s *memStore) RequeueFailed(_ context.Context, ceiling int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == "requeue" {
		return 0, errors.New("connection reset")
	}
	var n int64
	for _, p := range s.records {
		if p.Status == model.StatusFailed && p.RetryCount < ceiling {
			p.Status = model.StatusPending
			n++
		}
	}
	return n, nil
}

func (s *memStore) CountEligible(_ context.Context, ceiling int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == "count" {
		return 0, errors.New("server selection timeout")
	}
	var n int64
	for _, p := range s.records {
		if s.eligible(p, ceiling) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) NextEligible(_ context.Context, after string, limit, ceiling int) ([]model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []model.Product
	for _, id := range ids {
		p := s.records[id]
		if id <= after || !s.eligible(p, ceiling) {
			continue
		}
		out = append(out, *p)
		if len(out) == limit {
			break
		}
	}
	s.pageSizes = append(s.pageSizes, len(out))
	return out, nil
}

func (s *memStore) ApplyUpdates(_ context.Context, updates []model.ProductUpdate) (model.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == "write" && len(s.writes) >= s.failAfter {
		return model.BulkResult{}, errors.New("connection refused")
	}
	s.writes = append(s.writes, append([]model.ProductUpdate(nil), updates...))
	res := model.BulkResult{Operations: len(updates)}
	for _, u := range updates {
		p, ok := s.records[u.ProductID]
		if !ok {
			res.WriteErrors++
			continue
		}
		res.Matched++
		res.Modified++
		p.Status = u.Status
		p.RetryCount = u.RetryCount
		if u.Status == model.StatusProcessed {
			name := u.Name
			p.ProductName = &name
		}
	}
	return res, nil
}

// fakeResolver maps URLs to names; URLs containing "timeout" or "404" fail.
type fakeResolver struct {
	mu    sync.Mutex
	calls []string
}

func (r *fakeResolver) Resolve(_ context.Context, rawURL string) scrape.Result {
	r.mu.Lock()
	r.calls = append(r.calls, rawURL)
	r.mu.Unlock()
	switch {
	case strings.Contains(rawURL, "panic"):
		panic("resolver exploded")
	case strings.Contains(rawURL, "timeout"):
		return scrape.Result{Attempts: 3, Err: &fetcher.Error{Kind: fetcher.KindTimeout, URL: rawURL, Err: context.DeadlineExceeded}}
	case strings.Contains(rawURL, "404"):
		return scrape.Result{Attempts: 1, Err: &fetcher.Error{Kind: fetcher.KindHTTPStatus, URL: rawURL, StatusCode: 404}}
	default:
		return scrape.Result{Name: "Name of " + rawURL[strings.LastIndex(rawURL, "/")+1:], Rule: "h1", Attempts: 1}
	}
}

func pending(id, url string) model.Product {
	return model.Product{ProductID: id, CurrentURL: url, Status: model.StatusPending}
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestRunPagesSequentially(t *testing.T) {
	t.Parallel()

	store := newMemStore(
		pending("p1", "https://shop.example.com/p1"),
		pending("p2", "https://shop.example.com/p2"),
		pending("p3", "https://shop.example.com/p3"),
		pending("p4", "https://shop.example.com/p4"),
		pending("p5", "https://shop.example.com/p5"),
	)
	var transitions []string
	c := New(store, &fakeResolver{}, nil, Config{PageSize: 2, Concurrency: 16},
		WithSleep(noSleep),
		WithObserver(func(from, to State) { transitions = append(transitions, from.String()+">"+to.String()) }))

	sum, err := c.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, store.writes, 3)
	assert.Equal(t, []int{2, 2, 1}, []int{len(store.writes[0]), len(store.writes[1]), len(store.writes[2])})
	assert.Equal(t, 3, sum.Pages)
	assert.Equal(t, int64(5), sum.Eligible)
	assert.Equal(t, int64(5), sum.Counters.Succeeded)
	assert.Equal(t, StateDone, c.State())
	assert.Equal(t, "idle>paging", transitions[0])
	assert.Equal(t, "writing>done", transitions[len(transitions)-1])

	left, err := store.CountEligible(context.Background(), model.MaxRetries)
	require.NoError(t, err)
	assert.Zero(t, left)
	for id, p := range store.records {
		require.Equal(t, model.StatusProcessed, p.Status, id)
		require.NotNil(t, p.ProductName, id)
		assert.NotEmpty(t, *p.ProductName, id)
		assert.Equal(t, 1, p.RetryCount, id)
	}
}

func TestRunOneUpdatePerRecord(t *testing.T) {
	t.Parallel()

	var records []model.Product
	const n, k = 10, 4
	for i := 0; i < n; i++ {
		url := fmt.Sprintf("https://shop.example.com/ok-%02d", i)
		if i < k {
			url = fmt.Sprintf("https://shop.example.com/timeout-%02d", i)
		}
		records = append(records, pending(fmt.Sprintf("p%02d", i), url))
	}
	store := newMemStore(records...)
	c := New(store, &fakeResolver{}, nil, Config{PageSize: n, Concurrency: 3}, WithSleep(noSleep))

	sum, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, store.writes, 1)
	require.Len(t, store.writes[0], n)

	var failed, processed int
	for _, u := range store.writes[0] {
		switch u.Status {
		case model.StatusFailed:
			failed++
			assert.Empty(t, u.Name)
		case model.StatusProcessed:
			processed++
			assert.NotEmpty(t, u.Name)
		}
		assert.Equal(t, 1, u.RetryCount)
	}
	assert.Equal(t, k, failed)
	assert.Equal(t, n-k, processed)
	assert.Equal(t, int64(k), sum.Counters.Failed)
}

func TestRunIsIdempotentWithoutPendingRecords(t *testing.T) {
	t.Parallel()

	store := newMemStore(pending("p1", "https://shop.example.com/p1"))
	c := New(store, &fakeResolver{}, nil, Config{PageSize: 2}, WithSleep(noSleep))
	_, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, store.writes, 1)

	before := *store.records["p1"]
	resolver := &fakeResolver{}
	sum, err := New(store, resolver, nil, Config{PageSize: 2}, WithSleep(noSleep)).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, store.writes, 1)
	assert.Empty(t, resolver.calls)
	assert.Zero(t, sum.Pages)
	assert.Equal(t, before, *store.records["p1"])
}

func TestRunSkipsIneligibleRecords(t *testing.T) {
	t.Parallel()

	exhausted := pending("p1", "https://shop.example.com/p1")
	exhausted.RetryCount = model.MaxRetries
	noURL := pending("p2", "")
	done := pending("p3", "https://shop.example.com/p3")
	done.Status = model.StatusProcessed
	store := newMemStore(exhausted, noURL, done, pending("p4", "https://shop.example.com/p4"))

	resolver := &fakeResolver{}
	sum, err := New(store, resolver, nil, Config{PageSize: 50}, WithSleep(noSleep)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Eligible)
	assert.Equal(t, []string{"https://shop.example.com/p4"}, resolver.calls)
}

func TestRunExcludesRecordsAtRetryCeiling(t *testing.T) {
	t.Parallel()

	rec := pending("p1", "https://shop.example.com/404")
	rec.RetryCount = 2
	store := newMemStore(rec)

	_, err := New(store, &fakeResolver{}, nil, Config{RequeueFailed: true}, WithSleep(noSleep)).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, store.records["p1"].Status)
	require.Equal(t, 3, store.records["p1"].RetryCount)

	sum, err := New(store, &fakeResolver{}, nil, Config{RequeueFailed: true}, WithSleep(noSleep)).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Requeued)
	assert.Zero(t, sum.Eligible)
	assert.Equal(t, model.StatusFailed, store.records["p1"].Status)
}

func TestRunRequeuesFailedRecords(t *testing.T) {
	t.Parallel()

	rec := pending("p1", "https://shop.example.com/p1")
	rec.Status = model.StatusFailed
	rec.RetryCount = 1
	store := newMemStore(rec)

	sum, err := New(store, &fakeResolver{}, nil, Config{RequeueFailed: true}, WithSleep(noSleep)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Requeued)
	assert.Equal(t, model.StatusProcessed, store.records["p1"].Status)
	assert.Equal(t, 2, store.records["p1"].RetryCount)
}

func TestRunIsolatesPanickingRecord(t *testing.T) {
	t.Parallel()

	store := newMemStore(
		pending("p1", "https://shop.example.com/panic"),
		pending("p2", "https://shop.example.com/p2"),
	)
	sum, err := New(store, &fakeResolver{}, nil, Config{}, WithSleep(noSleep)).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, store.writes[0], 2)
	assert.Equal(t, model.StatusFailed, store.records["p1"].Status)
	assert.Equal(t, model.StatusProcessed, store.records["p2"].Status)
	assert.Equal(t, int64(1), sum.Counters.Failed)
}

func TestRunAbortsOnStoreFailure(t *testing.T) {
	t.Parallel()

	var records []model.Product
	for i := 0; i < 6; i++ {
		records = append(records, pending(fmt.Sprintf("p%d", i), fmt.Sprintf("https://shop.example.com/p%d", i)))
	}
	store := newMemStore(records...)
	store.failOn = "write"
	store.failAfter = 1

	c := New(store, &fakeResolver{}, nil, Config{PageSize: 2}, WithSleep(noSleep))
	sum, err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrStore)
	assert.Equal(t, StateFatal, c.State())
	assert.Equal(t, StateFatal, sum.Final)
	assert.Equal(t, 1, sum.Pages)

	// The first page stays written.
	var processed int
	for _, p := range store.records {
		if p.Status == model.StatusProcessed {
			processed++
		}
	}
	assert.Equal(t, 2, processed)
}

func TestRunAbortsWhenCountFails(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.failOn = "count"
	_, err := New(store, &fakeResolver{}, nil, Config{}).Run(context.Background())
	require.ErrorIs(t, err, ErrStore)
}

func TestRunProbeFailureSkipsStore(t *testing.T) {
	t.Parallel()

	store := newMemStore(pending("p1", "https://shop.example.com/p1"))
	store.failOn = "count"
	c := New(store, &fakeResolver{}, nil, Config{ProbeURL: "https://shop.example.com/404"})
	_, err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrProbe)
	assert.Contains(t, err.Error(), "HTTP 404")
	assert.Empty(t, store.writes)
	assert.Equal(t, StateFatal, c.State())
}

func TestRunFailedURLCheckEmitsRunError(t *testing.T) {
	t.Parallel()

	var events []progress.Event
	reporter := progress.NewReporter(uuid.New(), "crawl-names",
		progress.EmitterFunc(func(e progress.Event) { events = append(events, e) }))
	store := newMemStore(pending("p1", "https://shop.example.com/p1"))
	_, err := New(store, &fakeResolver{}, reporter, Config{ProbeURL: "https://shop.example.com/404"}).
		Run(context.Background())
	require.ErrorIs(t, err, ErrProbe)
	assert.Empty(t, store.writes)

	require.Len(t, events, 2)
	assert.Equal(t, progress.StageRunStart, events[0].Stage)
	assert.Equal(t, progress.StageRunError, events[1].Stage)
	assert.Contains(t, events[1].Note, "HTTP 404")
}

func TestRunAbortBeforeCountEmitsRunError(t *testing.T) {
	t.Parallel()

	var stages []progress.Stage
	reporter := progress.NewReporter(uuid.New(), "crawl-names",
		progress.EmitterFunc(func(e progress.Event) { stages = append(stages, e.Stage) }))
	store := newMemStore()
	store.failOn = "count"
	_, err := New(store, &fakeResolver{}, reporter, Config{}).Run(context.Background())
	require.ErrorIs(t, err, ErrStore)
	assert.Equal(t, []progress.Stage{progress.StageRunStart, progress.StageRunError}, stages)
}

func TestRunProbeSuccessContinues(t *testing.T) {
	t.Parallel()

	store := newMemStore(pending("p1", "https://shop.example.com/p1"))
	resolver := &fakeResolver{}
	_, err := New(store, resolver, nil, Config{ProbeURL: "https://shop.example.com/probe"}, WithSleep(noSleep)).
		Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, resolver.calls, 2)
}

func TestRunHonorsPageDelay(t *testing.T) {
	t.Parallel()

	store := newMemStore(
		pending("p1", "https://shop.example.com/p1"),
		pending("p2", "https://shop.example.com/p2"),
		pending("p3", "https://shop.example.com/p3"),
	)
	var delays []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	_, err := New(store, &fakeResolver{}, nil, Config{PageSize: 1, PageDelay: 100 * time.Millisecond}, WithSleep(sleep)).
		Run(context.Background())
	require.NoError(t, err)
	// Three full pages, then an empty read ends the run.
	assert.Len(t, delays, 3)
	assert.Equal(t, []int{1, 1, 1, 0}, store.pageSizes)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "fatal-error", StateFatal.String())
	assert.Equal(t, "dispatching", StateDispatching.String())
	assert.Equal(t, "unknown", State(42).String())
}
