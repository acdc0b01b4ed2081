package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maltedev/supplier-scraper/internal/fetcher"
	"github.com/maltedev/supplier-scraper/internal/models"
	"github.com/maltedev/supplier-scraper/internal/parser"
	"github.com/maltedev/supplier-scraper/internal/rules"
	"github.com/maltedev/supplier-scraper/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const widgetPage = `<html><body>
	<div class="p-name"><h1><a>Widget</a></h1></div>
	<span class="model-name">W-1</span>
	<div class="product-price"><span>9,99 €</span></div>
	<div class="desc">Round.</div>
	<div class="detail-versand">In stock</div>
</body></html>`

// fakeFetcher serves canned pages by URL; unknown URLs fail with HTTP 404.
type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	errs     map[string]error
	requests []string
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, url)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, &fetcher.TransportError{Message: ctx.Err().Error(), Err: ctx.Err()}
		}
	}

	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if page, ok := f.pages[url]; ok {
		return []byte(page), nil
	}
	return nil, &fetcher.TransportError{Status: 404, Message: "HTTP 404"}
}

// MockRecorder is a mock for the batch Recorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) StartBatch(ctx context.Context, summary *models.Summary) error {
	return m.Called(ctx, summary).Error(0)
}

func (m *MockRecorder) RecordRow(ctx context.Context, batchID string, rec models.Record, status models.RowStatus) error {
	return m.Called(ctx, batchID, rec, status).Error(0)
}

func (m *MockRecorder) FinishBatch(ctx context.Context, summary *models.Summary) error {
	return m.Called(ctx, summary).Error(0)
}

func newTestRunner(f fetcher.Fetcher, limit int) *Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(f, parser.NewSelectorParser(logger), storage.NewResultStore(), limit, logger)
}

func TestRunner_PartialFailure(t *testing.T) {
	f := &fakeFetcher{
		pages: map[string]string{"http://x/1": widgetPage},
		errs:  map[string]error{"http://x/2": &fetcher.TransportError{Status: 500, Message: "HTTP 500"}},
	}
	r := newTestRunner(f, 4)

	summary, err := r.Run(context.Background(), Request{
		Rows: []models.InputRow{
			{SKU: "A1", URL: "http://x/1"},
			{SKU: "A2", URL: "http://x/2"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "2/2 rows attempted", summary.String())
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, rules.DefaultSupplier, summary.Supplier)
	assert.NotEmpty(t, summary.BatchID)

	a1, ok := r.Store().Get("A1", "http://x/1")
	require.True(t, ok)
	assert.Equal(t, "Widget", a1.Title)
	assert.Equal(t, rules.DefaultSupplier, a1.Supplier)

	a2, ok := r.Store().Get("A2", "http://x/2")
	require.True(t, ok)
	assert.Equal(t, models.Placeholder(models.InputRow{SKU: "A2", URL: "http://x/2"}, rules.DefaultSupplier), a2)

	snap := r.Tracker().Snapshot()
	require.Len(t, snap.Rows, 2)
	assert.Equal(t, "done", snap.Rows[0].Status.String())
	assert.Equal(t, "error:HTTP 500", snap.Rows[1].Status.String())
}

func TestRunner_EveryRowTerminal(t *testing.T) {
	pages := map[string]string{}
	var rows []models.InputRow
	for i := 0; i < 50; i++ {
		url := fmt.Sprintf("http://x/%d", i)
		if i%3 != 0 {
			pages[url] = widgetPage
		}
		rows = append(rows, models.InputRow{SKU: fmt.Sprintf("S%d", i), URL: url})
	}
	f := &fakeFetcher{pages: pages, delay: time.Millisecond}
	r := newTestRunner(f, 5)

	summary, err := r.Run(context.Background(), Request{Rows: rows})
	require.NoError(t, err)

	snap := r.Tracker().Snapshot()
	assert.Equal(t, len(rows), snap.Terminal())
	assert.Equal(t, len(rows), summary.Succeeded+summary.Failed)
	assert.Equal(t, 17, summary.Failed)
	assert.Equal(t, len(rows), r.Store().Len())
	assert.LessOrEqual(t, f.peak.Load(), int32(5))
}

func TestRunner_DuplicateRowsCollapse(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"http://x/1": widgetPage}}
	r := newTestRunner(f, 2)

	summary, err := r.Run(context.Background(), Request{
		Rows: []models.InputRow{
			{SKU: "A1", URL: "http://x/1"},
			{SKU: "A1", URL: "http://x/1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "1/2 rows attempted", summary.String())
	assert.Equal(t, 1, r.Store().Len())
}

func TestRunner_MissingDescriptionSelector(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"http://x/1": widgetPage}}
	r := newTestRunner(f, 1)

	rs := rules.Default()
	sel := rs.Suppliers[rules.DefaultSupplier]
	delete(sel.Selectors, models.FieldDescription)
	rs.Suppliers[rules.DefaultSupplier] = sel

	_, err := r.Run(context.Background(), Request{
		Rows:  []models.InputRow{{SKU: "A1", URL: "http://x/1"}},
		Rules: rs,
	})
	require.NoError(t, err)

	rec, ok := r.Store().Get("A1", "http://x/1")
	require.True(t, ok)
	assert.Equal(t, "Widget", rec.Title)
	assert.Equal(t, "", rec.Description)
}

func TestRunner_UnknownSupplierExtractsNothing(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"http://x/1": widgetPage}}
	r := newTestRunner(f, 1)

	summary, err := r.Run(context.Background(), Request{
		Rows:     []models.InputRow{{SKU: "A1", URL: "http://x/1"}},
		Supplier: "Nobody",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	rec, _ := r.Store().Get("A1", "http://x/1")
	assert.Equal(t, models.Record{SKU: "A1", URL: "http://x/1", Supplier: "Nobody"}, rec)
}

func TestRunner_ProxyTemplate(t *testing.T) {
	f := &fakeFetcher{}
	r := newTestRunner(f, 1)

	_, err := r.Run(context.Background(), Request{
		Rows:          []models.InputRow{{SKU: "A1", URL: "http://a.com/p?x=1"}},
		ProxyTemplate: "https://cors.example/{url}",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cors.example/http%3A%2F%2Fa.com%2Fp%3Fx%3D1"}, f.requests)

	// The record keeps the original URL, not the proxied one.
	_, ok := r.Store().Get("A1", "http://a.com/p?x=1")
	assert.True(t, ok)
}

func TestRunner_RerunReplacesInPlace(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"http://x/1": widgetPage}}
	r := newTestRunner(f, 1)
	rows := []models.InputRow{{SKU: "A1", URL: "http://x/1"}}

	_, err := r.Run(context.Background(), Request{Rows: rows})
	require.NoError(t, err)
	gen := r.Tracker().Generation()

	delete(f.pages, "http://x/1")
	_, err = r.Run(context.Background(), Request{Rows: rows})
	require.NoError(t, err)

	assert.Equal(t, gen+1, r.Tracker().Generation())
	assert.Equal(t, 1, r.Store().Len())
	rec, _ := r.Store().Get("A1", "http://x/1")
	assert.Equal(t, "", rec.Title)
}

func TestRunner_CancelledContext(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"http://x/1": widgetPage}}
	r := newTestRunner(f, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := r.Run(ctx, Request{Rows: []models.InputRow{
		{SKU: "A1", URL: "http://x/1"},
		{SKU: "A2", URL: "http://x/2"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)
	assert.Empty(t, f.requests)

	snap := r.Tracker().Snapshot()
	assert.Equal(t, 2, snap.Terminal())
	assert.Equal(t, "error:context canceled", snap.Rows[0].Status.String())
	assert.Equal(t, 2, r.Store().Len())
}

func TestRunner_SerializesBatches(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"http://x/1": widgetPage}, delay: 20 * time.Millisecond}
	r := newTestRunner(f, 4)
	rows := []models.InputRow{{SKU: "A1", URL: "http://x/1"}}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Run(context.Background(), Request{Rows: rows})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.peak.Load())
	assert.Equal(t, uint64(3), r.Tracker().Generation())
}

func TestRunner_IdleWaitsForBatch(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"http://x/1": widgetPage}, delay: 50 * time.Millisecond}
	r := newTestRunner(f, 2)
	rows := []models.InputRow{{SKU: "A1", URL: "http://x/1"}, {SKU: "A2", URL: "http://x/1"}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := r.Run(context.Background(), Request{Rows: rows})
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool { return f.inFlight.Load() > 0 }, time.Second, time.Millisecond)

	r.Idle(func() {
		assert.Equal(t, len(rows), r.Tracker().Snapshot().Terminal())
		r.Store().Clear()
	})
	<-done

	assert.Equal(t, 0, r.Store().Len())
}

func TestRunner_Recorder(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"http://x/1": widgetPage}}
	r := newTestRunner(f, 1)

	rec := new(MockRecorder)
	rec.On("StartBatch", mock.Anything, mock.AnythingOfType("*models.Summary")).Return(nil)
	rec.On("RecordRow", mock.Anything, mock.AnythingOfType("string"),
		mock.MatchedBy(func(r models.Record) bool { return r.SKU == "A1" && r.Title == "Widget" }),
		models.Done()).Return(nil)
	rec.On("RecordRow", mock.Anything, mock.AnythingOfType("string"),
		mock.MatchedBy(func(r models.Record) bool { return r.SKU == "A2" }),
		models.Failed("HTTP 404")).Return(fmt.Errorf("db down"))
	rec.On("FinishBatch", mock.Anything, mock.MatchedBy(func(s *models.Summary) bool {
		return s.Attempted == 2 && s.Succeeded == 1 && s.Failed == 1
	})).Return(nil)
	r.SetRecorder(rec)

	summary, err := r.Run(context.Background(), Request{Rows: []models.InputRow{
		{SKU: "A1", URL: "http://x/1"},
		{SKU: "A2", URL: "http://x/2"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "2/2 rows attempted", summary.String())
	rec.AssertExpectations(t)
}

func TestRunner_EmptyBatch(t *testing.T) {
	r := newTestRunner(&fakeFetcher{}, 0)
	summary, err := r.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "0/0 rows attempted", summary.String())
	assert.Equal(t, DefaultConcurrency, r.limit)
}
