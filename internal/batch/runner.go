package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/supplier-scraper/internal/fetcher"
	"github.com/maltedev/supplier-scraper/internal/models"
	"github.com/maltedev/supplier-scraper/internal/parser"
	"github.com/maltedev/supplier-scraper/internal/rules"
	"github.com/maltedev/supplier-scraper/internal/storage"
	"github.com/maltedev/supplier-scraper/internal/target"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 8

// Request describes one batch.
type Request struct {
	Rows          []models.InputRow
	Supplier      string
	Rules         *rules.RuleSet
	ProxyTemplate string
}

// Runner fetches and extracts every row of a batch with bounded concurrency
// and merges the results into a shared store. Launches are serialized.
type Runner struct {
	mu       sync.Mutex
	fetcher  fetcher.Fetcher
	parser   parser.Parser
	store    *storage.ResultStore
	tracker  *Tracker
	recorder Recorder
	limit    int
	logger   *slog.Logger
}

func NewRunner(f fetcher.Fetcher, p parser.Parser, store *storage.ResultStore, limit int, logger *slog.Logger) *Runner {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	return &Runner{
		fetcher:  f,
		parser:   p,
		store:    store,
		tracker:  NewTracker(),
		recorder: NopRecorder{},
		limit:    limit,
		logger:   logger.With("component", "batch_runner"),
	}
}

// SetRecorder installs a recorder; nil restores the no-op recorder.
func (r *Runner) SetRecorder(rec Recorder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec == nil {
		rec = NopRecorder{}
	}
	r.recorder = rec
}

func (r *Runner) Tracker() *Tracker {
	return r.tracker
}

func (r *Runner) Store() *storage.ResultStore {
	return r.store
}

// Idle runs fn once no batch is in progress. Batches launched meanwhile wait
// for fn to return.
func (r *Runner) Idle(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}

// Run processes every row and returns once all of them are terminal. Row
// failures become placeholder records and error statuses; they are never
// returned. A cancelled ctx fails the rows that have not fetched yet.
func (r *Runner) Run(ctx context.Context, req Request) (*models.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ruleSet := req.Rules
	if ruleSet == nil {
		ruleSet = rules.Default()
	}
	supplier := req.Supplier
	if supplier == "" {
		supplier = rules.DefaultSupplier
	}

	selectors, ok := ruleSet.Lookup(supplier)
	if !ok {
		r.logger.Warn("no rules for supplier, fields will be empty", "supplier", supplier)
	}

	summary := &models.Summary{
		BatchID:   uuid.New().String(),
		Supplier:  supplier,
		Attempted: len(req.Rows),
		StartedAt: time.Now(),
	}
	logger := r.logger.With("batch_id", summary.BatchID)

	gen := r.tracker.Reset(req.Rows)
	if err := r.recorder.StartBatch(ctx, summary); err != nil {
		logger.Warn("failed to record batch start", "error", err)
	}

	logger.Info("batch started",
		"rows", len(req.Rows),
		"supplier", supplier,
		"concurrency", r.limit,
		"proxy", req.ProxyTemplate != "")

	var (
		outMu   sync.Mutex
		written = make(map[models.Key]struct{}, len(req.Rows))
	)

	w := &rowWorker{
		runner:    r,
		gen:       gen,
		batchID:   summary.BatchID,
		supplier:  supplier,
		selectors: selectors,
		proxy:     req.ProxyTemplate,
		logger:    logger,
	}

	g := new(errgroup.Group)
	g.SetLimit(r.limit)
	for i, row := range req.Rows {
		i, row := i, row
		g.Go(func() error {
			rec, status := w.process(ctx, i, row)

			outMu.Lock()
			written[rec.Key()] = struct{}{}
			if status.State == models.StateDone {
				summary.Succeeded++
			} else {
				summary.Failed++
			}
			outMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary.Records = len(written)
	summary.FinishedAt = time.Now()

	if err := r.recorder.FinishBatch(context.WithoutCancel(ctx), summary); err != nil {
		logger.Warn("failed to record batch finish", "error", err)
	}

	logger.Info("batch completed",
		"summary", summary.String(),
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duration", summary.Duration())

	return summary, nil
}

type rowWorker struct {
	runner    *Runner
	gen       uint64
	batchID   string
	supplier  string
	selectors rules.Selectors
	proxy     string
	logger    *slog.Logger
}

func (w *rowWorker) process(ctx context.Context, i int, row models.InputRow) (models.Record, models.RowStatus) {
	r := w.runner
	r.tracker.Set(w.gen, i, models.Fetching())

	rec, status := w.fetchAndExtract(ctx, i, row)
	r.store.Upsert(rec)
	r.tracker.Set(w.gen, i, status)

	if err := r.recorder.RecordRow(context.WithoutCancel(ctx), w.batchID, rec, status); err != nil {
		w.logger.Warn("failed to record row", "sku", row.SKU, "error", err)
	}
	return rec, status
}

func (w *rowWorker) fetchAndExtract(ctx context.Context, i int, row models.InputRow) (models.Record, models.RowStatus) {
	r := w.runner

	if err := ctx.Err(); err != nil {
		return models.Placeholder(row, w.supplier), models.Failed(err.Error())
	}

	body, err := r.fetcher.Fetch(ctx, target.Resolve(row.URL, w.proxy))
	if err != nil {
		w.logger.Warn("fetch failed", "sku", row.SKU, "url", row.URL, "error", err)
		return models.Placeholder(row, w.supplier), models.Failed(err.Error())
	}

	r.tracker.Set(w.gen, i, models.Parsing())
	rec := r.parser.Extract(body, w.selectors)
	rec.SKU = row.SKU
	rec.URL = row.URL
	rec.Supplier = w.supplier

	w.logger.Debug("row extracted", "sku", row.SKU, "title", rec.Title)
	return rec, models.Done()
}
