package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/supplier-scraper/internal/batch"
	"github.com/maltedev/supplier-scraper/internal/csvio"
	"github.com/maltedev/supplier-scraper/internal/models"
	"github.com/maltedev/supplier-scraper/internal/rules"
	"github.com/maltedev/supplier-scraper/internal/storage"
)

var (
	ErrNoRows          = errors.New("no rows loaded")
	ErrUnknownSupplier = errors.New("unknown supplier")
)

// Settings are the user-adjustable batch parameters.
type Settings struct {
	ActiveSupplier string `json:"activeSupplier"`
	ProxyTemplate  string `json:"proxyTemplate"`
}

// Workspace is the working session: loaded rows, rule set, settings and the
// result collection shared with the batch runner.
type Workspace struct {
	mu             sync.RWMutex
	rows           []models.InputRow
	ruleSet        *rules.RuleSet
	activeSupplier string
	proxyTemplate  string

	runner *batch.Runner
	store  storage.SessionStore
	logger *slog.Logger
}

func New(runner *batch.Runner, store storage.SessionStore, logger *slog.Logger) *Workspace {
	return &Workspace{
		rows:           []models.InputRow{},
		ruleSet:        rules.Default(),
		activeSupplier: rules.DefaultSupplier,
		runner:         runner,
		store:          store,
		logger:         logger.With("component", "session"),
	}
}

// LoadRows replaces the loaded rows with the contents of a delimited file.
// The previous rows are kept when the file is rejected.
func (w *Workspace) LoadRows(r io.Reader) (int, error) {
	rows, err := csvio.ReadRows(r)
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	w.rows = rows
	w.mu.Unlock()

	w.runner.Tracker().Reset(rows)
	w.logger.Info("rows loaded", "count", len(rows))
	return len(rows), nil
}

func (w *Workspace) Rows() []models.InputRow {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]models.InputRow, len(w.rows))
	copy(out, w.rows)
	return out
}

func (w *Workspace) Statuses() batch.Snapshot {
	return w.runner.Tracker().Snapshot()
}

// Run launches a batch over the loaded rows with the current settings.
func (w *Workspace) Run(ctx context.Context) (*models.Summary, error) {
	w.mu.RLock()
	req := batch.Request{
		Rows:          make([]models.InputRow, len(w.rows)),
		Supplier:      w.activeSupplier,
		Rules:         w.ruleSet.Clone(),
		ProxyTemplate: w.proxyTemplate,
	}
	copy(req.Rows, w.rows)
	w.mu.RUnlock()

	if len(req.Rows) == 0 {
		return nil, ErrNoRows
	}
	return w.runner.Run(ctx, req)
}

func (w *Workspace) Results() []models.Record {
	return w.runner.Store().Records()
}

// ClearResults empties the result collection after any running batch ends.
func (w *Workspace) ClearResults() {
	w.runner.Idle(w.runner.Store().Clear)
}

// Export writes the result collection as CSV.
func (w *Workspace) Export(out io.Writer) error {
	return csvio.WriteRecords(out, w.Results())
}

func (w *Workspace) Rules() *rules.RuleSet {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ruleSet.Clone()
}

// SetRules installs rs after validation. The active supplier is left alone
// even when rs no longer defines it; batches then extract nothing.
func (w *Workspace) SetRules(rs *rules.RuleSet) error {
	if rs == nil {
		rs = rules.Default()
	}
	if err := rs.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	w.ruleSet = rs.Clone()
	w.mu.Unlock()

	w.logger.Info("rule set updated", "suppliers", rs.Names())
	return nil
}

func (w *Workspace) Settings() Settings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Settings{ActiveSupplier: w.activeSupplier, ProxyTemplate: w.proxyTemplate}
}

// SetSettings changes the active supplier and proxy template. An empty
// supplier keeps the current one; a supplier absent from the rule set is
// rejected.
func (w *Workspace) SetSettings(s Settings) error {
	return w.applySettings(s, true)
}

// OverrideSettings is SetSettings without the rule set check. Batches for a
// supplier without rules still run and leave every field empty.
func (w *Workspace) OverrideSettings(s Settings) {
	_ = w.applySettings(s, false)
}

func (w *Workspace) applySettings(s Settings, strict bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	supplier := strings.TrimSpace(s.ActiveSupplier)
	if supplier != "" {
		if _, ok := w.ruleSet.Lookup(supplier); !ok {
			if strict {
				return fmt.Errorf("%w: %s", ErrUnknownSupplier, supplier)
			}
			w.logger.Warn("no rules for supplier, fields will be empty", "supplier", supplier)
		}
		w.activeSupplier = supplier
	}
	w.proxyTemplate = strings.TrimSpace(s.ProxyTemplate)
	return nil
}

// Reset starts a new session: rows and results are cleared, the built-in
// rule set and default supplier restored. The proxy template is kept. A
// running batch finishes before its results are dropped.
func (w *Workspace) Reset() {
	w.mu.Lock()
	w.rows = []models.InputRow{}
	w.ruleSet = rules.Default()
	w.activeSupplier = rules.DefaultSupplier
	w.mu.Unlock()

	w.runner.Idle(func() {
		w.runner.Store().Clear()
		w.runner.Tracker().Reset(nil)
	})
	w.logger.Info("session reset")
}

// Document captures the whole session.
func (w *Workspace) Document() *storage.SessionDocument {
	w.mu.RLock()
	defer w.mu.RUnlock()

	doc := &storage.SessionDocument{
		Rows:           make([]models.InputRow, len(w.rows)),
		Results:        w.runner.Store().Records(),
		RuleSet:        w.ruleSet.Clone(),
		ActiveSupplier: w.activeSupplier,
		ProxyTemplate:  w.proxyTemplate,
		SavedAt:        time.Now().UTC(),
	}
	copy(doc.Rows, w.rows)
	return doc
}

// Apply replaces the session with doc. A document without a proxy template
// keeps the current one.
func (w *Workspace) Apply(doc *storage.SessionDocument) {
	w.mu.Lock()
	w.rows = doc.Rows
	if w.rows == nil {
		w.rows = []models.InputRow{}
	}
	w.ruleSet = doc.RuleSet
	if w.ruleSet == nil {
		w.ruleSet = rules.Default()
	}
	w.activeSupplier = doc.ActiveSupplier
	if w.activeSupplier == "" {
		w.activeSupplier = rules.DefaultSupplier
	}
	if t := strings.TrimSpace(doc.ProxyTemplate); t != "" {
		w.proxyTemplate = t
	}
	rows := w.rows
	w.mu.Unlock()

	w.runner.Idle(func() {
		w.runner.Store().Replace(doc.Results)
		w.runner.Tracker().Reset(rows)
	})
}

// Save writes the session to the configured store.
func (w *Workspace) Save(ctx context.Context) error {
	doc := w.Document()
	if err := w.store.Save(ctx, doc); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	w.logger.Info("session saved", "rows", len(doc.Rows), "results", len(doc.Results))
	return nil
}

// Load replaces the session with the one in the configured store.
func (w *Workspace) Load(ctx context.Context) error {
	doc, err := w.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	w.Apply(doc)
	w.logger.Info("session loaded", "rows", len(doc.Rows), "results", len(doc.Results))
	return nil
}
