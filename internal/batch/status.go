package batch

import (
	"sync"

	"github.com/maltedev/supplier-scraper/internal/models"
)

// RowState pairs an input row with its current status.
type RowState struct {
	SKU    string           `json:"sku"`
	URL    string           `json:"url"`
	Status models.RowStatus `json:"status"`
}

// Snapshot is a point-in-time copy of every row status.
type Snapshot struct {
	Generation uint64     `json:"generation"`
	Rows       []RowState `json:"rows"`
}

// Terminal counts rows in done or error state.
func (s Snapshot) Terminal() int {
	n := 0
	for _, r := range s.Rows {
		if r.Status.Terminal() {
			n++
		}
	}
	return n
}

// Tracker holds the per-row status of the most recent batch. Each Reset
// starts a new generation; updates tagged with an older generation are
// dropped so a superseded batch cannot overwrite fresh statuses.
type Tracker struct {
	mu         sync.RWMutex
	generation uint64
	rows       []models.InputRow
	statuses   []models.RowStatus
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Reset puts every row into pending and returns the new generation.
func (t *Tracker) Reset(rows []models.InputRow) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.generation++
	t.rows = make([]models.InputRow, len(rows))
	copy(t.rows, rows)
	t.statuses = make([]models.RowStatus, len(rows))
	for i := range t.statuses {
		t.statuses[i] = models.Pending()
	}
	return t.generation
}

// Set records the status of row i. It reports false when gen is stale or i
// is out of range.
func (t *Tracker) Set(gen uint64, i int, status models.RowStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.generation || i < 0 || i >= len(t.statuses) {
		return false
	}
	t.statuses[i] = status
	return true
}

func (t *Tracker) Generation() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.generation
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		Generation: t.generation,
		Rows:       make([]RowState, len(t.rows)),
	}
	for i, row := range t.rows {
		snap.Rows[i] = RowState{SKU: row.SKU, URL: row.URL, Status: t.statuses[i]}
	}
	return snap
}
