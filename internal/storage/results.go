package storage

import (
	"sync"

	"github.com/maltedev/supplier-scraper/internal/models"
)

// ResultStore is the ordered, key-unique result collection. Upsert is the
// only way records are written during a batch; it is safe for concurrent use.
type ResultStore struct {
	mu      sync.RWMutex
	records []models.Record
	index   map[models.Key]int
}

func NewResultStore() *ResultStore {
	return &ResultStore{index: make(map[models.Key]int)}
}

// Upsert replaces the record with the same (SKU, URL) in place, or appends
// it. It reports whether an existing entry was replaced.
func (s *ResultStore) Upsert(rec models.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	if i, ok := s.index[key]; ok {
		s.records[i] = rec
		return true
	}

	s.index[key] = len(s.records)
	s.records = append(s.records, rec)
	return false
}

func (s *ResultStore) Get(sku, url string) (models.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[models.Key{SKU: sku, URL: url}]
	if !ok {
		return models.Record{}, false
	}
	return s.records[i], true
}

// Records returns a snapshot in insertion order.
func (s *ResultStore) Records() []models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *ResultStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	s.index = make(map[models.Key]int)
}

// Replace swaps the whole collection, e.g. when a saved session is loaded.
// Duplicate keys in recs collapse onto the first position, last value wins.
func (s *ResultStore) Replace(recs []models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make([]models.Record, 0, len(recs))
	s.index = make(map[models.Key]int, len(recs))
	for _, rec := range recs {
		key := rec.Key()
		if i, ok := s.index[key]; ok {
			s.records[i] = rec
			continue
		}
		s.index[key] = len(s.records)
		s.records = append(s.records, rec)
	}
}
