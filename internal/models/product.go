package models

import (
	"fmt"
	"strings"
	"time"
)

// Field names a value the extractor can pull out of a product page.
type Field string

const (
	FieldTitle       Field = "title"
	FieldProductCode Field = "productCode"
	FieldPrice       Field = "price"
	FieldDescription Field = "description"
	FieldStockLevel  Field = "stockLevel"
)

// Fields lists every extractable field in export order.
var Fields = []Field{
	FieldTitle,
	FieldProductCode,
	FieldPrice,
	FieldDescription,
	FieldStockLevel,
}

// IsKnown reports whether f is one of the extractable fields.
func (f Field) IsKnown() bool {
	for _, known := range Fields {
		if f == known {
			return true
		}
	}
	return false
}

// InputRow is one SKU/URL pair read from the row source.
type InputRow struct {
	SKU string `json:"sku"`
	URL string `json:"url"`
}

// Key identifies a row in the result collection.
func (r InputRow) Key() Key {
	return Key{SKU: r.SKU, URL: r.URL}
}

// Key is the (SKU, URL) identity used to deduplicate records.
type Key struct {
	SKU string
	URL string
}

func (k Key) String() string {
	return k.SKU + "|" + k.URL
}

// Record is the extracted product data for one row.
type Record struct {
	SKU         string `json:"sku"`
	Supplier    string `json:"supplier"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	ProductCode string `json:"productCode"`
	Price       string `json:"price"`
	Description string `json:"description"`
	StockLevel  string `json:"stockLevel"`
}

func (r Record) Key() Key {
	return Key{SKU: r.SKU, URL: r.URL}
}

// Get returns the value stored for f, or "" for unknown fields.
func (r Record) Get(f Field) string {
	switch f {
	case FieldTitle:
		return r.Title
	case FieldProductCode:
		return r.ProductCode
	case FieldPrice:
		return r.Price
	case FieldDescription:
		return r.Description
	case FieldStockLevel:
		return r.StockLevel
	}
	return ""
}

// Set stores v under f. Unknown fields are ignored.
func (r *Record) Set(f Field, v string) {
	switch f {
	case FieldTitle:
		r.Title = v
	case FieldProductCode:
		r.ProductCode = v
	case FieldPrice:
		r.Price = v
	case FieldDescription:
		r.Description = v
	case FieldStockLevel:
		r.StockLevel = v
	}
}

// Placeholder builds the empty record written for a row whose fetch failed.
func Placeholder(row InputRow, supplier string) Record {
	return Record{SKU: row.SKU, Supplier: supplier, URL: row.URL}
}

// State is the processing stage of a single row.
type State string

const (
	StatePending  State = "pending"
	StateFetching State = "fetching"
	StateParsing  State = "parsing"
	StateDone     State = "done"
	StateError    State = "error"
)

// RowStatus is the transient progress of one row within a batch.
type RowStatus struct {
	State   State  `json:"state"`
	Message string `json:"message,omitempty"`
}

func Pending() RowStatus  { return RowStatus{State: StatePending} }
func Fetching() RowStatus { return RowStatus{State: StateFetching} }
func Parsing() RowStatus  { return RowStatus{State: StateParsing} }
func Done() RowStatus     { return RowStatus{State: StateDone} }

// Failed builds an error status carrying msg.
func Failed(msg string) RowStatus {
	if strings.TrimSpace(msg) == "" {
		msg = "failed"
	}
	return RowStatus{State: StateError, Message: msg}
}

// Terminal reports whether the row has finished processing.
func (s RowStatus) Terminal() bool {
	return s.State == StateDone || s.State == StateError
}

func (s RowStatus) String() string {
	if s.State == StateError {
		return "error:" + s.Message
	}
	return string(s.State)
}

// Summary is the outcome of one batch run.
type Summary struct {
	BatchID    string    `json:"batch_id"`
	Supplier   string    `json:"supplier"`
	Attempted  int       `json:"attempted"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Records    int       `json:"records"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (s *Summary) String() string {
	return fmt.Sprintf("%d/%d rows attempted", s.Records, s.Attempted)
}

func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
