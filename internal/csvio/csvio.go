package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/maltedev/supplier-scraper/internal/models"
)

const (
	ColumnSKU = "SKU"
	ColumnURL = "URL"
)

// Template is the example input file offered to users.
const Template = "SKU,URL\nABC-123,https://example.com/product-1"

// ExportHeader is the fixed column order of exported records.
var ExportHeader = []string{"SKU", "Supplier", "URL", "Title", "Product Code", "Price", "Description", "Stock Level"}

// InputSchemaError reports required columns missing from the row source.
type InputSchemaError struct {
	Missing []string
}

func (e *InputSchemaError) Error() string {
	return "missing columns: " + strings.Join(e.Missing, ", ")
}

// ReadRows parses a delimited file whose header contains SKU and URL.
// Extra columns are ignored, blank lines skipped and values trimmed.
func ReadRows(r io.Reader) ([]models.InputRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &InputSchemaError{Missing: []string{ColumnSKU, ColumnURL}}
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	colIx := map[string]int{}
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := colIx[name]; !dup {
			colIx[name] = i
		}
	}

	var missing []string
	for _, req := range []string{ColumnSKU, ColumnURL} {
		if _, ok := colIx[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, &InputSchemaError{Missing: missing}
	}

	skuIx, urlIx := colIx[ColumnSKU], colIx[ColumnURL]
	field := func(rec []string, i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	rows := []models.InputRow{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("read row at line %d: %w", line, err)
		}
		if blank(rec) {
			continue
		}
		rows = append(rows, models.InputRow{
			SKU: field(rec, skuIx),
			URL: field(rec, urlIx),
		})
	}
	return rows, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// WriteRecords serializes records with the fixed export header. Values that
// contain a comma, quote or newline are quoted.
func WriteRecords(w io.Writer, records []models.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write([]string{
			r.SKU,
			r.Supplier,
			r.URL,
			r.Title,
			r.ProductCode,
			r.Price,
			r.Description,
			r.StockLevel,
		}); err != nil {
			return fmt.Errorf("write record %s: %w", r.Key(), err)
		}
	}
	cw.Flush()
	return cw.Error()
}
