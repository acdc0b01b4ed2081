package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/supplier-scraper/internal/models"
)

// StoredRecord is a row of supplier_records.
type StoredRecord struct {
	models.Record
	Status    string    `json:"status"`
	BatchID   string    `json:"batch_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordRepository mirrors the result collection into Postgres, keyed by
// (sku, url) like the in-memory store.
type RecordRepository struct {
	db *DB
}

func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db}
}

const upsertRecordSQL = `
	INSERT INTO supplier_records (
		sku, url, supplier, title, product_code, price,
		description, stock_level, status, batch_id, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
	)
	ON CONFLICT (sku, url) DO UPDATE SET
		supplier     = EXCLUDED.supplier,
		title        = EXCLUDED.title,
		product_code = EXCLUDED.product_code,
		price        = EXCLUDED.price,
		description  = EXCLUDED.description,
		stock_level  = EXCLUDED.stock_level,
		status       = EXCLUDED.status,
		batch_id     = EXCLUDED.batch_id,
		updated_at   = EXCLUDED.updated_at`

// UpsertWithTx writes rec inside tx, replacing any row with the same key.
func (r *RecordRepository) UpsertWithTx(ctx context.Context, tx pgx.Tx, batchID string, rec models.Record, status models.RowStatus) error {
	_, err := tx.Exec(ctx, upsertRecordSQL,
		rec.SKU, rec.URL, rec.Supplier, rec.Title, rec.ProductCode, rec.Price,
		rec.Description, rec.StockLevel, status.String(), batchID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", rec.Key(), err)
	}
	return nil
}

// List returns stored records, most recently updated first.
func (r *RecordRepository) List(ctx context.Context, limit int) ([]*StoredRecord, error) {
	query := `
		SELECT sku, url, supplier, title, product_code, price,
		       description, stock_level, status, COALESCE(batch_id::text, ''), updated_at
		FROM supplier_records
		ORDER BY updated_at DESC
		LIMIT $1`

	rows, err := r.db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []*StoredRecord
	for rows.Next() {
		s := &StoredRecord{}
		if err := rows.Scan(
			&s.SKU, &s.URL, &s.Supplier, &s.Title, &s.ProductCode, &s.Price,
			&s.Description, &s.StockLevel, &s.Status, &s.BatchID, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// StartBatchWithTx inserts the batch_runs row for summary.
func (r *RecordRepository) StartBatchWithTx(ctx context.Context, tx pgx.Tx, summary *models.Summary) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO batch_runs (id, supplier, attempted, started_at)
		VALUES ($1, $2, $3, $4)`,
		summary.BatchID, summary.Supplier, summary.Attempted, summary.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert batch run: %w", err)
	}
	return nil
}

// FinishBatchWithTx stores the final counts of summary.
func (r *RecordRepository) FinishBatchWithTx(ctx context.Context, tx pgx.Tx, summary *models.Summary) error {
	result, err := tx.Exec(ctx, `
		UPDATE batch_runs
		SET succeeded = $1, failed = $2, records = $3, finished_at = $4
		WHERE id = $5`,
		summary.Succeeded, summary.Failed, summary.Records, summary.FinishedAt, summary.BatchID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish batch run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("batch run not found: %s", summary.BatchID)
	}
	return nil
}

// GetBatch loads a batch run by id.
func (r *RecordRepository) GetBatch(ctx context.Context, id string) (*models.Summary, error) {
	s := &models.Summary{}
	var finished *time.Time
	err := r.db.pool.QueryRow(ctx, `
		SELECT id::text, supplier, attempted, succeeded, failed, records, started_at, finished_at
		FROM batch_runs
		WHERE id = $1`, id).Scan(
		&s.BatchID, &s.Supplier, &s.Attempted, &s.Succeeded, &s.Failed, &s.Records, &s.StartedAt, &finished,
	)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("batch run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch run: %w", err)
	}
	if finished != nil {
		s.FinishedAt = *finished
	}
	return s, nil
}
