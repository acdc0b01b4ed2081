package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/supplier-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "u", Password: "p", Database: "scraper"}
	assert.Equal(t, "postgres://u:p@db:5432/scraper?sslmode=disable", cfg.DSN())

	cfg.SSLMode = "require"
	assert.Equal(t, "postgres://u:p@db:5432/scraper?sslmode=require", cfg.DSN())

	cfg.URL = "postgres://other/db"
	assert.Equal(t, "postgres://other/db", cfg.DSN())
}

func TestRecordRepository(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRecordRepository(db)
	summary := &models.Summary{
		BatchID:   uuid.New().String(),
		Supplier:  "Scooter Center",
		Attempted: 2,
		StartedAt: time.Now(),
	}

	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.StartBatchWithTx(ctx, tx, summary)
	}))

	rec := models.Record{SKU: "A1", URL: "http://x/1", Supplier: "Scooter Center", Title: "Old"}
	for _, title := range []string{"Old", "New"} {
		rec.Title = title
		require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.UpsertWithTx(ctx, tx, summary.BatchID, rec, models.Done())
		}))
	}
	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.UpsertWithTx(ctx, tx, summary.BatchID,
			models.Placeholder(models.InputRow{SKU: "A2", URL: "http://x/2"}, "Scooter Center"),
			models.Failed("HTTP 500"))
	}))

	stored, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	byKey := map[string]*StoredRecord{}
	for _, s := range stored {
		byKey[s.SKU] = s
	}
	assert.Equal(t, "New", byKey["A1"].Title)
	assert.Equal(t, "done", byKey["A1"].Status)
	assert.Equal(t, "error:HTTP 500", byKey["A2"].Status)
	assert.Equal(t, summary.BatchID, byKey["A2"].BatchID)

	summary.Succeeded, summary.Failed, summary.Records = 1, 1, 2
	summary.FinishedAt = time.Now()
	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.FinishBatchWithTx(ctx, tx, summary)
	}))

	got, err := repo.GetBatch(ctx, summary.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Records)
	assert.Equal(t, "2/2 rows attempted", got.String())

	_, err = repo.GetBatch(ctx, uuid.New().String())
	assert.ErrorContains(t, err, "batch run not found")
}
