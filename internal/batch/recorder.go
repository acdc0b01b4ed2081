package batch

import (
	"context"

	"github.com/maltedev/supplier-scraper/internal/models"
)

// Recorder observes a batch as it runs. Errors are logged by the runner and
// never change the outcome of the batch.
type Recorder interface {
	StartBatch(ctx context.Context, summary *models.Summary) error
	RecordRow(ctx context.Context, batchID string, rec models.Record, status models.RowStatus) error
	FinishBatch(ctx context.Context, summary *models.Summary) error
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) StartBatch(context.Context, *models.Summary) error { return nil }

func (NopRecorder) RecordRow(context.Context, string, models.Record, models.RowStatus) error {
	return nil
}

func (NopRecorder) FinishBatch(context.Context, *models.Summary) error { return nil }
