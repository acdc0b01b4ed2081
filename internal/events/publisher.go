package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/supplier-scraper/internal/database"
	"github.com/maltedev/supplier-scraper/internal/models"
)

type EventType string

const (
	EventTypeRecordExtracted EventType = "RECORD_EXTRACTED"
	EventTypeRecordFailed    EventType = "RECORD_FAILED"
	EventTypeBatchCompleted  EventType = "BATCH_COMPLETED"

	aggregateRecord = "supplier_record"
	aggregateBatch  = "batch_run"

	RecordStream = database.DefaultStream
	BatchStream  = "stream:supplier_batches"
)

// RecordPayload is the body of RECORD_EXTRACTED and RECORD_FAILED.
type RecordPayload struct {
	EventID   string        `json:"event_id"`
	EventType string        `json:"event_type"`
	Timestamp time.Time     `json:"timestamp"`
	BatchID   string        `json:"batch_id"`
	Status    string        `json:"status"`
	Record    models.Record `json:"record"`
}

// BatchPayload is the body of BATCH_COMPLETED.
type BatchPayload struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Summary   models.Summary `json:"summary"`
}

// TxRunner runs a function in a database transaction.
type TxRunner interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

type RecordWriter interface {
	UpsertWithTx(ctx context.Context, tx pgx.Tx, batchID string, rec models.Record, status models.RowStatus) error
	StartBatchWithTx(ctx context.Context, tx pgx.Tx, summary *models.Summary) error
	FinishBatchWithTx(ctx context.Context, tx pgx.Tx, summary *models.Summary) error
}

// Publisher mirrors batch progress into Postgres. Each terminal row is
// written to supplier_records together with its outbox event in one
// transaction; the relay forwards the events to Redis.
type Publisher struct {
	db      TxRunner
	records RecordWriter
	outbox  OutboxWriter
	logger  *slog.Logger
}

func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return newPublisher(db, database.NewRecordRepository(db), database.NewOutboxRepository(db), logger)
}

func newPublisher(db TxRunner, records RecordWriter, outbox OutboxWriter, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:      db,
		records: records,
		outbox:  outbox,
		logger:  logger.With("component", "event_publisher"),
	}
}

func (p *Publisher) StartBatch(ctx context.Context, summary *models.Summary) error {
	err := p.db.Transaction(ctx, func(tx pgx.Tx) error {
		return p.records.StartBatchWithTx(ctx, tx, summary)
	})
	if err != nil {
		return fmt.Errorf("failed to record batch start: %w", err)
	}
	return nil
}

func (p *Publisher) RecordRow(ctx context.Context, batchID string, rec models.Record, status models.RowStatus) error {
	eventType := EventTypeRecordExtracted
	if status.State == models.StateError {
		eventType = EventTypeRecordFailed
	}

	payload := &RecordPayload{
		EventID:   uuid.New().String(),
		EventType: string(eventType),
		Timestamp: time.Now(),
		BatchID:   batchID,
		Status:    status.String(),
		Record:    rec,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	event := &database.OutboxEvent{
		AggregateType: aggregateRecord,
		AggregateID:   rec.Key().String(),
		EventType:     string(eventType),
		Payload:       data,
		TargetStream:  RecordStream,
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := p.records.UpsertWithTx(ctx, tx, batchID, rec, status); err != nil {
			return err
		}
		return p.outbox.InsertWithTx(ctx, tx, event)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("event published to outbox",
		"event_type", eventType,
		"aggregate_id", event.AggregateID)
	return nil
}

func (p *Publisher) FinishBatch(ctx context.Context, summary *models.Summary) error {
	payload := &BatchPayload{
		EventID:   uuid.New().String(),
		EventType: string(EventTypeBatchCompleted),
		Timestamp: time.Now(),
		Summary:   *summary,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	event := &database.OutboxEvent{
		AggregateType: aggregateBatch,
		AggregateID:   summary.BatchID,
		EventType:     string(EventTypeBatchCompleted),
		Payload:       data,
		TargetStream:  BatchStream,
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := p.records.FinishBatchWithTx(ctx, tx, summary); err != nil {
			return err
		}
		return p.outbox.InsertWithTx(ctx, tx, event)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("batch published to outbox",
		"batch_id", summary.BatchID,
		"summary", summary.String())
	return nil
}
