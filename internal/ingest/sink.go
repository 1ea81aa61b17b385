package ingest

import (
	"context"
	"errors"
	"fmt"

	"clmmBacktest/internal/model"
	"clmmBacktest/internal/storage"
)

// Batch is everything produced for one block range.
type Batch struct {
	Range  BlockRange
	Logs   []model.LogRecord
	Events []model.Event
	Errors []model.DecodeError
	Pools  []model.Pool
}

// Sink receives batches in block order. A batch is durable once WriteBatch
// returns nil; the checkpoint only advances after that.
type Sink interface {
	WriteBatch(ctx context.Context, batch Batch) error
}

// FileSink appends events and decode errors to JSONL files and optionally
// keeps the raw logs.
type FileSink struct {
	events *storage.JSONLWriter
	errors *storage.JSONLWriter
	raw    storage.Storage
	closed bool
}

// NewFileSink opens the output files. appendMode keeps existing content, as
// when resuming from a checkpoint. Empty errorsPath or rawPath disables that output.
func NewFileSink(eventsPath, errorsPath, rawPath string, appendMode bool) (*FileSink, error) {
	events, err := storage.NewJSONLWriter(eventsPath, appendMode)
	if err != nil {
		return nil, fmt.Errorf("open events output: %w", err)
	}
	s := &FileSink{events: events}
	if errorsPath != "" {
		if s.errors, err = storage.NewJSONLWriter(errorsPath, appendMode); err != nil {
			events.Close()
			return nil, fmt.Errorf("open errors output: %w", err)
		}
	}
	if rawPath != "" {
		s.raw = storage.NewJsonlStorage(rawPath)
	}
	return s, nil
}

func (s *FileSink) WriteBatch(_ context.Context, batch Batch) error {
	if s.raw != nil {
		if err := s.raw.PutLogBatch(batch.Logs); err != nil {
			return fmt.Errorf("store raw logs: %w", err)
		}
	}
	for _, ev := range batch.Events {
		if err := s.events.Write(ev); err != nil {
			return fmt.Errorf("write event %s: %w", ev, err)
		}
	}
	if err := s.events.Flush(); err != nil {
		return err
	}
	if s.errors == nil {
		return nil
	}
	for _, de := range batch.Errors {
		if err := s.errors.Write(de); err != nil {
			return fmt.Errorf("write decode error: %w", err)
		}
	}
	return s.errors.Flush()
}

// Close flushes and closes the outputs. Later calls do nothing.
func (s *FileSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.events.Close(), s.errors.Close())
}

// EventStore is the persistence surface the Postgres sink needs.
type EventStore interface {
	UpsertPools(ctx context.Context, pools []model.Pool) error
	InsertEvents(ctx context.Context, events []model.Event) (int, error)
}

// StoreSink writes pools and events to an EventStore.
type StoreSink struct {
	store EventStore
}

func NewStoreSink(store EventStore) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) WriteBatch(ctx context.Context, batch Batch) error {
	if err := s.store.UpsertPools(ctx, batch.Pools); err != nil {
		return fmt.Errorf("upsert pools: %w", err)
	}
	if _, err := s.store.InsertEvents(ctx, batch.Events); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

// MultiSink writes each batch to every sink in order.
type MultiSink []Sink

func (m MultiSink) WriteBatch(ctx context.Context, batch Batch) error {
	for _, s := range m {
		if err := s.WriteBatch(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}
