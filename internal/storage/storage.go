package storage

import (
	"context"
	"io"
	"strings"

	"clmmBacktest/internal/model"
)

// Storage defines a sink for raw log records.
type Storage interface {
	PutLogBatch(logs []model.LogRecord) error
}

// Cursor yields pool events in replay order. Next returns io.EOF when exhausted.
type Cursor interface {
	Next(ctx context.Context) (model.Event, error)
	Close() error
}

// SliceCursor replays an in-memory event list.
type SliceCursor struct {
	events []model.Event
	pos    int
}

func NewSliceCursor(events []model.Event) *SliceCursor {
	return &SliceCursor{events: events}
}

func (c *SliceCursor) Next(ctx context.Context) (model.Event, error) {
	if err := ctx.Err(); err != nil {
		return model.Event{}, err
	}
	if c.pos >= len(c.events) {
		return model.Event{}, io.EOF
	}
	ev := c.events[c.pos]
	c.pos++
	return ev, nil
}

func (c *SliceCursor) Close() error {
	return nil
}

// PoolCursor passes through only the events of one pool, for event files
// that mix several pools. Events without a pool always pass.
type PoolCursor struct {
	Cursor
	pool string
}

func FilterPool(cursor Cursor, pool string) *PoolCursor {
	return &PoolCursor{Cursor: cursor, pool: strings.ToLower(pool)}
}

func (c *PoolCursor) Next(ctx context.Context) (model.Event, error) {
	for {
		ev, err := c.Cursor.Next(ctx)
		if err != nil || ev.Pool == "" || strings.ToLower(ev.Pool) == c.pool {
			return ev, err
		}
	}
}

// Drain reads every remaining event from a cursor.
func Drain(ctx context.Context, cursor Cursor) ([]model.Event, error) {
	var out []model.Event
	for {
		ev, err := cursor.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}
