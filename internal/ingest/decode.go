package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"clmmBacktest/internal/model"
	"clmmBacktest/internal/storage"
)

const decodeChunk = 1000

// DecodeFile converts a raw log JSONL file, as kept by ingest --raw-out, into
// events. Logs are handed to the sink in chunks.
func DecodeFile(ctx context.Context, path string, transformer *Transformer, sink Sink) (Stats, error) {
	var (
		stats Stats
		chunk []model.LogRecord
	)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		out := transformer.Transform(chunk)
		batch := Batch{
			Range:  BlockRange{From: chunk[0].BlockNumber, To: chunk[len(chunk)-1].BlockNumber},
			Logs:   chunk,
			Events: out.Events,
			Errors: out.Errors,
			Pools:  out.Pools,
		}
		if err := sink.WriteBatch(ctx, batch); err != nil {
			return err
		}
		stats.Batches++
		stats.Logs += len(chunk)
		stats.Events += len(out.Events)
		stats.Errors += len(out.Errors)
		stats.Skipped += out.Skipped
		if stats.FirstEvent == nil && len(out.Events) > 0 {
			first := out.Events[0]
			stats.FirstEvent = &first
		}
		chunk = nil
		return nil
	}

	err := storage.ScanJSONL(path, func(line int, raw []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var record model.LogRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return fmt.Errorf("parse log line %d: %w", line, err)
		}
		chunk = append(chunk, record)
		if len(chunk) >= decodeChunk {
			return flush()
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	return stats, flush()
}
