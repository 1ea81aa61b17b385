package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"

	"clmmBacktest/internal/model"
)

func TestEventFileCursorReadsWrittenEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.jsonl")
	w, err := NewJSONLWriter(path, false)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	events := []model.Event{
		{Kind: model.EventInitialize, Timestamp: 1, Initialize: &model.InitializeParams{SqrtPriceX96: uint256.MustFromDecimal("79228162514264337593543950336")}},
		{Kind: model.EventAddLiquidity, Timestamp: 2, LogIndex: 1, Add: &model.AddLiquidityParams{Owner: "0xaa", TickLower: -60, TickUpper: 60, Liquidity: uint256.NewInt(1000)}},
		{Kind: model.EventSwap, Timestamp: 3, Swap: &model.SwapParams{AmountIn: uint256.NewInt(10), ZeroForOne: true}},
	}
	for _, ev := range events {
		if err := w.Write(ev); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	cursor, err := OpenEventFile(path)
	if err != nil {
		t.Fatalf("open cursor: %v", err)
	}
	defer cursor.Close()

	got, err := Drain(context.Background(), cursor)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("read %d events, want %d", len(got), len(events))
	}
	if got[1].Add.Liquidity.Uint64() != 1000 || got[1].Add.TickLower != -60 {
		t.Fatalf("add payload mismatch: %+v", got[1].Add)
	}
	if !got[0].Initialize.SqrtPriceX96.Eq(events[0].Initialize.SqrtPriceX96) {
		t.Fatalf("initialize price mismatch")
	}
}

func TestEventFileCursorRejectsInvalidLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := "\n{\"kind\":\"swap\",\"timestamp\":1}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	cursor, err := OpenEventFile(path)
	if err != nil {
		t.Fatalf("open cursor: %v", err)
	}
	defer cursor.Close()
	if _, err := cursor.Next(context.Background()); err == nil {
		t.Fatalf("expected validation error for swap without payload")
	}
}

func TestSliceCursorHonorsCancellation(t *testing.T) {
	cursor := NewSliceCursor([]model.Event{{Kind: model.EventSwap}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := cursor.Next(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := cursor.Next(context.Background()); err != nil {
		t.Fatalf("next: %v", err)
	}
	if _, err := cursor.Next(context.Background()); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestJsonlStorageAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.jsonl")
	s := NewJsonlStorage(path)
	for i := 0; i < 2; i++ {
		if err := s.PutLogBatch([]model.LogRecord{{BlockNumber: uint64(i)}}); err != nil {
			t.Fatalf("put batch: %v", err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}

func TestFilterPoolSkipsOtherPools(t *testing.T) {
	cursor := FilterPool(NewSliceCursor([]model.Event{
		{Pool: "0xaa", BlockNumber: 1},
		{Pool: "0xbb", BlockNumber: 2},
		{Pool: "0xAA", BlockNumber: 3},
	}), "0xAa")
	events, err := Drain(context.Background(), cursor)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(events) != 2 || events[0].BlockNumber != 1 || events[1].BlockNumber != 3 {
		t.Fatalf("unexpected events %+v", events)
	}
}
