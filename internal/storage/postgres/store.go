package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"clmmBacktest/internal/backtest"
	"clmmBacktest/internal/model"
	"clmmBacktest/internal/pricing"
)

//go:embed schema.sql
var schema string

// Store provides Postgres persistence for pool history, prices and backtest runs.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertPools inserts or updates pool metadata.
func (s *Store) UpsertPools(ctx context.Context, pools []model.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pool := range pools {
		batch.Queue(`
			INSERT INTO pools (
				chain_id, pool_address, token0, token1, fee, tick_spacing, first_seen_block, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
			ON CONFLICT (chain_id, pool_address)
			DO UPDATE SET
				token0 = EXCLUDED.token0,
				token1 = EXCLUDED.token1,
				fee = EXCLUDED.fee,
				tick_spacing = EXCLUDED.tick_spacing,
				first_seen_block = LEAST(pools.first_seen_block, EXCLUDED.first_seen_block),
				updated_at = now()
		`,
			int64(pool.ChainID),
			strings.ToLower(pool.Address),
			strings.ToLower(pool.Token0),
			strings.ToLower(pool.Token1),
			int64(pool.Fee),
			pool.TickSpacing,
			int64(pool.FirstSeenBlock),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pools {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// InsertEvents stores historical events. Events already stored at the same
// (pool, block, log index) are left untouched, so re-ingesting a range is safe.
// Synthetic events are never persisted.
func (s *Store) InsertEvents(ctx context.Context, events []model.Event) (int, error) {
	batch := &pgx.Batch{}
	queued := 0
	for _, ev := range events {
		if ev.Synthetic {
			continue
		}
		if ev.Pool == "" {
			return 0, fmt.Errorf("event %s has no pool", ev)
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return 0, fmt.Errorf("marshal %s: %w", ev, err)
		}
		batch.Queue(`
			INSERT INTO pool_events (pool_address, block_number, log_index, ts, kind, tx_hash, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (pool_address, block_number, log_index) DO NOTHING
		`,
			strings.ToLower(ev.Pool),
			int64(ev.BlockNumber),
			int64(ev.LogIndex),
			int64(ev.Timestamp),
			string(ev.Kind),
			ev.TxHash,
			payload,
		)
		queued++
	}
	if queued == 0 {
		return 0, nil
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for i := 0; i < queued; i++ {
		tag, err := br.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// Events opens a cursor over a pool's stored events in replay order. A zero
// to means no upper bound.
func (s *Store) Events(ctx context.Context, pool string, from, to uint64) (*EventCursor, error) {
	upper := int64(-1)
	if to > 0 {
		upper = int64(to)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM pool_events
		WHERE pool_address = $1 AND ts >= $2 AND ($3 < 0 OR ts <= $3)
		ORDER BY ts, block_number, log_index
	`, strings.ToLower(pool), int64(from), upper)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return &EventCursor{rows: rows}, nil
}

// EventCursor streams events from an open query. It holds a pooled
// connection until closed.
type EventCursor struct {
	rows pgx.Rows
}

func (c *EventCursor) Next(ctx context.Context) (model.Event, error) {
	if err := ctx.Err(); err != nil {
		return model.Event{}, err
	}
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return model.Event{}, err
		}
		return model.Event{}, io.EOF
	}
	var payload []byte
	if err := c.rows.Scan(&payload); err != nil {
		return model.Event{}, fmt.Errorf("scan event: %w", err)
	}
	var ev model.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return model.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

func (c *EventCursor) Close() error {
	c.rows.Close()
	return c.rows.Err()
}

// UpsertPrices stores USD price points.
func (s *Store) UpsertPrices(ctx context.Context, points []pricing.Point) error {
	if len(points) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(`
			INSERT INTO token_prices (token, ts, price_usd) VALUES ($1, $2, $3)
			ON CONFLICT (token, ts) DO UPDATE SET price_usd = EXCLUDED.price_usd
		`, strings.ToLower(p.Token), int64(p.Ts), p.Price.String())
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range points {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadPrices adds every stored point of the given tokens to table and
// returns how many were loaded.
func (s *Store) LoadPrices(ctx context.Context, tokens []string, table *pricing.Table) (int, error) {
	keys := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if token = strings.ToLower(strings.TrimSpace(token)); token != "" {
			keys = append(keys, token)
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT token, ts, price_usd::text FROM token_prices
		WHERE token = ANY($1)
		ORDER BY token, ts
	`, keys)
	if err != nil {
		return 0, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var (
			token string
			ts    int64
			raw   string
		)
		if err := rows.Scan(&token, &ts, &raw); err != nil {
			return n, err
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return n, fmt.Errorf("parse price %s@%d: %w", token, ts, err)
		}
		table.Add(token, uint64(ts), price)
		n++
	}
	return n, rows.Err()
}

// SaveRun stores one backtest result with its samples and returns the run id.
func (s *Store) SaveRun(ctx context.Context, params map[string]any, res *backtest.Result) (int64, error) {
	if res == nil {
		return 0, fmt.Errorf("nil result")
	}
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("marshal params: %w", err)
	}
	summaryJSON, err := json.Marshal(res.Summary)
	if err != nil {
		return 0, fmt.Errorf("marshal summary: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var runID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO backtest_runs (pool_address, strategy, params, summary, incomplete)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING run_id
	`, strings.ToLower(res.Summary.Pool), res.Summary.Strategy, paramsJSON, summaryJSON, res.Summary.Incomplete).Scan(&runID)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	if len(res.Samples) > 0 {
		batch := &pgx.Batch{}
		for _, sm := range res.Samples {
			batch.Queue(`
				INSERT INTO backtest_samples (run_id, ts, tick, token0, token1, fees0, fees1, value_token1, value_usd)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`,
				runID,
				int64(sm.Timestamp),
				sm.Tick,
				sum(sm.Wallet0, sm.Position0),
				sum(sm.Wallet1, sm.Position1),
				sum(sm.FeesOwed0),
				sum(sm.FeesOwed1),
				sm.ValueToken1.String(),
				sm.ValueUSD.String(),
			)
		}
		br := tx.SendBatch(ctx, batch)
		for range res.Samples {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return 0, fmt.Errorf("insert sample: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return runID, nil
}

// RunSummary is a stored run as listed by Runs.
type RunSummary struct {
	ID         int64
	Strategy   string
	Incomplete bool
	Samples    int
	Summary    backtest.Summary
}

// Runs lists the stored runs of a pool, newest first.
func (s *Store) Runs(ctx context.Context, pool string) ([]RunSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.run_id, r.strategy, r.incomplete, r.summary,
			(SELECT count(*) FROM backtest_samples s WHERE s.run_id = r.run_id)
		FROM backtest_runs r
		WHERE r.pool_address = $1
		ORDER BY r.run_id DESC
	`, strings.ToLower(pool))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			run     RunSummary
			raw     []byte
			samples int64
		)
		if err := rows.Scan(&run.ID, &run.Strategy, &run.Incomplete, &raw, &samples); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &run.Summary); err != nil {
			return nil, fmt.Errorf("decode summary of run %d: %w", run.ID, err)
		}
		run.Samples = int(samples)
		out = append(out, run)
	}
	return out, rows.Err()
}

func sum(values ...*uint256.Int) string {
	total := new(uint256.Int)
	for _, v := range values {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total.Dec()
}

// LoadState returns last_processed_ts for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var ts int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_ts FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(ts), true, nil
}

// SaveState upserts last_processed_ts for a name.
func (s *Store) SaveState(ctx context.Context, name string, ts uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_processed_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_ts = EXCLUDED.last_processed_ts, updated_at = now()
	`, name, int64(ts))
	return err
}
