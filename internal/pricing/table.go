// Package pricing serves USD token prices from memory during a backtest.
package pricing

import (
	"bufio"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrNoPrice = errors.New("no price for token")

// Point is one observed price.
type Point struct {
	Token string          `json:"token"`
	Ts    uint64          `json:"ts"`
	Price decimal.Decimal `json:"price"`
}

// Table holds price series and fixed prices per token. It must be fully
// loaded before lookups start; it is not safe for concurrent writes.
type Table struct {
	series map[string][]Point
	static map[string]decimal.Decimal
}

func NewTable() *Table {
	return &Table{
		series: make(map[string][]Point),
		static: make(map[string]decimal.Decimal),
	}
}

func normalize(token string) string {
	return strings.ToLower(strings.TrimSpace(token))
}

// SetStatic fixes a token's price for every timestamp without series data.
func (t *Table) SetStatic(token string, price decimal.Decimal) {
	t.static[normalize(token)] = price
}

// Add inserts a point, keeping the series ordered by timestamp. A point at an
// existing timestamp replaces it.
func (t *Table) Add(token string, ts uint64, price decimal.Decimal) {
	key := normalize(token)
	series := t.series[key]
	idx, found := slices.BinarySearchFunc(series, ts, byTs)
	point := Point{Token: key, Ts: ts, Price: price}
	if found {
		series[idx] = point
		return
	}
	t.series[key] = slices.Insert(series, idx, point)
}

func byTs(p Point, ts uint64) int {
	return cmp.Compare(p.Ts, ts)
}

// Len is the number of series points.
func (t *Table) Len() int {
	n := 0
	for _, s := range t.series {
		n += len(s)
	}
	return n
}

// Lookup returns the last price at or before ts. Timestamps before the first
// point use the first point, and tokens without a series use their static price.
func (t *Table) Lookup(token string, ts uint64) (decimal.Decimal, error) {
	key := normalize(token)
	series := t.series[key]
	if len(series) == 0 {
		if price, ok := t.static[key]; ok {
			return price, nil
		}
		return decimal.Zero, fmt.Errorf("%w %s", ErrNoPrice, token)
	}
	idx, found := slices.BinarySearchFunc(series, ts, byTs)
	if found {
		return series[idx].Price, nil
	}
	if idx == 0 {
		return series[0].Price, nil
	}
	return series[idx-1].Price, nil
}

// LoadFile reads JSON lines of Point into a new table.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prices: %w", err)
	}
	defer f.Close()

	t := NewTable()
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var p Point
		if err := json.Unmarshal([]byte(text), &p); err != nil {
			return nil, fmt.Errorf("prices line %d: %w", line, err)
		}
		if p.Token == "" {
			return nil, fmt.Errorf("prices line %d: missing token", line)
		}
		t.Add(p.Token, p.Ts, p.Price)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read prices: %w", err)
	}
	return t, nil
}
