package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"", 0},
		{"1700000000", 1700000000},
		{" 42 ", 42},
		{"2024-01-01T00:00:00Z", 1704067200},
	}
	for _, tc := range cases {
		got, err := ParseTimestamp(tc.in)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseTimestamp(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error for free text")
	}
}

func TestParseStringMap(t *testing.T) {
	got := parseStringMap("a=1, b = two ,broken,=x,c=")
	if len(got) != 2 || got["a"] != "1" || got["b"] != "two" {
		t.Fatalf("unexpected map %v", got)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadBacktestFromFileAndFlags(t *testing.T) {
	path := writeConfig(t, `
pool: "0xABC"
token0: "0xT0"
token0-decimals: 6
token1: "0xT1"
token1-decimals: 18
fee: 500
tick-spacing: 10
events: ./events.jsonl
from: "2024-01-01T00:00:00Z"
token0-amount: "1000000"
static-prices:
  "0xT0": "1"
strategies:
  - name: wide
    strategy: simple_rebalance
    params:
      range: 2000
  - strategy: no_rebalance
    params:
      lower_tick: -100
      upper_tick: 100
`)
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("parallel", 4, "")
	flags.String("decision-interval", "1h", "")
	if err := flags.Parse([]string{"--parallel=2", "--decision-interval=15m"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := LoadBacktest(path, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pool.Address != "0xabc" || cfg.Pool.Fee != 500 || cfg.Pool.TickSpacing != 10 {
		t.Fatalf("unexpected pool %+v", cfg.Pool)
	}
	if cfg.Pool.Token0.Decimals != 6 || cfg.Pool.Token1.Decimals != 18 || cfg.Pool.Token0.Symbol != "token0" {
		t.Fatalf("unexpected tokens %+v %+v", cfg.Pool.Token0, cfg.Pool.Token1)
	}
	if cfg.From != 1704067200 || cfg.To != 0 {
		t.Fatalf("window %d-%d", cfg.From, cfg.To)
	}
	if cfg.Parallel != 2 || cfg.Policy.Interval != 15*time.Minute {
		t.Fatalf("flags not applied: parallel=%d interval=%s", cfg.Parallel, cfg.Policy.Interval)
	}
	if cfg.InitialToken0.Uint64() != 1_000_000 || !cfg.InitialToken1.IsZero() {
		t.Fatalf("amounts %s/%s", cfg.InitialToken0.Dec(), cfg.InitialToken1.Dec())
	}
	if !cfg.CloseAtEnd || cfg.SwapToleranceBps() != 500 || cfg.MaxSlippageBps != 100 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if len(cfg.Strategies) != 2 || cfg.Strategies[0].Name != "wide" || cfg.Strategies[1].Name != "no_rebalance-1" {
		t.Fatalf("strategies %+v", cfg.Strategies)
	}
	if cfg.Strategies[0].Params["range"] == nil {
		t.Fatalf("params not decoded: %+v", cfg.Strategies[0].Params)
	}
	if price, ok := cfg.StaticPrices["0xt0"]; !ok || price.String() != "1" {
		t.Fatalf("static prices %v", cfg.StaticPrices)
	}
}

func TestLoadBacktestEnvAndSingleStrategy(t *testing.T) {
	path := writeConfig(t, `
pool: "0xpool"
events: ./events.jsonl
token1-amount: "5"
`)
	t.Setenv("CLMM_STRATEGY", "simple_rebalance")
	t.Setenv("CLMM_PARAMS", "range=600")
	t.Setenv("CLMM_INITIAL_TICK", "-120")

	cfg, err := LoadBacktest(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Strategies) != 1 || cfg.Strategies[0].Strategy != "simple_rebalance" || cfg.Strategies[0].Params["range"] != "600" {
		t.Fatalf("strategies %+v", cfg.Strategies)
	}
	if cfg.Pool.InitialTick == nil || *cfg.Pool.InitialTick != -120 {
		t.Fatalf("initial tick %v", cfg.Pool.InitialTick)
	}
}

func TestLoadBacktestRejectsMissingInputs(t *testing.T) {
	if _, err := LoadBacktest(writeConfig(t, "events: x\ntoken0-amount: \"1\"\nstrategy: no_rebalance\n"), nil); err == nil {
		t.Fatalf("missing pool should fail")
	}
	if _, err := LoadBacktest(writeConfig(t, "pool: p\ntoken0-amount: \"1\"\nstrategy: no_rebalance\n"), nil); err == nil {
		t.Fatalf("missing event source should fail")
	}
	if _, err := LoadBacktest(writeConfig(t, "pool: p\nevents: x\nstrategy: no_rebalance\n"), nil); err == nil {
		t.Fatalf("missing amounts should fail")
	}
}

func TestLoadReplay(t *testing.T) {
	path := writeConfig(t, `
pool: "0xpool"
pg-dsn: "postgres://localhost/db"
initial-sqrt-price: "79228162514264337593543950336"
until: "100"
`)
	cfg, err := LoadReplay(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pool.InitialSqrtPrice == nil || cfg.Pool.InitialSqrtPrice.Dec() != "79228162514264337593543950336" {
		t.Fatalf("initial sqrt price %v", cfg.Pool.InitialSqrtPrice)
	}
	if cfg.Until != 100 || cfg.MaxGap != 6*time.Hour || cfg.Pool.TickSpacing != 60 {
		t.Fatalf("unexpected %+v", cfg)
	}
}

func TestLoadIngest(t *testing.T) {
	flags := pflag.NewFlagSet("ingest", pflag.ContinueOnError)
	flags.StringSlice("address", nil, "")
	flags.Bool("swap-price-limit", false, "")
	if err := flags.Parse([]string{"--address", "0xpool1,0xpool2", "--swap-price-limit"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	path := writeConfig(t, `
rpc: "http://localhost:8545"
from: 100
topic0-map:
  "0xabc": swap
`)
	cfg, err := LoadIngest(path, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Addresses) != 2 || cfg.FromBlock != 100 || !cfg.SwapPriceLimit {
		t.Fatalf("unexpected %+v", cfg)
	}
	if cfg.BatchSize != 2000 || cfg.MaxRetries != 5 || !cfg.CheckpointEnabled {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Topic0Map["0xabc"] != "swap" {
		t.Fatalf("topic0 map %v", cfg.Topic0Map)
	}

	if _, err := LoadIngest(writeConfig(t, "address: 0xpool\n"), nil); err == nil {
		t.Fatalf("missing rpc should fail")
	}
}

func TestLoadDecodeWithoutRPC(t *testing.T) {
	cfg, err := LoadDecode(writeConfig(t, "in: ./raw.jsonl\n"), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "" || cfg.Out != "./data/events.jsonl" || cfg.SwapPriceLimit {
		t.Fatalf("unexpected %+v", cfg)
	}
	if _, err := LoadDecode(writeConfig(t, "out: x\n"), nil); err == nil {
		t.Fatalf("missing in should fail")
	}
}
