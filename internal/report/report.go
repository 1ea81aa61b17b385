// Package report renders backtest and replay results as console tables.
package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/holiman/uint256"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"clmmBacktest/internal/backtest"
	"clmmBacktest/internal/replay"
	"clmmBacktest/internal/storage/postgres"
)

// Token labels raw amounts.
type Token struct {
	Symbol   string
	Decimals uint8
}

// Pair holds the pool's two tokens.
type Pair struct {
	Token0 Token
	Token1 Token
}

// FormatAmount renders a raw token amount in whole units, keeping every
// significant decimal.
func FormatAmount(value *uint256.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.Dec()
	}
	return decimal.NewFromBigInt(value.ToBig(), -int32(decimals)).String()
}

func (p Pair) amounts(v0, v1 *uint256.Int) string {
	return fmt.Sprintf("%s %s / %s %s",
		FormatAmount(v0, p.Token0.Decimals), p.Token0.Symbol,
		FormatAmount(v1, p.Token1.Decimals), p.Token1.Symbol)
}

func usd(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func pct(d decimal.Decimal) string {
	return d.StringFixed(2) + "%"
}

func timestamp(ts uint64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	if len(header) > 0 {
		table.SetHeader(header)
	}
	return table
}

// WriteSummary prints one run's summary as a two-column table.
func WriteSummary(w io.Writer, s backtest.Summary, pair Pair) {
	table := newTable(w, "Metric", "Value")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})
	rows := [][]string{
		{"Strategy", s.Strategy},
		{"Pool", s.Pool},
		{"Window", timestamp(s.StartTs) + " .. " + timestamp(s.EndTs)},
		{"Events", strconv.Itoa(s.Events)},
		{"Decision points", strconv.Itoa(s.DecisionPoints)},
		{"Opens / closes", fmt.Sprintf("%d / %d", s.Opens, s.Closes)},
		{"Rebalance swaps", strconv.Itoa(s.RebalanceSwaps)},
		{"Invalid actions", strconv.Itoa(s.InvalidActions)},
		{"Data gaps", strconv.Itoa(s.Gaps)},
		{"Swaps", strconv.Itoa(s.SwapCount)},
		{"Volume", pair.amounts(s.Volume0, s.Volume1)},
		{"Swaps in position", strconv.Itoa(s.InPositionSwaps)},
		{"Volume in position", pair.amounts(s.InPositionVolume0, s.InPositionVolume1)},
		{"Time in range", pct(s.InRangePct)},
		{"Fees collected", pair.amounts(s.FeesCollected0, s.FeesCollected1)},
		{"Fees (USD)", usd(s.FeesUSD)},
		{"Price change", pct(s.PriceChangePct)},
		{pair.Token0.Symbol + " USD change", pct(s.Token0PriceChangePct)},
		{pair.Token1.Symbol + " USD change", pct(s.Token1PriceChangePct)},
		{"Start value (USD)", usd(s.StartValueUSD)},
		{"End value (USD)", usd(s.EndValueUSD)},
		{"Hold value (USD)", usd(s.HoldValueUSD)},
		{"PnL (USD)", usd(s.PnLUSD) + " (" + pct(s.PnLPct) + ")"},
		{"Hold PnL", pct(s.HoldPnLPct)},
		{"Fee profit", pct(s.FeeProfitPct)},
		{"PnL vs hold (USD)", usd(s.PnLVsHoldUSD)},
		{"PnL (" + pair.Token1.Symbol + ")", s.PnLToken1.String()},
		{"Final wallet", pair.amounts(s.FinalWallet0, s.FinalWallet1)},
	}
	if s.Incomplete {
		rows = append(rows, []string{"Incomplete", "yes"})
	}
	table.AppendBulk(rows)
	table.Render()
}

// WriteComparison prints one row per run. Nil results, from runs that never
// started, are listed as failed.
func WriteComparison(w io.Writer, names []string, results []*backtest.Result, pair Pair) {
	table := newTable(w,
		"Run", "Strategy", "Opens", "Closes", "In range",
		"Fees "+pair.Token0.Symbol, "Fees "+pair.Token1.Symbol, "Fees USD",
		"End USD", "PnL USD", "vs hold USD", "Status")
	for i, res := range results {
		name := ""
		if i < len(names) {
			name = names[i]
		}
		if res == nil {
			table.Append([]string{name, "-", "-", "-", "-", "-", "-", "-", "-", "-", "-", "failed"})
			continue
		}
		s := res.Summary
		status := "ok"
		if s.Incomplete {
			status = "incomplete"
		}
		table.Append([]string{
			name,
			s.Strategy,
			strconv.Itoa(s.Opens),
			strconv.Itoa(s.Closes),
			pct(s.InRangePct),
			FormatAmount(s.FeesCollected0, pair.Token0.Decimals),
			FormatAmount(s.FeesCollected1, pair.Token1.Decimals),
			usd(s.FeesUSD),
			usd(s.EndValueUSD),
			usd(s.PnLUSD),
			usd(s.PnLVsHoldUSD),
			status,
		})
	}
	table.Render()
}

// WriteReplay prints the outcome of a strategy-free replay.
func WriteReplay(w io.Writer, res *replay.Result, pair Pair) {
	table := newTable(w, "Metric", "Value")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})
	st := res.Stats
	table.AppendBulk([][]string{
		{"Window", timestamp(st.FirstTs) + " .. " + timestamp(st.LastTs)},
		{"Events", strconv.Itoa(st.Events)},
		{"Swaps", fmt.Sprintf("%d (%d partial)", st.Swaps, st.PartialFills)},
		{"Adds / removes / collects", fmt.Sprintf("%d / %d / %d", st.Adds, st.Removes, st.Collects)},
		{"Ticks crossed", strconv.Itoa(st.TicksCrossed)},
		{"Volume", pair.amounts(st.Volume0, st.Volume1)},
		{"Fees", pair.amounts(st.Fees0, st.Fees1)},
		{"Data gaps", strconv.Itoa(len(st.Gaps))},
		{"Open positions", strconv.Itoa(res.Positions)},
		{"Final tick", strconv.Itoa(int(res.Pool.Tick))},
		{"Final sqrt price", res.Pool.SqrtPriceX96},
		{"Final liquidity", res.Pool.Liquidity},
		{"Initialized ticks", strconv.Itoa(res.Pool.InitializedTicks)},
		{"Complete", strconv.FormatBool(!res.Incomplete)},
	})
	table.Render()
}

// WriteRuns lists stored runs, newest first as given.
func WriteRuns(w io.Writer, runs []postgres.RunSummary) {
	table := newTable(w, "ID", "Strategy", "Window", "Samples", "Opens", "Fees USD", "End USD", "PnL USD", "vs hold USD", "Status")
	for _, run := range runs {
		s := run.Summary
		status := "ok"
		if run.Incomplete {
			status = "incomplete"
		}
		table.Append([]string{
			strconv.FormatInt(run.ID, 10),
			run.Strategy,
			timestamp(s.StartTs) + " .. " + timestamp(s.EndTs),
			strconv.Itoa(run.Samples),
			strconv.Itoa(s.Opens),
			usd(s.FeesUSD),
			usd(s.EndValueUSD),
			usd(s.PnLUSD),
			usd(s.PnLVsHoldUSD),
			status,
		})
	}
	table.Render()
}
