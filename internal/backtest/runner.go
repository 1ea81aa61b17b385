package backtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"clmmBacktest/internal/ledger"
	"clmmBacktest/internal/model"
	"clmmBacktest/internal/pool"
	"clmmBacktest/internal/replay"
	"clmmBacktest/internal/storage"
	"clmmBacktest/internal/tickmath"
)

var ErrAlreadyRun = errors.New("runner already used")

// RunState is the runner's lifecycle stage.
type RunState int32

const (
	StateIdle RunState = iota
	StateReplaying
	StateDecisionPoint
	StateFinished
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReplaying:
		return "replaying"
	case StateDecisionPoint:
		return "decision_point"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type trackedPosition struct {
	openedAt uint64
	swaps    int
	volume0  *uint256.Int
	volume1  *uint256.Int
}

// Runner replays one pool's history and lets a strategy act on it.
// A runner is single use.
type Runner struct {
	cfg      Config
	strategy Strategy
	logger   *zap.Logger
	valuer   valuer

	app    *replay.Applicator
	wallet *Wallet
	gaps   *replay.GapDetector
	state  atomic.Int32

	seq     int
	own     []string
	tracked map[string]*trackedPosition

	started        bool
	decisions      int
	sinceDecision  int
	lastDecisionTs uint64
	lastTs         uint64
	lastBlock      uint64
	lastLogIndex   uint64
	startSqrtPrice *uint256.Int

	result *Result
}

// NewRunner takes ownership of p, which may be uninitialized if the event
// stream starts with an initialize event.
func NewRunner(cfg Config, p *pool.State, strategy Strategy, logger *zap.Logger) (*Runner, error) {
	if p == nil {
		return nil, errors.New("nil pool")
	}
	if strategy == nil {
		return nil, errors.New("nil strategy")
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:      cfg,
		strategy: strategy,
		logger:   logger,
		valuer:   valuer{token0: cfg.Token0, token1: cfg.Token1, prices: cfg.Prices},
		app:      replay.NewApplicator(p, ledger.New()),
		wallet:   NewWallet(cfg.InitialToken0, cfg.InitialToken1),
		gaps:     &replay.GapDetector{MaxGap: cfg.MaxGap},
		tracked:  make(map[string]*trackedPosition),
		result:   &Result{Summary: newSummary(cfg)},
	}, nil
}

// State is safe to call from other goroutines.
func (r *Runner) State() RunState {
	return RunState(r.state.Load())
}

func (r *Runner) setState(s RunState) {
	r.state.Store(int32(s))
}

// Run drives the replay to the end of the cursor or the window. On cancellation
// or a fatal error it returns the partial result, marked incomplete, with the error.
func (r *Runner) Run(ctx context.Context, cursor storage.Cursor) (*Result, error) {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateReplaying)) {
		return nil, ErrAlreadyRun
	}
	r.logger.Info("backtest start",
		zap.String("name", r.cfg.Name),
		zap.Uint64("from", r.cfg.From),
		zap.Uint64("to", r.cfg.To),
	)

	for {
		if err := ctx.Err(); err != nil {
			return r.abort(err)
		}
		ev, err := cursor.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.abort(ctxErr)
			}
			return r.abort(fmt.Errorf("read event: %w", err))
		}
		if r.cfg.To > 0 && ev.Timestamp > r.cfg.To {
			break
		}
		if err := r.step(ev); err != nil {
			return r.abort(err)
		}
	}

	if r.cfg.CloseAtEnd && r.started {
		r.closeAll(r.lastTs)
	}
	return r.finish(false)
}

func (r *Runner) abort(cause error) (*Result, error) {
	res, err := r.finish(true)
	if err != nil {
		r.logger.Warn("valuation of partial result failed", zap.Error(err))
	}
	return res, cause
}

func (r *Runner) step(ev model.Event) error {
	if warn := r.gaps.Observe(ev); warn != nil {
		r.result.Gaps = append(r.result.Gaps, *warn)
		r.logger.Warn("data gap",
			zap.String("reason", warn.Reason),
			zap.Uint64("block", warn.BlockNumber),
			zap.Uint64("log_index", warn.LogIndex),
		)
	}

	inWindow := ev.Timestamp >= r.cfg.From
	var inRange []string
	if inWindow && ev.Kind == model.EventSwap {
		inRange = r.inRangeOwn()
	}
	out, err := r.app.Apply(ev)
	if err != nil {
		return err
	}
	r.lastTs, r.lastBlock, r.lastLogIndex = ev.Timestamp, ev.BlockNumber, ev.LogIndex

	if !inWindow {
		r.result.Summary.WarmupEvents++
		return nil
	}
	r.result.Summary.Events++
	r.sinceDecision++
	if ev.Kind == model.EventSwap {
		r.recordSwap(out, inRange)
	}
	if !r.app.Pool.Initialized() {
		return nil
	}
	if !r.started {
		r.begin(ev.Timestamp)
		return r.decide(ev.Timestamp)
	}
	if r.due(ev) {
		return r.decide(ev.Timestamp)
	}
	return nil
}

func (r *Runner) begin(ts uint64) {
	r.started = true
	r.startSqrtPrice = r.app.Pool.SqrtPriceX96.Clone()
	r.result.Summary.StartTs = ts
	r.logger.Debug("evaluation window reached",
		zap.Uint64("ts", ts),
		zap.Int("warmup_events", r.result.Summary.WarmupEvents),
		zap.Int32("tick", r.app.Pool.Tick),
	)
}

func (r *Runner) due(ev model.Event) bool {
	p := r.cfg.Policy
	if p.EveryNEvents == 0 && p.Interval == 0 && !p.OnLiquidityEvents {
		return true
	}
	if p.EveryNEvents > 0 && r.sinceDecision >= p.EveryNEvents {
		return true
	}
	// timestamps may step back on out-of-order data
	if p.Interval > 0 && ev.Timestamp >= r.lastDecisionTs && ev.Timestamp-r.lastDecisionTs >= uint64(p.Interval/time.Second) {
		return true
	}
	if p.OnLiquidityEvents {
		switch ev.Kind {
		case model.EventAddLiquidity, model.EventRemoveLiquidity, model.EventInitialize:
			return true
		}
	}
	return false
}

func (r *Runner) decide(ts uint64) error {
	r.setState(StateDecisionPoint)
	defer r.setState(StateReplaying)

	own, err := r.ownViews()
	if err != nil {
		return err
	}
	actions, err := r.strategy.Decide(r.snapshot(ts), own, ts, r.cfg.Params)
	if err != nil {
		return fmt.Errorf("strategy at %d: %w", ts, err)
	}
	r.decisions++
	r.result.Summary.DecisionPoints++
	r.sinceDecision = 0
	r.lastDecisionTs = ts

	for _, act := range actions {
		err := r.execute(act, ts)
		var invalid *model.InvalidActionError
		if errors.As(err, &invalid) {
			r.reject(act, ts, invalid.Reason)
			continue
		}
		if err != nil {
			return err
		}
	}
	return r.sample(ts)
}

func (r *Runner) reject(act Action, ts uint64, reason string) {
	r.result.Summary.InvalidActions++
	r.result.Rejected = append(r.result.Rejected, RejectedAction{Timestamp: ts, Action: act, Reason: reason})
	r.logger.Warn("invalid action skipped",
		zap.String("action", act.String()),
		zap.String("reason", reason),
		zap.Uint64("ts", ts),
	)
}

func (r *Runner) snapshot(ts uint64) Snapshot {
	p := r.app.Pool
	return Snapshot{
		Timestamp:     ts,
		SqrtPriceX96:  p.SqrtPriceX96.Clone(),
		Tick:          p.Tick,
		TickSpacing:   p.TickSpacing,
		Fee:           p.Fee,
		Liquidity:     p.Liquidity.Clone(),
		Pool:          p.Summary(),
		Wallet0:       r.wallet.Token0.Clone(),
		Wallet1:       r.wallet.Token1.Clone(),
		DecisionIndex: r.decisions,
	}
}

func (r *Runner) ownViews() ([]PositionView, error) {
	p := r.app.Pool
	views := make([]PositionView, 0, len(r.own))
	for _, id := range r.own {
		pos, ok := r.app.Ledger.Get(id)
		if !ok {
			continue
		}
		amount0, amount1, err := positionAmounts(p.SqrtPriceX96, pos)
		if err != nil {
			return nil, err
		}
		fees0, fees1, err := r.app.Ledger.PendingFees(p, id)
		if err != nil {
			return nil, err
		}
		views = append(views, PositionView{
			ID:        id,
			Lower:     pos.Lower,
			Upper:     pos.Upper,
			Liquidity: pos.Liquidity.Clone(),
			Amount0:   amount0,
			Amount1:   amount1,
			FeesOwed0: fees0,
			FeesOwed1: fees1,
			InRange:   p.InRange(pos.Lower, pos.Upper),
			OpenedAt:  r.tracked[id].openedAt,
		})
	}
	return views, nil
}

func positionAmounts(sqrtPriceX96 *uint256.Int, pos ledger.Position) (*uint256.Int, *uint256.Int, error) {
	sqrtA, err := tickmath.SqrtRatioAtTick(pos.Lower)
	if err != nil {
		return nil, nil, err
	}
	sqrtB, err := tickmath.SqrtRatioAtTick(pos.Upper)
	if err != nil {
		return nil, nil, err
	}
	return tickmath.AmountsForLiquidity(sqrtPriceX96, sqrtA, sqrtB, pos.Liquidity, false)
}

func (r *Runner) inRangeOwn() []string {
	var ids []string
	for _, pos := range r.app.Ledger.ByOwner(r.cfg.Owner) {
		if _, ours := r.tracked[pos.ID]; !ours {
			continue
		}
		if !pos.Liquidity.IsZero() && r.app.Pool.InRange(pos.Lower, pos.Upper) {
			ids = append(ids, pos.ID)
		}
	}
	return ids
}

func (r *Runner) recordSwap(out replay.Outcome, inRange []string) {
	s := &r.result.Summary
	s.SwapCount++
	s.Volume0.Add(s.Volume0, out.Amount0)
	s.Volume1.Add(s.Volume1, out.Amount1)
	if len(inRange) == 0 {
		return
	}
	s.InPositionSwaps++
	s.InPositionVolume0.Add(s.InPositionVolume0, out.Amount0)
	s.InPositionVolume1.Add(s.InPositionVolume1, out.Amount1)
	for _, id := range inRange {
		t := r.tracked[id]
		t.swaps++
		t.volume0.Add(t.volume0, out.Amount0)
		t.volume1.Add(t.volume1, out.Amount1)
	}
}

type holdings struct {
	position0, position1 *uint256.Int
	fees0, fees1         *uint256.Int
}

func (h holdings) total(w *Wallet) (*uint256.Int, *uint256.Int) {
	total0 := new(uint256.Int).Add(w.Token0, h.position0)
	total0.Add(total0, h.fees0)
	total1 := new(uint256.Int).Add(w.Token1, h.position1)
	total1.Add(total1, h.fees1)
	return total0, total1
}

func (r *Runner) holdings() (holdings, []PositionView, error) {
	views, err := r.ownViews()
	if err != nil {
		return holdings{}, nil, err
	}
	h := holdings{
		position0: new(uint256.Int),
		position1: new(uint256.Int),
		fees0:     new(uint256.Int),
		fees1:     new(uint256.Int),
	}
	for _, v := range views {
		h.position0.Add(h.position0, v.Amount0)
		h.position1.Add(h.position1, v.Amount1)
		h.fees0.Add(h.fees0, v.FeesOwed0)
		h.fees1.Add(h.fees1, v.FeesOwed1)
	}
	return h, views, nil
}

func (r *Runner) sample(ts uint64) error {
	h, views, err := r.holdings()
	if err != nil {
		return err
	}
	p := r.app.Pool
	total0, total1 := h.total(r.wallet)
	usd, err := r.valuer.usdValue(total0, total1, ts)
	if err != nil {
		return err
	}
	r.result.Samples = append(r.result.Samples, Sample{
		Timestamp:     ts,
		Tick:          p.Tick,
		SqrtPriceX96:  p.SqrtPriceX96.Clone(),
		Wallet0:       r.wallet.Token0.Clone(),
		Wallet1:       r.wallet.Token1.Clone(),
		Position0:     h.position0,
		Position1:     h.position1,
		FeesOwed0:     h.fees0,
		FeesOwed1:     h.fees1,
		OpenPositions: len(views),
		ValueToken1:   r.valuer.token1Value(total0, total1, p.SqrtPriceX96),
		ValueUSD:      usd,
	})
	return nil
}

func (r *Runner) finish(incomplete bool) (*Result, error) {
	defer r.setState(StateFinished)

	res := r.result
	s := &res.Summary
	s.Incomplete = incomplete
	s.EndTs = r.lastTs
	s.Gaps = len(res.Gaps)
	s.FinalWallet0 = r.wallet.Token0.Clone()
	s.FinalWallet1 = r.wallet.Token1.Clone()
	res.FinalPool = r.app.Pool.Summary()
	res.OpenPositions = append([]string(nil), r.own...)
	if s.SwapCount > 0 {
		s.InRangePct = decimal.NewFromInt(int64(s.InPositionSwaps)).Mul(decimal.NewFromInt(100)).
			DivRound(decimal.NewFromInt(int64(s.SwapCount)), 4)
	}

	var err error
	if r.started {
		err = r.settleSummary()
	}
	r.logger.Info("backtest complete",
		zap.String("name", r.cfg.Name),
		zap.Int("events", s.Events),
		zap.Int("decisions", s.DecisionPoints),
		zap.Int("opens", s.Opens),
		zap.Int("closes", s.Closes),
		zap.Int("invalid_actions", s.InvalidActions),
		zap.Bool("incomplete", incomplete),
		zap.String("pnl_usd", s.PnLUSD.String()),
	)
	return res, err
}

func (r *Runner) settleSummary() error {
	s := &r.result.Summary
	p := r.app.Pool
	init0, init1 := r.cfg.InitialToken0, r.cfg.InitialToken1

	if err := r.sample(r.lastTs); err != nil {
		return err
	}
	last := r.result.Samples[len(r.result.Samples)-1]

	s.PriceStart = Price(r.startSqrtPrice, r.cfg.Token0.Decimals, r.cfg.Token1.Decimals)
	s.PriceEnd = Price(p.SqrtPriceX96, r.cfg.Token0.Decimals, r.cfg.Token1.Decimals)
	s.PriceChangePct = percentOf(s.PriceEnd.Sub(s.PriceStart), s.PriceStart)

	s.StartValueToken1 = r.valuer.token1Value(init0, init1, r.startSqrtPrice)
	s.EndValueToken1 = last.ValueToken1
	s.HoldValueToken1 = r.valuer.token1Value(init0, init1, p.SqrtPriceX96)
	s.PnLToken1 = s.EndValueToken1.Sub(s.StartValueToken1)
	s.PnLVsHoldToken1 = s.EndValueToken1.Sub(s.HoldValueToken1)

	startUSD, err := r.valuer.usdValue(init0, init1, s.StartTs)
	if err != nil {
		return err
	}
	holdUSD, err := r.valuer.usdValue(init0, init1, r.lastTs)
	if err != nil {
		return err
	}
	s.StartValueUSD = startUSD
	s.EndValueUSD = last.ValueUSD
	s.HoldValueUSD = holdUSD
	s.PnLUSD = s.EndValueUSD.Sub(s.StartValueUSD)
	s.PnLVsHoldUSD = s.EndValueUSD.Sub(s.HoldValueUSD)
	s.PnLPct = percentOf(s.PnLUSD, startUSD)
	s.HoldPnLPct = percentOf(holdUSD.Sub(startUSD), startUSD)
	s.FeeProfitPct = percentOf(s.FeesUSD, startUSD)

	start0, start1, err := r.valuer.usdPrices(s.StartTs)
	if err != nil {
		return err
	}
	end0, end1, err := r.valuer.usdPrices(r.lastTs)
	if err != nil {
		return err
	}
	s.Token0PriceChangePct = percentOf(end0.Sub(start0), start0)
	s.Token1PriceChangePct = percentOf(end1.Sub(start1), start1)
	return nil
}
