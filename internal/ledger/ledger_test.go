package ledger

import (
	"errors"
	"reflect"
	"testing"

	"github.com/holiman/uint256"

	"clmmBacktest/internal/tickmath"
)

type stubGrowth struct {
	inside0, inside1 *uint256.Int
}

func (s *stubGrowth) FeeGrowthInside(lower, upper int32) (*uint256.Int, *uint256.Int) {
	return s.inside0.Clone(), s.inside1.Clone()
}

// growth returns n/L tokens per unit liquidity in X128, rounded up so that
// settling liquidity L yields exactly n.
func growth(n, liquidity uint64) *uint256.Int {
	g := new(uint256.Int).Mul(uint256.NewInt(n), tickmath.Q128)
	up, err := tickmath.DivRoundingUp(g, uint256.NewInt(liquidity))
	if err != nil {
		panic(err)
	}
	return up
}

func TestSettleAccruesAndIsIdempotent(t *testing.T) {
	src := &stubGrowth{inside0: new(uint256.Int), inside1: new(uint256.Int)}
	l := New()
	if err := l.Increase(src, "p1", "alice", -60, 60, uint256.NewInt(1000)); err != nil {
		t.Fatalf("increase: %v", err)
	}

	src.inside0 = growth(50, 1000)
	src.inside1 = growth(7, 1000)
	if err := l.Settle(src, "p1"); err != nil {
		t.Fatalf("settle: %v", err)
	}
	first, _ := l.Get("p1")
	if first.TokensOwed0.Uint64() != 50 || first.TokensOwed1.Uint64() != 7 {
		t.Fatalf("owed %s/%s, want 50/7", first.TokensOwed0.Dec(), first.TokensOwed1.Dec())
	}

	if err := l.Settle(src, "p1"); err != nil {
		t.Fatalf("settle again: %v", err)
	}
	second, _ := l.Get("p1")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("second settle changed position: %+v vs %+v", first, second)
	}
}

func TestSettleHandlesWrappedGrowth(t *testing.T) {
	start := new(uint256.Int).Sub(new(uint256.Int), growth(10, 1000))
	src := &stubGrowth{inside0: start, inside1: new(uint256.Int)}
	l := New()
	if err := l.Increase(src, "p1", "alice", 0, 60, uint256.NewInt(1000)); err != nil {
		t.Fatalf("increase: %v", err)
	}
	// accumulator wraps past 2^256
	src.inside0 = growth(30, 1000)
	owed0, _, err := l.PendingFees(src, "p1")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if owed0.Uint64() != 39 && owed0.Uint64() != 40 {
		t.Fatalf("owed across wrap %s, want ~40", owed0.Dec())
	}
}

func TestPendingFeesDoesNotMutate(t *testing.T) {
	src := &stubGrowth{inside0: new(uint256.Int), inside1: new(uint256.Int)}
	l := New()
	if err := l.Increase(src, "p1", "alice", -60, 60, uint256.NewInt(1000)); err != nil {
		t.Fatalf("increase: %v", err)
	}
	src.inside0 = growth(20, 1000)
	before, _ := l.Get("p1")
	owed0, owed1, err := l.PendingFees(src, "p1")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if owed0.Uint64() != 20 || !owed1.IsZero() {
		t.Fatalf("pending %s/%s", owed0.Dec(), owed1.Dec())
	}
	after, _ := l.Get("p1")
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("pending fees mutated position")
	}
}

func TestDecreaseBeyondLiquidityFails(t *testing.T) {
	src := &stubGrowth{inside0: new(uint256.Int), inside1: new(uint256.Int)}
	l := New()
	if err := l.Increase(src, "p1", "alice", -60, 60, uint256.NewInt(1000)); err != nil {
		t.Fatalf("increase: %v", err)
	}
	before := l.Clone()
	err := l.Decrease(src, "p1", uint256.NewInt(1001))
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	if !reflect.DeepEqual(before, l) {
		t.Fatalf("failed decrease mutated ledger")
	}
	if err := l.Decrease(src, "missing", uint256.NewInt(1)); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestCollectCapsAndRemovesEmptyPosition(t *testing.T) {
	src := &stubGrowth{inside0: new(uint256.Int), inside1: new(uint256.Int)}
	l := New()
	if err := l.Increase(src, "p1", "alice", -60, 60, uint256.NewInt(1000)); err != nil {
		t.Fatalf("increase: %v", err)
	}
	src.inside0 = growth(100, 1000)
	src.inside1 = growth(40, 1000)
	if err := l.Decrease(src, "p1", uint256.NewInt(1000)); err != nil {
		t.Fatalf("decrease: %v", err)
	}

	paid0, paid1, err := l.Collect(src, "p1", uint256.NewInt(30), nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if paid0.Uint64() != 30 || paid1.Uint64() != 40 {
		t.Fatalf("paid %s/%s, want 30/40", paid0.Dec(), paid1.Dec())
	}
	if _, ok := l.Get("p1"); !ok {
		t.Fatalf("position with fees owed must be kept")
	}

	paid0, _, err = l.Collect(src, "p1", nil, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if paid0.Uint64() != 70 {
		t.Fatalf("second collect paid %s, want 70", paid0.Dec())
	}
	if _, ok := l.Get("p1"); ok {
		t.Fatalf("empty position should be removed after collect")
	}

	paid0, paid1, err = l.Collect(src, "p1", nil, nil)
	if err != nil {
		t.Fatalf("collect on removed position: %v", err)
	}
	if !paid0.IsZero() || !paid1.IsZero() {
		t.Fatalf("collect on removed position paid %s/%s", paid0.Dec(), paid1.Dec())
	}
	if _, _, err := l.Collect(src, "never-opened", nil, nil); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestIncreaseRejectsRangeMismatch(t *testing.T) {
	src := &stubGrowth{inside0: new(uint256.Int), inside1: new(uint256.Int)}
	l := New()
	if err := l.Increase(src, "p1", "alice", -60, 60, uint256.NewInt(10)); err != nil {
		t.Fatalf("increase: %v", err)
	}
	if err := l.Increase(src, "p1", "alice", -120, 60, uint256.NewInt(10)); !errors.Is(err, ErrRangeMismatch) {
		t.Fatalf("expected ErrRangeMismatch, got %v", err)
	}
}

func TestByOwnerFilters(t *testing.T) {
	src := &stubGrowth{inside0: new(uint256.Int), inside1: new(uint256.Int)}
	l := New()
	for _, tc := range []struct{ id, owner string }{{"b", "bob"}, {"a2", "alice"}, {"a1", "alice"}} {
		if err := l.Increase(src, tc.id, tc.owner, -60, 60, uint256.NewInt(1)); err != nil {
			t.Fatalf("increase %s: %v", tc.id, err)
		}
	}
	got := l.ByOwner("alice")
	if len(got) != 2 || got[0].ID != "a1" || got[1].ID != "a2" {
		t.Fatalf("unexpected owner positions %+v", got)
	}
}
