package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestEventBeforeOrdersByTimestampBlockLogIndex(t *testing.T) {
	a := Event{Timestamp: 10, BlockNumber: 5, LogIndex: 3}
	cases := []struct {
		name string
		b    Event
		want bool
	}{
		{"later timestamp", Event{Timestamp: 11, BlockNumber: 1}, true},
		{"same ts later block", Event{Timestamp: 10, BlockNumber: 6}, true},
		{"same block later log", Event{Timestamp: 10, BlockNumber: 5, LogIndex: 4}, true},
		{"identical", Event{Timestamp: 10, BlockNumber: 5, LogIndex: 3}, false},
		{"earlier log", Event{Timestamp: 10, BlockNumber: 5, LogIndex: 2}, false},
	}
	for _, tc := range cases {
		if got := a.Before(tc.b); got != tc.want {
			t.Fatalf("%s: Before=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestEventValidateRejectsMismatchedPayload(t *testing.T) {
	ev := Event{Kind: EventSwap, Add: &AddLiquidityParams{Owner: "0x1", Liquidity: uint256.NewInt(1)}}
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error for swap without swap payload")
	}
	ev = Event{Kind: EventRemoveLiquidity, Remove: &RemoveLiquidityParams{Liquidity: uint256.NewInt(1)}}
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error for remove without position id")
	}
	ev = Event{Kind: "bogus"}
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestEventAmountsEncodeAsDecimalStrings(t *testing.T) {
	ev := Event{
		Kind:      EventSwap,
		Timestamp: 1700000000,
		Swap: &SwapParams{
			AmountIn:   uint256.MustFromDecimal("340282366920938463463374607431768211456"),
			ZeroForOne: true,
		},
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var raw map[string]map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	amount, ok := raw["swap"]["amount_in"].(string)
	if !ok || amount != "340282366920938463463374607431768211456" {
		t.Fatalf("amount_in = %#v", raw["swap"]["amount_in"])
	}
	if _, ok := raw["swap"]["sqrt_price_limit_x96"]; ok {
		t.Fatalf("nil limit should be omitted")
	}
}

func TestPositionKeyLowercasesOwner(t *testing.T) {
	got := PositionKey("0xABCdef", -60, 120)
	if got != "0xabcdef:-60:120" {
		t.Fatalf("unexpected key %s", got)
	}
	add := &AddLiquidityParams{Owner: "0xABCdef", TickLower: -60, TickUpper: 120}
	if add.ResolvedID() != got {
		t.Fatalf("resolved id mismatch")
	}
}

func TestInvariantErrorUnwrapsOverflow(t *testing.T) {
	ev := Event{Kind: EventSwap, Timestamp: 1}
	err := error(&InvariantError{Reason: "boom", Event: &ev, Err: &OverflowError{Op: "mulDiv"}})
	var overflow *OverflowError
	if !errors.As(err, &overflow) {
		t.Fatalf("expected overflow error in chain")
	}
	if overflow.Op != "mulDiv" {
		t.Fatalf("unexpected op %s", overflow.Op)
	}
}

func TestNewDecodeErrorKeepsLocator(t *testing.T) {
	log := LogRecord{ChainID: 1, BlockNumber: 9, TxHash: "0xtx", LogIndex: 4, Address: "0xpool", Topics: []string{"0xsig", "0xowner"}}
	de := NewDecodeError(log, "convert", errors.New("bad amount"))
	if de.Topic0 != "0xsig" || de.Stage != "convert" || de.Error != "bad amount" || de.BlockNumber != 9 || de.LogIndex != 4 {
		t.Fatalf("unexpected %+v", de)
	}
	if (LogRecord{}).Topic0() != "" {
		t.Fatalf("anonymous log should have no topic0")
	}
}
