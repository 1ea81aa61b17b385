package replay

import (
	"fmt"
	"time"

	"clmmBacktest/internal/model"
)

// GapDetector watches historical event order and spacing.
type GapDetector struct {
	MaxGap time.Duration

	prev *model.Event
}

// Observe returns a warning when ev jumps too far ahead of, or sorts before,
// the previous historical event. Synthetic events are ignored.
func (g *GapDetector) Observe(ev model.Event) *model.DataGapWarning {
	if ev.Synthetic {
		return nil
	}
	prev := g.prev
	cur := ev
	g.prev = &cur
	if prev == nil {
		return nil
	}

	warn := func(reason string) *model.DataGapWarning {
		return &model.DataGapWarning{
			PrevTimestamp: prev.Timestamp,
			NextTimestamp: ev.Timestamp,
			BlockNumber:   ev.BlockNumber,
			LogIndex:      ev.LogIndex,
			Reason:        reason,
		}
	}
	switch {
	case ev.Timestamp < prev.Timestamp:
		return warn("timestamp went backwards")
	case !prev.Before(ev):
		return warn(fmt.Sprintf("event order not increasing after block %d log %d", prev.BlockNumber, prev.LogIndex))
	case g.MaxGap > 0 && time.Duration(ev.Timestamp-prev.Timestamp)*time.Second > g.MaxGap:
		gap := time.Duration(ev.Timestamp-prev.Timestamp) * time.Second
		return warn(fmt.Sprintf("timestamp gap %s exceeds %s", gap, g.MaxGap))
	}
	return nil
}
