package ingest

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"clmmBacktest/internal/dex"
	"clmmBacktest/internal/model"
)

func buildLogRecord(chainID uint64, log types.Log, timestamp uint64, ingestedAt time.Time) model.LogRecord {
	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}

	return model.LogRecord{
		ChainID:     chainID,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		TxHash:      log.TxHash.Hex(),
		TxIndex:     uint64(log.TxIndex),
		LogIndex:    uint64(log.Index),
		Address:     log.Address.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(log.Data),
		Removed:     log.Removed,
		Timestamp:   timestamp,
		IngestedAt:  ingestedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Transformed is the outcome of one batch of raw logs.
type Transformed struct {
	Events []model.Event
	Errors []model.DecodeError
	// Pools holds pools seen for the first time, when metadata is known.
	Pools []model.Pool
	// Skipped counts logs that carry no replayable change.
	Skipped int
}

// Transformer decodes raw pool logs and converts them into replay events.
type Transformer struct {
	decoder dex.Decoder
	dctx    dex.DecodeContext
	opts    dex.ConvertOptions
	pools   map[string]struct{}
}

func NewTransformer(decoder dex.Decoder, dctx dex.DecodeContext, opts dex.ConvertOptions) *Transformer {
	return &Transformer{decoder: decoder, dctx: dctx, opts: opts, pools: make(map[string]struct{})}
}

// Transform handles logs in order. Failures are reported per log and never
// stop the batch.
func (t *Transformer) Transform(logs []model.LogRecord) Transformed {
	var out Transformed
	for _, log := range logs {
		if log.Removed || !t.decoder.CanDecode(log.Topic0()) {
			out.Skipped++
			continue
		}
		typed, err := t.decoder.Decode(log, t.dctx)
		if err != nil {
			out.Errors = append(out.Errors, model.NewDecodeError(log, "decode", err))
			continue
		}
		ev, ok, err := dex.ToEvent(typed, t.opts)
		if err != nil {
			out.Errors = append(out.Errors, model.NewDecodeError(log, "convert", err))
			continue
		}
		if !ok {
			out.Skipped++
			continue
		}
		out.Events = append(out.Events, ev)

		if _, seen := t.pools[ev.Pool]; !seen && typed.PoolMeta.Token0 != "" {
			t.pools[ev.Pool] = struct{}{}
			out.Pools = append(out.Pools, model.Pool{
				ChainID:        log.ChainID,
				Address:        ev.Pool,
				Token0:         strings.ToLower(typed.PoolMeta.Token0),
				Token1:         strings.ToLower(typed.PoolMeta.Token1),
				Fee:            typed.PoolMeta.Fee,
				TickSpacing:    typed.PoolMeta.TickSpacing,
				FirstSeenBlock: log.BlockNumber,
			})
		}
	}
	return out
}
