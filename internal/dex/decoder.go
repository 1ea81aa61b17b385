package dex

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"go.uber.org/zap"

	"clmmBacktest/internal/model"
)

// Decoder defines a log decoder.
type Decoder interface {
	CanDecode(topic0 string) bool
	Decode(log model.LogRecord, ctx DecodeContext) (*model.TypedEvent, error)
}

// ContractCaller performs read-only contract calls. *chain.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// DecodeContext provides shared dependencies for decoders. Chain may be nil
// when every pool is already in PoolMetaCache; with both nil, events carry no
// pool metadata.
type DecodeContext struct {
	Context        context.Context
	Chain          ContractCaller
	PoolMetaCache  *PoolMetaCache
	TokenMetaCache *TokenMetaCache
	Logger         *zap.Logger
}
