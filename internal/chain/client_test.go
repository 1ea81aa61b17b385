package chain

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ethService answers the eth_ methods the client uses.
type ethService struct {
	headers atomic.Int32
}

func (s *ethService) ChainId() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(42161))
}

func (s *ethService) BlockNumber() hexutil.Uint64 {
	return 900
}

func (s *ethService) GetBlockByNumber(number hexutil.Uint64, _ bool) (*types.Header, error) {
	s.headers.Add(1)
	return &types.Header{
		Number:     new(big.Int).SetUint64(uint64(number)),
		Difficulty: new(big.Int),
		Time:       1_700_000_000 + uint64(number)*2,
	}, nil
}

func newTestClient(t *testing.T) (*Client, *ethService) {
	t.Helper()
	svc := &ethService{}
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", svc))
	t.Cleanup(server.Stop)
	c := NewClientFromRPC(rpc.DialInProc(server))
	t.Cleanup(c.Close)
	return c, svc
}

func TestBlockTimestampIsCached(t *testing.T) {
	c, svc := newTestClient(t)
	ctx := context.Background()

	ts, err := c.BlockTimestamp(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_700_000_020), ts)

	ts, err = c.BlockTimestamp(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_700_000_020), ts)
	assert.Equal(t, int32(1), svc.headers.Load())

	latest, err := c.LatestBlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), latest)
}

func TestCheckChainID(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.CheckChainID(ctx, 42161))
	err := c.CheckChainID(ctx, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 1")
}
