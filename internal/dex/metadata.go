package dex

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"clmmBacktest/internal/model"
)

// cache is a concurrent address-keyed map.
type cache[T any] struct {
	mu   sync.RWMutex
	data map[common.Address]T
}

func (c *cache[T]) Get(address common.Address) (T, bool) {
	c.mu.RLock()
	v, ok := c.data[address]
	c.mu.RUnlock()
	return v, ok
}

func (c *cache[T]) Set(address common.Address, v T) {
	c.mu.Lock()
	c.data[address] = v
	c.mu.Unlock()
}

// PoolMetaCache caches pool metadata by address.
type PoolMetaCache struct {
	cache[model.PoolMeta]
}

func NewPoolMetaCache() *PoolMetaCache {
	return &PoolMetaCache{cache[model.PoolMeta]{data: make(map[common.Address]model.PoolMeta)}}
}

// TokenMetaCache caches token metadata by address.
type TokenMetaCache struct {
	cache[model.TokenMeta]
}

func NewTokenMetaCache() *TokenMetaCache {
	return &TokenMetaCache{cache[model.TokenMeta]{data: make(map[common.Address]model.TokenMeta)}}
}

func call(ctx context.Context, caller ContractCaller, to common.Address, parsed abi.ABI, method string, block *big.Int) ([]interface{}, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned nothing", method)
	}
	return values, nil
}

// FetchPoolMeta loads immutable pool metadata from chain and fills the token cache.
func FetchPoolMeta(ctx context.Context, caller ContractCaller, pool common.Address, tokenCache *TokenMetaCache, logger *zap.Logger) (model.PoolMeta, error) {
	if caller == nil {
		return model.PoolMeta{}, fmt.Errorf("chain client is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	poolABI, err := V3PoolABI()
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("parse pool abi: %w", err)
	}

	raw := make(map[string]interface{}, 4)
	for _, method := range []string{"token0", "token1", "fee", "tickSpacing"} {
		values, err := call(ctx, caller, pool, poolABI, method, nil)
		if err != nil {
			return model.PoolMeta{}, err
		}
		raw[method] = values[0]
	}
	token0, err := asAddress(raw["token0"])
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("token0: %w", err)
	}
	token1, err := asAddress(raw["token1"])
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("token1: %w", err)
	}
	fee, err := asBigInt(raw["fee"])
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("fee: %w", err)
	}
	spacingInt, err := asBigInt(raw["tickSpacing"])
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("tick spacing: %w", err)
	}
	spacing, err := int24FromBig(spacingInt)
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("tick spacing: %w", err)
	}

	if tokenCache != nil {
		for _, token := range []common.Address{token0, token1} {
			if _, ok := tokenCache.Get(token); ok {
				continue
			}
			meta, err := FetchTokenMeta(ctx, caller, token, logger)
			if err != nil {
				logger.Warn("token metadata fetch failed", zap.String("token", token.Hex()), zap.Error(err))
			}
			tokenCache.Set(token, meta)
		}
	}

	return model.PoolMeta{
		Token0:      token0.Hex(),
		Token1:      token1.Hex(),
		Fee:         uint32(fee.Uint64()),
		TickSpacing: spacing,
	}, nil
}

// FetchPoolState reads the live liquidity and slot0 of a pool at a block.
// Block 0 means latest.
func FetchPoolState(ctx context.Context, caller ContractCaller, pool common.Address, blockNumber uint64) (model.PoolMeta, error) {
	if caller == nil {
		return model.PoolMeta{}, fmt.Errorf("chain client is nil")
	}
	poolABI, err := V3PoolABI()
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("parse pool abi: %w", err)
	}
	var block *big.Int
	if blockNumber > 0 {
		block = new(big.Int).SetUint64(blockNumber)
	}

	var meta model.PoolMeta
	values, err := call(ctx, caller, pool, poolABI, "liquidity", block)
	if err != nil {
		return model.PoolMeta{}, err
	}
	liquidity, err := asBigInt(values[0])
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("liquidity: %w", err)
	}
	meta.Liquidity = liquidity.String()

	values, err = call(ctx, caller, pool, poolABI, "slot0", block)
	if err != nil {
		return model.PoolMeta{}, err
	}
	if len(values) < 2 {
		return model.PoolMeta{}, fmt.Errorf("slot0 returned %d values", len(values))
	}
	sqrt, err := asBigInt(values[0])
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("slot0 price: %w", err)
	}
	tickInt, err := asBigInt(values[1])
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("slot0 tick: %w", err)
	}
	tick, err := int24FromBig(tickInt)
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("slot0 tick: %w", err)
	}
	meta.Slot0 = &model.PoolSlot0{SqrtPriceX96: sqrt.String(), Tick: tick}
	return meta, nil
}

// FetchTokenMeta loads token metadata via ERC20 calls. Decimals are required;
// symbol and name fall back to bytes32 and are left empty if both fail.
func FetchTokenMeta(ctx context.Context, caller ContractCaller, token common.Address, logger *zap.Logger) (model.TokenMeta, error) {
	meta := model.TokenMeta{Address: token.Hex()}
	if caller == nil {
		return meta, fmt.Errorf("chain client is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	stringABI, err := erc20StringABI.get()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20Bytes32ABI.get()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	values, err := call(ctx, caller, token, stringABI, "decimals", nil)
	if err != nil {
		return meta, err
	}
	if meta.Decimals, err = asUint8(values[0]); err != nil {
		return meta, err
	}

	text := func(method string) string {
		if values, err := call(ctx, caller, token, stringABI, method, nil); err == nil {
			if s, ok := values[0].(string); ok {
				return s
			}
		}
		values, err := call(ctx, caller, token, bytes32ABI, method, nil)
		if err != nil {
			logger.Debug("token call failed", zap.String("token", token.Hex()), zap.String("method", method), zap.Error(err))
			return ""
		}
		s, _ := bytes32ToString(values[0])
		return s
	}
	meta.Symbol = text("symbol")
	meta.Name = text("name")
	return meta, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	n, err := asBigInt(value)
	if err != nil {
		return 0, err
	}
	if n.Sign() < 0 || n.BitLen() > 8 {
		return 0, fmt.Errorf("uint8 overflow: %s", n)
	}
	return uint8(n.Uint64()), nil
}

func int24FromBig(value *big.Int) (int32, error) {
	if value == nil {
		return 0, fmt.Errorf("nil int24")
	}
	if !value.IsInt64() || value.Int64() < -1<<23 || value.Int64() > 1<<23-1 {
		return 0, fmt.Errorf("int24 overflow: %s", value.String())
	}
	return int32(value.Int64()), nil
}
