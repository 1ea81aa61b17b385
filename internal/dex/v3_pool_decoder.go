package dex

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"clmmBacktest/internal/model"
)

// Event names understood by the decoder.
const (
	EventInitialize = "Initialize"
	EventSwap       = "Swap"
	EventMint       = "Mint"
	EventBurn       = "Burn"
	EventCollect    = "Collect"
)

var eventNames = []string{EventInitialize, EventSwap, EventMint, EventBurn, EventCollect}

// DecoderConfig configures decoder behavior. Topic0Map adds topic0 aliases
// for forks that emit the same layouts under other signatures.
type DecoderConfig struct {
	Topic0Map map[string]string
}

// V3PoolDecoder decodes Uniswap V3 style pool events.
type V3PoolDecoder struct {
	poolABI     abi.ABI
	topicToName map[string]string
}

// NewV3PoolDecoder builds a V3 pool decoder.
func NewV3PoolDecoder(cfg DecoderConfig) (*V3PoolDecoder, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return nil, err
	}

	topicToName := make(map[string]string, len(eventNames)+len(cfg.Topic0Map))
	for _, name := range eventNames {
		topicToName[strings.ToLower(poolABI.Events[name].ID.Hex())] = name
	}
	for topic0, name := range cfg.Topic0Map {
		normalized := normalizeEventName(name)
		if normalized == "" {
			return nil, fmt.Errorf("unsupported event name in topic0 map: %s", name)
		}
		if topic0 == "" {
			continue
		}
		topicToName[strings.ToLower(topic0)] = normalized
	}

	return &V3PoolDecoder{poolABI: poolABI, topicToName: topicToName}, nil
}

// Topics lists every topic0 the decoder accepts, for log filters.
func (d *V3PoolDecoder) Topics() []common.Hash {
	out := make([]common.Hash, 0, len(d.topicToName))
	for topic := range d.topicToName {
		out = append(out, common.HexToHash(topic))
	}
	return out
}

// CanDecode checks if the topic0 is supported.
func (d *V3PoolDecoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.topicToName[strings.ToLower(topic0)]
	return ok
}

// Decode converts a LogRecord into a TypedEvent.
func (d *V3PoolDecoder) Decode(log model.LogRecord, ctx DecodeContext) (*model.TypedEvent, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("missing topics")
	}
	name, ok := d.topicToName[strings.ToLower(log.Topics[0])]
	if !ok {
		return nil, fmt.Errorf("unsupported topic0: %s", log.Topics[0])
	}
	if !common.IsHexAddress(log.Address) {
		return nil, fmt.Errorf("invalid pool address: %s", log.Address)
	}

	fields, err := d.fields(d.poolABI.Events[name], log)
	if err != nil {
		return nil, err
	}
	var decoded interface{}
	switch name {
	case EventInitialize:
		decoded, err = initializeData(fields)
	case EventSwap:
		decoded, err = swapData(fields)
	case EventMint:
		decoded, err = mintData(fields)
	case EventBurn:
		decoded, err = burnData(fields)
	case EventCollect:
		decoded, err = collectData(fields)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	meta, err := getPoolMeta(ctx, common.HexToAddress(log.Address))
	if err != nil {
		return nil, err
	}
	return &model.TypedEvent{
		ChainID:     log.ChainID,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash,
		TxHash:      log.TxHash,
		LogIndex:    log.LogIndex,
		Address:     log.Address,
		EventName:   name,
		Timestamp:   log.Timestamp,
		Decoded:     decoded,
		PoolMeta:    meta,
	}, nil
}

func normalizeEventName(name string) string {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, known := range eventNames {
		if strings.ToLower(known) == want {
			return known
		}
	}
	return ""
}

// getPoolMeta resolves metadata from the cache, then the chain. With neither
// configured, metadata is left empty.
func getPoolMeta(ctx DecodeContext, pool common.Address) (model.PoolMeta, error) {
	if ctx.PoolMetaCache == nil && ctx.Chain == nil {
		return model.PoolMeta{}, nil
	}
	if ctx.PoolMetaCache != nil {
		if meta, ok := ctx.PoolMetaCache.Get(pool); ok {
			return meta, nil
		}
	}
	if ctx.Chain == nil {
		return model.PoolMeta{}, fmt.Errorf("no metadata for pool %s and no chain client", pool.Hex())
	}
	callCtx := ctx.Context
	if callCtx == nil {
		callCtx = context.Background()
	}
	meta, err := FetchPoolMeta(callCtx, ctx.Chain, pool, ctx.TokenMetaCache, ctx.Logger)
	if err != nil {
		return model.PoolMeta{}, err
	}
	if ctx.PoolMetaCache != nil {
		ctx.PoolMetaCache.Set(pool, meta)
	}
	return meta, nil
}

// fields unpacks the indexed topics and the data of a log into one map keyed
// by argument name.
func (d *V3PoolDecoder) fields(event abi.Event, log model.LogRecord) (map[string]interface{}, error) {
	indexed := indexedArguments(event.Inputs)
	if len(log.Topics) != len(indexed)+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", len(indexed)+1, len(log.Topics))
	}
	topics, err := parseTopicHashes(log.Topics[1:])
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(event.Inputs))
	if err := abi.ParseTopicsIntoMap(out, indexed, topics); err != nil {
		return nil, fmt.Errorf("parse topics: %w", err)
	}
	data, err := hexutil.Decode(log.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	if err := event.Inputs.NonIndexed().UnpackIntoMap(out, data); err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return out, nil
}

func bigField(fields map[string]interface{}, name string) (*big.Int, error) {
	v, ok := fields[name]
	if !ok {
		return nil, fmt.Errorf("missing %s", name)
	}
	n, err := asBigInt(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

func addressField(fields map[string]interface{}, name string) (string, error) {
	v, ok := fields[name]
	if !ok {
		return "", fmt.Errorf("missing %s", name)
	}
	addr, err := asAddress(v)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return addr.Hex(), nil
}

func tickField(fields map[string]interface{}, name string) (int32, error) {
	n, err := bigField(fields, name)
	if err != nil {
		return 0, err
	}
	tick, err := int24FromBig(n)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return tick, nil
}

// decimalFields reads several integer fields as decimal strings.
func decimalFields(fields map[string]interface{}, names ...string) ([]string, error) {
	out := make([]string, len(names))
	for i, name := range names {
		n, err := bigField(fields, name)
		if err != nil {
			return nil, err
		}
		out[i] = n.String()
	}
	return out, nil
}

func initializeData(fields map[string]interface{}) (model.InitializeEventData, error) {
	values, err := decimalFields(fields, "sqrtPriceX96")
	if err != nil {
		return model.InitializeEventData{}, err
	}
	tick, err := tickField(fields, "tick")
	if err != nil {
		return model.InitializeEventData{}, err
	}
	return model.InitializeEventData{SqrtPriceX96: values[0], Tick: tick}, nil
}

func swapData(fields map[string]interface{}) (model.SwapEventData, error) {
	sender, err := addressField(fields, "sender")
	if err != nil {
		return model.SwapEventData{}, err
	}
	recipient, err := addressField(fields, "recipient")
	if err != nil {
		return model.SwapEventData{}, err
	}
	values, err := decimalFields(fields, "amount0", "amount1", "sqrtPriceX96", "liquidity")
	if err != nil {
		return model.SwapEventData{}, err
	}
	tick, err := tickField(fields, "tick")
	if err != nil {
		return model.SwapEventData{}, err
	}
	return model.SwapEventData{
		Sender:       sender,
		Recipient:    recipient,
		Amount0:      values[0],
		Amount1:      values[1],
		SqrtPriceX96: values[2],
		Liquidity:    values[3],
		Tick:         tick,
	}, nil
}

// positionFields reads the owner and tick range shared by Mint, Burn and Collect.
func positionFields(fields map[string]interface{}) (string, int32, int32, error) {
	owner, err := addressField(fields, "owner")
	if err != nil {
		return "", 0, 0, err
	}
	lower, err := tickField(fields, "tickLower")
	if err != nil {
		return "", 0, 0, err
	}
	upper, err := tickField(fields, "tickUpper")
	if err != nil {
		return "", 0, 0, err
	}
	return owner, lower, upper, nil
}

func mintData(fields map[string]interface{}) (model.MintEventData, error) {
	owner, lower, upper, err := positionFields(fields)
	if err != nil {
		return model.MintEventData{}, err
	}
	sender, err := addressField(fields, "sender")
	if err != nil {
		return model.MintEventData{}, err
	}
	values, err := decimalFields(fields, "amount", "amount0", "amount1")
	if err != nil {
		return model.MintEventData{}, err
	}
	return model.MintEventData{
		Sender:    sender,
		Owner:     owner,
		TickLower: lower,
		TickUpper: upper,
		Amount:    values[0],
		Amount0:   values[1],
		Amount1:   values[2],
	}, nil
}

func burnData(fields map[string]interface{}) (model.BurnEventData, error) {
	owner, lower, upper, err := positionFields(fields)
	if err != nil {
		return model.BurnEventData{}, err
	}
	values, err := decimalFields(fields, "amount", "amount0", "amount1")
	if err != nil {
		return model.BurnEventData{}, err
	}
	return model.BurnEventData{
		Owner:     owner,
		TickLower: lower,
		TickUpper: upper,
		Amount:    values[0],
		Amount0:   values[1],
		Amount1:   values[2],
	}, nil
}

func collectData(fields map[string]interface{}) (model.CollectEventData, error) {
	owner, lower, upper, err := positionFields(fields)
	if err != nil {
		return model.CollectEventData{}, err
	}
	recipient, err := addressField(fields, "recipient")
	if err != nil {
		return model.CollectEventData{}, err
	}
	values, err := decimalFields(fields, "amount0", "amount1")
	if err != nil {
		return model.CollectEventData{}, err
	}
	return model.CollectEventData{
		Owner:     owner,
		Recipient: recipient,
		TickLower: lower,
		TickUpper: upper,
		Amount0:   values[0],
		Amount1:   values[1],
	}, nil
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}
