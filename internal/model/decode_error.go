package model

// DecodeError records a log that could not become a replay event.
type DecodeError struct {
	ChainID     uint64 `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Address     string `json:"address"`
	Topic0      string `json:"topic0"`
	Stage       string `json:"stage"`
	Error       string `json:"error"`
}

// NewDecodeError builds a DecodeError for a log at the given stage
// ("decode" or "convert").
func NewDecodeError(log LogRecord, stage string, err error) DecodeError {
	return DecodeError{
		ChainID:     log.ChainID,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.LogIndex,
		Address:     log.Address,
		Topic0:      log.Topic0(),
		Stage:       stage,
		Error:       err.Error(),
	}
}
