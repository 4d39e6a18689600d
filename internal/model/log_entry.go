package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// LogEntry is a single event log returned by an upstream log source.
type LogEntry struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// ID identifies a log across overlapping fetches.
func (e LogEntry) ID() string {
	return fmt.Sprintf("%d:%s:%d", e.BlockNumber, e.TxHash.Hex(), e.LogIndex)
}
