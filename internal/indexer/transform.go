package indexer

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"eventScope/internal/model"
)

func buildLogRecord(entry model.LogEntry, ingestedAt time.Time) model.LogRecord {
	topics := make([]string, 0, len(entry.Topics))
	for _, topic := range entry.Topics {
		topics = append(topics, topic.Hex())
	}

	return model.LogRecord{
		BlockNumber: entry.BlockNumber,
		TxHash:      entry.TxHash.Hex(),
		LogIndex:    uint64(entry.LogIndex),
		Address:     entry.Address.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(entry.Data),
		IngestedAt:  ingestedAt.UTC().Format(time.RFC3339Nano),
	}
}
