package indexer

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// MaxTopics is the number of indexed topic positions an event log can carry.
const MaxTopics = 4

// Query describes the logs to aggregate. A nil topic matches any value.
type Query struct {
	Address   common.Address
	Topics    []*common.Hash
	FromBlock uint64
	ToBlock   uint64
	// PageSize overrides Config.PageSize when positive.
	PageSize int
}

// Key identifies the query for checkpointing. Two queries with the same key
// produce the same totals for the same block range.
func (q Query) Key(field *Field) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(q.Address.Hex()))
	for i, topic := range q.Topics {
		b.WriteString(fmt.Sprintf("|t%d=", i))
		if topic == nil {
			b.WriteString("*")
			continue
		}
		b.WriteString(topic.Hex())
	}
	b.WriteString(fmt.Sprintf("|from=%d", q.FromBlock))
	if field != nil {
		b.WriteString(fmt.Sprintf("|field=%d:%d", field.Offset, field.Length))
	}
	return b.String()
}

func (q Query) validate() error {
	if q.FromBlock > q.ToBlock {
		return invalidf("from block %d is greater than to block %d", q.FromBlock, q.ToBlock)
	}
	if len(q.Topics) > MaxTopics {
		return invalidf("at most %d topics are supported, got %d", MaxTopics, len(q.Topics))
	}
	if q.PageSize < 0 {
		return invalidf("page size must be positive")
	}
	return nil
}

// Field is a fixed window of a log's data holding an unsigned big-endian integer.
type Field struct {
	Offset int
	Length int
}

func (f Field) validate() error {
	if f.Offset < 0 {
		return invalidf("field offset must not be negative")
	}
	if f.Length <= 0 {
		return invalidf("field length must be positive")
	}
	return nil
}

// Decode returns the integer stored in the window, or false when data is too
// short to hold it.
func (f Field) Decode(data []byte) (*big.Int, bool) {
	if f.Offset < 0 || f.Length <= 0 || f.Offset > len(data) || f.Length > len(data)-f.Offset {
		return nil, false
	}
	return new(big.Int).SetBytes(data[f.Offset : f.Offset+f.Length]), true
}
