package indexer

import (
	"context"

	"eventScope/internal/model"
)

// Source returns one page of logs matching a query within a block range.
// Pages are numbered from 1. A source signals "no records" by returning an
// empty slice and a nil error.
type Source interface {
	FetchPage(ctx context.Context, q Query, r BlockRange, page, pageSize int) ([]model.LogEntry, error)
}

// HeadSource reports the latest block known upstream.
type HeadSource interface {
	LatestBlock(ctx context.Context) (uint64, error)
}
