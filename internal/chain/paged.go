package chain

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"eventScope/internal/indexer"
	"eventScope/internal/model"
)

// LogFilterer is the subset of Client used by PagedSource.
type LogFilterer interface {
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error)
}

// PagedSource serves eth_getLogs results as pages. The whole chunk is fetched
// once and later pages are cut from the cached result.
type PagedSource struct {
	filterer LogFilterer

	mu      sync.Mutex
	key     string
	cached  indexer.BlockRange
	entries []model.LogEntry
	loaded  bool
}

func NewPagedSource(filterer LogFilterer) *PagedSource {
	return &PagedSource{filterer: filterer}
}

// FetchPage implements indexer.Source.
func (s *PagedSource) FetchPage(ctx context.Context, q indexer.Query, r indexer.BlockRange, page, pageSize int) ([]model.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := q.Key(nil)
	if page <= 1 || !s.loaded || s.key != key || s.cached != r {
		entries, err := s.load(ctx, q, r)
		if err != nil {
			return nil, err
		}
		s.key = key
		s.cached = r
		s.entries = entries
		s.loaded = true
	}

	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(s.entries) {
		return []model.LogEntry{}, nil
	}
	end := start + pageSize
	if end > len(s.entries) {
		end = len(s.entries)
	}
	return s.entries[start:end], nil
}

func (s *PagedSource) load(ctx context.Context, q indexer.Query, r indexer.BlockRange) ([]model.LogEntry, error) {
	var addresses []common.Address
	if q.Address != (common.Address{}) {
		addresses = []common.Address{q.Address}
	}

	logs, err := s.filterer.FilterLogs(ctx, r.From, r.To, addresses, topicFilter(q.Topics))
	if err != nil {
		return nil, indexer.Transient("eth_getLogs", err)
	}

	entries := make([]model.LogEntry, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		entries = append(entries, model.LogEntry{
			Address:     log.Address,
			Topics:      log.Topics,
			Data:        log.Data,
			BlockNumber: log.BlockNumber,
			TxHash:      log.TxHash,
			LogIndex:    log.Index,
		})
	}
	return entries, nil
}

// topicFilter converts positional wildcards into the go-ethereum filter form.
func topicFilter(topics []*common.Hash) [][]common.Hash {
	if len(topics) == 0 {
		return nil
	}
	out := make([][]common.Hash, len(topics))
	for i, topic := range topics {
		if topic != nil {
			out[i] = []common.Hash{*topic}
		}
	}
	return out
}
