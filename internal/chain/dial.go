package chain

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DialHealthy connects to every RPC URL and keeps the endpoints that answer
// eth_blockNumber within timeout. Failing endpoints are logged and closed. It
// returns an error only when no endpoint is usable.
func DialHealthy(ctx context.Context, urls []string, timeout time.Duration, logger *zap.Logger) ([]*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	clients := make([]*Client, 0, len(urls))
	for i, url := range urls {
		client, err := NewClient(ctx, url)
		if err != nil {
			logger.Warn("rpc dial failed", zap.Int("rpc", i+1), zap.Error(err))
			continue
		}

		head, err := probe(ctx, client, timeout)
		if err != nil {
			logger.Warn("rpc health check failed", zap.Int("rpc", i+1), zap.Error(err))
			client.Close()
			continue
		}

		logger.Info("rpc connected", zap.Int("rpc", i+1), zap.Uint64("head", head))
		clients = append(clients, client)
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("no rpc endpoint available (%d tried)", len(urls))
	}
	return clients, nil
}

func probe(ctx context.Context, client *Client, timeout time.Duration) (uint64, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return client.LatestBlock(ctx)
}
