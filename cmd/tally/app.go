package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"eventScope/internal/chain"
	"eventScope/internal/config"
	"eventScope/internal/explorer"
	"eventScope/internal/indexer"
	"eventScope/internal/metrics"
	"eventScope/internal/model"
	"eventScope/internal/storage"
	"eventScope/internal/storage/postgres"
)

const rpcProbeTimeout = 10 * time.Second

// app holds the upstreams and optional sinks shared by every subcommand.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	sources []indexer.Source
	head    indexer.HeadSource
	opts    []indexer.Option
	store   *postgres.Store
	closers []func()
}

// withApp loads configuration, wires the upstreams and runs fn under a
// context cancelled on SIGINT/SIGTERM.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, logger: logger}
	defer a.close()
	if err := a.connect(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

func (a *app) connect(ctx context.Context) error {
	cfg := a.cfg

	switch cfg.Source {
	case config.SourceExplorer:
		client, err := explorer.NewClient(explorer.Config{
			BaseURL:           cfg.ExplorerURL,
			APIKey:            cfg.APIKey,
			ChainID:           cfg.ChainID,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
		if err != nil {
			return err
		}
		a.sources = []indexer.Source{client}
		a.head = client
	case config.SourceRPC:
		clients, err := chain.DialHealthy(ctx, cfg.RPCURLs, rpcProbeTimeout, a.logger)
		if err != nil {
			return err
		}
		for _, client := range clients {
			a.closers = append(a.closers, client.Close)
			a.sources = append(a.sources, chain.NewPagedSource(client))
		}
		a.head = clients[0]
	}

	if cfg.Out != "" {
		sink := storage.NewJsonlStorage(cfg.Out)
		a.closers = append(a.closers, func() {
			if err := sink.Close(); err != nil {
				a.logger.Warn("close log sink", zap.Error(err))
			}
		})
		a.opts = append(a.opts, indexer.WithSink(sink))
	}

	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		a.store = store
	}

	if cfg.CheckpointEnabled {
		if a.store != nil {
			a.opts = append(a.opts, indexer.WithCheckpointer(&indexer.DBCheckpointStore{Store: a.store}))
		} else {
			a.opts = append(a.opts, indexer.WithCheckpointer(indexer.NewCheckpointStore(cfg.Checkpoint, true)))
		}
	}

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		m, err := metrics.New(reg)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		a.opts = append(a.opts, indexer.WithMetrics(m))

		srv := metrics.NewServer(cfg.MetricsAddr, reg)
		errCh := srv.Start()
		go func() {
			if err, ok := <-errCh; ok && err != nil {
				a.logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
		a.closers = append(a.closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
		a.logger.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
	}

	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// resolveTo returns to, or the upstream head when to is zero.
func (a *app) resolveTo(ctx context.Context, to uint64) (uint64, error) {
	if to != 0 {
		return to, nil
	}
	latest, err := a.head.LatestBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve latest block: %w", err)
	}
	a.logger.Info("resolved latest block", zap.Uint64("to", latest))
	return latest, nil
}

// query builds the filter from the address and topic settings.
func (a *app) query(ctx context.Context) (indexer.Query, error) {
	var q indexer.Query
	if a.cfg.Address != "" {
		addr, err := indexer.ParseAddress(a.cfg.Address)
		if err != nil {
			return q, err
		}
		q.Address = addr
	}
	topics, err := indexer.ParseTopics(a.cfg.Topics)
	if err != nil {
		return q, err
	}
	q.Topics = topics

	to, err := a.resolveTo(ctx, a.cfg.ToBlock)
	if err != nil {
		return q, err
	}
	q.FromBlock = a.cfg.FromBlock
	q.ToBlock = to
	return q, nil
}

// tally runs q sequentially, or fanned out when several sources are
// configured, and records the outcome in Postgres when a store is attached.
func (a *app) tally(ctx context.Context, label string, q indexer.Query, field *indexer.Field) (model.Result, error) {
	a.logger.Info("tally start",
		zap.String("label", label),
		zap.String("source", a.cfg.Source),
		zap.Int("upstreams", len(a.sources)),
		zap.String("address", q.Address.Hex()),
		zap.Uint64("from", q.FromBlock),
		zap.Uint64("to", q.ToBlock),
		zap.Uint64("chunk_size", a.cfg.ChunkSize),
		zap.Int("page_size", a.cfg.PageSize),
	)

	var (
		res model.Result
		err error
	)
	if len(a.sources) > 1 {
		out, runErr := indexer.NewFanout(a.cfg.Indexer(), a.sources, a.logger, a.opts...).Run(ctx, q, field)
		if runErr != nil {
			return model.NewResult(), runErr
		}
		res, err = out.Total, out.Err()
		if pending := out.Pending(); len(pending) > 0 {
			a.logger.Warn("chunks left unfetched", zap.Int("pending", len(pending)),
				zap.Uint64("first_from", pending[0].From))
		}
	} else {
		agg := indexer.NewAggregator(a.cfg.Indexer(), a.sources[0], a.logger, a.opts...)
		res, err = agg.Aggregate(ctx, q, field)
	}
	if errors.Is(err, indexer.ErrInvalidQuery) {
		return res, err
	}

	if a.store != nil {
		if storeErr := a.store.InsertResults(ctx, []postgres.ResultRow{resultRow(label, a.cfg.ChainID, q, res, err == nil)}); storeErr != nil {
			a.logger.Warn("store result", zap.Error(storeErr))
		}
	}
	return res, err
}

// groupBy is tally keyed by the topic at topicIndex. Grouped runs are not
// recorded in Postgres.
func (a *app) groupBy(ctx context.Context, label string, q indexer.Query, topicIndex int, field *indexer.Field) (model.Breakdown, error) {
	a.logger.Info("breakdown start",
		zap.String("label", label),
		zap.Int("upstreams", len(a.sources)),
		zap.String("address", q.Address.Hex()),
		zap.Int("group_topic", topicIndex),
		zap.Uint64("from", q.FromBlock),
		zap.Uint64("to", q.ToBlock),
	)

	if len(a.sources) > 1 {
		out, err := indexer.NewFanout(a.cfg.Indexer(), a.sources, a.logger, a.opts...).GroupBy(ctx, q, topicIndex, field)
		if err != nil {
			return model.Breakdown{}, err
		}
		return out.Groups, out.Err()
	}
	return indexer.NewAggregator(a.cfg.Indexer(), a.sources[0], a.logger, a.opts...).GroupBy(ctx, q, topicIndex, field)
}

func resultRow(label string, chainID uint64, q indexer.Query, res model.Result, complete bool) postgres.ResultRow {
	topics := make([]string, 0, len(q.Topics))
	for _, topic := range q.Topics {
		if topic == nil {
			topics = append(topics, "")
			continue
		}
		topics = append(topics, topic.Hex())
	}
	address := ""
	if q.Address != (common.Address{}) {
		address = q.Address.Hex()
	}
	return postgres.ResultRow{
		Label:      label,
		ChainID:    chainID,
		Address:    address,
		Topics:     topics,
		FromBlock:  q.FromBlock,
		ToBlock:    q.ToBlock,
		EventCount: res.EventCount,
		ValueSum:   res.Sum().String(),
		Complete:   complete,
	}
}

// printPartial reports the progress carried by an upstream failure.
func printPartial(w io.Writer, err error) {
	var ue *indexer.UpstreamUnavailableError
	if !errors.As(err, &ue) {
		return
	}
	fmt.Fprintf(w, "incomplete: %d chunks pending, resume from block %d\n", len(ue.Pending), ue.ResumeFrom())
}
