package indexer

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"eventScope/internal/metrics"
	"eventScope/internal/model"
	"eventScope/internal/storage"
)

// Config holds the upstream limits and pacing used by an Aggregator.
type Config struct {
	// ChunkSize is the widest block range requested in one pagination pass.
	ChunkSize uint64
	// PageSize is the number of entries requested per page.
	PageSize int
	// MaxRetries is the number of retries allowed per page after the first attempt.
	MaxRetries int
	// BaseBackoff is scaled by the attempt number to get the retry delay.
	BaseBackoff time.Duration
	// MaxBackoff caps the retry delay when positive.
	MaxBackoff time.Duration
	// InterPageDelay separates consecutive page requests within a chunk.
	InterPageDelay time.Duration
	// InterChunkDelay separates consecutive chunks.
	InterChunkDelay time.Duration
}

func (c Config) validate() error {
	if c.ChunkSize == 0 {
		return invalidf("chunk size must be greater than zero")
	}
	if c.PageSize <= 0 {
		return invalidf("page size must be greater than zero")
	}
	if c.MaxRetries < 0 {
		return invalidf("max retries must not be negative")
	}
	return nil
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithSink writes the entries of every completed chunk to s.
func WithSink(s storage.Storage) Option {
	return func(a *Aggregator) { a.sink = s }
}

// WithCheckpointer resumes from and records progress in c.
func WithCheckpointer(c Checkpointer) Option {
	return func(a *Aggregator) { a.checkpoint = c }
}

// WithMetrics records page and chunk metrics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithSourceName labels logs and metrics for the source.
func WithSourceName(name string) Option {
	return func(a *Aggregator) { a.name = name }
}

// Aggregator counts and sums event logs fetched page by page from a Source.
type Aggregator struct {
	cfg        Config
	source     Source
	name       string
	logger     *zap.Logger
	sink       storage.Storage
	checkpoint Checkpointer
	metrics    *metrics.Metrics
	wait       waitFunc
}

// NewAggregator builds an Aggregator reading from source.
func NewAggregator(cfg Config, source Source, logger *zap.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{
		cfg:    cfg,
		source: source,
		name:   "default",
		logger: logger,
		wait:   sleepContext,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CountEvents returns the number of logs matching q.
func (a *Aggregator) CountEvents(ctx context.Context, q Query) (uint64, error) {
	res, err := a.Aggregate(ctx, q, nil)
	if err != nil {
		return 0, err
	}
	return res.EventCount, nil
}

// SumField returns the sum of the unsigned integer stored at
// data[offset:offset+length] of every log matching q. Logs whose data is too
// short contribute nothing.
func (a *Aggregator) SumField(ctx context.Context, q Query, offset, length int) (*big.Int, error) {
	res, err := a.Aggregate(ctx, q, &Field{Offset: offset, Length: length})
	if err != nil {
		return nil, err
	}
	return res.Sum(), nil
}

// Aggregate traverses every chunk of q in ascending order and returns the
// event count, plus the field sum when field is set. On failure the returned
// Result holds the totals of the completed chunks.
func (a *Aggregator) Aggregate(ctx context.Context, q Query, field *Field) (model.Result, error) {
	pageSize, err := a.prepare(q, field)
	if err != nil {
		return model.NewResult(), err
	}

	start := q.FromBlock
	seed := model.NewResult()
	var prog progress
	key := q.Key(field)

	if a.checkpoint != nil {
		cp, ok, err := a.checkpoint.Load(ctx, key)
		if err != nil {
			return seed, fmt.Errorf("load checkpoint: %w", err)
		}
		switch {
		case !ok || cp.LastProcessedBlock < q.FromBlock:
		case cp.LastProcessedBlock > q.ToBlock:
			a.logger.Warn("checkpoint beyond requested range, starting over",
				zap.Uint64("last_processed", cp.LastProcessedBlock), zap.Uint64("to", q.ToBlock))
		default:
			seed, err = cp.Result()
			if err != nil {
				return model.NewResult(), err
			}
			prog = progress{last: cp.LastProcessedBlock, ok: true}
			start = cp.LastProcessedBlock + 1
			a.logger.Info("resume from checkpoint",
				zap.Uint64("last_processed", cp.LastProcessedBlock), zap.Uint64("from", start))
		}
	}

	if start > q.ToBlock {
		a.logger.Info("nothing to fetch", zap.Uint64("from", start), zap.Uint64("to", q.ToBlock))
		return seed, nil
	}

	chunks, err := SplitRange(start, q.ToBlock, a.cfg.ChunkSize)
	if err != nil {
		return seed, err
	}
	total, _, err := a.run(ctx, q, newPass(field, noGroup), pageSize, chunks, seed, prog, key)
	return total, err
}

// GroupBy aggregates q like Aggregate but keeps separate totals per value of
// the topic at topicIndex. Checkpoints are not used. On failure the returned
// Breakdown holds the groups of the completed chunks.
func (a *Aggregator) GroupBy(ctx context.Context, q Query, topicIndex int, field *Field) (model.Breakdown, error) {
	pageSize, err := a.prepare(q, field)
	if err != nil {
		return model.Breakdown{}, err
	}
	if err := validateGroup(topicIndex); err != nil {
		return model.Breakdown{}, err
	}
	chunks, err := SplitRange(q.FromBlock, q.ToBlock, a.cfg.ChunkSize)
	if err != nil {
		return model.Breakdown{}, err
	}
	_, groups, err := a.run(ctx, q, newPass(field, topicIndex), pageSize, chunks, model.NewResult(), progress{}, "")
	return groups, err
}

func (a *Aggregator) prepare(q Query, field *Field) (int, error) {
	if a.source == nil {
		return 0, fmt.Errorf("log source is nil")
	}
	if err := a.cfg.validate(); err != nil {
		return 0, err
	}
	if err := q.validate(); err != nil {
		return 0, err
	}
	if field != nil {
		if err := field.validate(); err != nil {
			return 0, err
		}
	}
	pageSize := a.cfg.PageSize
	if q.PageSize > 0 {
		pageSize = q.PageSize
	}
	return pageSize, nil
}

type progress struct {
	last uint64
	ok   bool
}

const noGroup = -1

func validateGroup(topicIndex int) error {
	if topicIndex < 0 || topicIndex >= MaxTopics {
		return invalidf("group topic index must be between 0 and %d, got %d", MaxTopics-1, topicIndex)
	}
	return nil
}

// pass is the state of a single aggregation call.
type pass struct {
	field   *Field
	groupBy int
	seen    map[string]struct{}
}

func newPass(field *Field, groupBy int) *pass {
	return &pass{field: field, groupBy: groupBy, seen: make(map[string]struct{})}
}

func (p *pass) grouped() bool {
	return p.groupBy != noGroup
}

// chunkTally is what one fully paginated chunk contributes.
type chunkTally struct {
	res     model.Result
	groups  model.Breakdown
	entries []model.LogEntry
}

// run processes chunks strictly in order, starting from the seed totals.
func (a *Aggregator) run(
	ctx context.Context,
	q Query,
	p *pass,
	pageSize int,
	chunks []BlockRange,
	seed model.Result,
	prog progress,
	key string,
) (model.Result, model.Breakdown, error) {
	total := seed.Add(model.NewResult())
	groups := model.Breakdown{}

	for i, chunk := range chunks {
		if i > 0 {
			if err := a.wait(ctx, a.cfg.InterChunkDelay); err != nil {
				return total, groups, a.unavailable(chunk, 0, 0, prog, total, chunks[i:], err)
			}
		}

		a.logger.Info("fetch logs", zap.String("source", a.name),
			zap.Uint64("from", chunk.From), zap.Uint64("to", chunk.To))

		ct, page, attempts, err := a.fetchChunk(ctx, q, chunk, pageSize, p)
		if err != nil {
			a.metrics.IncFailure()
			a.logger.Warn("chunk failed", zap.String("source", a.name), zap.Error(err),
				zap.Uint64("from", chunk.From), zap.Uint64("to", chunk.To),
				zap.Int("page", page), zap.Int("attempts", attempts))
			return total, groups, a.unavailable(chunk, page, attempts, prog, total, chunks[i:], err)
		}

		if a.sink != nil {
			if err := a.sink.PutLogBatch(records(p, ct.entries)); err != nil {
				return total, groups, fmt.Errorf("store logs %d-%d: %w", chunk.From, chunk.To, err)
			}
		}

		total = total.Add(ct.res)
		groups.Merge(ct.groups)
		prog = progress{last: chunk.To, ok: true}

		if a.checkpoint != nil && key != "" {
			if err := a.checkpoint.Save(ctx, NewCheckpoint(key, chunk.To, total)); err != nil {
				return total, groups, fmt.Errorf("save checkpoint: %w", err)
			}
		}

		a.metrics.CompleteChunk(chunk.To, int(ct.res.EventCount))
		a.logger.Info("chunk complete", zap.String("source", a.name),
			zap.Uint64("from", chunk.From), zap.Uint64("to", chunk.To),
			zap.Uint64("events", ct.res.EventCount), zap.Uint64("total_events", total.EventCount),
			zap.String("total_sum", total.Sum().String()))
	}

	return total, groups, nil
}

// fetchChunk paginates one chunk until a short page is returned. It reports
// the page being fetched and the attempts spent on it when it fails.
func (a *Aggregator) fetchChunk(
	ctx context.Context,
	q Query,
	chunk BlockRange,
	pageSize int,
	p *pass,
) (chunkTally, int, int, error) {
	ct := chunkTally{res: model.NewResult()}
	if p.grouped() {
		ct.groups = model.Breakdown{}
	}

	for page := 1; ; page++ {
		if page > 1 {
			if err := a.wait(ctx, a.cfg.InterPageDelay); err != nil {
				return chunkTally{}, page, 0, err
			}
		}

		var batch []model.LogEntry
		attempts, err := withRetry(ctx, a.cfg.MaxRetries, Backoff{Base: a.cfg.BaseBackoff, Max: a.cfg.MaxBackoff}, a.wait,
			func(attempt int, delay time.Duration, err error) {
				a.metrics.IncRetry(a.name)
				a.logger.Warn("page fetch failed, retrying", zap.String("source", a.name), zap.Error(err),
					zap.Uint64("from", chunk.From), zap.Uint64("to", chunk.To),
					zap.Int("page", page), zap.Int("attempt", attempt), zap.Duration("delay", delay))
			},
			func(ctx context.Context) error {
				started := time.Now()
				var err error
				batch, err = a.source.FetchPage(ctx, q, chunk, page, pageSize)
				a.metrics.RecordPage(a.name, err, time.Since(started).Seconds())
				return err
			})
		if err != nil {
			return chunkTally{}, page, attempts, err
		}

		for _, entry := range batch {
			one := model.Result{EventCount: 1, ValueSum: big.NewInt(0)}
			if p.field != nil {
				if v, ok := p.field.Decode(entry.Data); ok {
					one.ValueSum = v
				}
			}
			ct.res.EventCount++
			ct.res.ValueSum.Add(ct.res.ValueSum, one.ValueSum)
			if p.grouped() {
				var group common.Hash
				if p.groupBy < len(entry.Topics) {
					group = entry.Topics[p.groupBy]
				}
				ct.groups[group] = ct.groups[group].Add(one)
			}
		}
		if a.sink != nil {
			ct.entries = append(ct.entries, batch...)
		}

		a.logger.Debug("page complete", zap.String("source", a.name),
			zap.Uint64("from", chunk.From), zap.Uint64("to", chunk.To),
			zap.Int("page", page), zap.Int("entries", len(batch)))

		if len(batch) < pageSize {
			return ct, page, attempts, nil
		}
	}
}

func (a *Aggregator) unavailable(
	chunk BlockRange,
	page int,
	attempts int,
	prog progress,
	partial model.Result,
	pending []BlockRange,
	err error,
) *UpstreamUnavailableError {
	return &UpstreamUnavailableError{
		Range:         chunk,
		Page:          page,
		Attempts:      attempts,
		LastCompleted: prog.last,
		HasProgress:   prog.ok,
		Partial:       partial.Add(model.NewResult()),
		Pending:       append([]BlockRange(nil), pending...),
		Err:           err,
	}
}

// records converts entries for the sink, skipping any already written in this pass.
func records(p *pass, entries []model.LogEntry) []model.LogRecord {
	ingestedAt := time.Now().UTC()
	out := make([]model.LogRecord, 0, len(entries))
	for _, entry := range entries {
		id := entry.ID()
		if _, ok := p.seen[id]; ok {
			continue
		}
		p.seen[id] = struct{}{}
		out = append(out, buildLogRecord(entry, ingestedAt))
	}
	return out
}
