package indexer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"eventScope/internal/model"
)

// StreamResult is the outcome of one source's share of a fan-out.
type StreamResult struct {
	Source int
	Chunks []BlockRange
	// Result covers the chunks completed by this source, even when Err is set.
	Result model.Result
	// Groups is only set by GroupBy.
	Groups model.Breakdown
	Err    error
}

// FanoutResult combines the streams of a fan-out.
type FanoutResult struct {
	Total   model.Result
	// Groups merges the per-stream groups of a GroupBy run.
	Groups  model.Breakdown
	Streams []StreamResult
}

// Err joins the failures of every stream, or returns nil when all succeeded.
func (r FanoutResult) Err() error {
	var errs []error
	for _, s := range r.Streams {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("source %d: %w", s.Source, s.Err))
		}
	}
	return errors.Join(errs...)
}

// Pending lists the chunks left unfinished by failed streams, so they can be
// retried against another source.
func (r FanoutResult) Pending() []BlockRange {
	var pending []BlockRange
	for _, s := range r.Streams {
		var ue *UpstreamUnavailableError
		if errors.As(s.Err, &ue) {
			pending = append(pending, ue.Pending...)
		}
	}
	return pending
}

// Fanout spreads the chunks of a query round-robin over several sources and
// processes each source's share sequentially.
type Fanout struct {
	cfg     Config
	sources []Source
	logger  *zap.Logger
	opts    []Option
	wait    waitFunc
}

// NewFanout builds a Fanout. Checkpointing options are ignored because the
// chunks completed by concurrent streams are not contiguous.
func NewFanout(cfg Config, sources []Source, logger *zap.Logger, opts ...Option) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{cfg: cfg, sources: sources, logger: logger, opts: opts}
}

// Run aggregates q across all sources. The returned error is only set for an
// invalid query; upstream failures are reported per stream.
func (f *Fanout) Run(ctx context.Context, q Query, field *Field) (FanoutResult, error) {
	return f.run(ctx, q, field, noGroup)
}

// GroupBy is Run with separate totals per value of the topic at topicIndex.
func (f *Fanout) GroupBy(ctx context.Context, q Query, topicIndex int, field *Field) (FanoutResult, error) {
	if err := validateGroup(topicIndex); err != nil {
		return FanoutResult{}, err
	}
	return f.run(ctx, q, field, topicIndex)
}

func (f *Fanout) run(ctx context.Context, q Query, field *Field, groupBy int) (FanoutResult, error) {
	if len(f.sources) == 0 {
		return FanoutResult{}, fmt.Errorf("no log sources configured")
	}

	streams := make([]*Aggregator, len(f.sources))
	for i, src := range f.sources {
		opts := append(append([]Option(nil), f.opts...), WithSourceName(fmt.Sprintf("source-%d", i+1)))
		agg := NewAggregator(f.cfg, src, f.logger.With(zap.Int("source", i+1)), opts...)
		agg.checkpoint = nil
		if f.wait != nil {
			agg.wait = f.wait
		}
		streams[i] = agg
	}

	pageSize, err := streams[0].prepare(q, field)
	if err != nil {
		return FanoutResult{}, err
	}
	chunks, err := SplitRange(q.FromBlock, q.ToBlock, f.cfg.ChunkSize)
	if err != nil {
		return FanoutResult{}, err
	}
	assigned := distribute(chunks, len(streams))

	results := make([]StreamResult, len(streams))
	var g errgroup.Group
	for i, agg := range streams {
		i, agg := i, agg
		results[i] = StreamResult{Source: i + 1, Chunks: assigned[i], Result: model.NewResult()}
		if len(assigned[i]) == 0 {
			continue
		}
		// Streams never return an error so a failing source does not cancel its siblings.
		g.Go(func() error {
			res, groups, err := agg.run(ctx, q, newPass(field, groupBy), pageSize, assigned[i], model.NewResult(), progress{}, "")
			results[i].Result = res
			if groupBy != noGroup {
				results[i].Groups = groups
			}
			results[i].Err = err
			return nil
		})
	}
	_ = g.Wait()

	total := model.NewResult()
	var groups model.Breakdown
	if groupBy != noGroup {
		groups = model.Breakdown{}
	}
	for _, r := range results {
		total = total.Add(r.Result)
		if groups != nil {
			groups.Merge(r.Groups)
		}
		if r.Err != nil {
			f.logger.Warn("source failed", zap.Int("source", r.Source), zap.Error(r.Err))
		}
	}

	return FanoutResult{Total: total, Groups: groups, Streams: results}, nil
}

// distribute assigns chunk i to bucket i % n, keeping each bucket ascending.
func distribute(chunks []BlockRange, n int) [][]BlockRange {
	buckets := make([][]BlockRange, n)
	for i, chunk := range chunks {
		buckets[i%n] = append(buckets[i%n], chunk)
	}
	return buckets
}
