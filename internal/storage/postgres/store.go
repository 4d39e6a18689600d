package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS indexer_state (
	name                 TEXT PRIMARY KEY,
	last_processed_block BIGINT NOT NULL,
	event_count          BIGINT NOT NULL DEFAULT 0,
	value_sum            NUMERIC NOT NULL DEFAULT 0,
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tally_results (
	id          BIGSERIAL PRIMARY KEY,
	label       TEXT NOT NULL,
	chain_id    BIGINT NOT NULL,
	address     TEXT NOT NULL,
	topics      TEXT[] NOT NULL,
	from_block  BIGINT NOT NULL,
	to_block    BIGINT NOT NULL,
	event_count BIGINT NOT NULL,
	value_sum   NUMERIC NOT NULL,
	complete    BOOLEAN NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store provides Postgres persistence for checkpoints and results.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables used by the store.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// State is the persisted progress of one query.
type State struct {
	Name               string
	LastProcessedBlock uint64
	EventCount         uint64
	ValueSum           string
}

// LoadState returns the progress stored under name.
func (s *Store) LoadState(ctx context.Context, name string) (State, bool, error) {
	if name == "" {
		return State{}, false, fmt.Errorf("state name required")
	}
	var (
		last  int64
		count int64
		sum   string
	)
	row := s.pool.QueryRow(ctx,
		`SELECT last_processed_block, event_count, value_sum::text FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&last, &count, &sum); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{}, false, nil
		}
		return State{}, false, err
	}
	return State{
		Name:               name,
		LastProcessedBlock: uint64(last),
		EventCount:         uint64(count),
		ValueSum:           sum,
	}, true, nil
}

// SaveState upserts the progress for state.Name.
func (s *Store) SaveState(ctx context.Context, state State) error {
	if state.Name == "" {
		return fmt.Errorf("state name required")
	}
	sum := state.ValueSum
	if sum == "" {
		sum = "0"
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_processed_block, event_count, value_sum, updated_at)
		VALUES ($1, $2, $3, $4::numeric, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block,
			event_count = EXCLUDED.event_count,
			value_sum = EXCLUDED.value_sum,
			updated_at = now()
	`, state.Name, int64(state.LastProcessedBlock), int64(state.EventCount), sum)
	return err
}

// ResultRow is a finished (or partial) tally.
type ResultRow struct {
	Label      string
	ChainID    uint64
	Address    string
	Topics     []string
	FromBlock  uint64
	ToBlock    uint64
	EventCount uint64
	ValueSum   string
	Complete   bool
}

// InsertResults stores rows in one batch.
func (s *Store) InsertResults(ctx context.Context, rows []ResultRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		sum := r.ValueSum
		if sum == "" {
			sum = "0"
		}
		topics := r.Topics
		if topics == nil {
			topics = []string{}
		}
		batch.Queue(`
			INSERT INTO tally_results (
				label, chain_id, address, topics, from_block, to_block, event_count, value_sum, complete, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, now())
		`,
			r.Label,
			int64(r.ChainID),
			r.Address,
			topics,
			int64(r.FromBlock),
			int64(r.ToBlock),
			int64(r.EventCount),
			sum,
			r.Complete,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range rows {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
