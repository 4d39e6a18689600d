package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"eventScope/internal/model"
	"eventScope/internal/storage/postgres"
)

// Checkpoint records the totals accumulated up to and including
// LastProcessedBlock for the query identified by Key.
type Checkpoint struct {
	Key                string `json:"key"`
	LastProcessedBlock uint64 `json:"last_processed_block"`
	EventCount         uint64 `json:"event_count"`
	ValueSum           string `json:"value_sum"`
	UpdatedAt          string `json:"updated_at"`
}

func NewCheckpoint(key string, lastProcessed uint64, total model.Result) Checkpoint {
	return Checkpoint{
		Key:                key,
		LastProcessedBlock: lastProcessed,
		EventCount:         total.EventCount,
		ValueSum:           total.Sum().String(),
		UpdatedAt:          time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Result returns the totals stored in the checkpoint.
func (c Checkpoint) Result() (model.Result, error) {
	sum := big.NewInt(0)
	if c.ValueSum != "" {
		if _, ok := sum.SetString(c.ValueSum, 10); !ok {
			return model.Result{}, fmt.Errorf("invalid checkpoint value sum: %q", c.ValueSum)
		}
	}
	return model.Result{EventCount: c.EventCount, ValueSum: sum}, nil
}

// Checkpointer persists aggregation progress per query key.
type Checkpointer interface {
	Load(ctx context.Context, key string) (Checkpoint, bool, error)
	Save(ctx context.Context, cp Checkpoint) error
}

// CheckpointStore persists a single checkpoint to a JSON file. A checkpoint
// saved for another key is ignored on Load.
type CheckpointStore struct {
	path    string
	enabled bool
}

func NewCheckpointStore(path string, enabled bool) *CheckpointStore {
	return &CheckpointStore{path: path, enabled: enabled}
}

func (c *CheckpointStore) Load(_ context.Context, key string) (Checkpoint, bool, error) {
	if !c.enabled || c.path == "" {
		return Checkpoint{}, false, nil
	}

	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return Checkpoint{}, false, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	if cp.Key != key {
		return Checkpoint{}, false, nil
	}

	return cp, true, nil
}

func (c *CheckpointStore) Save(_ context.Context, cp Checkpoint) error {
	if !c.enabled || c.path == "" {
		return nil
	}

	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	return nil
}

// DBCheckpointStore keeps checkpoints in the indexer_state table.
type DBCheckpointStore struct {
	Store *postgres.Store
}

func (s *DBCheckpointStore) Load(ctx context.Context, key string) (Checkpoint, bool, error) {
	if s == nil || s.Store == nil {
		return Checkpoint{}, false, nil
	}
	state, ok, err := s.Store.LoadState(ctx, key)
	if err != nil || !ok {
		return Checkpoint{}, ok, err
	}
	return Checkpoint{
		Key:                key,
		LastProcessedBlock: state.LastProcessedBlock,
		EventCount:         state.EventCount,
		ValueSum:           state.ValueSum,
	}, true, nil
}

func (s *DBCheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	if s == nil || s.Store == nil {
		return nil
	}
	return s.Store.SaveState(ctx, postgres.State{
		Name:               cp.Key,
		LastProcessedBlock: cp.LastProcessedBlock,
		EventCount:         cp.EventCount,
		ValueSum:           cp.ValueSum,
	})
}
