package indexer

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"eventScope/internal/model"
)

func TestCheckpointStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "checkpoint.json")
	store := NewCheckpointStore(path, true)
	ctx := context.Background()

	if _, ok, err := store.Load(ctx, "k"); err != nil || ok {
		t.Fatalf("missing checkpoint: ok=%v err=%v", ok, err)
	}

	total := model.Result{EventCount: 12, ValueSum: big.NewInt(340)}
	if err := store.Save(ctx, NewCheckpoint("k", 99, total)); err != nil {
		t.Fatalf("save: %v", err)
	}

	cp, ok, err := store.Load(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	res, err := cp.Result()
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if cp.LastProcessedBlock != 99 || res.EventCount != 12 || res.ValueSum.Cmp(big.NewInt(340)) != 0 {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}

	if _, ok, _ := store.Load(ctx, "other"); ok {
		t.Fatalf("checkpoint for another key must be ignored")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp file should be renamed away")
	}
}

func TestCheckpointStoreDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewCheckpointStore(path, false)
	if err := store.Save(context.Background(), Checkpoint{Key: "k"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("disabled store should not write")
	}
}

type memoryCheckpointer struct {
	saved map[string]Checkpoint
}

func (m *memoryCheckpointer) Load(_ context.Context, key string) (Checkpoint, bool, error) {
	cp, ok := m.saved[key]
	return cp, ok, nil
}

func (m *memoryCheckpointer) Save(_ context.Context, cp Checkpoint) error {
	m.saved[cp.Key] = cp
	return nil
}

func TestAggregateResumesFromCheckpoint(t *testing.T) {
	entries := syntheticEntries(1, 2, 11, 12, 13, 21)
	q := Query{FromBlock: 0, ToBlock: 29}
	field := &Field{Length: 32}
	cp := &memoryCheckpointer{saved: map[string]Checkpoint{}}

	failing := &fakeSource{entries: entries, failures: map[string]int{"10:1": 10}}
	first, _ := newTestAggregator(t, testConfig(), failing, WithCheckpointer(cp))
	if _, err := first.Aggregate(context.Background(), q, field); err == nil {
		t.Fatalf("expected first run to fail")
	}
	saved := cp.saved[q.Key(field)]
	if saved.LastProcessedBlock != 9 || saved.EventCount != 2 {
		t.Fatalf("unexpected saved checkpoint: %+v", saved)
	}

	healthy := &fakeSource{entries: entries}
	second, _ := newTestAggregator(t, testConfig(), healthy, WithCheckpointer(cp))
	res, err := second.Aggregate(context.Background(), q, field)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res.EventCount != 6 || res.ValueSum.Cmp(big.NewInt(21)) != 0 {
		t.Fatalf("resumed totals = %d/%s", res.EventCount, res.ValueSum)
	}
	for _, call := range healthy.calls {
		if call == "0:1" {
			t.Fatalf("completed chunk should not be refetched")
		}
	}
	if cp.saved[q.Key(field)].LastProcessedBlock != 29 {
		t.Fatalf("final checkpoint should cover the range")
	}
}

func TestAggregateIgnoresCheckpointBeyondRange(t *testing.T) {
	entries := syntheticEntries(1, 2)
	q := Query{FromBlock: 0, ToBlock: 9}
	cp := &memoryCheckpointer{saved: map[string]Checkpoint{
		q.Key(nil): {Key: q.Key(nil), LastProcessedBlock: 500, EventCount: 99},
	}}

	agg, _ := newTestAggregator(t, testConfig(), &fakeSource{entries: entries}, WithCheckpointer(cp))
	count, err := agg.CountEvents(context.Background(), q)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d", count)
	}
}
