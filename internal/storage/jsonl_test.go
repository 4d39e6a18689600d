package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"eventScope/internal/model"
)

func TestJsonlStorageAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "logs.jsonl")
	s := NewJsonlStorage(path)

	if err := s.PutLogBatch(nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("empty batch should not create the file")
	}

	first := []model.LogRecord{{BlockNumber: 1, TxHash: "0x01", Data: "0x"}}
	second := []model.LogRecord{{BlockNumber: 2, TxHash: "0x02"}, {BlockNumber: 3, TxHash: "0x03"}}
	if err := s.PutLogBatch(first); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if err := s.PutLogBatch(second); err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer file.Close()

	var blocks []uint64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record model.LogRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		blocks = append(blocks, record.BlockNumber)
	}
	if len(blocks) != 3 || blocks[0] != 1 || blocks[2] != 3 {
		t.Fatalf("unexpected blocks: %v", blocks)
	}
}
