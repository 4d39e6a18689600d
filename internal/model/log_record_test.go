package model

import (
	"encoding/json"
	"testing"
)

func TestLogRecordJSONFieldNames(t *testing.T) {
	record := LogRecord{
		BlockNumber: 40630097,
		TxHash:      "0xdef456",
		LogIndex:    12,
		Address:     "0x601024e27f1c67b28209e24272ced8a31fc8151f",
		Topics:      []string{"0xaaa", "0xbbb"},
		Data:        "0xdeadbeef",
		IngestedAt:  "2024-01-01T00:00:00Z",
	}

	data, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if _, ok := decoded["chain_id"]; ok {
		t.Fatalf("chain_id should be omitted when zero")
	}
	for _, key := range []string{"block_number", "tx_hash", "log_index", "address", "topics", "data", "ingested_at"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("missing key %s", key)
		}
	}

	var back LogRecord
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if back.Data != record.Data || back.BlockNumber != record.BlockNumber {
		t.Fatalf("record mismatch: %+v", back)
	}
}
