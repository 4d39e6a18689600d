package explorer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"eventScope/internal/indexer"
)

const (
	mechAddress    = "0x601024e27f1c67b28209e24272ced8a31fc8151f"
	deliveryTopic  = "0xb1ea35a385d4517ac7b3fb0eac4f62db4f0c5b4cf8b7aef789bbd1db097edb25"
	multisigTopic1 = "0x000000000000000000000000c05e7412439bd7e91730a6880e18d5d5873f632c"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "key", ChainID: 100})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, srv
}

func TestFetchPageParamsAndDecode(t *testing.T) {
	var got url.Values
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		fmt.Fprint(w, `{"status":"1","message":"OK","result":[{
			"address":"`+mechAddress+`",
			"topics":["`+deliveryTopic+`","`+multisigTopic1+`"],
			"data":"0x000000000000000000000000000000000000000000000000000000000000002a",
			"blockNumber":"0x26bfa51",
			"transactionHash":"0x5d0b3a2f7e0c0f5c5c8b7a6e7d3f1e2a4b6c8d0e1f2a3b4c5d6e7f8091a2b3c4",
			"logIndex":"0x"
		}]}`)
	})

	topic0 := common.HexToHash(deliveryTopic)
	topic1 := common.HexToHash(multisigTopic1)
	q := indexer.Query{
		Address: common.HexToAddress(mechAddress),
		Topics:  []*common.Hash{&topic0, &topic1},
	}

	entries, err := client.FetchPage(context.Background(), q, indexer.BlockRange{From: 40630097, To: 40680096}, 2, 1000)
	if err != nil {
		t.Fatalf("fetch page: %v", err)
	}

	want := map[string]string{
		"chainid":      "100",
		"module":       "logs",
		"action":       "getLogs",
		"fromBlock":    "40630097",
		"toBlock":      "40680096",
		"address":      mechAddress,
		"topic0":       deliveryTopic,
		"topic1":       multisigTopic1,
		"topic0_1_opr": "and",
		"page":         "2",
		"offset":       "1000",
		"apikey":       "key",
	}
	for key, value := range want {
		if got.Get(key) != value {
			t.Fatalf("param %s = %q, want %q", key, got.Get(key), value)
		}
	}

	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.BlockNumber != 0x26bfa51 || entry.LogIndex != 0 {
		t.Fatalf("unexpected block/index: %d/%d", entry.BlockNumber, entry.LogIndex)
	}
	if len(entry.Data) != 32 || entry.Data[31] != 42 {
		t.Fatalf("unexpected data: %x", entry.Data)
	}
	if len(entry.Topics) != 2 || entry.Topics[1] != topic1 {
		t.Fatalf("unexpected topics: %v", entry.Topics)
	}
}

func TestFetchPageSparseTopicOperators(t *testing.T) {
	var got url.Values
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		fmt.Fprint(w, `{"status":"0","message":"No records found","result":[]}`)
	})

	topic0 := common.HexToHash(deliveryTopic)
	topic2 := common.HexToHash(multisigTopic1)
	q := indexer.Query{Topics: []*common.Hash{&topic0, nil, &topic2}}

	entries, err := client.FetchPage(context.Background(), q, indexer.BlockRange{From: 1, To: 2}, 1, 1000)
	if err != nil {
		t.Fatalf("no records should not be an error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty page, got %d", len(entries))
	}
	if got.Get("topic0_2_opr") != "and" || got.Has("topic1") || got.Has("topic0_1_opr") {
		t.Fatalf("unexpected topic params: %v", got)
	}
	if got.Has("address") {
		t.Fatalf("zero address should be omitted")
	}
}

func TestFetchPageErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{name: "rate limit", status: 200, body: `{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`, transient: true},
		{name: "too many requests", status: 429, body: `slow down`, transient: true},
		{name: "server error", status: 502, body: `bad gateway`, transient: true},
		{name: "garbled body", status: 200, body: `<html>`, transient: true},
		{name: "invalid key", status: 200, body: `{"status":"0","message":"NOTOK","result":"Invalid API Key"}`, transient: false},
		{name: "not found", status: 404, body: `missing`, transient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := client.FetchPage(context.Background(), indexer.Query{}, indexer.BlockRange{From: 1, To: 2}, 1, 10)
			if err == nil {
				t.Fatalf("expected error")
			}
			if indexer.IsTransient(err) != tt.transient {
				t.Fatalf("transient = %v, want %v (err: %v)", indexer.IsTransient(err), tt.transient, err)
			}
		})
	}
}

func TestLatestBlock(t *testing.T) {
	var got url.Values
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		fmt.Fprint(w, `{"status":"1","message":"OK","result":"42788300"}`)
	})
	client.now = func() time.Time { return time.Unix(1700000000, 0) }

	block, err := client.LatestBlock(context.Background())
	if err != nil {
		t.Fatalf("latest block: %v", err)
	}
	if block != 42788300 {
		t.Fatalf("block = %d", block)
	}
	if got.Get("module") != "block" || got.Get("closest") != "before" || got.Get("timestamp") != "1700000000" {
		t.Fatalf("unexpected params: %v", got)
	}
}

func TestNewClientRequiresChainID(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error without chain id")
	}
}

func TestParseQuantity(t *testing.T) {
	tests := map[string]uint64{
		"0x":     0,
		"0x1d":   29,
		"0x00ff": 255,
		"1234":   1234,
		"":       0,
		" 0x10 ": 16,
	}
	for input, want := range tests {
		got, err := parseQuantity(input)
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("parse %q = %d, want %d", input, got, want)
		}
	}
	if _, err := parseQuantity("0xzz"); err == nil {
		t.Fatalf("expected error for invalid hex")
	}
}
