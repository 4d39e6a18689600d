package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Source != SourceExplorer || cfg.ChainID != 100 {
		t.Fatalf("unexpected upstream defaults: %+v", cfg)
	}
	ic := cfg.Indexer()
	if ic.ChunkSize != 50000 || ic.PageSize != 1000 || ic.MaxRetries != 3 {
		t.Fatalf("unexpected limits: %+v", ic)
	}
	if ic.BaseBackoff != 100*time.Millisecond || ic.InterPageDelay != 0 || ic.InterChunkDelay != time.Second {
		t.Fatalf("unexpected pacing: %+v", ic)
	}
	if len(cfg.Topics) != 4 || cfg.Length != 32 || cfg.Offset != 0 {
		t.Fatalf("unexpected query defaults: %+v", cfg)
	}
	if cfg.CheckpointEnabled {
		t.Fatalf("checkpointing should be opt-in")
	}
	if cfg.Multisig != "0xc05e7412439bd7e91730a6880e18d5d5873f632c" {
		t.Fatalf("unexpected default multisig: %s", cfg.Multisig)
	}
	if cfg.GroupTopic != 0 || cfg.WithSum {
		t.Fatalf("unexpected breakdown defaults: %+v", cfg)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tally.yaml")
	content := "chunk-size: 2000\npage-size: 500\nrpc:\n  - https://a.example\n  - https://b.example\ntopic1: \"*\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TALLY_PAGE_SIZE", "250")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Uint64("chunk-size", 50000, "")
	flags.Int("page-size", 1000, "")
	flags.String("topic0", "", "")
	if err := flags.Parse([]string{"--chunk-size=10", "--topic0=Request(address,bytes32,bytes)"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChunkSize != 10 {
		t.Fatalf("flag should win, chunk size = %d", cfg.ChunkSize)
	}
	if cfg.PageSize != 250 {
		t.Fatalf("env should beat config file, page size = %d", cfg.PageSize)
	}
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(cfg.RPCURLs, want) {
		t.Fatalf("rpc urls = %v", cfg.RPCURLs)
	}
	if cfg.Topics[0] != "Request(address,bytes32,bytes)" || cfg.Topics[1] != "*" {
		t.Fatalf("topics = %v", cfg.Topics)
	}
}

func TestLoadSplitsEnvList(t *testing.T) {
	t.Setenv("TALLY_RPC", "https://a.example, ,https://b.example")
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.RPCURLs) != 2 {
		t.Fatalf("rpc urls = %v", cfg.RPCURLs)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{name: "explorer", cfg: Config{Source: SourceExplorer, ChainID: 100}, ok: true},
		{name: "explorer without chain", cfg: Config{Source: SourceExplorer}},
		{name: "rpc", cfg: Config{Source: SourceRPC, RPCURLs: []string{"http://localhost:8545"}}, ok: true},
		{name: "rpc without urls", cfg: Config{Source: SourceRPC}},
		{name: "unknown", cfg: Config{Source: "graph"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("validate = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}
