package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"eventScope/internal/indexer"
)

const (
	SourceExplorer = "explorer"
	SourceRPC      = "rpc"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Source            string
	ExplorerURL       string
	APIKey            string
	ChainID           uint64
	RPCURLs           []string
	RequestsPerSecond float64

	Address   string
	Topics    []string
	FromBlock uint64
	ToBlock   uint64
	Offset    int
	Length    int

	// GroupTopic is the topic index a breakdown is keyed by.
	GroupTopic int
	WithSum    bool

	ChunkSize    uint64
	PageSize     int
	MaxRetries   int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	PageDelay    time.Duration
	ChunkDelay   time.Duration

	Out               string
	Checkpoint        string
	CheckpointEnabled bool
	PGDSN             string
	MetricsAddr       string
	LogLevel          string

	Mech        string
	Multisig    string
	Marketplace string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TALLY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("source", SourceExplorer)
	v.SetDefault("chain-id", uint64(100))
	v.SetDefault("rps", 5.0)
	v.SetDefault("length", 32)
	v.SetDefault("chunk-size", uint64(50000))
	v.SetDefault("page-size", 1000)
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 100*time.Millisecond)
	v.SetDefault("chunk-delay", time.Second)
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("log-level", "info")
	v.SetDefault("mech", "0x601024e27f1c67b28209e24272ced8a31fc8151f")
	v.SetDefault("multisig", "0xc05e7412439bd7e91730a6880e18d5d5873f632c")
	v.SetDefault("marketplace", "0x735FAAb1c4Ec41128c367AFb5c3baC73509f70bB")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("tally")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	topics := make([]string, indexer.MaxTopics)
	for i := range topics {
		topics[i] = strings.TrimSpace(v.GetString(fmt.Sprintf("topic%d", i)))
	}

	cfg := Config{
		Source:            strings.ToLower(strings.TrimSpace(v.GetString("source"))),
		ExplorerURL:       v.GetString("explorer-url"),
		APIKey:            v.GetString("api-key"),
		ChainID:           v.GetUint64("chain-id"),
		RPCURLs:           getStringSlice(v, "rpc"),
		RequestsPerSecond: v.GetFloat64("rps"),
		Address:           strings.TrimSpace(v.GetString("address")),
		Topics:            topics,
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		Offset:            v.GetInt("offset"),
		Length:            v.GetInt("length"),
		GroupTopic:        v.GetInt("group-topic"),
		WithSum:           v.GetBool("with-sum"),
		ChunkSize:         v.GetUint64("chunk-size"),
		PageSize:          v.GetInt("page-size"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		MaxBackoff:        v.GetDuration("max-backoff"),
		PageDelay:         v.GetDuration("page-delay"),
		ChunkDelay:        v.GetDuration("chunk-delay"),
		Out:               v.GetString("out"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		PGDSN:             v.GetString("pg-dsn"),
		MetricsAddr:       v.GetString("metrics-addr"),
		LogLevel:          v.GetString("log-level"),
		Mech:              v.GetString("mech"),
		Multisig:          v.GetString("multisig"),
		Marketplace:       v.GetString("marketplace"),
	}

	return cfg, nil
}

// Validate checks the upstream selection. Query and pacing values are
// validated by the aggregator.
func (c Config) Validate() error {
	switch c.Source {
	case SourceExplorer:
		if c.ChainID == 0 {
			return fmt.Errorf("chain id is required for the explorer source")
		}
	case SourceRPC:
		if len(c.RPCURLs) == 0 {
			return fmt.Errorf("at least one rpc url is required")
		}
	default:
		return fmt.Errorf("unknown source %q (want %s or %s)", c.Source, SourceExplorer, SourceRPC)
	}
	return nil
}

// Indexer returns the aggregator settings.
func (c Config) Indexer() indexer.Config {
	return indexer.Config{
		ChunkSize:       c.ChunkSize,
		PageSize:        c.PageSize,
		MaxRetries:      c.MaxRetries,
		BaseBackoff:     c.RetryBackoff,
		MaxBackoff:      c.MaxBackoff,
		InterPageDelay:  c.PageDelay,
		InterChunkDelay: c.ChunkDelay,
	}
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	return cleanStrings(strings.Split(input, ","))
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
