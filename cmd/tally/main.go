package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "tally",
		Short:        "Count and sum event logs over block ranges",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	countCmd := &cobra.Command{
		Use:   "count",
		Short: "Count logs matching an address and topic filter",
		RunE:  runCount,
	}
	addQueryFlags(countCmd.Flags())
	root.AddCommand(countCmd)

	sumCmd := &cobra.Command{
		Use:   "sum",
		Short: "Sum an unsigned integer field of matching logs' data",
		RunE:  runSum,
	}
	addQueryFlags(sumCmd.Flags())
	sumCmd.Flags().Int("offset", 0, "byte offset of the field within log data")
	sumCmd.Flags().Int("length", 32, "byte length of the field")
	root.AddCommand(sumCmd)

	breakdownCmd := &cobra.Command{
		Use:   "breakdown",
		Short: "Count matching logs per value of one topic",
		RunE:  runBreakdown,
	}
	addQueryFlags(breakdownCmd.Flags())
	breakdownCmd.Flags().Int("group-topic", 0, "topic index to group by (0-3)")
	breakdownCmd.Flags().Bool("with-sum", false, "also sum the data field per group")
	breakdownCmd.Flags().Int("offset", 0, "byte offset of the field within log data")
	breakdownCmd.Flags().Int("length", 32, "byte length of the field")
	root.AddCommand(breakdownCmd)

	multisigsCmd := &cobra.Command{
		Use:   "multisigs",
		Short: "List the service multisigs that received marketplace deliveries",
		RunE:  runMultisigs,
	}
	addUpstreamFlags(multisigsCmd.Flags())
	addRunFlags(multisigsCmd.Flags())
	multisigsCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	multisigsCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	multisigsCmd.Flags().String("marketplace", "0x735FAAb1c4Ec41128c367AFb5c3baC73509f70bB", "marketplace contract emitting Deliver events")
	root.AddCommand(multisigsCmd)

	deliveriesCmd := &cobra.Command{
		Use:   "deliveries",
		Short: "Reconcile mech requests with marketplace deliveries",
		RunE:  runDeliveries,
	}
	addUpstreamFlags(deliveriesCmd.Flags())
	addRunFlags(deliveriesCmd.Flags())
	deliveriesCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	deliveriesCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	deliveriesCmd.Flags().String("mech", "0x601024e27f1c67b28209e24272ced8a31fc8151f", "mech contract emitting Request events")
	deliveriesCmd.Flags().String("multisig", "0xc05e7412439bd7e91730a6880e18d5d5873f632c", "service multisig (Deliver topic1)")
	deliveriesCmd.Flags().String("marketplace", "0x735FAAb1c4Ec41128c367AFb5c3baC73509f70bB", "marketplace contract emitting Deliver events")
	root.AddCommand(deliveriesCmd)

	latestCmd := &cobra.Command{
		Use:   "latest",
		Short: "Print the upstream head block",
		RunE:  runLatest,
	}
	addUpstreamFlags(latestCmd.Flags())
	latestCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(latestCmd)

	return root
}

func addUpstreamFlags(fs *pflag.FlagSet) {
	fs.String("source", "explorer", "log source (explorer, rpc)")
	fs.String("explorer-url", "", "explorer API base URL")
	fs.String("api-key", "", "explorer API key")
	fs.Uint64("chain-id", 100, "explorer chain id")
	fs.StringSlice("rpc", nil, "RPC URLs (repeatable; more than one enables fan-out)")
	fs.Float64("rps", 5, "explorer requests per second, 0 disables limiting")
}

func addRunFlags(fs *pflag.FlagSet) {
	fs.Uint64("chunk-size", 50000, "blocks per chunk")
	fs.Int("page-size", 1000, "entries per page")
	fs.Int("max-retries", 3, "retries per page after the first attempt")
	fs.Duration("retry-backoff", 100*time.Millisecond, "base retry backoff, scaled by attempt")
	fs.Duration("max-backoff", 0, "retry backoff cap, 0 means uncapped")
	fs.Duration("page-delay", 0, "pause between pages")
	fs.Duration("chunk-delay", time.Second, "pause between chunks")
	fs.String("out", "", "optional JSONL path for fetched logs")
	fs.String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	fs.Bool("checkpoint-enabled", false, "resume from and record checkpoints")
	fs.String("pg-dsn", "", "Postgres DSN for results and checkpoints")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
}

func addQueryFlags(fs *pflag.FlagSet) {
	addUpstreamFlags(fs)
	addRunFlags(fs)
	fs.String("address", "", "emitting contract address, empty matches any")
	fs.String("topic0", "", "topic0 hash or event signature, empty matches any")
	fs.String("topic1", "", "topic1 hash, empty matches any")
	fs.String("topic2", "", "topic2 hash, empty matches any")
	fs.String("topic3", "", "topic3 hash, empty matches any")
	fs.Uint64("from", 0, "start block (inclusive)")
	fs.Uint64("to", 0, "end block (inclusive), 0 means latest")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
