package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"eventScope/internal/indexer"
)

var (
	// Request event emitted by a mech.
	requestTopic = common.HexToHash("0x36dd74e91e7cc09291294fa24f2a7feb53900de7d97f93c06ff9476585b7781b")
	// Deliver event emitted by the marketplace; topic1 is the delivering multisig
	// and data word 0 the number of deliveries.
	deliverTopic = common.HexToHash("0xb1ea35a385d4517ac7b3fb0eac4f62db4f0c5b4cf8b7aef789bbd1db097edb25")
)

func runCount(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		q, err := a.query(ctx)
		if err != nil {
			return err
		}
		res, err := a.tally(ctx, "count", q, nil)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "events: %d\n", res.EventCount)
		printPartial(out, err)
		return err
	})
}

func runSum(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		q, err := a.query(ctx)
		if err != nil {
			return err
		}
		field := &indexer.Field{Offset: a.cfg.Offset, Length: a.cfg.Length}
		res, err := a.tally(ctx, "sum", q, field)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "events: %d\n", res.EventCount)
		fmt.Fprintf(out, "sum: %s\n", res.Sum())
		printPartial(out, err)
		return err
	})
}

func runDeliveries(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		mech, err := indexer.ParseAddress(a.cfg.Mech)
		if err != nil {
			return fmt.Errorf("mech: %w", err)
		}
		multisig, err := indexer.ParseAddress(a.cfg.Multisig)
		if err != nil {
			return fmt.Errorf("multisig: %w", err)
		}
		marketplace, err := indexer.ParseAddress(a.cfg.Marketplace)
		if err != nil {
			return fmt.Errorf("marketplace: %w", err)
		}
		to, err := a.resolveTo(ctx, a.cfg.ToBlock)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()

		requests := indexer.Query{
			Address:   mech,
			Topics:    []*common.Hash{&requestTopic},
			FromBlock: a.cfg.FromBlock,
			ToBlock:   to,
		}
		onChain, err := a.tally(ctx, "requests", requests, nil)
		if err != nil {
			fmt.Fprintf(out, "on-chain requests: %d\n", onChain.EventCount)
			printPartial(out, err)
			return err
		}

		multisigTopic := indexer.AddressTopic(multisig)
		delivers := indexer.Query{
			Address:   marketplace,
			Topics:    []*common.Hash{&deliverTopic, &multisigTopic},
			FromBlock: a.cfg.FromBlock,
			ToBlock:   to,
		}
		offChain, err := a.tally(ctx, "deliveries", delivers, &indexer.Field{Offset: 0, Length: 32})

		total := new(big.Int).Add(new(big.Int).SetUint64(onChain.EventCount), offChain.Sum())
		fmt.Fprintf(out, "on-chain requests: %d\n", onChain.EventCount)
		fmt.Fprintf(out, "off-chain deliveries: %s (%d deliver events)\n", offChain.Sum(), offChain.EventCount)
		fmt.Fprintf(out, "total: %s\n", total)
		printPartial(out, err)

		a.logger.Info("deliveries reconciled",
			zap.Uint64("requests", onChain.EventCount),
			zap.String("deliveries", offChain.Sum().String()),
			zap.String("total", total.String()),
		)
		return err
	})
}

func runLatest(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		block, err := a.head.LatestBlock(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), block)
		return nil
	})
}

func runBreakdown(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		q, err := a.query(ctx)
		if err != nil {
			return err
		}
		var field *indexer.Field
		if a.cfg.WithSum {
			field = &indexer.Field{Offset: a.cfg.Offset, Length: a.cfg.Length}
		}
		groups, err := a.groupBy(ctx, "breakdown", q, a.cfg.GroupTopic, field)

		out := cmd.OutOrStdout()
		for _, key := range groups.Keys() {
			res := groups[key]
			fmt.Fprintf(out, "%s events: %d", key.Hex(), res.EventCount)
			if field != nil {
				fmt.Fprintf(out, " sum: %s", res.Sum())
			}
			fmt.Fprintln(out)
		}
		total := groups.Total()
		fmt.Fprintf(out, "groups: %d\n", len(groups))
		fmt.Fprintf(out, "total events: %d\n", total.EventCount)
		printPartial(out, err)
		return err
	})
}

func runMultisigs(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		marketplace, err := indexer.ParseAddress(a.cfg.Marketplace)
		if err != nil {
			return fmt.Errorf("marketplace: %w", err)
		}
		to, err := a.resolveTo(ctx, a.cfg.ToBlock)
		if err != nil {
			return err
		}

		delivers := indexer.Query{
			Address:   marketplace,
			Topics:    []*common.Hash{&deliverTopic},
			FromBlock: a.cfg.FromBlock,
			ToBlock:   to,
		}
		groups, err := a.groupBy(ctx, "multisigs", delivers, 1, &indexer.Field{Offset: 0, Length: 32})

		out := cmd.OutOrStdout()
		for _, key := range groups.Keys() {
			res := groups[key]
			fmt.Fprintf(out, "%s deliver events: %d deliveries: %s\n", multisigLabel(key), res.EventCount, res.Sum())
		}
		fmt.Fprintf(out, "multisigs: %d\n", len(groups))
		printPartial(out, err)
		return err
	})
}

// multisigLabel reads a topic as a left-padded address.
func multisigLabel(topic common.Hash) string {
	if topic == (common.Hash{}) {
		return "(no topic1)"
	}
	return common.BytesToAddress(topic.Bytes()).Hex()
}
