// Package supervisor bootstraps one chain's ChainState and launches its
// block, event, and transaction-pipeline tasks under a single
// cancellable context.
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/errgroup"

	"github.com/cream-project/chainwatch/internal/blocksub"
	"github.com/cream-project/chainwatch/internal/bus"
	"github.com/cream-project/chainwatch/internal/chainconfig"
	"github.com/cream-project/chainwatch/internal/chainerr"
	"github.com/cream-project/chainwatch/internal/chainstate"
	"github.com/cream-project/chainwatch/internal/eventsub"
	"github.com/cream-project/chainwatch/internal/receipts"
	"github.com/cream-project/chainwatch/internal/statusapi"
	"github.com/cream-project/chainwatch/internal/txsub"
)

// gracePeriod bounds how long shutdown waits for in-flight tasks to exit
// after cancellation before the process gives up and returns anyway.
const gracePeriod = 3 * time.Second

// Config collects everything the supervisor needs beyond the chain table
// entry: bus location and the status HTTP bind address.
type Config struct {
	ChainName  string
	BusAddr    string
	BusDB      int
	StatusAddr string
}

// receiptMode maps (chain_name, node) to the receipt fetcher's mode; ok
// is false when no fetcher should run for this combination (the
// pending-transaction subscriber handles it instead).
func receiptMode(chainName, node string) (mode receipts.Mode, ok bool) {
	switch {
	case (chainName == "base" || chainName == "optimism") && node == "alchemy":
		return receipts.ModeAlchemy, true
	case chainName == "base" && node == "node":
		return receipts.ModeNode, true
	case chainName == "avalanche" && node == "infura":
		return receipts.ModeInfura, true
	default:
		return 0, false
	}
}

// Run bootstraps and runs the full pipeline for cfg.ChainName until ctx
// is cancelled (typically by an OS signal handed to Run via
// WithSignalCancellation), then applies the shutdown grace period before
// returning.
func Run(ctx context.Context, cfg Config, info chainconfig.ChainInfo) error {
	busClient := bus.New(cfg.BusAddr, cfg.BusDB)
	defer busClient.Close()

	httpClient, err := gethrpc.DialHTTP(info.HTTPURI)
	if err != nil {
		return chainerr.Config("supervisor", err)
	}
	defer httpClient.Close()

	state := chainstate.New(cfg.ChainName, info.Node)

	var chainID, blockNumber string
	if err := httpClient.CallContext(ctx, &chainID, "eth_chainId"); err != nil {
		return chainerr.RPC("supervisor", err)
	}
	if err := httpClient.CallContext(ctx, &blockNumber, "eth_blockNumber"); err != nil {
		return chainerr.RPC("supervisor", err)
	}
	id, err := parseHexUint(chainID)
	if err != nil {
		return chainerr.Decode("supervisor", err)
	}
	state.SetChainID(id)
	log.Info("bootstrap complete", "chain", cfg.ChainName, "node", info.Node, "chain_id", id, "block_number", blockNumber)

	var receiptFetcher *receipts.Fetcher
	if mode, ok := receiptMode(cfg.ChainName, info.Node); ok {
		receiptFetcher, err = receipts.New(info.HTTPURI, mode, state.FinalizedTransactions)
		if err != nil {
			return chainerr.Config("supervisor", err)
		}
		defer receiptFetcher.Close()
	}

	feeClient, err := gethrpc.DialHTTP(info.HTTPURI)
	if err != nil {
		return chainerr.Config("supervisor", err)
	}
	defer feeClient.Close()

	status := statusapi.New(state, cfg.StatusAddr)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		blocksub.New(state, busClient, info.WebsocketURI, feeClient, receiptFetcher).Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		eventsub.New(state, busClient, info.WebsocketURI).Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		return status.Serve()
	})
	group.Go(func() error {
		txsub.FinalizedWorker(groupCtx, state, busClient)
		return nil
	})

	switch strategy := txsub.SelectStrategy(cfg.ChainName, info.Node); strategy {
	case txsub.StrategyArbitrumSequencer:
		group.Go(func() error {
			txsub.NewSequencerSubscriber(state, info.SequencerURI).Run(groupCtx)
			return nil
		})
		group.Go(func() error {
			txsub.PendingWorker(groupCtx, state, busClient)
			return nil
		})
	case txsub.StrategyGenericPending, txsub.StrategyAlchemyPending:
		group.Go(func() error {
			txsub.NewPendingSubscriber(state, info.WebsocketURI, strategy == txsub.StrategyAlchemyPending).Run(groupCtx)
			return nil
		})
		group.Go(func() error {
			txsub.PendingWorker(groupCtx, state, busClient)
			return nil
		})
	case txsub.StrategyNone:
		// Finalized pipeline only; already launched above.
	}

	state.SetLive(true)

	<-groupCtx.Done()
	_ = status.Close()

	// Every subscriber goroutine above returns promptly on cancellation;
	// group.Wait() should return well inside the grace period. If it
	// doesn't, the process exits anyway once the period elapses.
	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(gracePeriod):
		log.Error("shutdown grace period elapsed, exiting with tasks still running")
		return nil
	}
}

// WithSignalCancellation returns a context cancelled on SIGINT/SIGTERM,
// and a stop function the caller should defer to release the signal
// handler.
func WithSignalCancellation(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			log.Info("signal received, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func parseHexUint(hex string) (uint64, error) {
	if len(hex) > 2 && hex[0] == '0' && (hex[1] == 'x' || hex[1] == 'X') {
		hex = hex[2:]
	}
	return strconv.ParseUint(hex, 16, 64)
}
