// Command chainwatch observes one blockchain's headers, event logs, and
// pending/finalized transactions, and republishes them onto a Redis bus.
// Usage: chainwatch [flags] <chain>
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/pflag"

	"github.com/cream-project/chainwatch/internal/chainconfig"
	"github.com/cream-project/chainwatch/internal/supervisor"
)

func main() {
	configPath := pflag.String("config", "config/chains.yaml", "path to the chain configuration table")
	redisAddr := pflag.String("redis-addr", "127.0.0.1:6379", "address of the Redis-compatible bus")
	redisDB := pflag.Int("redis-db", 0, "Redis logical database index")
	statusAddr := pflag.String("status-addr", ":8080", "bind address for the HTTP status surface")
	pflag.Parse()

	if pflag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: chainwatch [flags] <chain>")
		os.Exit(1)
	}
	chainName := pflag.Arg(0)

	table, err := chainconfig.Load(*configPath)
	if err != nil {
		log.Error("failed to load chain configuration", "err", err)
		os.Exit(1)
	}
	info, err := table.Lookup(chainName)
	if err != nil {
		log.Error("unknown chain", "chain", chainName, "err", err)
		os.Exit(1)
	}

	ctx, stop := supervisor.WithSignalCancellation(context.Background())
	defer stop()

	cfg := supervisor.Config{
		ChainName:  chainName,
		BusAddr:    *redisAddr,
		BusDB:      *redisDB,
		StatusAddr: *statusAddr,
	}

	if err := supervisor.Run(ctx, cfg, info); err != nil {
		log.Error("chainwatch exited with error", "err", err)
		os.Exit(1)
	}
}
