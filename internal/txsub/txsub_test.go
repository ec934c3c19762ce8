package txsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/cream-project/chainwatch/internal/bus"
	"github.com/cream-project/chainwatch/internal/chainstate"
)

func TestSelectStrategyTable(t *testing.T) {
	cases := []struct {
		chain, node string
		want        Strategy
	}{
		{"arbitrum", "node", StrategyArbitrumSequencer},
		{"arbitrum", "alchemy", StrategyArbitrumSequencer},
		{"base", "node", StrategyGenericPending},
		{"base", "alchemy", StrategyNone},
		{"ethereum", "node", StrategyGenericPending},
		{"ethereum", "alchemy", StrategyAlchemyPending},
		{"optimism", "node", StrategyGenericPending},
		{"optimism", "alchemy", StrategyNone},
		{"polygon", "node", StrategyGenericPending},
		{"polygon", "alchemy", StrategyAlchemyPending},
		{"avalanche", "infura", StrategyNone},
	}
	for _, c := range cases {
		require.Equalf(t, c.want, SelectStrategy(c.chain, c.node), "chain=%s node=%s", c.chain, c.node)
	}
}

func TestExtractGasPriceVariants(t *testing.T) {
	v, ok := extractGasPrice(json.RawMessage(`{"gasPrice":"0x64"}`))
	require.True(t, ok)
	require.EqualValues(t, 100, v)

	v, ok = extractGasPrice(json.RawMessage(`{"gasPrice":100}`))
	require.True(t, ok)
	require.EqualValues(t, 100, v)

	v, ok = extractGasPrice(json.RawMessage(`{"maxFeePerGas":"200"}`))
	require.True(t, ok)
	require.EqualValues(t, 200, v)

	_, ok = extractGasPrice(json.RawMessage(`{"to":"0xabc"}`))
	require.False(t, ok)
}

// I6/P3: a transaction whose hash is already in failed_transactions is
// dropped rather than enqueued.
func TestEnqueueIfNotFailedDropsFailedHash(t *testing.T) {
	state := chainstate.New("ethereum", "alchemy")
	hash := common.HexToHash("0xaaaa")
	state.MarkFailed(hash)

	enqueueIfNotFailed(state, json.RawMessage(`{"hash":"`+hash.Hex()+`","gasPrice":"0x1"}`))
	require.Empty(t, state.PendingTransactions)

	enqueueIfNotFailed(state, json.RawMessage(`{"hash":"0xbbbb","gasPrice":"0x1"}`))
	require.Len(t, state.PendingTransactions, 1)
}

// S3/P1: a pending transaction whose gas price is below base_fee_next is
// dropped; one at or above it is published.
func TestPendingWorkerFiltersByBaseFee(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	busClient := bus.New(mr.Addr(), 0)

	state := chainstate.New("ethereum", "alchemy")
	state.SetFeeHistory(0, 50)

	state.PendingTransactions <- json.RawMessage(`{"hash":"0x1","gasPrice":"0x10"}`)  // 16 < 50: dropped
	state.PendingTransactions <- json.RawMessage(`{"hash":"0x2","gasPrice":"0x64"}`) // 100 >= 50: published

	redisSub := mr.NewSubscriber()
	defer redisSub.Close()
	redisSub.Subscribe("cream_pending_transactions")
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	PendingWorker(ctx, state, busClient)

	msg := redisSub.WaitMessage()
	var got struct {
		Hash string `json:"hash"`
	}
	require.NoError(t, json.Unmarshal([]byte(msg), &got))
	require.Equal(t, "0x2", got.Hash)
}

func TestFinalizedWorkerRepublishesVerbatim(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	busClient := bus.New(mr.Addr(), 0)

	state := chainstate.New("ethereum", "alchemy")
	state.FinalizedTransactions <- json.RawMessage(`{"hash":"0x3"}`)

	redisSub := mr.NewSubscriber()
	defer redisSub.Close()
	redisSub.Subscribe("cream_finalized_transactions")
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	FinalizedWorker(ctx, state, busClient)

	msg := redisSub.WaitMessage()
	require.JSONEq(t, `{"hash":"0x3"}`, msg)
}
