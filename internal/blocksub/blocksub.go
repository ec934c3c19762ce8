// Package blocksub maintains the "newHeads" websocket subscription: it
// tracks block cadence and fees in ChainState, and triggers a receipt
// fetch for the chain/node combinations that need one.
package blocksub

import (
	"context"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/cream-project/chainwatch/internal/bus"
	"github.com/cream-project/chainwatch/internal/chainstate"
	"github.com/cream-project/chainwatch/internal/receipts"
	"github.com/cream-project/chainwatch/internal/wsrpc"
)

// yieldPause is the cooperative pause between processed headers.
const yieldPause = 10 * time.Millisecond

type headerNotification struct {
	Params struct {
		Result struct {
			Number    string `json:"number"`
			Timestamp string `json:"timestamp"`
		} `json:"result"`
	} `json:"params"`
}

// Subscriber runs the block subscriber's connect/subscribe/recv/reconnect
// state machine for one chain.
type Subscriber struct {
	state        *chainstate.ChainState
	bus          *bus.Client
	websocketURI string
	feeClient    *rpc.Client
	receipts     *receipts.Fetcher // nil when this chain/node needs none
}

// New constructs a Subscriber. feeClient is used for the one-block-window
// eth_feeHistory call made after every header; receiptFetcher may be nil
// for chain/node combinations that don't pull receipts.
func New(state *chainstate.ChainState, busClient *bus.Client, websocketURI string, feeClient *rpc.Client, receiptFetcher *receipts.Fetcher) *Subscriber {
	return &Subscriber{
		state:        state,
		bus:          busClient,
		websocketURI: websocketURI,
		feeClient:    feeClient,
		receipts:     receiptFetcher,
	}
}

// Run never returns except on ctx cancellation. Any transport error exits
// the inner recv loop and the outer loop immediately reconnects.
func (s *Subscriber) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.runOnce(ctx); err != nil {
			log.Error("blocksub: connection lost, reconnecting", "err", err)
		}
	}
}

func (s *Subscriber) runOnce(ctx context.Context) error {
	conn, err := wsrpc.Dial(ctx, s.websocketURI)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Reset first_block/watching_blocks before sending the subscribe
	// frame: a reconnect starts a fresh cadence, not a continuation.
	s.state.BeginBlockSubscription()

	if _, err := conn.Subscribe([]interface{}{"newHeads"}); err != nil {
		return err
	}
	s.state.SetWatchingBlocks(true)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var note headerNotification
		if err := conn.ReadJSON(&note); err != nil {
			s.state.SetWatchingBlocks(false)
			return err
		}

		number, err := parseHexUint(note.Params.Result.Number)
		if err != nil {
			log.Error("blocksub: malformed block number, dropping header", "err", err)
			continue
		}
		timestamp, err := parseHexUint(note.Params.Result.Timestamp)
		if err != nil {
			log.Error("blocksub: malformed timestamp, dropping header", "err", err)
			continue
		}

		s.state.ApplyHeader(number, timestamp)

		s.updateFeeHistory(ctx)

		if s.receipts != nil {
			s.receipts.FetchBlock(ctx, note.Params.Result.Number)
		}

		s.publishSnapshot(ctx)

		time.Sleep(yieldPause)
	}
}

// updateFeeHistory asks for the most recent one-block fee history window
// and records (base_fee_last, base_fee_next). eth_feeHistory's
// baseFeePerGas array holds one entry per requested block plus one
// predicted value for the block after it, so a length-2 response gives
// both figures, a length-1 response gives only the last observed fee,
// and anything else leaves both at zero.
func (s *Subscriber) updateFeeHistory(ctx context.Context) {
	var result struct {
		BaseFeePerGas []string `json:"baseFeePerGas"`
	}
	if err := s.feeClient.CallContext(ctx, &result, "eth_feeHistory", 1, "latest", []float64{}); err != nil {
		log.Error("blocksub: fee history call failed", "err", err)
		s.state.SetFeeHistory(0, 0)
		return
	}

	switch len(result.BaseFeePerGas) {
	case 2:
		last, _ := parseHexUint(result.BaseFeePerGas[0])
		next, _ := parseHexUint(result.BaseFeePerGas[1])
		s.state.SetFeeHistory(last, next)
	case 1:
		last, _ := parseHexUint(result.BaseFeePerGas[0])
		s.state.SetFeeHistory(last, 0)
	default:
		s.state.SetFeeHistory(0, 0)
	}
}

// publishSnapshot mirrors the ChainState subset onto the bus app_state key.
func (s *Subscriber) publishSnapshot(ctx context.Context) {
	s.bus.Set(ctx, "app_state", s.state.Snapshot())
}

func parseHexUint(hex string) (uint64, error) {
	if len(hex) > 2 && hex[0] == '0' && (hex[1] == 'x' || hex[1] == 'X') {
		hex = hex[2:]
	}
	return strconv.ParseUint(hex, 16, 64)
}
