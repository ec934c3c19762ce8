// Package txsub maintains the pending/finalized transaction pipeline:
// strategy selection, the three wire-format pending subscriptions, and
// the two queue-draining workers that publish onto the bus.
package txsub

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/cream-project/chainwatch/internal/bus"
	"github.com/cream-project/chainwatch/internal/chainerr"
	"github.com/cream-project/chainwatch/internal/chainstate"
	"github.com/cream-project/chainwatch/internal/decoder"
	"github.com/cream-project/chainwatch/internal/wsrpc"
)

const yieldPause = 10 * time.Millisecond

// Strategy is the static (chain_name, node) → subscription-kind mapping
// that decides which pending-transaction wire format, if any, a given
// chain/node combination speaks.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyGenericPending
	StrategyAlchemyPending
	StrategyArbitrumSequencer
)

// SelectStrategy covers every known (chain_name, node) pair, including
// the two "no pending subscription" cases ((base|optimism, alchemy) and
// (avalanche, infura)): those chains only run the finalized pipeline,
// because their node providers don't expose a pending-transaction feed
// this core can subscribe to.
func SelectStrategy(chainName, node string) Strategy {
	switch chainName {
	case "arbitrum":
		return StrategyArbitrumSequencer
	case "base", "optimism":
		if node == "node" {
			return StrategyGenericPending
		}
		return StrategyNone
	case "ethereum", "polygon":
		switch node {
		case "node":
			return StrategyGenericPending
		case "alchemy":
			return StrategyAlchemyPending
		}
		return StrategyNone
	default:
		return StrategyNone
	}
}

// PendingSubscriber runs the generic (newPendingTransactions) or alchemy
// (alchemy_pendingTransactions) pending-transaction websocket loop.
type PendingSubscriber struct {
	state        *chainstate.ChainState
	websocketURI string
	alchemy      bool
}

// NewPendingSubscriber constructs a subscriber for either wire variant;
// alchemy selects the alchemy_pendingTransactions subscribe frame.
func NewPendingSubscriber(state *chainstate.ChainState, websocketURI string, alchemy bool) *PendingSubscriber {
	return &PendingSubscriber{state: state, websocketURI: websocketURI, alchemy: alchemy}
}

func (s *PendingSubscriber) subscribeParams() []interface{} {
	if s.alchemy {
		return []interface{}{"alchemy_pendingTransactions"}
	}
	return []interface{}{"newPendingTransactions", true}
}

// Run never returns except on ctx cancellation; transport errors
// reconnect immediately.
func (s *PendingSubscriber) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := s.runOnce(ctx); err != nil {
			log.Error("txsub: pending connection lost, reconnecting", "err", err)
		}
	}
}

func (s *PendingSubscriber) runOnce(ctx context.Context) error {
	conn, err := wsrpc.Dial(ctx, s.websocketURI)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Subscribe(s.subscribeParams()); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var note struct {
			Params struct {
				Result json.RawMessage `json:"result"`
			} `json:"params"`
		}
		if err := conn.ReadJSON(&note); err != nil {
			return err
		}

		enqueueIfNotFailed(s.state, note.Params.Result)
		time.Sleep(yieldPause)
	}
}

// SequencerSubscriber reads raw Arbitrum sequencer frames (no
// eth_subscribe handshake) and decodes each signed L2 transaction.
type SequencerSubscriber struct {
	state        *chainstate.ChainState
	sequencerURI string
}

// NewSequencerSubscriber constructs an Arbitrum sequencer-feed subscriber.
func NewSequencerSubscriber(state *chainstate.ChainState, sequencerURI string) *SequencerSubscriber {
	return &SequencerSubscriber{state: state, sequencerURI: sequencerURI}
}

func (s *SequencerSubscriber) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := s.runOnce(ctx); err != nil {
			log.Error("txsub: sequencer connection lost, reconnecting", "err", err)
		}
	}
}

func (s *SequencerSubscriber) runOnce(ctx context.Context) error {
	conn, err := wsrpc.Dial(ctx, s.sequencerURI)
	if err != nil {
		return err
	}
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		records, err := decoder.DecodeArbitrumFrame(frame)
		if err != nil {
			log.Error("txsub: sequencer frame decode failed", "err", chainerr.Decode("txsub", err))
			time.Sleep(yieldPause)
			continue
		}
		for _, rec := range records {
			body, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			enqueueIfNotFailed(s.state, body)
		}

		time.Sleep(yieldPause)
	}
}

// enqueueIfNotFailed drops raw if its hash is already known to have
// failed, otherwise enqueues it onto pending_transactions: a transaction
// that already failed once isn't worth forwarding downstream again.
func enqueueIfNotFailed(state *chainstate.ChainState, raw json.RawMessage) {
	var withHash struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(raw, &withHash); err != nil || withHash.Hash == "" {
		log.Error("txsub: transaction record missing hash, dropping")
		return
	}
	if state.IsFailed(common.HexToHash(withHash.Hash)) {
		return
	}
	select {
	case state.PendingTransactions <- raw:
	default:
		log.Error("txsub: pending queue full, dropping record")
	}
}

// PendingWorker drains pending_transactions, filters by gas price against
// base_fee_next, and publishes survivors onto cream_pending_transactions.
func PendingWorker(ctx context.Context, state *chainstate.ChainState, busClient *bus.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-state.PendingTransactions:
			gasPrice, ok := extractGasPrice(raw)
			if !ok {
				log.Error("txsub: no gas price information available in the transaction")
				continue
			}
			if gasPrice < state.BaseFeeNext() {
				continue
			}
			busClient.Publish(ctx, "cream_pending_transactions", raw)
		}
		time.Sleep(yieldPause)
	}
}

// FinalizedWorker drains finalized_transactions and republishes each
// record verbatim onto cream_finalized_transactions.
func FinalizedWorker(ctx context.Context, state *chainstate.ChainState, busClient *bus.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-state.FinalizedTransactions:
			busClient.Publish(ctx, "cream_finalized_transactions", raw)
		}
		time.Sleep(yieldPause)
	}
}

// extractGasPrice prefers gasPrice, falls back to maxFeePerGas; both may
// arrive as a JSON number or a hex/decimal string.
func extractGasPrice(raw json.RawMessage) (uint64, bool) {
	var fields struct {
		GasPrice     json.RawMessage `json:"gasPrice"`
		MaxFeePerGas json.RawMessage `json:"maxFeePerGas"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return 0, false
	}
	if len(fields.GasPrice) > 0 {
		return parseIntValue(fields.GasPrice)
	}
	if len(fields.MaxFeePerGas) > 0 {
		return parseIntValue(fields.MaxFeePerGas)
	}
	return 0, false
}

// parseIntValue normalizes a JSON number, a decimal string, or a
// 0x-prefixed hex string into a uint64.
func parseIntValue(raw json.RawMessage) (uint64, bool) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return parseStringValue(asString)
	}

	var asNumber uint64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber, true
	}
	return 0, false
}

func parseStringValue(s string) (uint64, bool) {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		return v, err == nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	return v, err == nil
}
