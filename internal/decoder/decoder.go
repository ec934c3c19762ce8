// Package decoder holds the pure, side-effect-free functions that turn raw
// wire payloads (legacy/typed transaction byte-strings, Arbitrum sequencer
// frames) into a normalized TransactionRecord. Nothing here touches a
// socket, a clock, or shared state; callers discard and continue on error.
package decoder

import (
	"encoding/base64"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/cream-project/chainwatch/internal/chainerr"
)

// TransactionRecord is the normalized transaction shape. Only the Arbitrum
// sequencer path produces it (for cream_pending_transactions); the other
// pending subscribers and the receipt fetcher enqueue the node's own JSON
// unchanged, so records on cream_pending_transactions and
// cream_finalized_transactions are not normalized to this shape.
type TransactionRecord struct {
	Hash         string       `json:"hash"`
	From         string       `json:"from"`
	To           string       `json:"to,omitempty"`
	Data         string       `json:"data"`
	Type         uint8        `json:"type"`
	GasPrice     *hexutil.Big `json:"gasPrice,omitempty"`
	MaxFeePerGas *hexutil.Big `json:"maxFeePerGas,omitempty"`
}

// l2MessageKindHeader is the Arbitrum sequencer message header kind that carries
// an L2 transaction batch (as opposed to deposits, L1 batches, etc).
const l2MessageKindHeader = 3

// l2MessageTypeSignedTx is the first byte of an L2Msg payload that signals
// "the remainder is a single signed EVM transaction".
const l2MessageTypeSignedTx = 0x04

// DecodeEVMTx decodes a legacy-RLP or EIP-2718 typed transaction envelope
// and recovers its sender. precomputedHash is the caller's own hash of raw
// (keccak256 for the Arbitrum path, or the node-supplied hash for direct
// wire transactions); it is trusted as-is for the Hash field rather than
// recomputed, matching the source's decode_arbitrum_transaction signature.
func DecodeEVMTx(raw []byte, precomputedHash common.Hash) (*TransactionRecord, error) {
	if len(raw) == 0 {
		return nil, chainerr.Decode("decoder", errors.New("empty transaction envelope"))
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, chainerr.Decode("decoder", errors.Wrap(err, "unmarshal transaction envelope"))
	}

	signer := types.LatestSignerForChainID(tx.ChainId())
	from, err := types.Sender(signer, tx)
	if err != nil {
		return nil, chainerr.Decode("decoder", errors.Wrap(err, "recover sender"))
	}

	record := &TransactionRecord{
		Hash: precomputedHash.Hex(),
		From: from.Hex(),
		Data: hexutil.Encode(tx.Data()),
		Type: tx.Type(),
	}
	if to := tx.To(); to != nil {
		record.To = to.Hex()
	}

	switch {
	case tx.Type() == types.DynamicFeeTxType:
		record.MaxFeePerGas = (*hexutil.Big)(tx.GasFeeCap())
	default:
		record.GasPrice = (*hexutil.Big)(tx.GasPrice())
	}

	return record, nil
}

// arbitrumSequencerFrame is the wire shape of a message batch pushed over
// the Arbitrum sequencer feed websocket.
type arbitrumSequencerFrame struct {
	Messages []struct {
		Message struct {
			Message struct {
				Header struct {
					Kind        int    `json:"kind"`
					Sender      string `json:"sender"`
					BlockNumber int64  `json:"blockNumber"`
				} `json:"header"`
				L2Msg string `json:"l2Msg"`
			} `json:"message"`
		} `json:"message"`
	} `json:"messages"`
}

// DecodeArbitrumFrame extracts every L2 signed-transaction message from a
// sequencer feed frame. Messages that are not kind-3 L2 batches, or whose
// L2Msg does not begin with the signed-tx marker byte, are silently
// skipped (they are deposits, L1 batches, or other message kinds this core
// does not forward) rather than treated as decode errors.
func DecodeArbitrumFrame(frame []byte) ([]*TransactionRecord, error) {
	var payload arbitrumSequencerFrame
	if err := json.Unmarshal(frame, &payload); err != nil {
		// No "messages" key (or malformed JSON): nothing to extract, not
		// an error -- mirrors the source's "except KeyError: continue".
		return nil, nil
	}

	var records []*TransactionRecord
	for _, m := range payload.Messages {
		header := m.Message.Message.Header
		if header.Kind != l2MessageKindHeader {
			continue
		}

		rawL2, err := base64.StdEncoding.DecodeString(m.Message.Message.L2Msg)
		if err != nil || len(rawL2) == 0 {
			continue
		}
		if rawL2[0] != l2MessageTypeSignedTx {
			continue
		}

		txBytes := rawL2[1:]
		hash := crypto.Keccak256Hash(txBytes)

		record, err := DecodeEVMTx(txBytes, hash)
		if err != nil {
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

// EncodeEVMTx re-serializes a decoded record's underlying transaction back
// to its wire envelope. It exists to drive the decode/encode round-trip
// property against golden fixtures; it is not used on the ingestion path.
func EncodeEVMTx(tx *types.Transaction) ([]byte, error) {
	return tx.MarshalBinary()
}

// NewLegacyTx builds an unsigned legacy transaction body (21000 gas, zero
// value) for tests and fixtures; signing it is left to the caller.
func NewLegacyTx(nonce uint64, to common.Address, gasPrice *big.Int, data []byte) *types.LegacyTx {
	return &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      21000,
		To:       &to,
		Data:     data,
	}
}
