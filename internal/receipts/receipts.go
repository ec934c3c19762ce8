// Package receipts is the HTTP JSON-RPC client the block subscriber calls
// for chain/node combinations where finalized transactions arrive by pull
// (receipts or full block bodies) rather than by push. Retries use
// exponential backoff; it never returns an error to its caller -- failures
// are logged and the call simply yields no records.
package receipts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
)

// Mode selects which RPC method, request params, and result field this
// fetcher uses to pull a block's transaction data.
type Mode int

const (
	ModeAlchemy Mode = iota
	ModeNode
	ModeInfura
)

const (
	initialDelay = 500 * time.Millisecond
	firstRetryDelay = 1 * time.Second
	maxAttempts   = 5
	optimismSystemTxType = "0x7e"
)

// Fetcher issues one receipts-or-transactions call per block, retrying
// with exponential backoff, and pushes surviving records onto sink.
type Fetcher struct {
	client *rpc.Client
	mode   Mode
	sink   chan<- json.RawMessage
}

// New dials httpURI once; the same *rpc.Client is reused across calls.
func New(httpURI string, mode Mode, sink chan<- json.RawMessage) (*Fetcher, error) {
	client, err := rpc.DialHTTP(httpURI)
	if err != nil {
		return nil, err
	}
	return &Fetcher{client: client, mode: mode, sink: sink}, nil
}

// Close releases the underlying HTTP RPC client.
func (f *Fetcher) Close() {
	f.client.Close()
}

type receiptsResult struct {
	Receipts []json.RawMessage `json:"receipts"`
}

type blockResult struct {
	Transactions []json.RawMessage `json:"transactions"`
}

// FetchBlock requests the receipts (alchemy mode) or full transaction
// bodies (node/infura mode) for blockNumberHex. It makes at most 5 total
// attempts, sleeping 1,2,4,8s between them (the doubling delay variable
// reaches 16s on the 5th attempt but is never slept on, since there is no
// 6th attempt -- the same off-by-one the source's `delay *= 2` loop has),
// after one 0.5s initial delay. An empty result array is treated as "no
// data, do not retry": the node has nothing for this block yet and
// won't produce it later just because we asked again. Every surviving
// record (type != "0x7e") is pushed onto sink.
func (f *Fetcher) FetchBlock(ctx context.Context, blockNumberHex string) {
	time.Sleep(initialDelay)

	policy := backoff.WithMaxRetries(&doublingBackOff{next: firstRetryDelay}, maxAttempts-1)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		records, done, err := f.fetchOnce(ctx, blockNumberHex)
		if err != nil {
			log.Error("receipts: fetch attempt failed", "block", blockNumberHex, "attempt", attempt, "err", err)
			return err
		}
		if done {
			f.publish(records)
			return nil
		}
		// No error, but no data either: do not retry.
		return backoff.Permanent(nil)
	}, policy)

	if err != nil {
		log.Error("receipts: exhausted retries", "block", blockNumberHex, "attempts", attempt)
	}
}

// fetchOnce makes exactly one RPC call. done is true when the call
// succeeded and produced a (possibly already-delivered) result; a
// non-empty records slice alongside done==true means the caller should
// publish them.
func (f *Fetcher) fetchOnce(ctx context.Context, blockNumberHex string) (records []json.RawMessage, done bool, err error) {
	switch f.mode {
	case ModeAlchemy:
		var result receiptsResult
		params := map[string]string{"blockNumber": blockNumberHex}
		if err := f.client.CallContext(ctx, &result, "alchemy_getTransactionReceipts", params); err != nil {
			return nil, false, err
		}
		if len(result.Receipts) == 0 {
			log.Error("receipts: no receipts found", "block", blockNumberHex)
			return nil, false, nil
		}
		return filterSystemTxs(result.Receipts), true, nil

	default: // ModeNode, ModeInfura
		var result blockResult
		if err := f.client.CallContext(ctx, &result, "eth_getBlockByNumber", blockNumberHex, true); err != nil {
			return nil, false, err
		}
		if len(result.Transactions) == 0 {
			log.Error("receipts: no receipts found", "block", blockNumberHex)
			return nil, false, nil
		}
		return filterSystemTxs(result.Transactions), true, nil
	}
}

func (f *Fetcher) publish(records []json.RawMessage) {
	for _, r := range records {
		select {
		case f.sink <- r:
		default:
			log.Error("receipts: finalized queue full, dropping record")
		}
	}
}

// filterSystemTxs drops Optimism system transactions (type "0x7e").
func filterSystemTxs(records []json.RawMessage) []json.RawMessage {
	var typeField struct {
		Type string `json:"type"`
	}
	kept := records[:0:0]
	for _, r := range records {
		typeField.Type = ""
		_ = json.Unmarshal(r, &typeField)
		if typeField.Type == optimismSystemTxType {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// doublingBackOff produces the fixed sequence 1,2,4,8,16 seconds, doubling
// on each call to NextBackOff, matching the source's `delay *= 2` policy
// exactly (rather than the jittered exponential curve of
// backoff.ExponentialBackOff).
type doublingBackOff struct {
	next time.Duration
}

func (d *doublingBackOff) Reset() {}

func (d *doublingBackOff) NextBackOff() time.Duration {
	delay := d.next
	d.next *= 2
	return delay
}
