// Package chainstate owns the single in-memory view of chain liveness,
// fees, and block cadence shared by every subscriber and read by the
// status HTTP surface. It is constructed once by the supervisor and
// passed by reference; there is no package-level singleton.
package chainstate

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// queueCapacity bounds the pending/finalized channels. The spec calls the
// queues "conceptually unbounded"; a large buffered channel tolerates
// producer bursts without blocking the producing subscriber, which would
// otherwise stall the websocket recv loop it shares a goroutine with.
const queueCapacity = 4096

// blocktimeWindow is the rolling window size for average_blocktime.
const blocktimeWindow = 100

// ChainState is the mutable, concurrently-read singleton view of one
// chain's observation state. All scalar/flag fields are guarded by mu;
// each field has exactly one writer subscriber as described in the
// shared-resource policy, but the HTTP status surface reads from a
// different goroutine so reads also take the lock.
type ChainState struct {
	mu sync.RWMutex

	averageBlocktime     float64
	baseFeeLast          uint64
	baseFeeNext          uint64
	chainID              uint64
	chainName            string
	node                 string
	firstBlock           uint64
	firstEvent           uint64
	newestBlock          uint64
	newestBlockTimestamp int64
	live                 bool
	watchingBlocks       bool
	watchingEvents       bool

	blockTimes []int64 // rolling window, oldest first, bounded at blocktimeWindow

	// PendingTransactions and FinalizedTransactions are the FIFO queues
	// between the subscribers and the bus-publishing workers; exactly
	// one producer and one consumer per queue in practice, but the
	// channel itself is safe for concurrent use.
	PendingTransactions   chan json.RawMessage
	FinalizedTransactions chan json.RawMessage

	failedMu           sync.RWMutex
	failedTransactions map[common.Hash]struct{}
}

// New constructs a ChainState for chainName/node, seeding the blocktime
// window with one entry equal to (now - 12s) so the first real header
// produces a sane average_blocktime instead of dividing by an empty
// window.
func New(chainName, node string) *ChainState {
	return &ChainState{
		averageBlocktime:      12.0,
		chainName:             chainName,
		node:                  node,
		blockTimes:            []int64{time.Now().Unix() - 12},
		PendingTransactions:   make(chan json.RawMessage, queueCapacity),
		FinalizedTransactions: make(chan json.RawMessage, queueCapacity),
		failedTransactions:    make(map[common.Hash]struct{}),
	}
}

// SetChainID records the chain id observed once at bootstrap.
func (s *ChainState) SetChainID(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chainID = id
}

// SetLive marks bootstrap complete; gates the event subscriber's
// drain-before-recv behavior so buffered events aren't flushed before
// the pipeline is actually ready to publish them.
func (s *ChainState) SetLive(live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = live
}

// Live reports whether bootstrap has completed.
func (s *ChainState) Live() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// BeginBlockSubscription resets first_block and watching_blocks on every
// (re)subscribe: a reconnect starts a fresh cadence, not a continuation
// of the one before it.
func (s *ChainState) BeginBlockSubscription() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.firstBlock = 0
	s.watchingBlocks = false
}

// SetWatchingBlocks is set true immediately after the subscription id is
// received: that's the point the status surface can honestly report this
// chain as watching blocks.
func (s *ChainState) SetWatchingBlocks(watching bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchingBlocks = watching
}

// BeginEventSubscription resets first_event and watching_events on every
// (re)subscribe, mirroring BeginBlockSubscription's reasoning for logs.
func (s *ChainState) BeginEventSubscription() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.firstEvent = 0
	s.watchingEvents = false
}

// SetWatchingEvents is set true immediately after the subscription id is
// received.
func (s *ChainState) SetWatchingEvents(watching bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchingEvents = watching
}

// ApplyHeader updates newest_block, newest_block_timestamp, the rolling
// blocktime window, average_blocktime, and first_block from one decoded
// header. newest_block is assigned unconditionally even if it regresses,
// mirroring the upstream feed's own ordering guarantees: this core trusts
// whatever header the node just delivered rather than second-guessing it
// against what came before.
func (s *ChainState) ApplyHeader(number, timestamp uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.newestBlock = number
	s.newestBlockTimestamp = int64(timestamp)

	s.blockTimes = append(s.blockTimes, int64(timestamp))
	if len(s.blockTimes) > blocktimeWindow {
		s.blockTimes = s.blockTimes[len(s.blockTimes)-blocktimeWindow:]
	}
	if n := len(s.blockTimes); n > 1 {
		s.averageBlocktime = float64(s.blockTimes[n-1]-s.blockTimes[0]) / float64(n-1)
	}

	if s.firstBlock == 0 {
		s.firstBlock = s.newestBlock
	}
}

// SetFeeHistory records the most recent fee-history response.
func (s *ChainState) SetFeeHistory(last, next uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseFeeLast = last
	s.baseFeeNext = next
}

// BaseFeeNext returns the most recently observed next-block base fee; the
// pending worker compares each transaction's gas price against it to
// decide whether the transaction is even likely to be included.
func (s *ChainState) BaseFeeNext() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseFeeNext
}

// SetFirstEventIfZero sets first_event on the first message received since
// the most recent (re)subscription.
func (s *ChainState) SetFirstEventIfZero(blockNumber uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firstEvent == 0 {
		s.firstEvent = blockNumber
	}
}

// IsFailed reports whether hash is a known-failed transaction. The set is
// populated by a downstream collaborator; this core only reads it.
func (s *ChainState) IsFailed(hash common.Hash) bool {
	s.failedMu.RLock()
	defer s.failedMu.RUnlock()
	_, ok := s.failedTransactions[hash]
	return ok
}

// MarkFailed is exposed for tests that need to simulate the downstream
// collaborator populating failed_transactions.
func (s *ChainState) MarkFailed(hash common.Hash) {
	s.failedMu.Lock()
	defer s.failedMu.Unlock()
	s.failedTransactions[hash] = struct{}{}
}

// FailedCount is read by the status HTTP surface.
func (s *ChainState) FailedCount() int {
	s.failedMu.RLock()
	defer s.failedMu.RUnlock()
	return len(s.failedTransactions)
}

// Snapshot is the bus "app_state" / HTTP "/app/" payload shape.
type Snapshot struct {
	AverageBlocktime     float64 `json:"average_blocktime"`
	BaseFeeLast          uint64  `json:"base_fee_last"`
	BaseFeeNext          uint64  `json:"base_fee_next"`
	ChainID              uint64  `json:"chain_id"`
	ChainName            string  `json:"chain_name"`
	FirstBlock           uint64  `json:"first_block"`
	FirstEvent           uint64  `json:"first_event"`
	NewestBlock          uint64  `json:"newest_block"`
	NewestBlockTimestamp int64   `json:"newest_block_timestamp"`
	Live                 bool    `json:"live"`
	Node                 string  `json:"node"`
	WatchingBlocks       bool    `json:"watching_blocks"`
	WatchingEvents       bool    `json:"watching_events"`
}

// Snapshot returns the bus "app_state" payload.
func (s *ChainState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		AverageBlocktime:     s.averageBlocktime,
		BaseFeeLast:          s.baseFeeLast,
		BaseFeeNext:          s.baseFeeNext,
		ChainID:              s.chainID,
		ChainName:            s.chainName,
		FirstBlock:           s.firstBlock,
		FirstEvent:           s.firstEvent,
		NewestBlock:          s.newestBlock,
		NewestBlockTimestamp: s.newestBlockTimestamp,
		Live:                 s.live,
		Node:                 s.node,
		WatchingBlocks:       s.watchingBlocks,
		WatchingEvents:       s.watchingEvents,
	}
}
