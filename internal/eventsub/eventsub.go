// Package eventsub maintains the "logs" websocket subscription: it
// buffers raw event messages and filters by topic0 against
// EVENT_SIGNATURES before publishing onto cream_events.
package eventsub

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/cream-project/chainwatch/internal/bus"
	"github.com/cream-project/chainwatch/internal/chainstate"
	"github.com/cream-project/chainwatch/internal/wsrpc"
)

const yieldPause = 10 * time.Millisecond

const busChannel = "cream_events"

type logNotification struct {
	Params struct {
		Result json.RawMessage `json:"result"`
	} `json:"params"`
}

type logFields struct {
	Topics      []string `json:"topics"`
	BlockNumber string   `json:"blockNumber"`
}

// Subscriber runs the event subscriber's connect/subscribe/drain/recv
// state machine for one chain.
type Subscriber struct {
	state        *chainstate.ChainState
	bus          *bus.Client
	websocketURI string

	buffer []json.RawMessage // FIFO, oldest first
}

// New constructs a Subscriber.
func New(state *chainstate.ChainState, busClient *bus.Client, websocketURI string) *Subscriber {
	return &Subscriber{state: state, bus: busClient, websocketURI: websocketURI}
}

// Run never returns except on ctx cancellation; any transport error
// reconnects immediately.
func (s *Subscriber) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.runOnce(ctx); err != nil {
			log.Error("eventsub: connection lost, reconnecting", "err", err)
		}
	}
}

func (s *Subscriber) runOnce(ctx context.Context) error {
	conn, err := wsrpc.Dial(ctx, s.websocketURI)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.state.BeginEventSubscription()

	if _, err := conn.Subscribe([]interface{}{"logs", map[string]interface{}{}}); err != nil {
		return err
	}
	s.state.SetWatchingEvents(true)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Step 1: while live, pop one buffered event before the next recv.
		// The pop and the blocking read below run on this one goroutine,
		// so they never interleave.
		if s.state.Live() {
			s.drainOne(ctx)
		}

		// Step 2: await the next message.
		var note logNotification
		if err := conn.ReadJSON(&note); err != nil {
			s.state.SetWatchingEvents(false)
			return err
		}

		var fields logFields
		if err := json.Unmarshal(note.Params.Result, &fields); err != nil {
			log.Error("eventsub: malformed log message, dropping", "err", err)
			continue
		}

		// Step 3: first_event is set from the first message since resubscribe.
		if blockNumber, err := parseHexUint(fields.BlockNumber); err == nil {
			s.state.SetFirstEventIfZero(blockNumber)
		}

		// Step 4: anonymous events (no topics[0]) are discarded, not buffered.
		if len(fields.Topics) == 0 {
			continue
		}
		s.buffer = append(s.buffer, note.Params.Result)

		time.Sleep(yieldPause)
	}
}

// drainOne pops the oldest buffered event and publishes it to cream_events
// if its topic0 is tracked; untracked events are popped and discarded.
func (s *Subscriber) drainOne(ctx context.Context) {
	if len(s.buffer) == 0 {
		return
	}
	raw := s.buffer[0]
	s.buffer = s.buffer[1:]

	var fields logFields
	if err := json.Unmarshal(raw, &fields); err != nil || len(fields.Topics) == 0 {
		return
	}
	if !IsTracked(fields.Topics[0]) {
		return
	}
	s.bus.Publish(ctx, busChannel, json.RawMessage(raw))
}

func parseHexUint(hex string) (uint64, error) {
	if len(hex) > 2 && hex[0] == '0' && (hex[1] == 'x' || hex[1] == 'X') {
		hex = hex[2:]
	}
	return strconv.ParseUint(hex, 16, 64)
}
