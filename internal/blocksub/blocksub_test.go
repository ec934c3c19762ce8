package blocksub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/cream-project/chainwatch/internal/bus"
	"github.com/cream-project/chainwatch/internal/chainstate"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

var upgrader = websocket.Upgrader{}

// fakeHeaderServer accepts one eth_subscribe("newHeads") request, answers
// with a subscription id, then streams the given headers as
// eth_subscription notifications.
func fakeHeaderServer(t *testing.T, headers []struct{ Number, Timestamp string }) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var sub struct {
			ID     int    `json:"id"`
			Method string `json:"method"`
		}
		require.NoError(t, conn.ReadJSON(&sub))
		require.Equal(t, "eth_subscribe", sub.Method)
		require.NoError(t, conn.WriteJSON(map[string]string{"result": "0xsubid"}))

		for _, h := range headers {
			note := map[string]interface{}{
				"params": map[string]interface{}{
					"result": map[string]string{"number": h.Number, "timestamp": h.Timestamp},
				},
			}
			if err := conn.WriteJSON(note); err != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		// Keep the connection open briefly so the reader observes all
		// notifications before it's torn down by the caller cancelling ctx.
		time.Sleep(50 * time.Millisecond)
	}))
}

func fakeFeeHistoryServer(t *testing.T, baseFeePerGas []string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		quoted := make([]string, len(baseFeePerGas))
		for i, v := range baseFeePerGas {
			quoted[i] = `"` + v + `"`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":{"baseFeePerGas":[` + strings.Join(quoted, ",") + `]}}`))
	}))
}

// S1/P4: the first received header sets both first_block and newest_block.
func TestSubscriberAppliesHeadersAndFeeHistory(t *testing.T) {
	wsSrv := fakeHeaderServer(t, []struct{ Number, Timestamp string }{
		{Number: "0x64", Timestamp: "0x1"},
		{Number: "0x65", Timestamp: "0xd"},
	})
	defer wsSrv.Close()
	wsURL := "ws" + strings.TrimPrefix(wsSrv.URL, "http")

	feeSrv := fakeFeeHistoryServer(t, []string{"0xa", "0xb"})
	defer feeSrv.Close()
	feeClient, err := gethrpc.DialHTTP(feeSrv.URL)
	require.NoError(t, err)
	defer feeClient.Close()

	state := chainstate.New("ethereum", "alchemy")
	busClient := bus.New("127.0.0.1:0", 0) // unreachable; Set/Publish swallow errors

	sub := New(state, busClient, wsURL, feeClient, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	sub.Run(ctx)

	snap := state.Snapshot()
	require.EqualValues(t, 0x65, snap.NewestBlock)
	require.EqualValues(t, 0x64, snap.FirstBlock)
	require.True(t, snap.WatchingBlocks)
	require.EqualValues(t, 0xa, snap.BaseFeeLast)
	require.EqualValues(t, 0xb, snap.BaseFeeNext)
}

func TestParseHexUint(t *testing.T) {
	n, err := parseHexUint("0x1a")
	require.NoError(t, err)
	require.EqualValues(t, 26, n)

	_, err = parseHexUint("not-hex")
	require.Error(t, err)
}
