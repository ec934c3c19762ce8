package receipts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     json.RawMessage   `json:"id"`
}

// S4: alchemy receipts response with one 0x7e and one 0x2 record yields
// only the 0x2 record on the sink.
func TestFetchBlockAlchemyFiltersSystemTx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "alchemy_getTransactionReceipts", req.Method)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":{"receipts":[{"type":"0x7e","hash":"0xa"},{"type":"0x2","hash":"0xb"}]}}`))
	}))
	defer srv.Close()

	sink := make(chan json.RawMessage, 8)
	f, err := New(srv.URL, ModeAlchemy, sink)
	require.NoError(t, err)
	defer f.Close()

	start := time.Now()
	f.FetchBlock(context.Background(), "0x10")
	require.GreaterOrEqual(t, time.Since(start), initialDelay)

	require.Len(t, sink, 1)
	var got struct {
		Type string `json:"type"`
		Hash string `json:"hash"`
	}
	require.NoError(t, json.Unmarshal(<-sink, &got))
	require.Equal(t, "0xb", got.Hash)
}

func TestFetchBlockNodeModeUsesBlockByNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "eth_getBlockByNumber", req.Method)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":{"transactions":[{"type":"0x2","hash":"0xc"}]}}`))
	}))
	defer srv.Close()

	sink := make(chan json.RawMessage, 8)
	f, err := New(srv.URL, ModeNode, sink)
	require.NoError(t, err)
	defer f.Close()

	f.FetchBlock(context.Background(), "0x11")
	require.Len(t, sink, 1)
}

func TestFetchBlockEmptyReceiptsDoesNotRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":{"receipts":[]}}`))
	}))
	defer srv.Close()

	sink := make(chan json.RawMessage, 8)
	f, err := New(srv.URL, ModeAlchemy, sink)
	require.NoError(t, err)
	defer f.Close()

	f.FetchBlock(context.Background(), "0x12")
	require.Equal(t, 1, calls)
	require.Empty(t, sink)
}

func TestFilterSystemTxs(t *testing.T) {
	in := []json.RawMessage{
		json.RawMessage(`{"type":"0x7e","hash":"0xa"}`),
		json.RawMessage(`{"type":"0x2","hash":"0xb"}`),
		json.RawMessage(`{"hash":"0xc"}`),
	}
	out := filterSystemTxs(in)
	require.Len(t, out, 2)
}

func TestDoublingBackOff(t *testing.T) {
	b := &doublingBackOff{next: firstRetryDelay}
	require.Equal(t, 1*time.Second, b.NextBackOff())
	require.Equal(t, 2*time.Second, b.NextBackOff())
	require.Equal(t, 4*time.Second, b.NextBackOff())
}
