package wsrpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/cream-project/chainwatch/internal/chainerr"
)

var upgrader = websocket.Upgrader{}

func fakeServer(t *testing.T, subscriptionID string, messages []map[string]interface{}) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var req subscribeRequest
		require.NoError(t, conn.ReadJSON(&req))
		require.Equal(t, "eth_subscribe", req.Method)

		require.NoError(t, conn.WriteJSON(map[string]string{"result": subscriptionID}))
		for _, msg := range messages {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}))
}

func TestDialSubscribeAndReadJSON(t *testing.T) {
	srv := fakeServer(t, "0xabc123", []map[string]interface{}{
		{"params": map[string]interface{}{"result": map[string]string{"number": "0x1"}}},
	})
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, err := Dial(context.Background(), wsURL)
	require.NoError(t, err)
	defer conn.Close()

	subID, err := conn.Subscribe([]interface{}{"newHeads"})
	require.NoError(t, err)
	require.Equal(t, "0xabc123", subID)

	var note struct {
		Params struct {
			Result struct {
				Number string `json:"number"`
			} `json:"result"`
		} `json:"params"`
	}
	require.NoError(t, conn.ReadJSON(&note))
	require.Equal(t, "0x1", note.Params.Result.Number)
}

func TestDialInvalidURIReturnsTransportError(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1")
	require.Error(t, err)
	require.ErrorIs(t, err, chainerr.ErrTransport)
}
