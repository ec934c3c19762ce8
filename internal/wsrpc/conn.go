// Package wsrpc is the minimal JSON-RPC-over-websocket plumbing shared by
// the block, event, and transaction subscribers: dial, send an
// eth_subscribe frame, read back the subscription id, then loop on recv.
// Every subscriber still owns its own reconnect loop and lifecycle
// flags -- this package only removes the repetition of dialing and
// framing the subscribe request.
package wsrpc

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"

	"github.com/cream-project/chainwatch/internal/chainerr"
)

// subscribeRequest is the standard eth_subscribe wire frame shared by
// every subscription kind (newHeads, logs, newPendingTransactions, ...).
type subscribeRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type subscribeResponse struct {
	Result string `json:"result"`
}

// Conn wraps one websocket connection. Keepalive pings are left at the
// gorilla/websocket default (disabled on our side): the upstream node
// handles liveness, and transport failure is only detected via recv
// errors.
type Conn struct {
	ws *websocket.Conn
}

// Dial opens uri with no deadline; ctx only bounds the handshake itself.
func Dial(ctx context.Context, uri string) (*Conn, error) {
	dialer := websocket.Dialer{}
	ws, _, err := dialer.DialContext(ctx, uri, nil)
	if err != nil {
		return nil, chainerr.Transport("wsrpc", err)
	}
	return &Conn{ws: ws}, nil
}

// Subscribe sends {"jsonrpc":"2.0","id":1,"method":"eth_subscribe","params":params}
// and returns the subscription id from the first response.
func (c *Conn) Subscribe(params []interface{}) (string, error) {
	req := subscribeRequest{JSONRPC: "2.0", ID: 1, Method: "eth_subscribe", Params: params}
	if err := c.ws.WriteJSON(req); err != nil {
		return "", chainerr.Transport("wsrpc", err)
	}

	var resp subscribeResponse
	if err := c.ws.ReadJSON(&resp); err != nil {
		return "", chainerr.Transport("wsrpc", err)
	}
	return resp.Result, nil
}

// ReadMessage blocks for the next raw frame.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, chainerr.Transport("wsrpc", err)
	}
	return data, nil
}

// ReadJSON blocks for the next frame and unmarshals it into v.
func (c *Conn) ReadJSON(v interface{}) error {
	data, err := c.ReadMessage()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return chainerr.Decode("wsrpc", err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}
