// Package chainerr defines the error taxonomy shared by every subscriber:
// transport failures that trigger a reconnect, RPC failures that are
// retried or dropped, decode failures that are dropped, and config
// failures that are fatal at bootstrap.
package chainerr

import "github.com/pkg/errors"

var (
	// ErrTransport marks a websocket connect/recv/send failure. Callers
	// break their inner loop and reconnect; never fatal.
	ErrTransport = errors.New("transport error")

	// ErrRPC marks a JSON-RPC response carrying an "error" field, or a
	// transport failure while making the call. Retried with backoff by
	// the receipt fetcher; logged and dropped elsewhere.
	ErrRPC = errors.New("rpc error")

	// ErrDecode marks a malformed transaction, event, or sequencer frame.
	// The offending record is dropped; processing continues.
	ErrDecode = errors.New("decode error")

	// ErrConfig marks an unknown chain name or malformed chain table at
	// bootstrap. Fatal: the process exits with non-zero status.
	ErrConfig = errors.New("config error")
)

// Transport wraps err as an ErrTransport, tagged with the component name.
func Transport(component string, err error) error {
	return errors.Wrapf(ErrTransport, "%s: %v", component, err)
}

// RPC wraps err as an ErrRPC.
func RPC(component string, err error) error {
	return errors.Wrapf(ErrRPC, "%s: %v", component, err)
}

// Decode wraps err as an ErrDecode.
func Decode(component string, err error) error {
	return errors.Wrapf(ErrDecode, "%s: %v", component, err)
}

// Config wraps err as an ErrConfig.
func Config(component string, err error) error {
	return errors.Wrapf(ErrConfig, "%s: %v", component, err)
}
