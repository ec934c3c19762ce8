// Package chainconfig loads the static per-chain configuration table: for
// each enumerated chain, the node family backing it and the endpoints to
// dial. The table itself lives outside this package, in an operator-owned
// YAML file (config/chains.yaml by default); this package only knows how
// to read and look it up.
package chainconfig

import (
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"

	"github.com/cream-project/chainwatch/internal/chainerr"
)

// ChainInfo is the shape the supervisor needs to bootstrap and wire every
// subscriber for one chain.
type ChainInfo struct {
	Node          string `koanf:"node" json:"node"`
	HTTPURI       string `koanf:"http_uri" json:"http_uri"`
	WebsocketURI  string `koanf:"websocket_uri" json:"websocket_uri"`
	SequencerURI  string `koanf:"sequencer_uri" json:"sequencer_uri,omitempty"`
}

// Table is the full chain-name-keyed configuration.
type Table map[string]ChainInfo

// KnownChains enumerates the chain names this core knows how to observe.
var KnownChains = []string{"ethereum", "arbitrum", "base", "optimism", "polygon", "avalanche"}

// Load reads path (YAML) into a Table.
func Load(path string) (Table, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, chainerr.Config("chainconfig", err)
	}

	var table Table
	if err := k.Unmarshal("", &table); err != nil {
		return nil, chainerr.Config("chainconfig", err)
	}
	return table, nil
}

// Lookup returns the ChainInfo for chainName, or ErrConfig if chainName is
// not present in the table.
func (t Table) Lookup(chainName string) (ChainInfo, error) {
	info, ok := t[chainName]
	if !ok {
		return ChainInfo{}, chainerr.Config("chainconfig", errUnknownChain(chainName))
	}
	return info, nil
}

type errUnknownChain string

func (e errUnknownChain) Error() string {
	return "unknown chain name: " + string(e)
}
