package eventsub

import "github.com/ethereum/go-ethereum/crypto"

// eventSignatureTexts is the fixed set of event signatures this core
// forwards onto cream_events, listed in their human-readable form.
var eventSignatureTexts = []string{
	"Sync(uint112,uint112)",
	"Mint(address,address,int24,int24,uint128,uint256,uint256)",
	"Burn(address,int24,int24,uint128,uint256,uint256)",
	"Swap(address,address,int256,int256,uint160,uint128,int24)",
	"PairCreated(address,address,address,uint256)",
	"PoolCreated(address,address,uint24,int24,address)",
}

// EventSignatures is computed once at process start (package init): the
// keccak256 topic0 of each signature in eventSignatureTexts.
var EventSignatures = computeSignatures()

func computeSignatures() map[string]struct{} {
	set := make(map[string]struct{}, len(eventSignatureTexts))
	for _, text := range eventSignatureTexts {
		topic0 := crypto.Keccak256Hash([]byte(text)).Hex()
		set[topic0] = struct{}{}
	}
	return set
}

// IsTracked reports whether topic0 is one of EventSignatures.
func IsTracked(topic0 string) bool {
	_, ok := EventSignatures[topic0]
	return ok
}
