package lutregistry

import (
	"fmt"

	"github.com/evore-labs/deploycrank/internal/wire"
)

// lutAddressesOffset is the fixed byte offset at which an
// AddressLookupTable account's address list begins, following its 56-byte
// header (deactivation slot, last-extended slot, last-extended slot start
// index, authority option, authority pubkey padding).
const lutAddressesOffset = 56

// parseLookupTableAddresses extracts the variable-length address list from
// a raw AddressLookupTable account, per the lookup-table-program's fixed
// on-chain layout.
func parseLookupTableAddresses(data []byte) ([]wire.Pubkey, error) {
	if len(data) < lutAddressesOffset {
		return nil, fmt.Errorf("lutregistry: account too short for a lookup table: %d bytes", len(data))
	}
	body := data[lutAddressesOffset:]
	if len(body)%wire.PubkeySize != 0 {
		return nil, fmt.Errorf("lutregistry: address list not a multiple of %d bytes", wire.PubkeySize)
	}
	n := len(body) / wire.PubkeySize
	addrs := make([]wire.Pubkey, n)
	for i := 0; i < n; i++ {
		copy(addrs[i][:], body[i*wire.PubkeySize:(i+1)*wire.PubkeySize])
	}
	return addrs, nil
}
