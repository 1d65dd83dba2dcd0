package boardstate

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/evore-labs/deploycrank/internal/wire"
)

// ErrBoardAccountMissing is returned when the configured board PDA has no
// account on-chain yet (a fresh deployment, prior to the first round).
var ErrBoardAccountMissing = errors.New("boardstate: board account does not exist")

// Fixed board-account layout, mirroring the deploy program's documented
// ABI: round id and round PDA near the front, start/end slot following.
const (
	boardMinSize      = 8 + wire.PubkeySize + 8 + 8
	boardRoundIDOffset = 0
	boardRoundPDAOffset = 8
	boardStartSlotOffset = 8 + wire.PubkeySize
	boardEndSlotOffset   = 8 + wire.PubkeySize + 8
)

func decodeBoardAccount(data []byte) (roundID uint64, roundPDA wire.Pubkey, startSlot, endSlot uint64, err error) {
	if len(data) < boardMinSize {
		return 0, wire.Pubkey{}, 0, 0, fmt.Errorf("boardstate: board account too short: %d bytes", len(data))
	}
	roundID = binary.LittleEndian.Uint64(data[boardRoundIDOffset : boardRoundIDOffset+8])
	copy(roundPDA[:], data[boardRoundPDAOffset:boardRoundPDAOffset+wire.PubkeySize])
	startSlot = binary.LittleEndian.Uint64(data[boardStartSlotOffset : boardStartSlotOffset+8])
	endSlot = binary.LittleEndian.Uint64(data[boardEndSlotOffset : boardEndSlotOffset+8])
	return roundID, roundPDA, startSlot, endSlot, nil
}
