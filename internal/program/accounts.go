package program

import (
	"encoding/binary"
	"fmt"

	"github.com/evore-labs/deploycrank/internal/wire"
)

// Fixed on-chain account layout constants, per spec.md §6: deployer
// accounts carry discriminator 101 at offset 0 over 8 bytes, the manager
// authority pubkey at offset 40, and the account is always exactly 112
// bytes.
const (
	DeployerDiscriminator   uint64 = 101
	DeployerAccountSize            = 112
	deployerManagerOffset          = 40
	deployerFlatFeeOffset          = 48
	deployerExpectedFeeOffset      = 56
	deployerMaxFeeBpsOffset        = 64
	deployerDeployCapOffset        = 68
	deployerAuthIDOffset           = 72
)

// DeployerAccount is the parsed, on-wire-layout view of a deployer account.
type DeployerAccount struct {
	Manager           wire.Pubkey
	FlatFee           uint64
	ExpectedFlatFee   uint64
	MaxFeeBps         uint32
	DeployCapPerRound uint32
	AuthID            uint64
}

// ParseDeployerAccount decodes raw account data using the fixed 112-byte
// layout. Returns an error if the size or discriminator don't match.
func ParseDeployerAccount(data []byte) (DeployerAccount, error) {
	if len(data) != DeployerAccountSize {
		return DeployerAccount{}, fmt.Errorf("program: deployer account must be exactly %d bytes, got %d", DeployerAccountSize, len(data))
	}
	disc := binary.LittleEndian.Uint64(data[0:8])
	if disc != DeployerDiscriminator {
		return DeployerAccount{}, fmt.Errorf("program: unexpected deployer discriminator %d", disc)
	}

	var acc DeployerAccount
	copy(acc.Manager[:], data[deployerManagerOffset:deployerManagerOffset+wire.PubkeySize])
	acc.FlatFee = binary.LittleEndian.Uint64(data[deployerFlatFeeOffset : deployerFlatFeeOffset+8])
	acc.ExpectedFlatFee = binary.LittleEndian.Uint64(data[deployerExpectedFeeOffset : deployerExpectedFeeOffset+8])
	acc.MaxFeeBps = binary.LittleEndian.Uint32(data[deployerMaxFeeBpsOffset : deployerMaxFeeBpsOffset+4])
	acc.DeployCapPerRound = binary.LittleEndian.Uint32(data[deployerDeployCapOffset : deployerDeployCapOffset+4])
	acc.AuthID = binary.LittleEndian.Uint64(data[deployerAuthIDOffset : deployerAuthIDOffset+8])
	return acc, nil
}

// DeployerAuthorityOffset is the byte offset of a deployer account's
// authority field for getProgramAccounts memcmp filters (§6: "authority
// offset 40"). Deployer discovery in cmd/crankd does not apply it; it
// filters by account size only.
const DeployerAuthorityOffset = deployerManagerOffset

// Fixed miner-account layout: existence is inferred by the RPC layer
// (absent account => Exists=false); when present, the layout below applies.
const (
	MinerAccountSize        = 96
	minerCheckpointIDOffset = 8
	minerRoundIDOffset      = 16
	minerHasDeployedOffset  = 24
	minerRewardsOffset      = 32
)

// MinerAccount is the parsed view of an on-chain miner account.
type MinerAccount struct {
	CheckpointID uint64
	RoundID      uint64
	HasDeployed  bool
	RewardsSOL   uint64
}

// ParseMinerAccount decodes raw account data using the fixed miner layout.
func ParseMinerAccount(data []byte) (MinerAccount, error) {
	if len(data) < MinerAccountSize {
		return MinerAccount{}, fmt.Errorf("program: miner account too short: %d bytes", len(data))
	}
	return MinerAccount{
		CheckpointID: binary.LittleEndian.Uint64(data[minerCheckpointIDOffset : minerCheckpointIDOffset+8]),
		RoundID:      binary.LittleEndian.Uint64(data[minerRoundIDOffset : minerRoundIDOffset+8]),
		HasDeployed:  data[minerHasDeployedOffset] != 0,
		RewardsSOL:   binary.LittleEndian.Uint64(data[minerRewardsOffset : minerRewardsOffset+8]),
	}, nil
}

// LookupTableAuthorityOffset is the byte offset of the authority field
// within an address-lookup-table-program account, used for the
// getProgramAccounts memcmp filter during LUT discovery (spec.md §6:
// "LUT discovery at authority offset 22" — the standard
// AddressLookupTable account layout: discriminator(4) + deactivationSlot(8)
// + lastExtendedSlot(8) + lastExtendedSlotStartIndex(1) + authorityOption(1)
// = 22 bytes before the authority pubkey).
const LookupTableAuthorityOffset = 22
