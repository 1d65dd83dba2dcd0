package program

import (
	"encoding/binary"

	"github.com/evore-labs/deploycrank/internal/wire"
)

// Well-known static program ids, consolidated into the shared lookup table
// per spec.md §4.3.
var (
	SystemProgramID        = wire.MustParsePubkey("11111111111111111111111111111111")
	ComputeBudgetProgramID = wire.MustParsePubkey("ComputeBudget111111111111111111111111111111")
	AddressLookupTableProgramID = wire.MustParsePubkey("AddressLookupTab1e1111111111111111111111111")
)

// Instruction discriminators for the fixed deploy-program ABI (spec.md §6),
// read from the upstream program's Instructions enum rather than assigned
// sequentially: UpdateDeployer=6, MMAutodeploy=7, RecycleSol=9,
// MMAutocheckpoint=11, MMFullAutodeploy=12.
const (
	insUpdateDeployer byte = 6
	insAutodeploy     byte = 7
	insRecycleSOL     byte = 9
	insAutocheckpoint byte = 11
	insFullAutodeploy byte = 12
)

// DeployParams are the fixed per-square wager parameters named in spec.md
// §4.9: 2800 lamports per square across all 25 squares.
const (
	LamportsPerSquare = 2800
	AllSquaresMask    = 0x1FFFFFF
)

// SetComputeUnitLimit builds the ComputeBudget instruction capping the
// transaction's compute unit consumption.
func SetComputeUnitLimit(units uint32) wire.Instruction {
	data := make([]byte, 5)
	data[0] = 2 // SetComputeUnitLimit tag
	binary.LittleEndian.PutUint32(data[1:], units)
	return wire.Instruction{ProgramID: ComputeBudgetProgramID, Data: data}
}

// SetComputeUnitPrice builds the ComputeBudget instruction setting the
// priority fee, in micro-lamports per compute unit.
func SetComputeUnitPrice(microLamports uint64) wire.Instruction {
	data := make([]byte, 9)
	data[0] = 3 // SetComputeUnitPrice tag
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return wire.Instruction{ProgramID: ComputeBudgetProgramID, Data: data}
}

// ComputeBudgetPreambleLen is the number of compute-budget instructions
// that prefix a deploy transaction: SetComputeUnitLimit then
// SetComputeUnitPrice. Checkpoint and fee-update transactions carry only
// SetComputeUnitLimit. The Failure Handler does not read this constant; it
// uses a per-transaction-type count (spec.md §4.14).
const ComputeBudgetPreambleLen = 2

// AccountsAutodeploy returns the fixed 14-account ordering for a plain
// autodeploy instruction, matching process_mm_autodeploy.rs: operator
// (signer), manager, deployer, managed-miner authority, miner, fee
// collector, automation, config, board, round, entropy variable, then the
// ore and entropy collaborator programs, then the system program.
func AccountsAutodeploy(operator, manager, deployer, authority, miner, automationPDA, configPDA, boardPDA, roundPDA, entropyPDA wire.Pubkey) []wire.AccountMeta {
	return []wire.AccountMeta{
		{Pubkey: operator, IsSigner: true},
		{Pubkey: manager},
		{Pubkey: deployer, IsWritable: true},
		{Pubkey: authority, IsWritable: true},
		{Pubkey: miner, IsWritable: true},
		{Pubkey: FeeCollector(), IsWritable: true},
		{Pubkey: automationPDA, IsWritable: true},
		{Pubkey: configPDA},
		{Pubkey: boardPDA},
		{Pubkey: roundPDA},
		{Pubkey: entropyPDA},
		{Pubkey: CollaboratorProgramA()},
		{Pubkey: CollaboratorProgramB()},
		{Pubkey: SystemProgramID},
	}
}

// Autodeploy builds a plain deploy instruction: the miner's auth id, the
// fixed lamports-per-square wager, and the fixed mask covering all 25
// squares.
func Autodeploy(accounts []wire.AccountMeta, authID uint64) wire.Instruction {
	data := make([]byte, 21)
	data[0] = insAutodeploy
	binary.LittleEndian.PutUint64(data[1:9], authID)
	binary.LittleEndian.PutUint64(data[9:17], LamportsPerSquare)
	binary.LittleEndian.PutUint32(data[17:21], AllSquaresMask)
	return wire.Instruction{ProgramID: deployProgramID(), Accounts: accounts, Data: data}
}

// AccountsFullAutodeploy returns the fixed 16-account ordering for the
// atomic checkpoint + claim + deploy instruction, matching
// process_mm_full_autodeploy.rs: AccountsAutodeploy's 14 accounts, with a
// separate checkpoint-round account and the ore treasury inserted after the
// deploy round account.
func AccountsFullAutodeploy(operator, manager, deployer, authority, miner, automationPDA, configPDA, boardPDA, roundPDA, checkpointRoundPDA, entropyPDA wire.Pubkey) []wire.AccountMeta {
	return []wire.AccountMeta{
		{Pubkey: operator, IsSigner: true},
		{Pubkey: manager},
		{Pubkey: deployer, IsWritable: true},
		{Pubkey: authority, IsWritable: true},
		{Pubkey: miner, IsWritable: true},
		{Pubkey: FeeCollector(), IsWritable: true},
		{Pubkey: automationPDA, IsWritable: true},
		{Pubkey: configPDA},
		{Pubkey: boardPDA},
		{Pubkey: roundPDA},
		{Pubkey: checkpointRoundPDA},
		{Pubkey: Treasury()},
		{Pubkey: entropyPDA},
		{Pubkey: CollaboratorProgramA()},
		{Pubkey: CollaboratorProgramB()},
		{Pubkey: SystemProgramID},
	}
}

// FullAutodeploy builds the atomic checkpoint + claim + deploy instruction,
// used when the miner cache indicates unclaimed rewards from a prior round
// (spec.md §4.9). Its payload has the same shape as plain Autodeploy — the
// checkpointed round is identified by the separate checkpoint-round account
// in AccountsFullAutodeploy, not by a data field.
func FullAutodeploy(accounts []wire.AccountMeta, authID uint64) wire.Instruction {
	data := make([]byte, 21)
	data[0] = insFullAutodeploy
	binary.LittleEndian.PutUint64(data[1:9], authID)
	binary.LittleEndian.PutUint64(data[9:17], LamportsPerSquare)
	binary.LittleEndian.PutUint32(data[17:21], AllSquaresMask)
	return wire.Instruction{ProgramID: deployProgramID(), Accounts: accounts, Data: data}
}

// AccountsAutocheckpoint returns the fixed 10-account ordering for an
// autocheckpoint instruction, matching process_mm_autocheckpoint.rs:
// operator (signer), manager, deployer, managed-miner authority, miner,
// treasury, board, round, system program, ore program.
func AccountsAutocheckpoint(operator, manager, deployer, authority, miner, boardPDA, roundPDA wire.Pubkey) []wire.AccountMeta {
	return []wire.AccountMeta{
		{Pubkey: operator, IsSigner: true},
		{Pubkey: manager},
		{Pubkey: deployer, IsWritable: true},
		{Pubkey: authority, IsWritable: true},
		{Pubkey: miner},
		{Pubkey: Treasury()},
		{Pubkey: boardPDA},
		{Pubkey: roundPDA},
		{Pubkey: SystemProgramID},
		{Pubkey: CollaboratorProgramA()},
	}
}

// Autocheckpoint builds a checkpoint-only instruction, for a miner that
// isn't (yet) eligible to deploy but has unclaimed rewards to finalize. The
// payload is the miner's auth id and the authority PDA's bump seed.
func Autocheckpoint(accounts []wire.AccountMeta, authID uint64, bump byte) wire.Instruction {
	data := make([]byte, 10)
	data[0] = insAutocheckpoint
	binary.LittleEndian.PutUint64(data[1:9], authID)
	data[9] = bump
	return wire.Instruction{ProgramID: deployProgramID(), Accounts: accounts, Data: data}
}

// RecycleSOL builds the instruction that sweeps pending SOL rewards out of
// the miner authority PDA back to the manager, used opportunistically by
// the Checkpoint Batcher (spec.md §4.10).
func RecycleSOL(operator, manager, deployer, authority, miner wire.Pubkey, authID uint64) wire.Instruction {
	data := make([]byte, 9)
	data[0] = insRecycleSOL
	binary.LittleEndian.PutUint64(data[1:9], authID)
	return wire.Instruction{
		ProgramID: deployProgramID(),
		Accounts: []wire.AccountMeta{
			{Pubkey: operator, IsSigner: true},
			{Pubkey: manager},
			{Pubkey: deployer, IsWritable: true},
			{Pubkey: authority, IsWritable: true},
			{Pubkey: miner},
			{Pubkey: CollaboratorProgramA()},
		},
		Data: data,
	}
}

// UpdateDeployer builds the fee-write instruction used by the Fee Updater
// to bring a stale flat fee up to the operator's currently advertised rate.
// All five u64 fields are resent on every call — the on-chain instruction
// overwrites the whole fee record, not just the changed field — so callers
// must pass the deployer's current bps fee, expected bps fee, expected flat
// fee, and per-round deploy cap alongside the new flat fee.
func UpdateDeployer(operator, manager, deployer, newDeployAuthority wire.Pubkey, bpsFee, flatFee, expectedBpsFee, expectedFlatFee, maxPerRound uint64) wire.Instruction {
	data := make([]byte, 41)
	data[0] = insUpdateDeployer
	binary.LittleEndian.PutUint64(data[1:9], bpsFee)
	binary.LittleEndian.PutUint64(data[9:17], flatFee)
	binary.LittleEndian.PutUint64(data[17:25], expectedBpsFee)
	binary.LittleEndian.PutUint64(data[25:33], expectedFlatFee)
	binary.LittleEndian.PutUint64(data[33:41], maxPerRound)
	return wire.Instruction{
		ProgramID: deployProgramID(),
		Accounts: []wire.AccountMeta{
			{Pubkey: operator, IsSigner: true},
			{Pubkey: manager},
			{Pubkey: deployer, IsWritable: true},
			{Pubkey: newDeployAuthority},
			{Pubkey: SystemProgramID},
		},
		Data: data,
	}
}

// deployProgramID is process-static, set once at boot via SetDeployProgramID
// (it is an operator configuration value, not a compile-time constant, but
// every instruction builder above needs it, so it's held here rather than
// threaded through every call site).
var programID wire.Pubkey

// SetDeployProgramID configures the program id used by every instruction
// builder in this package. Must be called once at boot before any batcher
// stage runs.
func SetDeployProgramID(id wire.Pubkey) { programID = id }

func deployProgramID() wire.Pubkey { return programID }

// DeployProgramID returns the program id configured via
// SetDeployProgramID, for callers (e.g. the miner cache) that need to
// derive PDAs against it without building an instruction.
func DeployProgramID() wire.Pubkey { return programID }

// feeCollector, treasury and the two collaborator program ids (the ore and
// entropy programs this deploy program CPIs into) are, like the program id
// itself, fixed operator configuration rather than derived addresses —
// configured once at boot via SetStaticAccounts and consumed by the
// autodeploy/autocheckpoint builders below.
var (
	feeCollector         wire.Pubkey
	treasury             wire.Pubkey
	collaboratorProgramA wire.Pubkey // ore program
	collaboratorProgramB wire.Pubkey // entropy program
)

// SetStaticAccounts configures the fee collector, ore treasury, and the two
// collaborator program ids referenced by autodeploy, full-autodeploy,
// autocheckpoint, and recycle-sol instructions. Must be called once at boot
// before any batcher stage runs.
func SetStaticAccounts(feeCollectorAddr, treasuryAddr, oreProgram, entropyProgram wire.Pubkey) {
	feeCollector = feeCollectorAddr
	treasury = treasuryAddr
	collaboratorProgramA = oreProgram
	collaboratorProgramB = entropyProgram
}

// FeeCollector returns the address configured via SetStaticAccounts.
func FeeCollector() wire.Pubkey { return feeCollector }

// Treasury returns the address configured via SetStaticAccounts.
func Treasury() wire.Pubkey { return treasury }

// CollaboratorProgramA returns the ore program id configured via
// SetStaticAccounts.
func CollaboratorProgramA() wire.Pubkey { return collaboratorProgramA }

// CollaboratorProgramB returns the entropy program id configured via
// SetStaticAccounts.
func CollaboratorProgramB() wire.Pubkey { return collaboratorProgramB }

// CreateLookupTable builds the lookup-table-program instruction that
// allocates a new, empty table owned by authority and funded by payer, at
// an address derived deterministically from authority + recentSlot.
func CreateLookupTable(authority, payer wire.Pubkey, recentSlot uint64, bump byte) (wire.Instruction, wire.Pubkey) {
	tableAddr, actualBump, err := FindProgramAddress([][]byte{authority.Bytes(), uint64LE(recentSlot)}, AddressLookupTableProgramID)
	if err != nil {
		// deterministic failure surfaces at call time via a zero address;
		// callers treat this the same as any other LUT-creation failure.
		return wire.Instruction{}, wire.Pubkey{}
	}
	_ = bump // search result, included for signature symmetry with FindProgramAddress callers

	data := make([]byte, 10)
	data[0] = 0 // CreateLookupTable tag
	binary.LittleEndian.PutUint64(data[1:9], recentSlot)
	data[9] = actualBump

	return wire.Instruction{
		ProgramID: AddressLookupTableProgramID,
		Accounts: []wire.AccountMeta{
			{Pubkey: tableAddr, IsWritable: true},
			{Pubkey: authority, IsSigner: true},
			{Pubkey: payer, IsSigner: true, IsWritable: true},
			{Pubkey: SystemProgramID},
		},
		Data: data,
	}, tableAddr
}

// ExtendLookupTable builds the instruction appending addresses (at most 25
// per spec.md §4.3) to an existing table.
func ExtendLookupTable(table, authority, payer wire.Pubkey, addresses []wire.Pubkey) wire.Instruction {
	const maxExtendPerTx = 25
	if len(addresses) > maxExtendPerTx {
		addresses = addresses[:maxExtendPerTx]
	}

	data := make([]byte, 0, 1+8+len(addresses)*wire.PubkeySize)
	data = append(data, 2) // ExtendLookupTable tag
	countBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(countBuf, uint64(len(addresses)))
	data = append(data, countBuf...)
	for _, a := range addresses {
		data = append(data, a.Bytes()...)
	}

	return wire.Instruction{
		ProgramID: AddressLookupTableProgramID,
		Accounts: []wire.AccountMeta{
			{Pubkey: table, IsWritable: true},
			{Pubkey: authority, IsSigner: true},
			{Pubkey: payer, IsSigner: true, IsWritable: true},
			{Pubkey: SystemProgramID},
		},
		Data: data,
	}
}

// DeactivateLookupTable builds the instruction marking a table for closure.
// The table may not be closed until LUTCloseCooldownSlots have elapsed.
func DeactivateLookupTable(table, authority wire.Pubkey) wire.Instruction {
	return wire.Instruction{
		ProgramID: AddressLookupTableProgramID,
		Accounts: []wire.AccountMeta{
			{Pubkey: table, IsWritable: true},
			{Pubkey: authority, IsSigner: true},
		},
		Data: []byte{3}, // DeactivateLookupTable tag
	}
}

// CloseLookupTable builds the instruction reclaiming a deactivated table's
// rent, once the cooldown has elapsed.
func CloseLookupTable(table, authority, recipient wire.Pubkey) wire.Instruction {
	return wire.Instruction{
		ProgramID: AddressLookupTableProgramID,
		Accounts: []wire.AccountMeta{
			{Pubkey: table, IsWritable: true},
			{Pubkey: authority, IsSigner: true},
			{Pubkey: recipient, IsWritable: true},
		},
		Data: []byte{4}, // CloseLookupTable tag
	}
}

// LUTCloseCooldownSlots is the source's documented ~513-slot cooldown
// before a deactivated table may be closed. spec.md §9 flags this as an
// open question (the chain's actual minimum is 512); we keep the source's
// value rather than "fixing" an unexplained off-by-one, recorded in
// DESIGN.md.
const LUTCloseCooldownSlots = 513
