// Package program encodes the fixed on-chain ABI of the deploy program this
// operator crank submits transactions against: instruction discriminators,
// account orderings, and program-derived-address seed derivation. None of
// this is re-derived or guessed at call sites — every batcher stage
// consumes these as pure functions over an already-fixed contract.
package program

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/evore-labs/deploycrank/internal/wire"
)

// pdaMarker is appended to every PDA preimage, matching the on-chain
// program's derivation (mirrors Solana's own find_program_address marker).
var pdaMarker = []byte("ProgramDerivedAddress")

// maxSeedLen and maxSeeds mirror the chain's own limits on PDA seed
// derivation.
const (
	maxSeedLen = 32
	maxSeeds   = 16
)

var ErrNoValidBump = errors.New("program: unable to find a valid program address bump seed")

// FindProgramAddress derives a program-derived address from seeds and a
// program id, searching bump seeds from 255 down to 0 (the highest valid
// bump is always used on-chain) until the resulting 32 bytes fail ed25519
// curve point decompression — an off-curve point has no corresponding
// private key, which is precisely what makes it safe to use as a signerless
// account.
func FindProgramAddress(seeds [][]byte, programID wire.Pubkey) (wire.Pubkey, byte, error) {
	if len(seeds) > maxSeeds {
		return wire.Pubkey{}, 0, fmt.Errorf("program: too many seeds: %d", len(seeds))
	}
	for _, s := range seeds {
		if len(s) > maxSeedLen {
			return wire.Pubkey{}, 0, fmt.Errorf("program: seed too long: %d bytes", len(s))
		}
	}

	for bump := 255; bump >= 0; bump-- {
		candidate, err := createProgramAddress(seeds, byte(bump), programID)
		if err == nil {
			return candidate, byte(bump), nil
		}
	}
	return wire.Pubkey{}, 0, ErrNoValidBump
}

// createProgramAddress computes one candidate PDA, returning an error if
// the resulting point lands on the ed25519 curve (meaning it is NOT a valid
// PDA, since it could collide with an actual keypair).
func createProgramAddress(seeds [][]byte, bump byte, programID wire.Pubkey) (wire.Pubkey, error) {
	h := sha256.New()
	for _, s := range seeds {
		h.Write(s)
	}
	h.Write([]byte{bump})
	h.Write(programID[:])
	h.Write(pdaMarker)
	sum := h.Sum(nil)

	var arr [32]byte
	copy(arr[:], sum)

	if _, err := new(edwards25519.Point).SetBytes(arr[:]); err == nil {
		// a valid curve point means this candidate IS a possible public key,
		// so it must be rejected as a PDA.
		return wire.Pubkey{}, errors.New("program: candidate is on-curve")
	}

	return wire.Pubkey(arr), nil
}

// Seeds used by this program's PDA derivations, per spec.md §6.
var (
	SeedManagedMinerAuth = []byte("managed-miner-auth")
	SeedDeployer         = []byte("deployer")
	SeedMiner            = []byte("miner")
	SeedRound            = []byte("round")
	SeedBoard            = []byte("board")
	SeedConfig           = []byte("config")
	SeedAutomation       = []byte("automation")
	SeedEntropy          = []byte("entropy")
)

// DeriveMinerAuthorityPDA derives the miner-authority PDA that signs deploy
// instructions on the operator's behalf: seeds "managed-miner-auth" |
// manager | auth_id.
func DeriveMinerAuthorityPDA(programID, manager wire.Pubkey, authID uint64) (wire.Pubkey, byte, error) {
	return FindProgramAddress([][]byte{SeedManagedMinerAuth, manager.Bytes(), uint64LE(authID)}, programID)
}

// DeriveDeployerPDA derives the deployer account PDA: seeds "deployer" |
// manager.
func DeriveDeployerPDA(programID, manager wire.Pubkey) (wire.Pubkey, byte, error) {
	return FindProgramAddress([][]byte{SeedDeployer, manager.Bytes()}, programID)
}

// DeriveMinerPDA derives the miner account PDA for a given authority.
func DeriveMinerPDA(programID, authority wire.Pubkey) (wire.Pubkey, byte, error) {
	return FindProgramAddress([][]byte{SeedMiner, authority.Bytes()}, programID)
}

// DeriveAutomationPDA derives the per-miner automation account PDA.
func DeriveAutomationPDA(programID, authority wire.Pubkey) (wire.Pubkey, byte, error) {
	return FindProgramAddress([][]byte{SeedAutomation, authority.Bytes()}, programID)
}

// DeriveConfigPDA derives the process-wide config account PDA.
func DeriveConfigPDA(programID wire.Pubkey) (wire.Pubkey, byte, error) {
	return FindProgramAddress([][]byte{SeedConfig}, programID)
}

// DeriveBoardPDA derives the singleton board account PDA.
func DeriveBoardPDA(programID wire.Pubkey) (wire.Pubkey, byte, error) {
	return FindProgramAddress([][]byte{SeedBoard}, programID)
}

// DeriveRoundPDA derives the PDA for a specific round id.
func DeriveRoundPDA(programID wire.Pubkey, roundID uint64) (wire.Pubkey, byte, error) {
	return FindProgramAddress([][]byte{SeedRound, uint64LE(roundID)}, programID)
}

// DeriveEntropyPDA derives the process-wide entropy variable PDA.
func DeriveEntropyPDA(programID wire.Pubkey) (wire.Pubkey, byte, error) {
	return FindProgramAddress([][]byte{SeedEntropy}, programID)
}

func uint64LE(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
