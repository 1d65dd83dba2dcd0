// Package pipeline implements the round-driven deployment pipeline: the
// staged workflow that takes delegated deployer accounts from fee-check
// through signing, sending, confirmation, and failure recovery.
package pipeline

import (
	"time"

	"github.com/evore-labs/deploycrank/internal/wire"
)

type (
	// DeployerInfo describes one delegated deployer account. It is read-only
	// within a round, refreshed only on round change.
	DeployerInfo struct {
		Address           wire.Pubkey
		Manager           wire.Pubkey
		AuthID            uint64
		FlatFee           uint64 // our currently advertised flat fee, in lamports
		ExpectedFlatFee   uint64 // the fee the manager has agreed to accept
		MaxFeeBps         uint32
		DeployCapPerRound uint32
	}

	// CachedMiner is per-deployer transient state, owned by the Miner Cache.
	//
	// Invariants: CheckpointID <= RoundID; HasDeployed implies RoundID ==
	// current round id; Exists == false implies CheckpointID == 0.
	CachedMiner struct {
		MinerAddress        wire.Pubkey
		AuthorityAddress    wire.Pubkey
		Exists              bool
		CheckpointID        uint64
		RoundID             uint64
		HasDeployed         bool
		AuthBalanceLamports uint64
		RewardsSOLLamports  uint64
		NeedsBalanceRefresh bool
	}

	// RoundPhaseKind is the closed tag of RoundPhase. Five variants, fixed
	// cardinality, no subtype polymorphism (see DESIGN NOTES on state
	// machines without dynamic dispatch).
	RoundPhaseKind uint8

	// RoundPhase is a tagged variant describing where the round currently
	// sits relative to its deploy window. SlotsRemaining and
	// SlotsIntoIntermission are only meaningful for the phases that carry
	// them; accessors return zero for the others.
	RoundPhase struct {
		kind                  RoundPhaseKind
		slotsRemaining        uint64
		slotsIntoIntermission uint64
	}

	// BoardState is the round's public schedule, as last observed by the
	// Board-State Monitor.
	BoardState struct {
		RoundID         uint64
		RoundPDA        wire.Pubkey
		StartSlot       uint64
		EndSlot         uint64 // EndSlotUnstarted sentinel if the round hasn't started
		CurrentSlot     uint64
		Phase           RoundPhase
		ObservedAtUnix  int64
	}

	// MinerTask is the unit of work flowing through the pipeline stages: a
	// snapshot of DeployerInfo plus derived addresses, the round it belongs
	// to, and a retry counter bounded by MaxRetries.
	MinerTask struct {
		Deployer         DeployerInfo
		MinerAddress     wire.Pubkey
		AuthorityAddress wire.Pubkey
		AuthorityBump    byte
		RoundID          uint64
		RetryCount       int
		CreatedAt        time.Time

		// CheckpointRoundID and NeedsCheckpoint are set by Deployment Check
		// when the miner cache shows an owed checkpoint, so the Deployer
		// Batcher knows whether to build a full_autodeploy (checkpoint +
		// claim + deploy) or a plain autodeploy instruction (spec.md §4.9).
		CheckpointRoundID uint64
		NeedsCheckpoint   bool
	}

	// TxType is the closed tag distinguishing what a batched transaction is
	// for. Three variants, fixed cardinality.
	TxType uint8

	// BatchedTx is a transaction envelope produced by a batcher stage,
	// signed but not yet confirmed. The Signature is captured once, at the
	// Transaction Processor, and re-used as the canonical identity of the
	// batch through Sender, Confirmation, and Failure Handler.
	BatchedTx struct {
		Type        TxType
		RoundID     uint64
		Tasks       []MinerTask
		Tx          *wire.Transaction
		Signature   wire.Signature
		CreatedAt   time.Time
	}

	// PendingConfirmation tracks one in-flight BatchedTx awaiting a
	// signature status from the chain.
	PendingConfirmation struct {
		Signature wire.Signature
		Type      TxType
		RoundID   uint64
		Tasks     []MinerTask
		SentAt    time.Time
	}

	// FailedBatch carries a batch that failed to send or confirm, plus
	// whatever error detail is available (possibly none, from a status-only
	// RPC response).
	FailedBatch struct {
		Signature wire.Signature
		Type      TxType
		RoundID   uint64
		Tasks     []MinerTask
		ErrorText string // may be empty; "Timeout" for confirmation timeouts
	}

	// SkipReason tags why a MinerTask was dropped from the pipeline without
	// producing a transaction.
	SkipReason uint8
)

const (
	RoundPhaseWaitingForFirstDeploy RoundPhaseKind = iota
	RoundPhaseDeploymentWindow
	RoundPhaseLateDeploymentWindow
	RoundPhaseIntermission
	RoundPhaseWaitingForReset
)

const (
	TxTypeDeploy TxType = iota
	TxTypeCheckpoint
	TxTypeFeeUpdate
)

const (
	SkipWrongFee SkipReason = iota
	SkipNoSlots
	SkipAlreadyDeployed
	SkipMaxRetries
	SkipLowBalance
)

func (r SkipReason) String() string {
	switch r {
	case SkipWrongFee:
		return "wrong_fee"
	case SkipNoSlots:
		return "no_slots"
	case SkipAlreadyDeployed:
		return "already_deployed"
	case SkipMaxRetries:
		return "max_retries"
	case SkipLowBalance:
		return "low_balance"
	default:
		return "unknown"
	}
}

func (t TxType) String() string {
	switch t {
	case TxTypeDeploy:
		return "deploy"
	case TxTypeCheckpoint:
		return "checkpoint"
	case TxTypeFeeUpdate:
		return "fee_update"
	default:
		return "unknown"
	}
}

// EndSlotUnstarted is the sentinel EndSlot value meaning the round has not
// yet started; it maps to RoundPhaseWaitingForFirstDeploy regardless of any
// other field (spec boundary: "end_slot == MAX").
const EndSlotUnstarted = ^uint64(0)

// lateWindowThreshold and intermissionSlots are the boundary constants for
// phase computation: below this many slots remaining, new work must not be
// submitted; past end_slot this many slots, the round is considered reset.
const (
	lateWindowThreshold = 20
	intermissionSlots   = 35
)

// ComputeRoundPhase derives RoundPhase from the raw slot fields, per the
// boundary rules in spec.md §3 and §8: slots_remaining == 20 is still
// DeploymentWindow; 19 tips into LateDeploymentWindow; current == end is
// Intermission{0} exactly.
func ComputeRoundPhase(startSlot, endSlot, currentSlot uint64) RoundPhase {
	if endSlot == EndSlotUnstarted {
		return RoundPhase{kind: RoundPhaseWaitingForFirstDeploy}
	}

	if currentSlot < endSlot {
		remaining := endSlot - currentSlot
		if remaining >= lateWindowThreshold {
			return RoundPhase{kind: RoundPhaseDeploymentWindow, slotsRemaining: remaining}
		}
		return RoundPhase{kind: RoundPhaseLateDeploymentWindow, slotsRemaining: remaining}
	}

	into := currentSlot - endSlot
	if into < intermissionSlots {
		return RoundPhase{kind: RoundPhaseIntermission, slotsIntoIntermission: into}
	}
	return RoundPhase{kind: RoundPhaseWaitingForReset}
}

func (p RoundPhase) Kind() RoundPhaseKind { return p.kind }

func (p RoundPhase) SlotsRemaining() uint64 { return p.slotsRemaining }

func (p RoundPhase) SlotsIntoIntermission() uint64 { return p.slotsIntoIntermission }

// PermitsDeploy reports whether new deploy work may be submitted in this
// phase: only WaitingForFirstDeploy or DeploymentWindow qualify.
func (p RoundPhase) PermitsDeploy() bool {
	return p.kind == RoundPhaseWaitingForFirstDeploy || p.kind == RoundPhaseDeploymentWindow
}

func (k RoundPhaseKind) String() string {
	switch k {
	case RoundPhaseWaitingForFirstDeploy:
		return "waiting_for_first_deploy"
	case RoundPhaseDeploymentWindow:
		return "deployment_window"
	case RoundPhaseLateDeploymentWindow:
		return "late_deployment_window"
	case RoundPhaseIntermission:
		return "intermission"
	case RoundPhaseWaitingForReset:
		return "waiting_for_reset"
	default:
		return "unknown"
	}
}

// MaxRetries bounds MinerTask.RetryCount; a task observed above this at any
// channel crossing is a bug (see the universal invariant in spec.md §8).
const MaxRetries = 3
