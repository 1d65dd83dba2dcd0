package pipeline

import (
	"context"

	"github.com/evore-labs/deploycrank/internal/wire"
)

// MinDeployBalance is the minimum authority-PDA lamport balance required
// before a deploy is attempted (spec.md §3, §4.8).
const MinDeployBalance = 10_000_000

// cacheReader is the narrow read path DeploymentCheck needs from the Miner
// Cache (spec.md §4.8); satisfied directly by *minercache.Cache plus a
// thin AuthBalance accessor.
type cacheReader interface {
	HasDeployedInRound(addr wire.Pubkey, round uint64) bool
	NeedsCheckpoint(addr wire.Pubkey) (uint64, bool)
	AuthBalance(addr wire.Pubkey) (uint64, bool)
}

// statsSink is the narrow counter-increment surface DeploymentCheck needs.
type statsSink interface {
	RecordSkipAlreadyDeployed()
	RecordSkipMaxRetries()
	RecordSkipLowBalance()
	RecordSkipNoSlots()
}

// phaseReader is the narrow read path DeploymentCheck needs from the
// Board-State Monitor: the latest phase, to enforce spec.md §4.8's first
// decision-table row ("board phase does not permit deploys -> skip").
type phaseReader interface {
	Snapshot() BoardState
}

// DeploymentCheck evaluates each MinerTask against the decision table in
// spec.md §4.8: a board phase that doesn't permit new deploys drops the
// task first; already-deployed and retry-exceeded tasks are dropped next
// with the matching skip reason; sufficiently-funded miners go to the
// Deployer Batcher (carrying a checkpoint round id if one is owed); miners
// owing only a checkpoint (insufficient balance to deploy) go to the
// Checkpoint Batcher; everything else is a low-balance skip. A fan-out pool
// of workers shares one receiver, since evaluation does no I/O beyond cache
// and board-state reads.
type DeploymentCheck struct {
	channels *Channels
	cache    cacheReader
	stats    statsSink
	board    phaseReader
}

// NewDeploymentCheck constructs a DeploymentCheck stage.
func NewDeploymentCheck(ch *Channels, cache cacheReader, st statsSink, board phaseReader) *DeploymentCheck {
	return &DeploymentCheck{channels: ch, cache: cache, stats: st, board: board}
}

// RunWorkers starts n goroutines sharing DeploymentCheckIn — the only
// stage in the pipeline with more than one concurrent receiver, per
// SPEC_FULL.md's [4.8] supplement. Workers are interchangeable: evaluate
// does no I/O beyond cache and board-state reads, so no worker identity is
// needed in logs (see DESIGN.md for why goroutineid isn't wired here).
func (d *DeploymentCheck) RunWorkers(ctx context.Context, n int) {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		go d.runWorker(ctx)
	}
}

func (d *DeploymentCheck) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.channels.Shutdown:
			return
		case task, ok := <-d.channels.DeploymentCheckIn:
			if !ok {
				return
			}
			d.evaluate(ctx, task)
		}
	}
}

func (d *DeploymentCheck) evaluate(ctx context.Context, task MinerTask) {
	if d.board != nil && !d.board.Snapshot().Phase.PermitsDeploy() {
		d.stats.RecordSkipNoSlots()
		return
	}

	if d.cache.HasDeployedInRound(task.Deployer.Address, task.RoundID) {
		d.stats.RecordSkipAlreadyDeployed()
		return
	}

	if task.RetryCount > MaxRetries {
		d.stats.RecordSkipMaxRetries()
		return
	}

	checkpointRound, needsCheckpoint := d.cache.NeedsCheckpoint(task.Deployer.Address)

	balance, _ := d.cache.AuthBalance(task.Deployer.Address)
	if balance >= MinDeployBalance {
		task.NeedsCheckpoint = needsCheckpoint
		task.CheckpointRoundID = checkpointRound
		d.send(ctx, d.channels.DeployerBatcherIn, task)
		return
	}

	if needsCheckpoint {
		task.NeedsCheckpoint = true
		task.CheckpointRoundID = checkpointRound
		d.send(ctx, d.channels.CheckpointBatcherIn, task)
		return
	}

	d.stats.RecordSkipLowBalance()
}

func (d *DeploymentCheck) send(ctx context.Context, target chan MinerTask, task MinerTask) {
	select {
	case target <- task:
	case <-ctx.Done():
	}
}
