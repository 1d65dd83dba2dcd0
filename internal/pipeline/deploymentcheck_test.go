package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evore-labs/deploycrank/internal/wire"
)

type fakeCacheReader struct {
	deployedInRound map[wire.Pubkey]bool
	checkpointRound map[wire.Pubkey]uint64
	needsCheckpoint map[wire.Pubkey]bool
	balance         map[wire.Pubkey]uint64
}

func newFakeCacheReader() *fakeCacheReader {
	return &fakeCacheReader{
		deployedInRound: map[wire.Pubkey]bool{},
		checkpointRound: map[wire.Pubkey]uint64{},
		needsCheckpoint: map[wire.Pubkey]bool{},
		balance:         map[wire.Pubkey]uint64{},
	}
}

func (f *fakeCacheReader) HasDeployedInRound(addr wire.Pubkey, round uint64) bool {
	return f.deployedInRound[addr]
}

func (f *fakeCacheReader) NeedsCheckpoint(addr wire.Pubkey) (uint64, bool) {
	return f.checkpointRound[addr], f.needsCheckpoint[addr]
}

func (f *fakeCacheReader) AuthBalance(addr wire.Pubkey) (uint64, bool) {
	b, ok := f.balance[addr]
	return b, ok
}

type fakeStatsSink struct {
	skipAlreadyDeployed int
	skipMaxRetries      int
	skipLowBalance      int
	skipNoSlots         int
}

func (f *fakeStatsSink) RecordSkipAlreadyDeployed() { f.skipAlreadyDeployed++ }
func (f *fakeStatsSink) RecordSkipMaxRetries()      { f.skipMaxRetries++ }
func (f *fakeStatsSink) RecordSkipLowBalance()      { f.skipLowBalance++ }
func (f *fakeStatsSink) RecordSkipNoSlots()         { f.skipNoSlots++ }

type fakeBoardReader struct {
	state BoardState
}

func newFakeBoardReader(permits bool) *fakeBoardReader {
	kind := RoundPhaseDeploymentWindow
	if !permits {
		kind = RoundPhaseIntermission
	}
	return &fakeBoardReader{state: BoardState{Phase: RoundPhase{kind: kind, slotsRemaining: 100}}}
}

func (f *fakeBoardReader) Snapshot() BoardState { return f.state }

func newTestTask(addr byte) MinerTask {
	var p wire.Pubkey
	p[0] = addr
	return MinerTask{
		Deployer:  DeployerInfo{Address: p},
		RoundID:   7,
		CreatedAt: time.Now(),
	}
}

func TestDeploymentCheck_AlreadyDeployedSkips(t *testing.T) {
	ch := NewChannels()
	cache := newFakeCacheReader()
	stats := &fakeStatsSink{}
	dc := NewDeploymentCheck(ch, cache, stats, newFakeBoardReader(true))

	task := newTestTask(1)
	cache.deployedInRound[task.Deployer.Address] = true

	dc.evaluate(context.Background(), task)

	assert.Equal(t, 1, stats.skipAlreadyDeployed)
	select {
	case <-ch.DeployerBatcherIn:
		t.Fatal("already-deployed task must not reach the Deployer Batcher")
	case <-ch.CheckpointBatcherIn:
		t.Fatal("already-deployed task must not reach the Checkpoint Batcher")
	default:
	}
}

func TestDeploymentCheck_RetryExceededSkips(t *testing.T) {
	ch := NewChannels()
	cache := newFakeCacheReader()
	stats := &fakeStatsSink{}
	dc := NewDeploymentCheck(ch, cache, stats, newFakeBoardReader(true))

	task := newTestTask(2)
	task.RetryCount = MaxRetries + 1

	dc.evaluate(context.Background(), task)

	assert.Equal(t, 1, stats.skipMaxRetries)
}

func TestDeploymentCheck_SufficientBalanceGoesToDeployer(t *testing.T) {
	ch := NewChannels()
	cache := newFakeCacheReader()
	stats := &fakeStatsSink{}
	dc := NewDeploymentCheck(ch, cache, stats, newFakeBoardReader(true))

	task := newTestTask(3)
	cache.balance[task.Deployer.Address] = MinDeployBalance
	cache.needsCheckpoint[task.Deployer.Address] = true
	cache.checkpointRound[task.Deployer.Address] = 6

	dc.evaluate(context.Background(), task)

	select {
	case got := <-ch.DeployerBatcherIn:
		assert.True(t, got.NeedsCheckpoint)
		assert.Equal(t, uint64(6), got.CheckpointRoundID)
		assert.LessOrEqual(t, got.CheckpointRoundID, got.RoundID, "checkpoint_id must never exceed round_id")
	default:
		t.Fatal("sufficiently funded task must reach the Deployer Batcher")
	}

	select {
	case <-ch.CheckpointBatcherIn:
		t.Fatal("a task routed to the Deployer Batcher must not also reach the Checkpoint Batcher (mutual exclusion)")
	default:
	}
}

func TestDeploymentCheck_InsufficientBalanceWithOwedCheckpointGoesToCheckpoint(t *testing.T) {
	ch := NewChannels()
	cache := newFakeCacheReader()
	stats := &fakeStatsSink{}
	dc := NewDeploymentCheck(ch, cache, stats, newFakeBoardReader(true))

	task := newTestTask(4)
	cache.balance[task.Deployer.Address] = MinDeployBalance - 1
	cache.needsCheckpoint[task.Deployer.Address] = true
	cache.checkpointRound[task.Deployer.Address] = 7

	dc.evaluate(context.Background(), task)

	select {
	case got := <-ch.CheckpointBatcherIn:
		assert.True(t, got.NeedsCheckpoint)
		assert.Equal(t, uint64(7), got.CheckpointRoundID)
	default:
		t.Fatal("low-balance task owing a checkpoint must reach the Checkpoint Batcher")
	}

	select {
	case <-ch.DeployerBatcherIn:
		t.Fatal("a task routed to the Checkpoint Batcher must not also reach the Deployer Batcher (mutual exclusion)")
	default:
	}
}

func TestDeploymentCheck_InsufficientBalanceNoCheckpointSkips(t *testing.T) {
	ch := NewChannels()
	cache := newFakeCacheReader()
	stats := &fakeStatsSink{}
	dc := NewDeploymentCheck(ch, cache, stats, newFakeBoardReader(true))

	task := newTestTask(5)
	cache.balance[task.Deployer.Address] = MinDeployBalance - 1

	dc.evaluate(context.Background(), task)

	assert.Equal(t, 1, stats.skipLowBalance)
}

func TestDeploymentCheck_PhaseDisallowsDeploySkips(t *testing.T) {
	ch := NewChannels()
	cache := newFakeCacheReader()
	stats := &fakeStatsSink{}
	dc := NewDeploymentCheck(ch, cache, stats, newFakeBoardReader(false))

	task := newTestTask(6)
	cache.balance[task.Deployer.Address] = MinDeployBalance

	dc.evaluate(context.Background(), task)

	assert.Equal(t, 1, stats.skipNoSlots)
	select {
	case <-ch.DeployerBatcherIn:
		t.Fatal("a task evaluated outside the deploy window must not reach the Deployer Batcher")
	case <-ch.CheckpointBatcherIn:
		t.Fatal("a task evaluated outside the deploy window must not reach the Checkpoint Batcher")
	default:
	}
}

func TestDeploymentCheck_RunWorkers_SharesOneReceiver(t *testing.T) {
	ch := NewChannels()
	cache := newFakeCacheReader()
	stats := &fakeStatsSink{}
	dc := NewDeploymentCheck(ch, cache, stats, newFakeBoardReader(true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dc.RunWorkers(ctx, 4)

	for i := byte(0); i < 10; i++ {
		task := newTestTask(i + 10)
		cache.balance[task.Deployer.Address] = MinDeployBalance
		ch.DeploymentCheckIn <- task
	}

	deadline := time.After(2 * time.Second)
	received := 0
	for received < 10 {
		select {
		case <-ch.DeployerBatcherIn:
			received++
		case <-deadline:
			require.FailNow(t, "expected all 10 tasks to be processed by the shared worker pool")
		}
	}
}
