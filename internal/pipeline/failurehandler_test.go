package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evore-labs/deploycrank/internal/wire"
)

type fakeMinerRefresher struct {
	refreshed []wire.Pubkey
	err       error
}

func (f *fakeMinerRefresher) RefreshSingle(ctx context.Context, deployer DeployerInfo, currentRoundID uint64) error {
	f.refreshed = append(f.refreshed, deployer.Address)
	return f.err
}

func TestParseCulpritIndex(t *testing.T) {
	idx, ok := parseCulpritIndex("Error processing Instruction 3: custom program error: 0x1")
	assert.True(t, ok)
	assert.Equal(t, 3, idx)

	idx, ok = parseCulpritIndex("instruction 0 failed")
	assert.True(t, ok)
	assert.Equal(t, 0, idx)

	_, ok = parseCulpritIndex("Timeout")
	assert.False(t, ok)

	_, ok = parseCulpritIndex("")
	assert.False(t, ok)
}

func TestComputeBudgetPreambleForType(t *testing.T) {
	assert.Equal(t, 2, computeBudgetPreambleForType(TxTypeDeploy))
	assert.Equal(t, 1, computeBudgetPreambleForType(TxTypeCheckpoint))
	assert.Equal(t, 1, computeBudgetPreambleForType(TxTypeFeeUpdate))
}

func TestFailureHandler_CulpritIsolation_DeployBatch(t *testing.T) {
	ch := NewChannels()
	cache := &fakeMinerRefresher{}
	fh := NewFailureHandler(ch, cache, nil)

	peer0 := newTestTask(1)
	culprit := newTestTask(2) // at batch position 1: instruction index 3 minus a 2-instruction preamble
	peer2 := newTestTask(3)

	failed := &FailedBatch{
		Type:      TxTypeDeploy,
		RoundID:   7,
		Tasks:     []MinerTask{peer0, culprit, peer2},
		ErrorText: "Error processing Instruction 3: custom program error",
	}

	fh.handle(context.Background(), failed)

	select {
	case got := <-ch.FeeCheckIn:
		assert.Equal(t, culprit.Deployer.Address, got.Deployer.Address, "only the culprit miner should be refreshed and sent back to Fee Check")
		assert.Equal(t, 1, got.RetryCount)
	default:
		t.Fatal("expected the culprit to be requeued at Fee Check")
	}

	assert.Len(t, cache.refreshed, 1)
	assert.Equal(t, culprit.Deployer.Address, cache.refreshed[0])

	fastRetried := map[wire.Pubkey]bool{}
	for i := 0; i < 2; i++ {
		select {
		case got := <-ch.DeploymentCheckIn:
			fastRetried[got.Deployer.Address] = true
			assert.Equal(t, 1, got.RetryCount)
		default:
			t.Fatalf("expected %d peers fast-retried at Deployment Check, got %d", 2, i)
		}
	}
	assert.True(t, fastRetried[peer0.Deployer.Address])
	assert.True(t, fastRetried[peer2.Deployer.Address])
}

func TestFailureHandler_NoCulprit_RefreshesAll(t *testing.T) {
	ch := NewChannels()
	cache := &fakeMinerRefresher{}
	fh := NewFailureHandler(ch, cache, nil)

	t1 := newTestTask(1)
	t2 := newTestTask(2)

	failed := &FailedBatch{
		Type:      TxTypeCheckpoint,
		RoundID:   7,
		Tasks:     []MinerTask{t1, t2},
		ErrorText: "Timeout",
	}

	fh.handle(context.Background(), failed)

	assert.Len(t, cache.refreshed, 2)
	for i := 0; i < 2; i++ {
		select {
		case <-ch.FeeCheckIn:
		default:
			t.Fatalf("expected both tasks requeued at Fee Check when no culprit is identifiable")
		}
	}
}

func TestFailureHandler_RetryExceeded_Dropped(t *testing.T) {
	ch := NewChannels()
	cache := &fakeMinerRefresher{}
	fh := NewFailureHandler(ch, cache, nil)

	task := newTestTask(1)
	task.RetryCount = MaxRetries - 1

	failed := &FailedBatch{Type: TxTypeFeeUpdate, Tasks: []MinerTask{task}, ErrorText: "Timeout"}
	fh.handle(context.Background(), failed)

	select {
	case got := <-ch.FeeCheckIn:
		assert.Equal(t, MaxRetries, got.RetryCount)
	default:
		t.Fatal("a task one below MaxRetries is requeued once more, reaching MaxRetries")
	}

	// a task already at MaxRetries is pushed past it and dropped, not requeued.
	task.RetryCount = MaxRetries
	failed = &FailedBatch{Type: TxTypeFeeUpdate, Tasks: []MinerTask{task}, ErrorText: "Timeout"}
	fh.handle(context.Background(), failed)

	select {
	case <-ch.FeeCheckIn:
		t.Fatal("a task at MaxRetries must be dropped, not requeued")
	default:
	}
}
