package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evore-labs/deploycrank/internal/rpcclient"
	"github.com/evore-labs/deploycrank/internal/stats"
	"github.com/evore-labs/deploycrank/internal/wire"
)

type fakeMessageCompiler struct {
	err            error
	lastAuthorities []wire.Pubkey
}

func (f *fakeMessageCompiler) CompileMessage(ctx context.Context, payer wire.Pubkey, instructions []wire.Instruction, recentBlockhash [32]byte, authorities []wire.Pubkey) (*wire.MessageV0, error) {
	f.lastAuthorities = authorities
	if f.err != nil {
		return nil, f.err
	}
	return wire.CompileMessageV0(payer, instructions, recentBlockhash, nil)
}

func testRoundCtx() RoundContext {
	var roundPDA, boardPDA, configPDA, entropyPDA wire.Pubkey
	roundPDA[0], boardPDA[0], configPDA[0], entropyPDA[0] = 1, 2, 3, 4
	return func() (wire.Pubkey, wire.Pubkey, wire.Pubkey, wire.Pubkey, func(wire.Pubkey) wire.Pubkey) {
		return roundPDA, boardPDA, configPDA, entropyPDA, func(authority wire.Pubkey) wire.Pubkey {
			return authority
		}
	}
}

func TestDeployerBatcher_Process_ChecksNeedsCheckpointPerTask(t *testing.T) {
	srv := blockhashServer(t, false)
	defer srv.Close()

	ch := NewChannels()
	client := rpcclient.New(srv.URL)
	registry := &fakeMessageCompiler{}
	keys := testKeypair(t)
	st := stats.New(time.Now())
	db := NewDeployerBatcher(ch, client, registry, keys, 1000, testRoundCtx(), nil, st)
	defer db.batcher.Close()

	plain := newLUTTestTask(1)
	withCheckpoint := newLUTTestTask(2)
	withCheckpoint.NeedsCheckpoint = true
	withCheckpoint.CheckpointRoundID = 6

	err := db.process(context.Background(), []*deployJob{{task: plain}, {task: withCheckpoint}})
	require.NoError(t, err)

	select {
	case batch := <-ch.TxProcessorIn:
		assert.Equal(t, TxTypeDeploy, batch.Type)
		assert.Len(t, batch.Tasks, 2)
	default:
		t.Fatal("a successfully compiled deploy batch must reach the Transaction Processor")
	}
	assert.Len(t, registry.lastAuthorities, 2, "every task's authority must be forwarded for lookup-table resolution")
}

func TestDeployerBatcher_Process_CompileFailureMarksJobsErrored(t *testing.T) {
	srv := blockhashServer(t, false)
	defer srv.Close()

	ch := NewChannels()
	client := rpcclient.New(srv.URL)
	registry := &fakeMessageCompiler{err: errors.New("compile failed")}
	keys := testKeypair(t)
	st := stats.New(time.Now())
	db := NewDeployerBatcher(ch, client, registry, keys, 1000, testRoundCtx(), nil, st)
	defer db.batcher.Close()

	jobs := []*deployJob{{task: newLUTTestTask(1)}}
	err := db.process(context.Background(), jobs)
	assert.Error(t, err)
	assert.Error(t, jobs[0].err)

	select {
	case <-ch.TxProcessorIn:
		t.Fatal("a batch that failed to compile must never reach the Transaction Processor")
	default:
	}
}

func TestDeployerBatcher_AwaitSubmit_RetryRoutesToDeploymentCheck(t *testing.T) {
	srv := blockhashServer(t, true)
	defer srv.Close()

	ch := NewChannels()
	client := rpcclient.New(srv.URL)
	registry := &fakeMessageCompiler{}
	keys := testKeypair(t)
	st := stats.New(time.Now())
	db := NewDeployerBatcher(ch, client, registry, keys, 1000, testRoundCtx(), nil, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go db.Run(ctx)

	ch.DeployerBatcherIn <- newLUTTestTask(1)

	select {
	case got := <-ch.DeploymentCheckIn:
		assert.Equal(t, 1, got.RetryCount)
	case <-time.After(DeployerBatcherFlushInterval + 2*time.Second):
		t.Fatal("expected the task to be requeued at Deployment Check after the deploy batch's blockhash fetch failed")
	}
}
