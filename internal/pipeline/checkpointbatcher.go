package pipeline

import (
	"context"
	"time"

	"github.com/joeycumines/go-microbatch"
	"github.com/joeycumines/logiface"

	"github.com/evore-labs/deploycrank/internal/keypair"
	"github.com/evore-labs/deploycrank/internal/program"
	"github.com/evore-labs/deploycrank/internal/rpcclient"
	"github.com/evore-labs/deploycrank/internal/stats"
	"github.com/evore-labs/deploycrank/internal/wire"
)

// CheckpointBatcherBatchSize and CheckpointBatcherFlushInterval are the
// batching limits for checkpoint-only transactions (spec.md §4.10: 5 tasks
// or 5 seconds).
const (
	CheckpointBatcherBatchSize     = 5
	CheckpointBatcherFlushInterval = 5 * time.Second

	// checkpointComputeUnitsPerMiner is the fixed per-miner compute budget
	// component for a checkpoint-only transaction (spec.md §4.10).
	checkpointComputeUnitsPerMiner = 150_000
)

// solRecycleChecker is the read path the Checkpoint Batcher needs to decide
// whether to opportunistically sweep a miner's accumulated SOL rewards.
type solRecycleChecker interface {
	HasSOLToRecycle(addr wire.Pubkey) bool
}

type checkpointJob struct {
	task MinerTask
	err  error
}

// CheckpointBatcher batches checkpoint-only MinerTasks, optionally folding
// in a RecycleSOL instruction per miner, and forwards each compiled batch
// to the Transaction Processor (spec.md §4.10).
type CheckpointBatcher struct {
	channels *Channels
	client   *rpcclient.Client
	registry messageCompiler
	recycle  solRecycleChecker
	keys     *keypair.Keypair
	roundCtx RoundContext
	log      *logiface.Logger[logiface.Event]
	stats    *stats.Stats
	batcher  *microbatch.Batcher[*checkpointJob]
}

// NewCheckpointBatcher constructs a CheckpointBatcher and starts its
// batching goroutine.
func NewCheckpointBatcher(
	ch *Channels,
	client *rpcclient.Client,
	registry messageCompiler,
	recycle solRecycleChecker,
	keys *keypair.Keypair,
	roundCtx RoundContext,
	log *logiface.Logger[logiface.Event],
	st *stats.Stats,
) *CheckpointBatcher {
	c := &CheckpointBatcher{channels: ch, client: client, registry: registry, recycle: recycle, keys: keys, roundCtx: roundCtx, log: log, stats: st}
	c.batcher = microbatch.NewBatcher(&microbatch.BatcherConfig{
		MaxSize:        CheckpointBatcherBatchSize,
		FlushInterval:  CheckpointBatcherFlushInterval,
		MaxConcurrency: 1,
	}, c.process)
	return c
}

// Run pulls tasks off CheckpointBatcherIn and submits them to the batcher
// until ctx is canceled.
func (c *CheckpointBatcher) Run(ctx context.Context) {
	defer c.batcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.channels.Shutdown:
			return
		case task, ok := <-c.channels.CheckpointBatcherIn:
			if !ok {
				return
			}
			result, err := c.batcher.Submit(ctx, &checkpointJob{task: task})
			if err != nil {
				continue
			}
			go c.awaitSubmit(ctx, result)
		}
	}
}

func (c *CheckpointBatcher) awaitSubmit(ctx context.Context, result *microbatch.JobResult[*checkpointJob]) {
	if err := result.Wait(ctx); err != nil {
		result.Job.err = err
	}
	if result.Job.err == nil {
		return
	}
	task := result.Job.task
	task.RetryCount++
	if task.RetryCount > MaxRetries {
		c.stats.RecordSkipMaxRetries()
		return
	}
	select {
	case c.channels.DeploymentCheckIn <- task:
	case <-ctx.Done():
	}
}

func (c *CheckpointBatcher) process(ctx context.Context, jobs []*checkpointJob) error {
	if len(jobs) == 0 {
		return nil
	}

	roundPDA, boardPDA, _, _, _ := c.roundCtx()

	instructions := make([]wire.Instruction, 0, len(jobs)*2+1)
	instructions = append(instructions, program.SetComputeUnitLimit(uint32(len(jobs))*checkpointComputeUnitsPerMiner))

	authorities := make([]wire.Pubkey, 0, len(jobs))
	tasks := make([]MinerTask, 0, len(jobs))

	for _, j := range jobs {
		t := j.task
		accounts := program.AccountsAutocheckpoint(c.keys.Public, t.Deployer.Manager, t.Deployer.Address, t.AuthorityAddress, t.MinerAddress, boardPDA, roundPDA)
		instructions = append(instructions, program.Autocheckpoint(accounts, t.Deployer.AuthID, t.AuthorityBump))

		if c.recycle != nil && c.recycle.HasSOLToRecycle(t.Deployer.Address) {
			instructions = append(instructions, program.RecycleSOL(c.keys.Public, t.Deployer.Manager, t.Deployer.Address, t.AuthorityAddress, t.MinerAddress, t.Deployer.AuthID))
		}

		authorities = append(authorities, t.AuthorityAddress)
		tasks = append(tasks, t)
	}

	blockhash, err := c.client.GetLatestBlockhash(ctx)
	if err != nil {
		setAllCheckpoint(jobs, err)
		return err
	}

	msg, err := c.registry.CompileMessage(ctx, c.keys.Public, instructions, blockhash, authorities)
	if err != nil {
		setAllCheckpoint(jobs, err)
		return err
	}

	tx := wire.NewTransaction(msg)
	if err := tx.Sign(c.keys.Private); err != nil {
		setAllCheckpoint(jobs, err)
		return err
	}

	batch := &BatchedTx{
		Type:      TxTypeCheckpoint,
		RoundID:   tasks[0].RoundID,
		Tasks:     tasks,
		Tx:        tx,
		Signature: tx.FirstSignature(),
		CreatedAt: time.Now(),
	}

	select {
	case c.channels.TxProcessorIn <- batch:
	case <-ctx.Done():
		setAllCheckpoint(jobs, ctx.Err())
		return ctx.Err()
	}

	c.stats.CheckpointsSent.Add(1)
	return nil
}

func setAllCheckpoint(jobs []*checkpointJob, err error) {
	for _, j := range jobs {
		j.err = err
	}
}
