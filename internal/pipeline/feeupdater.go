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

// FeeUpdaterBatchSize and FeeUpdaterFlushInterval are the batching limits
// for UpdateDeployer transactions (spec.md §4.5: 10 tasks or 5 seconds).
const (
	FeeUpdaterBatchSize     = 10
	FeeUpdaterFlushInterval = 5 * time.Second
)

// feeUpdateJob is one microbatch job: a task awaiting inclusion in an
// UpdateDeployer transaction. err is set by the batch processor only when
// the batch as a whole failed to compile, sign, or be handed off — a
// per-task confirmation outcome is resolved later, downstream, by the
// Confirmation Tracker and Failure Handler via the BatchedTx they share.
type feeUpdateJob struct {
	task MinerTask
	err  error
}

// FeeUpdater batches stale-fee MinerTasks into UpdateDeployer transactions
// and hands each batch to the Transaction Processor. It does not itself
// await confirmation (spec.md §4.5).
type FeeUpdater struct {
	channels *Channels
	client   *rpcclient.Client
	keys     *keypair.Keypair
	log      *logiface.Logger[logiface.Event]
	stats    *stats.Stats

	batcher *microbatch.Batcher[*feeUpdateJob]
}

// NewFeeUpdater constructs a FeeUpdater and starts its batching goroutine.
func NewFeeUpdater(ch *Channels, client *rpcclient.Client, keys *keypair.Keypair, log *logiface.Logger[logiface.Event], st *stats.Stats) *FeeUpdater {
	f := &FeeUpdater{channels: ch, client: client, keys: keys, log: log, stats: st}
	f.batcher = microbatch.NewBatcher(&microbatch.BatcherConfig{
		MaxSize:        FeeUpdaterBatchSize,
		FlushInterval:  FeeUpdaterFlushInterval,
		MaxConcurrency: 1,
	}, f.process)
	return f
}

// Run pulls tasks off FeeUpdaterIn and submits them to the batcher until
// ctx is canceled.
func (f *FeeUpdater) Run(ctx context.Context) {
	defer f.batcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.channels.Shutdown:
			return
		case task, ok := <-f.channels.FeeUpdaterIn:
			if !ok {
				return
			}
			result, err := f.batcher.Submit(ctx, &feeUpdateJob{task: task})
			if err != nil {
				continue
			}
			go f.awaitSubmit(ctx, result)
		}
	}
}

// awaitSubmit only handles the batch-level failure path: if the batch
// never made it onto TxProcessorIn (compile/sign/blockhash error), the task
// bounces straight back to Fee Check with an incremented retry, since no
// signature exists for the Failure Handler to act on.
func (f *FeeUpdater) awaitSubmit(ctx context.Context, result *microbatch.JobResult[*feeUpdateJob]) {
	if err := result.Wait(ctx); err != nil {
		result.Job.err = err
	}
	if result.Job.err == nil {
		return
	}

	task := result.Job.task
	task.RetryCount++
	if task.RetryCount > MaxRetries {
		f.stats.RecordSkipMaxRetries()
		return
	}
	select {
	case f.channels.FeeCheckIn <- task:
	case <-ctx.Done():
	}
}

// process is the microbatch.BatchProcessor: it compiles and signs a single
// UpdateDeployer-per-miner transaction for the batch and forwards it to the
// Transaction Processor.
func (f *FeeUpdater) process(ctx context.Context, jobs []*feeUpdateJob) error {
	if len(jobs) == 0 {
		return nil
	}

	instructions := make([]wire.Instruction, 0, len(jobs)+1)
	instructions = append(instructions, program.SetComputeUnitLimit(uint32(len(jobs))*20000))

	tasks := make([]MinerTask, 0, len(jobs))
	for _, j := range jobs {
		d := j.task.Deployer
		instructions = append(instructions, program.UpdateDeployer(
			f.keys.Public, d.Manager, d.Address, f.keys.Public,
			uint64(d.MaxFeeBps), RequiredFlatFee, uint64(d.MaxFeeBps), d.ExpectedFlatFee, uint64(d.DeployCapPerRound),
		))
		tasks = append(tasks, j.task)
	}

	blockhash, err := f.client.GetLatestBlockhash(ctx)
	if err != nil {
		setAll(jobs, err)
		return err
	}

	msg, err := wire.CompileMessageV0(f.keys.Public, instructions, blockhash, nil)
	if err != nil {
		setAll(jobs, err)
		return err
	}

	tx := wire.NewTransaction(msg)
	if err := tx.Sign(f.keys.Private); err != nil {
		setAll(jobs, err)
		return err
	}

	batch := &BatchedTx{
		Type:      TxTypeFeeUpdate,
		RoundID:   tasks[0].RoundID,
		Tasks:     tasks,
		Tx:        tx,
		Signature: tx.FirstSignature(),
		CreatedAt: time.Now(),
	}

	select {
	case f.channels.TxProcessorIn <- batch:
	case <-ctx.Done():
		setAll(jobs, ctx.Err())
		return ctx.Err()
	}

	f.stats.FeeUpdatesSent.Add(1)
	return nil
}

func setAll(jobs []*feeUpdateJob, err error) {
	for _, j := range jobs {
		j.err = err
	}
}
