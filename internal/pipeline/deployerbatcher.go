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

// DeployerBatcherBatchSize and DeployerBatcherFlushInterval are the
// batching limits for deploy transactions (spec.md §4.9: 7 tasks or 5
// seconds — 7 miners is the largest batch that fits the 1232-byte message
// limit with one LUT per miner plus the shared table).
const (
	DeployerBatcherBatchSize     = 7
	DeployerBatcherFlushInterval = 5 * time.Second

	// DeployComputeUnitLimit is the fixed compute budget for a deploy
	// transaction, equal to the network's 1.4M CU ceiling (spec.md §3).
	DeployComputeUnitLimit = 1_400_000
)

type deployJob struct {
	task MinerTask
	err  error
}

// messageCompiler is the narrow surface DeployerBatcher and
// CheckpointBatcher need from the LUT Registry to compile a
// lookup-table-compressed message (spec.md §4.3, §4.9).
type messageCompiler interface {
	CompileMessage(ctx context.Context, payer wire.Pubkey, instructions []wire.Instruction, recentBlockhash [32]byte, authorities []wire.Pubkey) (*wire.MessageV0, error)
}

// RoundContext supplies the fixed accounts every deploy or checkpoint
// instruction needs beyond the per-task ones: the round PDA (round-scoped),
// the process-static board, config, and entropy-variable PDAs, and a
// per-authority automation PDA deriver.
type RoundContext func() (roundPDA, boardPDA, configPDA, entropyPDA wire.Pubkey, automationPDAFor func(wire.Pubkey) wire.Pubkey)

// DeployerBatcher batches eligible MinerTasks into deploy transactions,
// choosing full_autodeploy (checkpoint + claim + deploy) over plain
// autodeploy per task when NeedsCheckpoint is set, and forwards each
// compiled batch to the Transaction Processor (spec.md §4.9).
type DeployerBatcher struct {
	channels    *Channels
	client      *rpcclient.Client
	registry    messageCompiler
	keys        *keypair.Keypair
	priorityFee uint64
	roundCtx    RoundContext
	log         *logiface.Logger[logiface.Event]
	stats       *stats.Stats
	batcher     *microbatch.Batcher[*deployJob]
}

// NewDeployerBatcher constructs a DeployerBatcher and starts its batching
// goroutine.
func NewDeployerBatcher(
	ch *Channels,
	client *rpcclient.Client,
	registry messageCompiler,
	keys *keypair.Keypair,
	priorityFee uint64,
	roundCtx RoundContext,
	log *logiface.Logger[logiface.Event],
	st *stats.Stats,
) *DeployerBatcher {
	d := &DeployerBatcher{channels: ch, client: client, registry: registry, keys: keys, priorityFee: priorityFee, roundCtx: roundCtx, log: log, stats: st}
	d.batcher = microbatch.NewBatcher(&microbatch.BatcherConfig{
		MaxSize:        DeployerBatcherBatchSize,
		FlushInterval:  DeployerBatcherFlushInterval,
		MaxConcurrency: 1,
	}, d.process)
	return d
}

// Run pulls tasks off DeployerBatcherIn and submits them to the batcher
// until ctx is canceled.
func (d *DeployerBatcher) Run(ctx context.Context) {
	defer d.batcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.channels.Shutdown:
			return
		case task, ok := <-d.channels.DeployerBatcherIn:
			if !ok {
				return
			}
			result, err := d.batcher.Submit(ctx, &deployJob{task: task})
			if err != nil {
				continue
			}
			go d.awaitSubmit(ctx, result)
		}
	}
}

func (d *DeployerBatcher) awaitSubmit(ctx context.Context, result *microbatch.JobResult[*deployJob]) {
	if err := result.Wait(ctx); err != nil {
		result.Job.err = err
	}
	if result.Job.err == nil {
		return
	}
	task := result.Job.task
	task.RetryCount++
	if task.RetryCount > MaxRetries {
		d.stats.RecordSkipMaxRetries()
		return
	}
	select {
	case d.channels.DeploymentCheckIn <- task:
	case <-ctx.Done():
	}
}

func (d *DeployerBatcher) process(ctx context.Context, jobs []*deployJob) error {
	if len(jobs) == 0 {
		return nil
	}

	roundPDA, boardPDA, configPDA, entropyPDA, automationPDAFor := d.roundCtx()

	instructions := make([]wire.Instruction, 0, len(jobs)+2)
	instructions = append(instructions, program.SetComputeUnitLimit(DeployComputeUnitLimit))
	instructions = append(instructions, program.SetComputeUnitPrice(d.priorityFee))

	authorities := make([]wire.Pubkey, 0, len(jobs))
	tasks := make([]MinerTask, 0, len(jobs))

	for _, j := range jobs {
		t := j.task
		automationPDA := automationPDAFor(t.AuthorityAddress)

		if t.NeedsCheckpoint {
			checkpointRoundPDA, _, err := program.DeriveRoundPDA(program.DeployProgramID(), t.CheckpointRoundID)
			if err != nil {
				j.err = err
				continue
			}
			accounts := program.AccountsFullAutodeploy(d.keys.Public, t.Deployer.Manager, t.Deployer.Address, t.AuthorityAddress, t.MinerAddress, automationPDA, configPDA, boardPDA, roundPDA, checkpointRoundPDA, entropyPDA)
			instructions = append(instructions, program.FullAutodeploy(accounts, t.Deployer.AuthID))
		} else {
			accounts := program.AccountsAutodeploy(d.keys.Public, t.Deployer.Manager, t.Deployer.Address, t.AuthorityAddress, t.MinerAddress, automationPDA, configPDA, boardPDA, roundPDA, entropyPDA)
			instructions = append(instructions, program.Autodeploy(accounts, t.Deployer.AuthID))
		}

		authorities = append(authorities, t.AuthorityAddress)
		tasks = append(tasks, t)
	}

	if len(tasks) == 0 {
		return nil
	}

	blockhash, err := d.client.GetLatestBlockhash(ctx)
	if err != nil {
		setAllDeploy(jobs, err)
		return err
	}

	msg, err := d.registry.CompileMessage(ctx, d.keys.Public, instructions, blockhash, authorities)
	if err != nil {
		setAllDeploy(jobs, err)
		return err
	}

	tx := wire.NewTransaction(msg)
	if err := tx.Sign(d.keys.Private); err != nil {
		setAllDeploy(jobs, err)
		return err
	}

	batch := &BatchedTx{
		Type:      TxTypeDeploy,
		RoundID:   tasks[0].RoundID,
		Tasks:     tasks,
		Tx:        tx,
		Signature: tx.FirstSignature(),
		CreatedAt: time.Now(),
	}

	select {
	case d.channels.TxProcessorIn <- batch:
	case <-ctx.Done():
		setAllDeploy(jobs, ctx.Err())
		return ctx.Err()
	}

	d.stats.DeploysSent.Add(1)
	return nil
}

func setAllDeploy(jobs []*deployJob, err error) {
	for _, j := range jobs {
		j.err = err
	}
}
