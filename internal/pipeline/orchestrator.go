package pipeline

import (
	"context"
	"time"

	"github.com/joeycumines/logiface"

	"github.com/evore-labs/deploycrank/internal/boardstate"
	"github.com/evore-labs/deploycrank/internal/keypair"
	"github.com/evore-labs/deploycrank/internal/ledger"
	"github.com/evore-labs/deploycrank/internal/lutregistry"
	"github.com/evore-labs/deploycrank/internal/minercache"
	"github.com/evore-labs/deploycrank/internal/program"
	"github.com/evore-labs/deploycrank/internal/rpcclient"
	"github.com/evore-labs/deploycrank/internal/stats"
	"github.com/evore-labs/deploycrank/internal/wire"
)

// Orchestrator owns every stage goroutine, the shared channels, and the
// round-change driven refresh cycle described across spec.md §2 and §4:
// leaves first (wire, program, miner cache, LUT registry), then the
// board-state monitor, then the stages wired to each other by Channels.
type Orchestrator struct {
	Channels *Channels

	client   *rpcclient.Client
	keys     *keypair.Keypair
	cache    *minercache.Cache
	registry *lutregistry.Registry
	monitor  *boardstate.Monitor
	ledger   *ledger.Ledger
	stats    *stats.Stats
	log      *logiface.Logger[logiface.Event]

	deployers       []DeployerInfo
	boardPDA        wire.Pubkey
	configPDA       wire.Pubkey
	entropyPDA      wire.Pubkey
	deployWorkers   int
	priorityFee     uint64

	feeCheck       *FeeCheck
	feeUpdater     *FeeUpdater
	lutCheck       *LUTCheck
	lutCreation    *LUTCreation
	deploymentCheck *DeploymentCheck
	deployerBatcher *DeployerBatcher
	checkpointBatcher *CheckpointBatcher
	txProcessor    *TxProcessor
	txSender       *TxSender
	confirmation   *ConfirmationTracker
	failureHandler *FailureHandler
}

// Config bundles every dependency the orchestrator needs to wire the
// pipeline, beyond what the caller already constructed at the leaves.
type Config struct {
	// Channels, when set, is shared with a Monitor the caller already
	// constructed (the Monitor needs the same Channels to broadcast
	// RoundChanged). When nil, New allocates a fresh one.
	Channels      *Channels
	Client        *rpcclient.Client
	Keys          *keypair.Keypair
	Cache         *minercache.Cache
	Registry      *lutregistry.Registry
	Monitor       *boardstate.Monitor
	Ledger        *ledger.Ledger
	Stats         *stats.Stats
	Log           *logiface.Logger[logiface.Event]
	BoardPDA      wire.Pubkey
	ConfigPDA     wire.Pubkey
	EntropyPDA    wire.Pubkey
	PriorityFee   uint64
	DeployWorkers int
}

// New constructs an Orchestrator and every stage, but starts nothing.
func New(cfg Config) *Orchestrator {
	ch := cfg.Channels
	if ch == nil {
		ch = NewChannels()
	}

	o := &Orchestrator{
		Channels:      ch,
		client:        cfg.Client,
		keys:          cfg.Keys,
		cache:         cfg.Cache,
		registry:      cfg.Registry,
		monitor:       cfg.Monitor,
		ledger:        cfg.Ledger,
		stats:         cfg.Stats,
		log:           cfg.Log,
		boardPDA:      cfg.BoardPDA,
		configPDA:     cfg.ConfigPDA,
		entropyPDA:    cfg.EntropyPDA,
		deployWorkers: cfg.DeployWorkers,
		priorityFee:   cfg.PriorityFee,
	}
	if o.deployWorkers <= 0 {
		o.deployWorkers = 4
	}

	o.feeCheck = NewFeeCheck(ch, cfg.Log, cfg.Stats)
	o.feeUpdater = NewFeeUpdater(ch, cfg.Client, cfg.Keys, cfg.Log, cfg.Stats)
	o.lutCheck = NewLUTCheck(ch, cfg.Registry)
	o.lutCreation = NewLUTCreation(ch, cfg.Registry, cfg.Keys, cfg.Log)
	o.deploymentCheck = NewDeploymentCheck(ch, cfg.Cache, cfg.Stats, cfg.Monitor)
	o.deployerBatcher = NewDeployerBatcher(ch, cfg.Client, cfg.Registry, cfg.Keys, cfg.PriorityFee, o.roundContext, cfg.Log, cfg.Stats)
	o.checkpointBatcher = NewCheckpointBatcher(ch, cfg.Client, cfg.Registry, cfg.Cache, cfg.Keys, o.roundContext, cfg.Log, cfg.Stats)
	o.txProcessor = NewTxProcessor(ch, cfg.Ledger, cfg.Log)
	o.txSender = NewTxSender(ch, cfg.Client, cfg.Log)
	o.confirmation = NewConfirmationTracker(ch, cfg.Client, cfg.Cache, cfg.Ledger, cfg.Log, cfg.Stats)
	o.failureHandler = NewFailureHandler(ch, cfg.Cache, cfg.Log)

	return o
}

// roundContext supplies the round-scoped accounts every deploy/checkpoint
// instruction needs, read from the board-state monitor's latest snapshot.
func (o *Orchestrator) roundContext() (roundPDA, boardPDA, configPDA, entropyPDA wire.Pubkey, automationPDAFor func(wire.Pubkey) wire.Pubkey) {
	snap := o.monitor.Snapshot()
	return snap.RoundPDA, o.boardPDA, o.configPDA, o.entropyPDA, func(authority wire.Pubkey) wire.Pubkey {
		pda, _, err := program.DeriveAutomationPDA(program.DeployProgramID(), authority)
		if err != nil {
			return wire.Pubkey{}
		}
		return pda
	}
}

// Run starts every stage goroutine and the round-change loop, blocking
// until ctx is canceled.
func (o *Orchestrator) Run(ctx context.Context, deployers []DeployerInfo) {
	o.deployers = deployers

	go o.monitor.Run(ctx)
	go o.feeCheck.Run(ctx)
	go o.feeUpdater.Run(ctx)
	go o.lutCheck.Run(ctx)
	go o.lutCreation.Run(ctx, func() wire.Pubkey { return o.monitor.Snapshot().RoundPDA })
	o.deploymentCheck.RunWorkers(ctx, o.deployWorkers)
	go o.deployerBatcher.Run(ctx)
	go o.checkpointBatcher.Run(ctx)
	go o.txProcessor.Run(ctx)
	go o.txSender.Run(ctx)
	go o.confirmation.Run(ctx)
	go o.failureHandler.Run(ctx)

	o.roundChangeLoop(ctx)
}

// roundChangeLoop refreshes the miner cache on every round-change signal
// and re-submits every deployer as a fresh MinerTask at Fee Check, the
// pipeline's single entry point (spec.md §4.1, §4.4).
func (o *Orchestrator) roundChangeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.Channels.Shutdown:
			return
		case roundID := <-o.Channels.RoundChanged:
			o.onRoundChange(ctx, roundID)
		}
	}
}

func (o *Orchestrator) onRoundChange(ctx context.Context, roundID uint64) {
	if err := o.cache.Refresh(ctx, o.deployers, roundID); err != nil {
		if o.log != nil {
			o.log.Err().Err(err).Log("miner cache refresh failed on round change")
		}
		return
	}

	now := time.Now()
	for _, d := range o.deployers {
		auth, bump, err := program.DeriveMinerAuthorityPDA(program.DeployProgramID(), d.Manager, d.AuthID)
		if err != nil {
			continue
		}
		miner, _, err := program.DeriveMinerPDA(program.DeployProgramID(), auth)
		if err != nil {
			continue
		}

		task := MinerTask{
			Deployer:         d,
			MinerAddress:     miner,
			AuthorityAddress: auth,
			AuthorityBump:    bump,
			RoundID:          roundID,
			CreatedAt:        now,
		}

		select {
		case o.Channels.FeeCheckIn <- task:
		case <-ctx.Done():
			return
		}
	}
}

// Stats returns the shared stats bundle, for the metrics endpoint and the
// round-summary logger.
func (o *Orchestrator) Stats() *stats.Stats { return o.stats }
