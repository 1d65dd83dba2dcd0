package pipeline

// Channel capacity constants, per spec.md §5: miner-task stages get the
// largest buffer since they see the most traffic and cheapest items;
// transaction stages are smaller since items are heavier (signed bytes);
// confirmation sits in between.
const (
	MinerTaskChannelCapacity  = 1000
	TransactionChannelCapacity = 100
	ConfirmationChannelCapacity = 200

	// RoundChangeBroadcastCapacity and ShutdownBroadcastCapacity back the two
	// control-signal broadcast channels. Missed round-change signals are
	// acceptable (only the latest matters); shutdown only ever fires once.
	RoundChangeBroadcastCapacity = 16
	ShutdownBroadcastCapacity    = 1
)

// Channels bundles every queue connecting the pipeline's stages. One
// instance is constructed by the orchestrator and handed piecemeal to stage
// constructors as sender or receiver ends, per §9's "deeply cloned senders
// vs shared receivers": most stages own their receiver outright; only
// Deployment Check's worker pool shares one.
type Channels struct {
	FeeCheckIn        chan MinerTask
	FeeUpdaterIn      chan MinerTask
	LUTCheckIn        chan MinerTask
	LUTCreationIn     chan MinerTask
	DeploymentCheckIn chan MinerTask

	DeployerBatcherIn   chan MinerTask
	CheckpointBatcherIn chan MinerTask

	TxProcessorIn chan *BatchedTx
	TxSenderIn    chan *BatchedTx
	ConfirmIn     chan *PendingConfirmation

	FailureHandlerIn chan *FailedBatch

	RoundChanged chan uint64
	Shutdown     chan struct{}
}

// NewChannels allocates all channels at their documented capacities.
func NewChannels() *Channels {
	return &Channels{
		FeeCheckIn:        make(chan MinerTask, MinerTaskChannelCapacity),
		FeeUpdaterIn:      make(chan MinerTask, MinerTaskChannelCapacity),
		LUTCheckIn:        make(chan MinerTask, MinerTaskChannelCapacity),
		LUTCreationIn:     make(chan MinerTask, MinerTaskChannelCapacity),
		DeploymentCheckIn: make(chan MinerTask, MinerTaskChannelCapacity),

		DeployerBatcherIn:   make(chan MinerTask, MinerTaskChannelCapacity),
		CheckpointBatcherIn: make(chan MinerTask, MinerTaskChannelCapacity),

		TxProcessorIn: make(chan *BatchedTx, TransactionChannelCapacity),
		TxSenderIn:    make(chan *BatchedTx, TransactionChannelCapacity),
		ConfirmIn:     make(chan *PendingConfirmation, ConfirmationChannelCapacity),

		FailureHandlerIn: make(chan *FailedBatch, TransactionChannelCapacity),

		RoundChanged: make(chan uint64, RoundChangeBroadcastCapacity),
		Shutdown:     make(chan struct{}, ShutdownBroadcastCapacity),
	}
}
