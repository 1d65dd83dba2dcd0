package pipeline

import (
	"context"
	"regexp"
	"strconv"

	"github.com/joeycumines/logiface"
)

// minerRefresher is the narrow write path Failure Handler needs from the
// Miner Cache: a single-unit re-read before retrying (spec.md §4.2, §4.14).
type minerRefresher interface {
	RefreshSingle(ctx context.Context, deployer DeployerInfo, currentRoundID uint64) error
}

// instructionFailedPattern extracts the zero-based instruction index from
// an RPC error body shaped like `"Error processing Instruction 3: ..."`
// (spec.md §4.14). Culprit isolation subtracts the compute-budget preamble
// of the batch's transaction type, see computeBudgetPreambleForType.
var instructionFailedPattern = regexp.MustCompile(`[Ii]nstruction (\d+)`)

// FailureHandler runs culprit isolation on a failed or timed-out batch: if
// the error names a specific instruction index, the miner at that position
// (after subtracting the compute-budget preamble) is refreshed and
// re-queued at Fee Check with an incremented retry, while its batch peers
// are fast-retried directly at Deployment Check (skipping Fee/LUT Check,
// since their fee/LUT state didn't cause the failure). When no culprit can
// be identified, every task in the batch is refreshed and re-queued at Fee
// Check (spec.md §4.14).
type FailureHandler struct {
	channels *Channels
	cache    minerRefresher
	log      *logiface.Logger[logiface.Event]
}

// NewFailureHandler constructs a FailureHandler stage.
func NewFailureHandler(ch *Channels, cache minerRefresher, log *logiface.Logger[logiface.Event]) *FailureHandler {
	return &FailureHandler{channels: ch, cache: cache, log: log}
}

// Run consumes FailureHandlerIn until ctx is canceled.
func (f *FailureHandler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.channels.Shutdown:
			return
		case failed, ok := <-f.channels.FailureHandlerIn:
			if !ok {
				return
			}
			f.handle(ctx, failed)
		}
	}
}

func (f *FailureHandler) handle(ctx context.Context, failed *FailedBatch) {
	culpritIdx, ok := parseCulpritIndex(failed.ErrorText)
	if !ok {
		f.refreshAndRequeueAll(ctx, failed)
		return
	}

	minerIdx := culpritIdx - computeBudgetPreambleForType(failed.Type)
	if minerIdx < 0 || minerIdx >= len(failed.Tasks) {
		f.refreshAndRequeueAll(ctx, failed)
		return
	}

	for i, task := range failed.Tasks {
		if i == minerIdx {
			f.refreshAndRequeue(ctx, task, failed.RoundID, f.channels.FeeCheckIn)
			continue
		}
		task.RetryCount++
		if task.RetryCount > MaxRetries {
			continue
		}
		select {
		case f.channels.DeploymentCheckIn <- task:
		case <-ctx.Done():
			return
		}
	}
}

func (f *FailureHandler) refreshAndRequeueAll(ctx context.Context, failed *FailedBatch) {
	for _, task := range failed.Tasks {
		f.refreshAndRequeue(ctx, task, failed.RoundID, f.channels.FeeCheckIn)
	}
}

func (f *FailureHandler) refreshAndRequeue(ctx context.Context, task MinerTask, roundID uint64, target chan MinerTask) {
	task.RetryCount++
	if task.RetryCount > MaxRetries {
		return
	}

	if err := f.cache.RefreshSingle(ctx, task.Deployer, roundID); err != nil && f.log != nil {
		f.log.Warning().Str("deployer", task.Deployer.Address.String()).Err(err).Log("miner refresh failed")
	}

	select {
	case target <- task:
	case <-ctx.Done():
	}
}

// computeBudgetPreambleForType returns how many non-miner instructions
// precede the first miner's instruction in a given batch type's compiled
// message: deploy batches carry a unit-limit and a unit-price instruction,
// checkpoint and fee-update batches carry only a unit-limit instruction.
func computeBudgetPreambleForType(t TxType) int {
	switch t {
	case TxTypeDeploy:
		return 2
	case TxTypeCheckpoint, TxTypeFeeUpdate:
		return 1
	default:
		return 2
	}
}

func parseCulpritIndex(errorText string) (int, bool) {
	m := instructionFailedPattern.FindStringSubmatch(errorText)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
