package boardstate

import (
	"time"

	"github.com/joeycumines/logiface"

	"github.com/evore-labs/deploycrank/internal/stats"
)

// LogRoundSummary emits a single structured log line carrying every
// PipelineStats counter for the round plus elapsed wall-clock since
// pipeline start, on the deployment -> intermission transition (spec.md
// §4.1; SPEC_FULL.md's supplemented-features section, grounded in
// original_source's shared_state.rs round-end summary).
func LogRoundSummary(log *logiface.Logger[logiface.Event], snap stats.Snapshot) {
	if log == nil {
		return
	}
	log.Notice().
		Int("deploys_sent", int(snap.DeploysSent)).
		Int("deploys_confirmed", int(snap.DeploysConfirmed)).
		Int("deploys_failed", int(snap.DeploysFailed)).
		Int("checkpoints_sent", int(snap.CheckpointsSent)).
		Int("checkpoints_confirmed", int(snap.CheckpointsConfirmed)).
		Int("checkpoints_failed", int(snap.CheckpointsFailed)).
		Int("fee_updates_sent", int(snap.FeeUpdatesSent)).
		Int("fee_updates_confirmed", int(snap.FeeUpdatesConfirmed)).
		Int("miners_deployed", int(snap.MinersDeployed)).
		Int("miners_checkpointed", int(snap.MinersCheckpointed)).
		Int("miners_deploy_failed", int(snap.MinersDeployFailed)).
		Int("skipped_wrong_fee", int(snap.SkippedWrongFee)).
		Int("skipped_no_slots", int(snap.SkippedNoSlots)).
		Int("skipped_already_deployed", int(snap.SkippedAlreadyDeployed)).
		Int("skipped_max_retries", int(snap.SkippedMaxRetries)).
		Int("skipped_low_balance", int(snap.SkippedLowBalance)).
		Int("board_poll_errors", int(snap.BoardPollErrorsTotal)).
		Str("elapsed", time.Since(snap.PipelineStart).String()).
		Log("round summary")
}
