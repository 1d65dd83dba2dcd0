package pipeline

import (
	"context"

	"github.com/joeycumines/logiface"

	"github.com/evore-labs/deploycrank/internal/stats"
)

// RequiredFlatFee is the operator's single, process-wide advertised flat
// fee, in lamports (spec.md §3, §4.4).
const RequiredFlatFee = 715

// FeeCheck routes each MinerTask per spec.md §4.4: if the manager's
// ExpectedFlatFee won't cover RequiredFlatFee, the task is dropped as a
// wrong-fee skip (the manager will never accept our fee, so there's
// nothing to update); else if our currently advertised FlatFee is stale,
// the task goes to the Fee Updater to bring it current; else it proceeds to
// LUT Check. This stage is pure — it mutates no shared state (spec.md §8
// "Fee-Check purity").
type FeeCheck struct {
	channels *Channels
	log      *logiface.Logger[logiface.Event]
	stats    *stats.Stats
}

// NewFeeCheck constructs a FeeCheck stage.
func NewFeeCheck(ch *Channels, log *logiface.Logger[logiface.Event], st *stats.Stats) *FeeCheck {
	return &FeeCheck{channels: ch, log: log, stats: st}
}

// Run consumes FeeCheckIn until ctx is canceled or the channel closes.
func (f *FeeCheck) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.channels.Shutdown:
			return
		case task, ok := <-f.channels.FeeCheckIn:
			if !ok {
				return
			}
			f.route(ctx, task)
		}
	}
}

func (f *FeeCheck) route(ctx context.Context, task MinerTask) {
	if task.Deployer.ExpectedFlatFee < RequiredFlatFee {
		f.stats.RecordSkipWrongFee()
		return
	}

	if task.Deployer.FlatFee != RequiredFlatFee {
		select {
		case f.channels.FeeUpdaterIn <- task:
		case <-ctx.Done():
		}
		return
	}

	select {
	case f.channels.LUTCheckIn <- task:
	case <-ctx.Done():
	}
}
