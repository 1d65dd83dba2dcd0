package pipeline

import (
	"context"

	"github.com/evore-labs/deploycrank/internal/wire"
)

// lutHasser is the narrow read path LUT Check needs from the LUT Registry:
// an O(1) existence check keyed by miner authority (spec.md §4.6).
type lutHasser interface {
	HasMinerLUT(authority wire.Pubkey) (wire.Pubkey, bool)
}

// LUTCheck routes a MinerTask to Deployment Check if the miner already has
// a registered lookup table, or to LUT Creation otherwise. It holds no
// mutable state of its own (spec.md §4.6).
type LUTCheck struct {
	channels *Channels
	registry lutHasser
}

// NewLUTCheck constructs a LUTCheck stage.
func NewLUTCheck(ch *Channels, registry lutHasser) *LUTCheck {
	return &LUTCheck{channels: ch, registry: registry}
}

// Run consumes LUTCheckIn until ctx is canceled.
func (l *LUTCheck) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.channels.Shutdown:
			return
		case task, ok := <-l.channels.LUTCheckIn:
			if !ok {
				return
			}
			l.route(ctx, task)
		}
	}
}

func (l *LUTCheck) route(ctx context.Context, task MinerTask) {
	target := l.channels.LUTCreationIn
	if _, ok := l.registry.HasMinerLUT(task.AuthorityAddress); ok {
		target = l.channels.DeploymentCheckIn
	}
	select {
	case target <- task:
	case <-ctx.Done():
	}
}
