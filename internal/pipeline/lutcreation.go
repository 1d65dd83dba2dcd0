package pipeline

import (
	"context"
	"crypto/ed25519"

	"github.com/joeycumines/logiface"

	"github.com/evore-labs/deploycrank/internal/keypair"
	"github.com/evore-labs/deploycrank/internal/wire"
)

// lutCreator is the write path LUT Creation needs from the LUT Registry
// (spec.md §4.7): an idempotent create that returns the miner's table
// address once created and registered, checking only tables already held in
// the registry, without rescanning the chain.
type lutCreator interface {
	CreateMinerLUT(ctx context.Context, payerKey ed25519.PrivateKey, authority wire.Pubkey, addresses [5]wire.Pubkey) (wire.Pubkey, error)
}

// LUTCreation builds a miner's five-address table (manager, deployer,
// authority, miner, round PDA — spec.md §3; the authority sits at index 2,
// where LoadAllLUTs reads it back) and hands the task to
// Deployment Check once created. After three failed attempts the task is
// dropped (spec.md §4.7).
type LUTCreation struct {
	channels *Channels
	registry lutCreator
	keys     *keypair.Keypair
	log      *logiface.Logger[logiface.Event]
}

// NewLUTCreation constructs a LUTCreation stage.
func NewLUTCreation(ch *Channels, registry lutCreator, keys *keypair.Keypair, log *logiface.Logger[logiface.Event]) *LUTCreation {
	return &LUTCreation{channels: ch, registry: registry, keys: keys, log: log}
}

// Run consumes LUTCreationIn until ctx is canceled. roundPDA is the current
// round's PDA, the fifth address in every miner's table.
func (l *LUTCreation) Run(ctx context.Context, roundPDA func() wire.Pubkey) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.channels.Shutdown:
			return
		case task, ok := <-l.channels.LUTCreationIn:
			if !ok {
				return
			}
			l.handle(ctx, task, roundPDA())
		}
	}
}

func (l *LUTCreation) handle(ctx context.Context, task MinerTask, roundPDA wire.Pubkey) {
	addresses := [5]wire.Pubkey{
		task.Deployer.Manager,
		task.Deployer.Address,
		task.AuthorityAddress,
		task.MinerAddress,
		roundPDA,
	}

	_, err := l.registry.CreateMinerLUT(ctx, l.keys.Private, task.AuthorityAddress, addresses)
	if err != nil {
		task.RetryCount++
		if l.log != nil {
			l.log.Warning().Str("authority", task.AuthorityAddress.String()).Err(err).Log("lut creation failed")
		}
		if task.RetryCount >= MaxRetries {
			return // 3-failure drop, spec.md §4.7
		}
		select {
		case l.channels.LUTCreationIn <- task:
		case <-ctx.Done():
		}
		return
	}

	select {
	case l.channels.DeploymentCheckIn <- task:
	case <-ctx.Done():
	}
}
