package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/longpoll"

	"github.com/evore-labs/deploycrank/internal/ledger"
	"github.com/evore-labs/deploycrank/internal/rpcclient"
	"github.com/evore-labs/deploycrank/internal/stats"
	"github.com/evore-labs/deploycrank/internal/wire"
)

// ConfirmationTimeout bounds how long a submitted transaction may sit
// unconfirmed before it's handed to the Failure Handler as a timeout
// (spec.md §3, §4.13).
const ConfirmationTimeout = 60 * time.Second

// minerMarker is the narrow write path Confirmation needs on a confirmed
// deploy (spec.md §4.2, §4.13).
type minerMarker interface {
	MarkDeployed(addrs []wire.Pubkey, round uint64)
}

// ledgerStatusWriter is the narrow write path Confirmation needs on the
// audit ledger.
type ledgerStatusWriter interface {
	UpdateStatus(ctx context.Context, signature string, status ledger.Status, updatedAtUnix int64) error
}

// ConfirmationTracker batch-drains up to 200 PendingConfirmations every
// 400ms via longpoll.Channel, checks their signature statuses, and routes
// outcomes: confirmed/finalized deploys mark the Miner Cache and (for fee
// updates) forward to Deployment Check; a transaction error goes to the
// Failure Handler, as does a transaction still unconfirmed after 60
// seconds, with "Timeout" as the error text; anything still pending before
// then is re-queued on ConfirmIn (spec.md §4.13).
type ConfirmationTracker struct {
	channels *Channels
	client   *rpcclient.Client
	cache    minerMarker
	ledger   ledgerStatusWriter
	log      *logiface.Logger[logiface.Event]
	stats    *stats.Stats
}

// NewConfirmationTracker constructs a ConfirmationTracker.
func NewConfirmationTracker(ch *Channels, client *rpcclient.Client, cache minerMarker, l ledgerStatusWriter, log *logiface.Logger[logiface.Event], st *stats.Stats) *ConfirmationTracker {
	return &ConfirmationTracker{channels: ch, client: client, cache: cache, ledger: l, log: log, stats: st}
}

// Run repeatedly drains ConfirmIn until ctx is canceled.
func (c *ConfirmationTracker) Run(ctx context.Context) {
	cfg := &longpoll.ChannelConfig{
		MaxSize:        ConfirmationChannelCapacity,
		MinSize:        1,
		PartialTimeout: SendFloor,
	}

	for {
		var batch []*PendingConfirmation
		err := longpoll.Channel(ctx, cfg, c.channels.ConfirmIn, func(p *PendingConfirmation) error {
			batch = append(batch, p)
			return nil
		})

		if len(batch) > 0 {
			c.check(ctx, batch)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if ctx.Err() != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-c.channels.Shutdown:
			return
		default:
		}
	}
}

func (c *ConfirmationTracker) check(ctx context.Context, batch []*PendingConfirmation) {
	sigs := make([]wire.Signature, len(batch))
	for i, p := range batch {
		sigs[i] = p.Signature
	}

	statuses, err := c.client.GetSignatureStatuses(ctx, sigs)
	if err != nil {
		if c.log != nil {
			c.log.Warning().Err(err).Log("signature status check failed")
		}
		return
	}

	now := time.Now()
	for i, p := range batch {
		st := statuses[i]
		hasErr := len(st.Err) > 0 && string(st.Err) != "null"
		switch {
		case hasErr:
			c.fail(ctx, p, string(st.Err))
		case st.ConfirmationStatus == "confirmed" || st.ConfirmationStatus == "finalized":
			c.confirm(ctx, p)
		case now.Sub(p.SentAt) >= ConfirmationTimeout:
			c.fail(ctx, p, "Timeout")
		default:
			select {
			case c.channels.ConfirmIn <- p:
			case <-ctx.Done():
			}
		}
	}
}

func (c *ConfirmationTracker) confirm(ctx context.Context, p *PendingConfirmation) {
	_ = c.ledger.UpdateStatus(ctx, p.Signature.String(), ledger.StatusConfirmed, time.Now().Unix())

	switch p.Type {
	case TxTypeDeploy:
		addrs := make([]wire.Pubkey, len(p.Tasks))
		for i, t := range p.Tasks {
			addrs[i] = t.Deployer.Address
		}
		c.cache.MarkDeployed(addrs, p.RoundID)
		c.stats.DeploysConfirmed.Add(1)
		c.stats.MinersDeployed.Add(int64(len(p.Tasks)))
		c.stats.LastDeployConfirmedUnixNano.Store(time.Now().UnixNano())
	case TxTypeCheckpoint:
		c.stats.CheckpointsConfirmed.Add(1)
		c.stats.MinersCheckpointed.Add(int64(len(p.Tasks)))
	case TxTypeFeeUpdate:
		c.stats.FeeUpdatesConfirmed.Add(1)
		for _, t := range p.Tasks {
			t.Deployer.FlatFee = RequiredFlatFee
			select {
			case c.channels.DeploymentCheckIn <- t:
			case <-ctx.Done():
			}
		}
	}
}

func (c *ConfirmationTracker) fail(ctx context.Context, p *PendingConfirmation, errText string) {
	_ = c.ledger.UpdateStatus(ctx, p.Signature.String(), ledger.StatusFailed, time.Now().Unix())

	switch p.Type {
	case TxTypeDeploy:
		c.stats.DeploysFailed.Add(1)
		c.stats.MinersDeployFailed.Add(int64(len(p.Tasks)))
	case TxTypeCheckpoint:
		c.stats.CheckpointsFailed.Add(1)
	case TxTypeFeeUpdate:
		c.stats.FeeUpdatesFailed.Add(1)
	}

	select {
	case c.channels.FailureHandlerIn <- &FailedBatch{
		Signature: p.Signature,
		Type:      p.Type,
		RoundID:   p.RoundID,
		Tasks:     p.Tasks,
		ErrorText: errText,
	}:
	case <-ctx.Done():
	}
}
