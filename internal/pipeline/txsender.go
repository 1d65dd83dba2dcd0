package pipeline

import (
	"context"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"

	"github.com/evore-labs/deploycrank/internal/rpcclient"
)

// SendFloor is the minimum spacing between SendTransaction calls (spec.md
// §5: "400ms send floor"), enforced with a catrate limiter of the same
// kind the Board-State Monitor uses for polling; the two hold separate
// limiters.
const SendFloor = 400 * time.Millisecond

const sendCategory = "tx-send"

// TxSender submits each BatchedTx's raw bytes with skipPreflight and no
// client-side retries (the Confirmation Tracker and Failure Handler own
// retry/backoff policy, not the sender — spec.md §4.12).
type TxSender struct {
	channels *Channels
	client   *rpcclient.Client
	limiter  *catrate.Limiter
	log      *logiface.Logger[logiface.Event]
}

// NewTxSender constructs a TxSender.
func NewTxSender(ch *Channels, client *rpcclient.Client, log *logiface.Logger[logiface.Event]) *TxSender {
	return &TxSender{
		channels: ch,
		client:   client,
		limiter:  catrate.NewLimiter(map[time.Duration]int{SendFloor: 1}),
		log:      log,
	}
}

// Run consumes TxSenderIn until ctx is canceled.
func (t *TxSender) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.channels.Shutdown:
			return
		case batch, ok := <-t.channels.TxSenderIn:
			if !ok {
				return
			}
			t.send(ctx, batch)
		}
	}
}

func (t *TxSender) send(ctx context.Context, batch *BatchedTx) {
	for {
		if _, ok := t.limiter.Allow(sendCategory); ok {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond * 10):
		}
	}

	if _, err := t.client.SendTransaction(ctx, batch.Tx.Serialize()); err != nil {
		if t.log != nil {
			t.log.Warning().Str("signature", batch.Signature.String()).Err(err).Log("send failed")
		}
		select {
		case t.channels.FailureHandlerIn <- &FailedBatch{
			Signature: batch.Signature,
			Type:      batch.Type,
			RoundID:   batch.RoundID,
			Tasks:     batch.Tasks,
			ErrorText: err.Error(),
		}:
		case <-ctx.Done():
		}
	}
}
