package pipeline

import (
	"context"
	"time"

	"github.com/joeycumines/logiface"

	"github.com/evore-labs/deploycrank/internal/ledger"
)

// ledgerWriter is the narrow write path the Transaction Processor needs
// from the audit ledger (spec.md SPEC_FULL ambient-stack supplement).
type ledgerWriter interface {
	RecordSent(ctx context.Context, e ledger.Entry) error
}

// TxProcessor takes a freshly signed BatchedTx, extracts its signature (the
// canonical identity reused through Sender, Confirmation, and Failure
// Handler), writes an audit-ledger row, and fans the batch out to the
// Sender plus a PendingConfirmation to the Confirmation Tracker (spec.md
// §4.11).
type TxProcessor struct {
	channels *Channels
	ledger   ledgerWriter
	log      *logiface.Logger[logiface.Event]
}

// NewTxProcessor constructs a TxProcessor stage.
func NewTxProcessor(ch *Channels, l ledgerWriter, log *logiface.Logger[logiface.Event]) *TxProcessor {
	return &TxProcessor{channels: ch, ledger: l, log: log}
}

// Run consumes TxProcessorIn until ctx is canceled.
func (t *TxProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.channels.Shutdown:
			return
		case batch, ok := <-t.channels.TxProcessorIn:
			if !ok {
				return
			}
			t.handle(ctx, batch)
		}
	}
}

func (t *TxProcessor) handle(ctx context.Context, batch *BatchedTx) {
	var deployer string
	if len(batch.Tasks) > 0 {
		deployer = batch.Tasks[0].Deployer.Address.String()
	}

	entry := ledger.Entry{
		Signature:     batch.Signature.String(),
		TxType:        batch.Type.String(),
		Deployer:      deployer,
		RoundID:       batch.RoundID,
		CreatedAtUnix: batch.CreatedAt.Unix(),
		UpdatedAtUnix: batch.CreatedAt.Unix(),
	}
	if err := t.ledger.RecordSent(ctx, entry); err != nil && t.log != nil {
		t.log.Warning().Str("signature", entry.Signature).Err(err).Log("ledger record failed")
	}

	select {
	case t.channels.TxSenderIn <- batch:
	case <-ctx.Done():
		return
	}

	pending := &PendingConfirmation{
		Signature: batch.Signature,
		Type:      batch.Type,
		RoundID:   batch.RoundID,
		Tasks:     batch.Tasks,
		SentAt:    time.Now(),
	}
	select {
	case t.channels.ConfirmIn <- pending:
	case <-ctx.Done():
	}
}
