package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/evore-labs/deploycrank/internal/rpcclient"
	"github.com/evore-labs/deploycrank/internal/wire"
)

func testBatchedTx(addr byte) *BatchedTx {
	var sig wire.Signature
	sig[0] = addr
	msg, err := wire.CompileMessageV0(wire.Pubkey{}, []wire.Instruction{}, [32]byte{}, nil)
	if err != nil {
		msg = &wire.MessageV0{}
	}
	tx := wire.NewTransaction(msg)
	return &BatchedTx{
		Type:      TxTypeDeploy,
		RoundID:   7,
		Tasks:     []MinerTask{newTestTask(addr)},
		Tx:        tx,
		Signature: sig,
		CreatedAt: time.Now(),
	}
}

func TestTxSender_SendFailureRoutesToFailureHandler(t *testing.T) {
	srv := blockhashServer(t, true) // any RPC call on this server returns an error
	defer srv.Close()

	ch := NewChannels()
	client := rpcclient.New(srv.URL)
	ts := NewTxSender(ch, client, nil)

	batch := testBatchedTx(1)
	ts.send(context.Background(), batch)

	select {
	case got := <-ch.FailureHandlerIn:
		assert.Equal(t, batch.Signature, got.Signature)
		assert.NotEmpty(t, got.ErrorText)
	default:
		t.Fatal("a failed sendTransaction call must route the batch to the Failure Handler")
	}
}
