package pipeline

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evore-labs/deploycrank/internal/keypair"
	"github.com/evore-labs/deploycrank/internal/wire"
)

type fakeLUTCreator struct {
	err     error
	created int
}

func (f *fakeLUTCreator) CreateMinerLUT(ctx context.Context, payerKey ed25519.PrivateKey, authority wire.Pubkey, addresses [5]wire.Pubkey) (wire.Pubkey, error) {
	f.created++
	if f.err != nil {
		return wire.Pubkey{}, f.err
	}
	return addresses[4], nil
}

func newLUTTestTask(addr byte) MinerTask {
	task := newTestTask(addr)
	task.MinerAddress = task.Deployer.Address
	task.AuthorityAddress = task.Deployer.Address
	task.Deployer.Manager = task.Deployer.Address
	return task
}

func TestLUTCreation_SuccessGoesToDeploymentCheck(t *testing.T) {
	ch := NewChannels()
	registry := &fakeLUTCreator{}
	keys := &keypair.Keypair{}
	lc := NewLUTCreation(ch, registry, keys, nil)

	task := newLUTTestTask(1)
	var roundPDA wire.Pubkey
	roundPDA[0] = 42

	lc.handle(context.Background(), task, roundPDA)

	assert.Equal(t, 1, registry.created)
	select {
	case got := <-ch.DeploymentCheckIn:
		assert.Equal(t, task.Deployer.Address, got.Deployer.Address)
	default:
		t.Fatal("a successful LUT creation must requeue the task at Deployment Check")
	}
}

func TestLUTCreation_FailureRetriesThenDrops(t *testing.T) {
	ch := NewChannels()
	registry := &fakeLUTCreator{err: errors.New("rpc failure")}
	keys := &keypair.Keypair{}
	lc := NewLUTCreation(ch, registry, keys, nil)

	task := newLUTTestTask(2)
	var roundPDA wire.Pubkey

	lc.handle(context.Background(), task, roundPDA)
	select {
	case got := <-ch.LUTCreationIn:
		assert.Equal(t, 1, got.RetryCount)
		task = got
	default:
		t.Fatal("a failed attempt within the retry budget must be requeued at LUT Creation")
	}

	task.RetryCount = MaxRetries
	lc.handle(context.Background(), task, roundPDA)
	select {
	case <-ch.LUTCreationIn:
		t.Fatal("a task beyond MaxRetries must be dropped, not requeued")
	default:
	}
}
