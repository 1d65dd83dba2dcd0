package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evore-labs/deploycrank/internal/wire"
)

type fakeLUTHasser struct {
	registered map[wire.Pubkey]wire.Pubkey
}

func (f *fakeLUTHasser) HasMinerLUT(authority wire.Pubkey) (wire.Pubkey, bool) {
	table, ok := f.registered[authority]
	return table, ok
}

func TestLUTCheck_RegisteredGoesToDeploymentCheck(t *testing.T) {
	ch := NewChannels()
	registry := &fakeLUTHasser{registered: map[wire.Pubkey]wire.Pubkey{}}
	lc := NewLUTCheck(ch, registry)

	task := newTestTask(1)
	var table wire.Pubkey
	table[0] = 99
	registry.registered[task.AuthorityAddress] = table

	lc.route(context.Background(), task)

	select {
	case got := <-ch.DeploymentCheckIn:
		assert.Equal(t, task.Deployer.Address, got.Deployer.Address)
	default:
		t.Fatal("a miner with a registered LUT must reach Deployment Check")
	}

	select {
	case <-ch.LUTCreationIn:
		t.Fatal("a registered miner must not also reach LUT Creation")
	default:
	}
}

func TestLUTCheck_UnregisteredGoesToLUTCreation(t *testing.T) {
	ch := NewChannels()
	registry := &fakeLUTHasser{registered: map[wire.Pubkey]wire.Pubkey{}}
	lc := NewLUTCheck(ch, registry)

	task := newTestTask(2)

	lc.route(context.Background(), task)

	select {
	case got := <-ch.LUTCreationIn:
		assert.Equal(t, task.Deployer.Address, got.Deployer.Address)
	default:
		t.Fatal("a miner without a registered LUT must reach LUT Creation")
	}

	select {
	case <-ch.DeploymentCheckIn:
		t.Fatal("an unregistered miner must not also reach Deployment Check")
	default:
	}
}
