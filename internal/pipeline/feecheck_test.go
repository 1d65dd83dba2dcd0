package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/evore-labs/deploycrank/internal/stats"
)

func TestFeeCheck_ExpectedFeeTooLowSkipsAndDrops(t *testing.T) {
	// spec.md §4.4 condition 1: the manager won't accept RequiredFlatFee at
	// all, so the task is dropped rather than routed anywhere.
	ch := NewChannels()
	st := stats.New(time.Now())
	fc := NewFeeCheck(ch, nil, st)

	task := newTestTask(1)
	task.Deployer.ExpectedFlatFee = RequiredFlatFee - 1
	task.Deployer.FlatFee = RequiredFlatFee

	fc.route(context.Background(), task)

	select {
	case <-ch.FeeUpdaterIn:
		t.Fatal("a task whose expected fee can't cover RequiredFlatFee must not reach the Fee Updater")
	case <-ch.LUTCheckIn:
		t.Fatal("a task whose expected fee can't cover RequiredFlatFee must not reach LUT Check")
	default:
	}
	assert.Equal(t, int64(1), st.Snapshot().SkippedWrongFee)
}

func TestFeeCheck_StaleAdvertisedFeeGoesToFeeUpdater(t *testing.T) {
	// spec.md §4.4 condition 2: the manager would accept our fee, but our
	// currently advertised flat fee is stale and needs updating on-chain.
	ch := NewChannels()
	st := stats.New(time.Now())
	fc := NewFeeCheck(ch, nil, st)

	task := newTestTask(2)
	task.Deployer.ExpectedFlatFee = RequiredFlatFee
	task.Deployer.FlatFee = RequiredFlatFee - 1

	fc.route(context.Background(), task)

	select {
	case got := <-ch.FeeUpdaterIn:
		assert.Equal(t, task.Deployer.Address, got.Deployer.Address)
	default:
		t.Fatal("a task with a stale advertised fee must reach the Fee Updater")
	}

	select {
	case <-ch.LUTCheckIn:
		t.Fatal("a task with a stale advertised fee must not also reach LUT Check")
	default:
	}
}

func TestFeeCheck_CorrectFeeGoesToLUTCheck(t *testing.T) {
	ch := NewChannels()
	st := stats.New(time.Now())
	fc := NewFeeCheck(ch, nil, st)

	task := newTestTask(3)
	task.Deployer.ExpectedFlatFee = RequiredFlatFee
	task.Deployer.FlatFee = RequiredFlatFee

	fc.route(context.Background(), task)

	select {
	case got := <-ch.LUTCheckIn:
		assert.Equal(t, task.Deployer.Address, got.Deployer.Address)
	default:
		t.Fatal("a correctly-fee'd task must reach LUT Check")
	}

	select {
	case <-ch.FeeUpdaterIn:
		t.Fatal("a correctly-fee'd task must not also reach the Fee Updater")
	default:
	}
}

func TestFeeCheck_Purity(t *testing.T) {
	// route must not mutate the task it was given (spec.md §8 "Fee-Check
	// purity"): the same input produces the same routed output every time.
	ch := NewChannels()
	st := stats.New(time.Now())
	fc := NewFeeCheck(ch, nil, st)

	task := newTestTask(4)
	task.Deployer.ExpectedFlatFee = RequiredFlatFee
	task.Deployer.FlatFee = RequiredFlatFee
	before := task

	fc.route(context.Background(), task)
	<-ch.LUTCheckIn

	assert.Equal(t, before, task)
}
