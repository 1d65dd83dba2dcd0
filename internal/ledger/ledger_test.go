package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deploycrank.db")
	l, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRecordSent_StartsPending(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.RecordSent(ctx, Entry{
		Signature: "sig1", TxType: "deploy", Deployer: "deployer1",
		FeeLamports: 715, AmountLamports: 0, RoundID: 1,
		CreatedAtUnix: 1000, UpdatedAtUnix: 1000,
	}))

	e, err := l.Get(ctx, "sig1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, e.Status)
}

func TestUpdateStatus_MonotonicProgression(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.RecordSent(ctx, Entry{Signature: "sig1", TxType: "deploy", Deployer: "d1", CreatedAtUnix: 1, UpdatedAtUnix: 1}))

	require.NoError(t, l.UpdateStatus(ctx, "sig1", StatusConfirmed, 2))
	e, err := l.Get(ctx, "sig1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, e.Status)

	require.NoError(t, l.UpdateStatus(ctx, "sig1", StatusFinalized, 3))
	e, err = l.Get(ctx, "sig1")
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, e.Status)
}

func TestUpdateStatus_RefusesRegression(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.RecordSent(ctx, Entry{Signature: "sig1", TxType: "deploy", Deployer: "d1", CreatedAtUnix: 1, UpdatedAtUnix: 1}))
	require.NoError(t, l.UpdateStatus(ctx, "sig1", StatusConfirmed, 2))

	err := l.UpdateStatus(ctx, "sig1", StatusPending, 3)
	assert.Error(t, err)

	e, _ := l.Get(ctx, "sig1")
	assert.Equal(t, StatusConfirmed, e.Status, "a rejected regression must not mutate the stored status")
}

func TestUpdateStatus_TerminalIsImmutable(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.RecordSent(ctx, Entry{Signature: "sig1", TxType: "deploy", Deployer: "d1", CreatedAtUnix: 1, UpdatedAtUnix: 1}))
	require.NoError(t, l.UpdateStatus(ctx, "sig1", StatusFailed, 2))

	err := l.UpdateStatus(ctx, "sig1", StatusConfirmed, 3)
	assert.Error(t, err)

	err = l.UpdateStatus(ctx, "sig1", StatusFailed, 4)
	assert.Error(t, err, "even re-setting the same terminal status must be refused")

	e, _ := l.Get(ctx, "sig1")
	assert.Equal(t, StatusFailed, e.Status)
}

func TestUpdateStatus_FailedReachableFromAnyNonTerminal(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.RecordSent(ctx, Entry{Signature: "sig1", TxType: "deploy", Deployer: "d1", CreatedAtUnix: 1, UpdatedAtUnix: 1}))

	require.NoError(t, l.UpdateStatus(ctx, "sig1", StatusFailed, 2))
	e, _ := l.Get(ctx, "sig1")
	assert.Equal(t, StatusFailed, e.Status)
}

func TestCountByStatus(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.RecordSent(ctx, Entry{Signature: "sig1", TxType: "deploy", Deployer: "d1", CreatedAtUnix: 1, UpdatedAtUnix: 1}))
	require.NoError(t, l.RecordSent(ctx, Entry{Signature: "sig2", TxType: "deploy", Deployer: "d2", CreatedAtUnix: 1, UpdatedAtUnix: 1}))
	require.NoError(t, l.UpdateStatus(ctx, "sig2", StatusConfirmed, 2))

	n, err := l.CountByStatus(ctx, StatusPending)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = l.CountByStatus(ctx, StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
