package minercache

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evore-labs/deploycrank/internal/pipeline"
	"github.com/evore-labs/deploycrank/internal/rpcclient"
	"github.com/evore-labs/deploycrank/internal/wire"
)

// encodeMinerAccount builds a 96-byte miner account matching the fixed
// layout program.ParseMinerAccount decodes.
func encodeMinerAccount(checkpointID, roundID uint64, hasDeployed bool, rewardsSOL uint64) []byte {
	data := make([]byte, 96)
	binary.LittleEndian.PutUint64(data[8:16], checkpointID)
	binary.LittleEndian.PutUint64(data[16:24], roundID)
	if hasDeployed {
		data[24] = 1
	}
	binary.LittleEndian.PutUint64(data[32:40], rewardsSOL)
	return data
}

// getMultipleAccountsServer answers every getMultipleAccounts call with the
// same pair of accounts (miner then authority), regardless of which
// addresses were requested — sufficient for exercising Cache's decode path.
func getMultipleAccountsServer(t *testing.T, minerData []byte, authorityLamports uint64) *httptest.Server {
	t.Helper()
	minerB64 := base64.StdEncoding.EncodeToString(minerData)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID int `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"context":{},"value":[`+
			`{"owner":"11111111111111111111111111111111","lamports":0,"data":["%s","base64"]},`+
			`{"owner":"11111111111111111111111111111111","lamports":%d,"data":["",""]}`+
			`]}}`, req.ID, minerB64, authorityLamports)
	}))
}

func TestCache_RefreshSingle_PopulatesEntry(t *testing.T) {
	srv := getMultipleAccountsServer(t, encodeMinerAccount(7, 7, true, 1000), 2_000_000)
	defer srv.Close()

	client := rpcclient.New(srv.URL)
	c := New(client, nil)

	deployer := pipeline.DeployerInfo{Address: pk(1)}
	require.NoError(t, c.RefreshSingle(context.Background(), deployer, 7))

	entry, ok := c.Get(deployer.Address)
	require.True(t, ok)
	assert.True(t, entry.Exists)
	assert.Equal(t, uint64(7), entry.CheckpointID)
	assert.Equal(t, uint64(7), entry.RoundID)
	assert.True(t, entry.HasDeployed)
	assert.Equal(t, uint64(2_000_000), entry.AuthBalanceLamports)

	assert.True(t, c.HasDeployedInRound(deployer.Address, 7))
	assert.False(t, c.HasDeployedInRound(deployer.Address, 8))

	round, needs := c.NeedsCheckpoint(deployer.Address)
	assert.False(t, needs, "checkpoint_id == round_id must not need a checkpoint")
	_ = round

	assert.True(t, c.HasSOLToRecycle(deployer.Address))
}

func TestCache_NeedsCheckpoint_WhenBehind(t *testing.T) {
	srv := getMultipleAccountsServer(t, encodeMinerAccount(3, 7, false, 0), 0)
	defer srv.Close()

	client := rpcclient.New(srv.URL)
	c := New(client, nil)

	deployer := pipeline.DeployerInfo{Address: pk(2)}
	require.NoError(t, c.RefreshSingle(context.Background(), deployer, 7))

	round, needs := c.NeedsCheckpoint(deployer.Address)
	assert.True(t, needs)
	assert.Equal(t, uint64(7), round)
	assert.False(t, c.HasSOLToRecycle(deployer.Address))
}

func TestCache_MarkDeployed_SetsRoundAndFlag(t *testing.T) {
	c := New(nil, nil)
	addr := pk(3)

	c.MarkDeployed([]wire.Pubkey{addr}, 9)

	assert.True(t, c.HasDeployedInRound(addr, 9))
	assert.False(t, c.HasDeployedInRound(addr, 10))
}

func TestCache_Get_UnknownDeployer(t *testing.T) {
	c := New(nil, nil)
	_, ok := c.Get(pk(99))
	assert.False(t, ok)

	_, ok = c.AuthBalance(pk(99))
	assert.False(t, ok)

	_, needs := c.NeedsCheckpoint(pk(99))
	assert.False(t, needs)
}

func pk(b byte) wire.Pubkey {
	var p wire.Pubkey
	p[0] = b
	return p
}
