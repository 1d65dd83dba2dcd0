package boardstate

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evore-labs/deploycrank/internal/pipeline"
	"github.com/evore-labs/deploycrank/internal/rpcclient"
	"github.com/evore-labs/deploycrank/internal/stats"
	"github.com/evore-labs/deploycrank/internal/wire"
)

func encodeBoardAccount(roundID uint64, roundPDA wire.Pubkey, startSlot, endSlot uint64) []byte {
	data := make([]byte, boardMinSize)
	binary.LittleEndian.PutUint64(data[boardRoundIDOffset:], roundID)
	copy(data[boardRoundPDAOffset:boardRoundPDAOffset+wire.PubkeySize], roundPDA[:])
	binary.LittleEndian.PutUint64(data[boardStartSlotOffset:], startSlot)
	binary.LittleEndian.PutUint64(data[boardEndSlotOffset:], endSlot)
	return data
}

func boardServer(t *testing.T, boardData []byte, slot uint64) *httptest.Server {
	t.Helper()
	encoded := base64.StdEncoding.EncodeToString(boardData)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int    `json:"id"`
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")

		switch req.Method {
		case "getAccountInfo":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"value":{"owner":"11111111111111111111111111111111","lamports":1,"data":["%s","base64"]}}}`, req.ID, encoded)
		case "getSlot":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%d}`, req.ID, slot)
		default:
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"error":{"code":-1,"message":"unexpected method %s"}}`, req.ID, req.Method)
		}
	}))
}

func TestMonitor_Tick_ComputesPhaseAndBroadcastsRoundChange(t *testing.T) {
	var roundPDA wire.Pubkey
	roundPDA[0] = 5
	srv := boardServer(t, encodeBoardAccount(3, roundPDA, 100, 200), 150)
	defer srv.Close()

	client := rpcclient.New(srv.URL)
	ch := pipeline.NewChannels()
	st := stats.New(time.Now())
	m := New(client, wire.Pubkey{}, 400*time.Millisecond, nil, st, ch)

	m.tick(contextBackground())

	snap := m.Snapshot()
	assert.Equal(t, uint64(3), snap.RoundID)
	assert.Equal(t, roundPDA, snap.RoundPDA)
	assert.Equal(t, pipeline.RoundPhaseDeploymentWindow, snap.Phase.Kind())

	select {
	case got := <-ch.RoundChanged:
		assert.Equal(t, uint64(3), got)
	default:
		t.Fatal("the first observed round must broadcast a round-change signal")
	}
}

func TestMonitor_Tick_SameRoundDoesNotRebroadcast(t *testing.T) {
	var roundPDA wire.Pubkey
	srv := boardServer(t, encodeBoardAccount(1, roundPDA, 100, 200), 150)
	defer srv.Close()

	client := rpcclient.New(srv.URL)
	ch := pipeline.NewChannels()
	st := stats.New(time.Now())
	m := New(client, wire.Pubkey{}, 400*time.Millisecond, nil, st, ch)

	m.tick(contextBackground())
	<-ch.RoundChanged

	m.tick(contextBackground())
	select {
	case <-ch.RoundChanged:
		t.Fatal("polling the same round id twice must not rebroadcast")
	default:
	}
}

func TestMonitor_Tick_MissingBoardAccountRecordsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int    `json:"id"`
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "getAccountInfo":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"value":null}}`, req.ID)
		case "getSlot":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":150}`, req.ID)
		}
	}))
	defer srv.Close()

	client := rpcclient.New(srv.URL)
	ch := pipeline.NewChannels()
	st := stats.New(time.Now())
	m := New(client, wire.Pubkey{}, 400*time.Millisecond, nil, st, ch)

	m.tick(contextBackground())

	require.Equal(t, int64(1), st.BoardPollErrorsTotal.Load())
	snap := m.Snapshot()
	assert.Zero(t, snap.RoundID, "state must not be mutated on a poll failure")
}
