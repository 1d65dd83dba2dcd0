package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/evore-labs/deploycrank/internal/ledger"
	"github.com/evore-labs/deploycrank/internal/rpcclient"
	"github.com/evore-labs/deploycrank/internal/stats"
	"github.com/evore-labs/deploycrank/internal/wire"
)

type fakeMinerMarker struct {
	marked []wire.Pubkey
	round  uint64
}

func (f *fakeMinerMarker) MarkDeployed(addrs []wire.Pubkey, round uint64) {
	f.marked = append(f.marked, addrs...)
	f.round = round
}

type fakeLedgerStatusWriter struct {
	statuses map[string]ledger.Status
}

func (f *fakeLedgerStatusWriter) UpdateStatus(ctx context.Context, signature string, status ledger.Status, updatedAtUnix int64) error {
	if f.statuses == nil {
		f.statuses = map[string]ledger.Status{}
	}
	f.statuses[signature] = status
	return nil
}

// sigStatusServer replies to getSignatureStatuses with the given raw `err`
// JSON literal (e.g. "null", `{"InstructionError":...}`) and confirmation
// status for every signature requested.
func sigStatusServer(t *testing.T, errLiteral, confirmationStatus string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int    `json:"id"`
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")

		var sigs []any
		if len(req.Params) > 0 {
			sigs, _ = req.Params[0].([]any)
		}
		entries := make([]string, len(sigs))
		for i := range sigs {
			entries[i] = fmt.Sprintf(`{"confirmations":null,"err":%s,"confirmationStatus":%q}`, errLiteral, confirmationStatus)
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"value":[%s]}}`, req.ID, joinJSON(entries))
	}))
}

func joinJSON(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

func testPending(addr byte, sentAt time.Time) *PendingConfirmation {
	var sig wire.Signature
	sig[0] = addr
	return &PendingConfirmation{
		Signature: sig,
		Type:      TxTypeDeploy,
		RoundID:   7,
		Tasks:     []MinerTask{newTestTask(addr)},
		SentAt:    sentAt,
	}
}

func TestConfirmation_NullErrLiteralIsNotAFailure(t *testing.T) {
	// regression: json.RawMessage holding the 4-byte literal "null" must
	// not be treated as a populated error.
	srv := sigStatusServer(t, "null", "confirmed")
	defer srv.Close()

	ch := NewChannels()
	client := rpcclient.New(srv.URL)
	cache := &fakeMinerMarker{}
	l := &fakeLedgerStatusWriter{}
	st := stats.New(time.Now())
	ct := NewConfirmationTracker(ch, client, cache, l, nil, st)

	p := testPending(1, time.Now())
	ct.check(context.Background(), []*PendingConfirmation{p})

	assert.Len(t, cache.marked, 1, "a confirmed status with a null err literal must be treated as confirmed, not failed")
	assert.Equal(t, ledger.StatusConfirmed, l.statuses[p.Signature.String()])

	select {
	case <-ch.FailureHandlerIn:
		t.Fatal("a confirmed transaction must not reach the Failure Handler")
	default:
	}
}

func TestConfirmation_PopulatedErrIsAFailure(t *testing.T) {
	srv := sigStatusServer(t, `{"InstructionError":[0,"Custom"]}`, "")
	defer srv.Close()

	ch := NewChannels()
	client := rpcclient.New(srv.URL)
	cache := &fakeMinerMarker{}
	l := &fakeLedgerStatusWriter{}
	st := stats.New(time.Now())
	ct := NewConfirmationTracker(ch, client, cache, l, nil, st)

	p := testPending(2, time.Now())
	ct.check(context.Background(), []*PendingConfirmation{p})

	assert.Empty(t, cache.marked)
	assert.Equal(t, ledger.StatusFailed, l.statuses[p.Signature.String()])

	select {
	case got := <-ch.FailureHandlerIn:
		assert.Equal(t, p.Signature, got.Signature)
	default:
		t.Fatal("a populated err must route the batch to the Failure Handler")
	}
}

func TestConfirmation_TimeoutAfterDeadline(t *testing.T) {
	srv := sigStatusServer(t, "null", "processed")
	defer srv.Close()

	ch := NewChannels()
	client := rpcclient.New(srv.URL)
	cache := &fakeMinerMarker{}
	l := &fakeLedgerStatusWriter{}
	st := stats.New(time.Now())
	ct := NewConfirmationTracker(ch, client, cache, l, nil, st)

	p := testPending(3, time.Now().Add(-ConfirmationTimeout-time.Second))
	ct.check(context.Background(), []*PendingConfirmation{p})

	select {
	case got := <-ch.FailureHandlerIn:
		assert.Equal(t, "Timeout", got.ErrorText)
	default:
		t.Fatal("a still-processed transaction past the confirmation deadline must fail as a Timeout")
	}
}

func TestConfirmation_StillPendingIsRequeued(t *testing.T) {
	srv := sigStatusServer(t, "null", "processed")
	defer srv.Close()

	ch := NewChannels()
	client := rpcclient.New(srv.URL)
	cache := &fakeMinerMarker{}
	l := &fakeLedgerStatusWriter{}
	st := stats.New(time.Now())
	ct := NewConfirmationTracker(ch, client, cache, l, nil, st)

	p := testPending(4, time.Now())
	ct.check(context.Background(), []*PendingConfirmation{p})

	select {
	case got := <-ch.ConfirmIn:
		assert.Equal(t, p.Signature, got.Signature)
	default:
		t.Fatal("a still-processed transaction within the deadline must be requeued for another check")
	}
}
