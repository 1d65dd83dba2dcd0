// Package boardstate implements the Board-State Monitor (spec.md §4.1): it
// polls the chain for the round's public schedule, recomputes RoundPhase,
// and broadcasts a round-change signal when the observed round id moves.
package boardstate

import (
	"context"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"

	"github.com/evore-labs/deploycrank/internal/pipeline"
	"github.com/evore-labs/deploycrank/internal/rpcclient"
	"github.com/evore-labs/deploycrank/internal/stats"
	"github.com/evore-labs/deploycrank/internal/wire"
)

// for testing purposes, following the monorepo's own catrate package
// convention of swapping time.Now/time.NewTicker via package vars.
var (
	timeNow       = time.Now
	timeNewTicker = time.NewTicker
)

// pollCategory is the single rate-limiter category used for board polling;
// one shared budget for the whole RPC endpoint.
const pollCategory = "board-poll"

// Monitor owns the authoritative BoardState, refreshed once per poll
// interval. It is the only writer; every other stage reads via Snapshot.
type Monitor struct {
	client      *rpcclient.Client
	boardPDA    wire.Pubkey
	roundPDASeed []byte
	interval    time.Duration
	limiter     *catrate.Limiter
	log         *logiface.Logger[logiface.Event]
	stats       *stats.Stats
	channels    *pipeline.Channels

	mu    sync.RWMutex
	state pipeline.BoardState

	lastRoundID uint64
	haveLast    bool
}

// New constructs a Monitor. interval is the configured poll cadence
// (default 400ms, spec.md §4.1).
func New(client *rpcclient.Client, boardPDA wire.Pubkey, interval time.Duration, log *logiface.Logger[logiface.Event], st *stats.Stats, ch *pipeline.Channels) *Monitor {
	return &Monitor{
		client:   client,
		boardPDA: boardPDA,
		interval: interval,
		limiter:  catrate.NewLimiter(map[time.Duration]int{interval: 1}),
		log:      log,
		stats:    st,
		channels: ch,
	}
}

// Snapshot returns a read-locked copy of the current BoardState. Every
// downstream stage uses this instead of sharing the Monitor's lock
// directly, per SPEC_FULL.md's [4.1] supplement.
func (m *Monitor) Snapshot() pipeline.BoardState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Run polls until ctx is canceled or a shutdown signal arrives. Never
// terminates on its own RPC failures; those are logged and retried the
// next tick (spec.md §4.1: "no state is mutated on failure").
func (m *Monitor) Run(ctx context.Context) {
	ticker := timeNewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.channels.Shutdown:
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	if _, ok := m.limiter.Allow(pollCategory); !ok {
		return
	}

	boardAcct, err := m.client.GetAccount(ctx, m.boardPDA)
	if err != nil {
		m.onPollError(err)
		return
	}
	currentSlot, err := m.client.GetSlot(ctx)
	if err != nil {
		m.onPollError(err)
		return
	}
	if boardAcct == nil {
		m.onPollError(ErrBoardAccountMissing)
		return
	}

	roundID, roundPDA, startSlot, endSlot, err := decodeBoardAccount(boardAcct.Data)
	if err != nil {
		m.onPollError(err)
		return
	}

	phase := pipeline.ComputeRoundPhase(startSlot, endSlot, currentSlot)

	newState := pipeline.BoardState{
		RoundID:        roundID,
		RoundPDA:       roundPDA,
		StartSlot:      startSlot,
		EndSlot:        endSlot,
		CurrentSlot:    currentSlot,
		Phase:          phase,
		ObservedAtUnix: timeNow().Unix(),
	}

	m.mu.Lock()
	prevPhase := m.state.Phase
	m.state = newState
	m.mu.Unlock()

	if m.log != nil {
		m.log.Info().Str("phase", phase.Kind().String()).Int("round_id", int(roundID)).Log("board state observed")
	}

	prevKind := prevPhase.Kind()
	if (prevKind == pipeline.RoundPhaseDeploymentWindow || prevKind == pipeline.RoundPhaseLateDeploymentWindow) && phase.Kind() == pipeline.RoundPhaseIntermission {
		LogRoundSummary(m.log, m.stats.Snapshot())
		m.stats.Reset(timeNow())
	}

	if !m.haveLast || roundID != m.lastRoundID {
		m.haveLast = true
		m.lastRoundID = roundID
		select {
		case m.channels.RoundChanged <- roundID:
		default:
			// capacity-16 broadcast; a missed signal is acceptable, only
			// the latest round id matters (spec.md §4.1).
		}
	}
}

func (m *Monitor) onPollError(err error) {
	m.stats.BoardPollErrorsTotal.Add(1)
	if m.log != nil {
		m.log.Warning().Err(err).Log("board state poll failed")
	}
}
