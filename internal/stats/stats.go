// Package stats implements the lock-free PipelineStats bundle named in
// spec.md §3: atomic counters tracking sends/confirms/fails per
// transaction type, skip reasons, and per-round timing, reset at every
// round boundary.
package stats

import (
	"sync/atomic"
	"time"
)

// Stats is a bundle of atomic counters, safe for concurrent use by every
// pipeline stage without coordination. Reset at round boundary by the
// Board-State Monitor on the deployment -> intermission transition.
type Stats struct {
	DeploysSent       atomic.Int64
	DeploysConfirmed  atomic.Int64
	DeploysFailed     atomic.Int64
	CheckpointsSent   atomic.Int64
	CheckpointsConfirmed atomic.Int64
	CheckpointsFailed atomic.Int64
	FeeUpdatesSent    atomic.Int64
	FeeUpdatesConfirmed atomic.Int64
	FeeUpdatesFailed  atomic.Int64

	MinersDeployed     atomic.Int64
	MinersCheckpointed atomic.Int64
	MinersDeployFailed atomic.Int64

	SkippedWrongFee       atomic.Int64
	SkippedNoSlots        atomic.Int64
	SkippedAlreadyDeployed atomic.Int64
	SkippedMaxRetries     atomic.Int64
	SkippedLowBalance     atomic.Int64

	BoardPollErrorsTotal atomic.Int64

	PipelineStartUnixNano     atomic.Int64
	LastDeployConfirmedUnixNano atomic.Int64
}

// New allocates a Stats bundle with PipelineStartUnixNano set to now.
func New(now time.Time) *Stats {
	s := &Stats{}
	s.PipelineStartUnixNano.Store(now.UnixNano())
	return s
}

// Reset zeroes every counter and re-stamps the pipeline start time, called
// at round boundary (deployment -> intermission transition, spec.md §4.1).
func (s *Stats) Reset(now time.Time) {
	s.DeploysSent.Store(0)
	s.DeploysConfirmed.Store(0)
	s.DeploysFailed.Store(0)
	s.CheckpointsSent.Store(0)
	s.CheckpointsConfirmed.Store(0)
	s.CheckpointsFailed.Store(0)
	s.FeeUpdatesSent.Store(0)
	s.FeeUpdatesConfirmed.Store(0)
	s.FeeUpdatesFailed.Store(0)

	s.MinersDeployed.Store(0)
	s.MinersCheckpointed.Store(0)
	s.MinersDeployFailed.Store(0)

	s.SkippedWrongFee.Store(0)
	s.SkippedNoSlots.Store(0)
	s.SkippedAlreadyDeployed.Store(0)
	s.SkippedMaxRetries.Store(0)
	s.SkippedLowBalance.Store(0)

	s.BoardPollErrorsTotal.Store(0)
	s.LastDeployConfirmedUnixNano.Store(0)
	s.PipelineStartUnixNano.Store(now.UnixNano())
}

// Snapshot is an immutable value copy of every counter, used for the
// round-end summary log and the Prometheus collector.
type Snapshot struct {
	DeploysSent, DeploysConfirmed, DeploysFailed             int64
	CheckpointsSent, CheckpointsConfirmed, CheckpointsFailed int64
	FeeUpdatesSent, FeeUpdatesConfirmed, FeeUpdatesFailed    int64

	MinersDeployed, MinersCheckpointed, MinersDeployFailed int64

	SkippedWrongFee, SkippedNoSlots, SkippedAlreadyDeployed,
	SkippedMaxRetries, SkippedLowBalance int64

	BoardPollErrorsTotal int64

	PipelineStart time.Time
	LastDeployConfirmed time.Time
}

// Snapshot reads every counter into an immutable value.
func (s *Stats) Snapshot() Snapshot {
	last := s.LastDeployConfirmedUnixNano.Load()
	var lastT time.Time
	if last != 0 {
		lastT = time.Unix(0, last)
	}
	return Snapshot{
		DeploysSent:          s.DeploysSent.Load(),
		DeploysConfirmed:     s.DeploysConfirmed.Load(),
		DeploysFailed:        s.DeploysFailed.Load(),
		CheckpointsSent:      s.CheckpointsSent.Load(),
		CheckpointsConfirmed: s.CheckpointsConfirmed.Load(),
		CheckpointsFailed:    s.CheckpointsFailed.Load(),
		FeeUpdatesSent:       s.FeeUpdatesSent.Load(),
		FeeUpdatesConfirmed:  s.FeeUpdatesConfirmed.Load(),
		FeeUpdatesFailed:     s.FeeUpdatesFailed.Load(),

		MinersDeployed:     s.MinersDeployed.Load(),
		MinersCheckpointed: s.MinersCheckpointed.Load(),
		MinersDeployFailed: s.MinersDeployFailed.Load(),

		SkippedWrongFee:        s.SkippedWrongFee.Load(),
		SkippedNoSlots:         s.SkippedNoSlots.Load(),
		SkippedAlreadyDeployed: s.SkippedAlreadyDeployed.Load(),
		SkippedMaxRetries:      s.SkippedMaxRetries.Load(),
		SkippedLowBalance:      s.SkippedLowBalance.Load(),

		BoardPollErrorsTotal: s.BoardPollErrorsTotal.Load(),

		PipelineStart:       time.Unix(0, s.PipelineStartUnixNano.Load()),
		LastDeployConfirmed: lastT,
	}
}

// RecordSkipWrongFee and its siblings increment the one counter matching a
// given skip reason; kept as separate methods (rather than importing the
// pipeline package's SkipReason enum here) to keep stats a dependency leaf.
func (s *Stats) RecordSkipWrongFee()       { s.SkippedWrongFee.Add(1) }
func (s *Stats) RecordSkipNoSlots()        { s.SkippedNoSlots.Add(1) }
func (s *Stats) RecordSkipAlreadyDeployed() { s.SkippedAlreadyDeployed.Add(1) }
func (s *Stats) RecordSkipMaxRetries()     { s.SkippedMaxRetries.Add(1) }
func (s *Stats) RecordSkipLowBalance()     { s.SkippedLowBalance.Add(1) }
