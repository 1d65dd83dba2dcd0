package stats

import "github.com/prometheus/client_golang/prometheus"

// Collector adapts a Stats bundle to prometheus.Collector, exposing every
// counter named in spec.md §3 under the `deploycrank_` namespace.
type Collector struct {
	stats *Stats

	deploysSent, deploysConfirmed, deploysFailed                   *prometheus.Desc
	checkpointsSent, checkpointsConfirmed, checkpointsFailed       *prometheus.Desc
	feeUpdatesSent, feeUpdatesConfirmed, feeUpdatesFailed          *prometheus.Desc
	minersDeployed, minersCheckpointed, minersDeployFailed         *prometheus.Desc
	skipped                                                        *prometheus.Desc
	boardPollErrors                                                *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector wraps s for Prometheus registration.
func NewCollector(s *Stats) *Collector {
	return &Collector{
		stats: s,

		deploysSent:      prometheus.NewDesc("deploycrank_deploys_sent_total", "Deploy transactions sent.", nil, nil),
		deploysConfirmed: prometheus.NewDesc("deploycrank_deploys_confirmed_total", "Deploy transactions confirmed.", nil, nil),
		deploysFailed:    prometheus.NewDesc("deploycrank_deploys_failed_total", "Deploy transactions failed.", nil, nil),

		checkpointsSent:      prometheus.NewDesc("deploycrank_checkpoints_sent_total", "Checkpoint transactions sent.", nil, nil),
		checkpointsConfirmed: prometheus.NewDesc("deploycrank_checkpoints_confirmed_total", "Checkpoint transactions confirmed.", nil, nil),
		checkpointsFailed:    prometheus.NewDesc("deploycrank_checkpoints_failed_total", "Checkpoint transactions failed.", nil, nil),

		feeUpdatesSent:      prometheus.NewDesc("deploycrank_fee_updates_sent_total", "Fee-update transactions sent.", nil, nil),
		feeUpdatesConfirmed: prometheus.NewDesc("deploycrank_fee_updates_confirmed_total", "Fee-update transactions confirmed.", nil, nil),
		feeUpdatesFailed:    prometheus.NewDesc("deploycrank_fee_updates_failed_total", "Fee-update transactions failed.", nil, nil),

		minersDeployed:     prometheus.NewDesc("deploycrank_miners_deployed_total", "Miners deployed this round.", nil, nil),
		minersCheckpointed: prometheus.NewDesc("deploycrank_miners_checkpointed_total", "Miners checkpointed this round.", nil, nil),
		minersDeployFailed: prometheus.NewDesc("deploycrank_miners_deploy_failed_total", "Miners whose deploy failed this round.", nil, nil),

		skipped: prometheus.NewDesc("deploycrank_skipped_total", "Tasks skipped, by reason.", []string{"reason"}, nil),

		boardPollErrors: prometheus.NewDesc("deploycrank_board_poll_errors_total", "Board-state poll failures.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.deploysSent
	ch <- c.deploysConfirmed
	ch <- c.deploysFailed
	ch <- c.checkpointsSent
	ch <- c.checkpointsConfirmed
	ch <- c.checkpointsFailed
	ch <- c.feeUpdatesSent
	ch <- c.feeUpdatesConfirmed
	ch <- c.feeUpdatesFailed
	ch <- c.minersDeployed
	ch <- c.minersCheckpointed
	ch <- c.minersDeployFailed
	ch <- c.skipped
	ch <- c.boardPollErrors
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.deploysSent, prometheus.CounterValue, float64(snap.DeploysSent))
	ch <- prometheus.MustNewConstMetric(c.deploysConfirmed, prometheus.CounterValue, float64(snap.DeploysConfirmed))
	ch <- prometheus.MustNewConstMetric(c.deploysFailed, prometheus.CounterValue, float64(snap.DeploysFailed))

	ch <- prometheus.MustNewConstMetric(c.checkpointsSent, prometheus.CounterValue, float64(snap.CheckpointsSent))
	ch <- prometheus.MustNewConstMetric(c.checkpointsConfirmed, prometheus.CounterValue, float64(snap.CheckpointsConfirmed))
	ch <- prometheus.MustNewConstMetric(c.checkpointsFailed, prometheus.CounterValue, float64(snap.CheckpointsFailed))

	ch <- prometheus.MustNewConstMetric(c.feeUpdatesSent, prometheus.CounterValue, float64(snap.FeeUpdatesSent))
	ch <- prometheus.MustNewConstMetric(c.feeUpdatesConfirmed, prometheus.CounterValue, float64(snap.FeeUpdatesConfirmed))
	ch <- prometheus.MustNewConstMetric(c.feeUpdatesFailed, prometheus.CounterValue, float64(snap.FeeUpdatesFailed))

	ch <- prometheus.MustNewConstMetric(c.minersDeployed, prometheus.CounterValue, float64(snap.MinersDeployed))
	ch <- prometheus.MustNewConstMetric(c.minersCheckpointed, prometheus.CounterValue, float64(snap.MinersCheckpointed))
	ch <- prometheus.MustNewConstMetric(c.minersDeployFailed, prometheus.CounterValue, float64(snap.MinersDeployFailed))

	ch <- prometheus.MustNewConstMetric(c.skipped, prometheus.CounterValue, float64(snap.SkippedWrongFee), "wrong_fee")
	ch <- prometheus.MustNewConstMetric(c.skipped, prometheus.CounterValue, float64(snap.SkippedNoSlots), "no_slots")
	ch <- prometheus.MustNewConstMetric(c.skipped, prometheus.CounterValue, float64(snap.SkippedAlreadyDeployed), "already_deployed")
	ch <- prometheus.MustNewConstMetric(c.skipped, prometheus.CounterValue, float64(snap.SkippedMaxRetries), "max_retries")
	ch <- prometheus.MustNewConstMetric(c.skipped, prometheus.CounterValue, float64(snap.SkippedLowBalance), "low_balance")

	ch <- prometheus.MustNewConstMetric(c.boardPollErrors, prometheus.CounterValue, float64(snap.BoardPollErrorsTotal))
}
