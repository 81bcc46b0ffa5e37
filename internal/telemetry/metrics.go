// Package telemetry registers the replication coordinator's Prometheus
// metrics, following the package-level promauto vars of
// _examples/superfly-litefs's db.go metrics block.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueLengthMetricVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "repltree_queue_length",
		Help: "Number of entries currently in the replica's queue.",
	}, []string{"replica"})

	FutureTargetsMetricVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "repltree_future_parts",
		Help: "Number of output part names currently being produced.",
	}, []string{"replica"})

	EntriesPulledCountMetricVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repltree_log_entries_pulled_total",
		Help: "Number of log entries pulled into the queue, by source peer.",
	}, []string{"replica", "peer"})

	MergesSelectedCountMetricVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repltree_merges_selected_total",
		Help: "Number of MERGE_PARTS entries published by the merge selector.",
	}, []string{"replica"})

	FetchAttemptsCountMetricVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repltree_fetch_attempts_total",
		Help: "Number of part fetch attempts, partitioned by outcome.",
	}, []string{"replica", "outcome"})

	ExecutedEntriesCountMetricVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repltree_executed_entries_total",
		Help: "Number of queue entries executed, partitioned by kind and outcome.",
	}, []string{"replica", "kind", "outcome"})

	HousekeeperTrimmedCountMetricVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repltree_housekeeper_trimmed_total",
		Help: "Number of records trimmed by the housekeeper, by kind.",
	}, []string{"replica", "kind"})

	IsLeaderMetricVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "repltree_is_leader",
		Help: "1 if this replica currently holds leadership, else 0.",
	}, []string{"replica"})

	IsReadOnlyMetricVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "repltree_is_read_only",
		Help: "1 if this replica is in read-only mode, else 0.",
	}, []string{"replica"})
)
