package rangesync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchDownloadAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rangesync",
			Name:      "batch_download_attempts_total",
			Help:      "Number of beacon_blocks_by_range download attempts, by outcome.",
		},
		[]string{"outcome"},
	)
	batchProcessingAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rangesync",
			Name:      "batch_processing_attempts_total",
			Help:      "Number of chain-segment processing attempts, by outcome.",
		},
		[]string{"outcome"},
	)
	chainsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rangesync",
			Name:      "chains_active",
			Help:      "Number of sync chains currently in the Syncing status, by sync type.",
		},
		[]string{"sync_type"},
	)
	validatedEpochsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rangesync",
			Name:      "validated_epochs_total",
			Help:      "Cumulative count of epochs validated across all sync chains, by sync type.",
		},
		[]string{"sync_type"},
	)
	peerReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rangesync",
			Name:      "peer_reports_total",
			Help:      "Number of peer reports emitted, by reason.",
		},
		[]string{"reason"},
	)
)
