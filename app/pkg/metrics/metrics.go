// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package metrics exposes Prometheus collectors for the crawl pipeline:
// pending-queue depth, crawl invocations, lock contention, and worker
// restarts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PendingDepth reports how many envelopes are currently awaiting
	// acknowledgment per worker class, sampled from the Supervisor's
	// PendingMessageTable.
	PendingDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crawl_pipeline_pending_depth",
		Help: "number of envelopes awaiting acknowledgment, by worker class",
	}, []string{"class"})

	// CrawlInvocationsTotal counts CrawlWorker HTTP crawl attempts by
	// outcome ("ok", "error", "breaker_open").
	CrawlInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawl_pipeline_crawl_invocations_total",
		Help: "counter of CrawlWorker HTTP crawl attempts by outcome",
	}, []string{"outcome"})

	// LockContentionTotal counts CrawlLockManager.Acquire calls that lost
	// the race for a date-range lock, by keyword.
	LockContentionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawl_pipeline_lock_contention_total",
		Help: "counter of lock acquisitions that found the range already held",
	}, []string{"keyword"})

	// WorkerRestartsTotal counts Supervisor respawns by worker class,
	// incremented from watch() each time an instance's body exits.
	WorkerRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawl_pipeline_worker_restarts_total",
		Help: "counter of worker instance respawns, by class",
	}, []string{"class"})

	// DBWorkerQueueDepth reports how many CrawlWorker goroutines are
	// currently blocked on the DBWorker capacity semaphore.
	DBWorkerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crawl_pipeline_dbworker_queue_depth",
		Help: "number of callers currently blocked waiting for DBWorker capacity",
	})
)
