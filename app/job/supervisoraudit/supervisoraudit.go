// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package supervisoraudit implements a scheduled job that logs worker
// instances the Supervisor currently considers stale or unhealthy.
package supervisoraudit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sk-pkg/logger"
	"github.com/sk-pkg/redis"
	"go.uber.org/zap"

	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/schedule"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/supervisor"
)

const lastUnhealthyKey = "supervisoraudit:lastUnhealthyCount"

// healthSource is the subset of *supervisor.Supervisor this job depends
// on, letting tests substitute a fake roster.
type healthSource interface {
	Health() []supervisor.Health
}

type auditHandler struct {
	done   chan struct{}
	error  chan error
	logger *logger.Manager
	redis  *redis.Manager
	source healthSource
}

// Exec logs every currently unhealthy worker instance and records the
// unhealthy count in Redis so a change in that count is visible across
// runs without re-deriving it from logs.
//
// Parameters:
//   - ctx: trace-aware context used for structured logs.
//
// Returns:
//   - None.
//
// Behavior:
//   - Sends async errors to the error channel on Redis read/write failure.
//   - Emits one done signal after execution.
func (ah *auditHandler) Exec(ctx context.Context) {
	var unhealthy []supervisor.Health
	for _, h := range ah.source.Health() {
		if !h.Healthy {
			unhealthy = append(unhealthy, h)
		}
	}

	for _, h := range unhealthy {
		ah.logger.Warn(ctx, "worker instance is stale or unhealthy",
			zap.String("class", h.Class),
			zap.String("instance", h.InstanceID),
			zap.Time("last_heartbeat", h.LastHeartbeat),
			zap.Bool("busy", h.Busy))
	}

	last, err := ah.redis.GetString(lastUnhealthyKey)
	if err != nil {
		ah.error <- fmt.Errorf("supervisoraudit: read last unhealthy count: %w", err)
	} else if last != strconv.Itoa(len(unhealthy)) {
		ah.logger.Info(ctx, "unhealthy worker count changed",
			zap.String("previous", last), zap.Int("current", len(unhealthy)))
	}

	if err := ah.redis.SetString(lastUnhealthyKey, strconv.Itoa(len(unhealthy)), 0); err != nil {
		ah.error <- fmt.Errorf("supervisoraudit: write last unhealthy count: %w", err)
	}

	ah.done <- struct{}{}
}

// Error exposes the asynchronous error channel of the job handler.
//
// Returns:
//   - <-chan error: read-only channel carrying execution errors.
func (ah *auditHandler) Error() <-chan error {
	return ah.error
}

// Done exposes the completion channel of the job handler.
//
// Returns:
//   - <-chan struct{}: read-only channel signaling execution completion.
func (ah *auditHandler) Done() <-chan struct{} {
	return ah.done
}

// New creates a schedule-compatible handler that audits Supervisor
// worker health on every tick.
//
// Parameters:
//   - log: logger manager used for staleness warnings.
//   - r: redis manager used to persist the last observed unhealthy count.
//   - source: the Supervisor (or a fake) to sample on each run.
//
// Returns:
//   - schedule.HandlerFunc: initialized supervisor audit job handler.
//
// Example:
//
//	job := supervisoraudit.New(logger, redis, sup)
func New(log *logger.Manager, r *redis.Manager, source *supervisor.Supervisor) schedule.HandlerFunc {
	return &auditHandler{
		done:   make(chan struct{}),
		error:  make(chan error),
		logger: log,
		redis:  r,
		source: source,
	}
}
