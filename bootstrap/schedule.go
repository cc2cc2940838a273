// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package bootstrap

import (
	"context"

	"github.com/lutfianrhdn/sc-data-gathering-service/app/job"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/schedule"
)

// loadSchedule builds the in-process scheduler and registers background
// jobs against it. Start() later launches its ticker loop.
//
// Parameters:
//   - ctx: trace-aware context used for initialization logs.
//
// Returns:
//   - None.
func (a *App) loadSchedule(ctx context.Context) {
	a.Schedule = schedule.New(a.Logger, a.Redis["lock"], a.TraceID)

	job.Register(a.Logger, a.Redis, a.MysqlDB, a.Feishu, a.Supervisor, a.Schedule)

	a.Logger.Info(ctx, "Schedule loaded successfully")
}

// startSchedule launches the scheduler's ticker loop.
//
// Parameters:
//   - ctx: trace-aware context (unused by the scheduler itself, kept for
//     symmetry with the other startX goroutines Start() launches).
//
// Returns:
//   - None.
func (a *App) startSchedule(ctx context.Context) {
	a.Schedule.Start()
}
