// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package job registers scheduled background jobs.
package job

import (
	"github.com/lutfianrhdn/sc-data-gathering-service/app/job/supervisoraudit"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/schedule"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/supervisor"
	"github.com/sk-pkg/feishu"
	"github.com/sk-pkg/logger"
	"github.com/sk-pkg/redis"
	"gorm.io/gorm"
)

// Register adds background jobs into the scheduler.
//
// Parameters:
//   - logger: logger manager for job execution logs.
//   - redis: redis clients map keyed by profile name.
//   - db: database clients map keyed by database name.
//   - feishu: optional Feishu manager for notifications.
//   - sup: crawl pipeline supervisor, sampled by the worker-health audit
//     job; nil disables registration.
//   - s: scheduler instance that receives registered jobs.
//
// Returns:
//   - None.
func Register(logger *logger.Manager, redis map[string]*redis.Manager, db map[string]*gorm.DB, feishu *feishu.Manager, sup *supervisor.Supervisor, s *schedule.Schedule) {
	lockRedis, ok := redis["lock"]
	if sup == nil || !ok {
		return
	}

	// Logs worker instances the supervisor considers stale or unhealthy.
	audit := supervisoraudit.New(logger, lockRedis, sup)
	s.AddJob("SupervisorAudit", audit).PerMinuit(1).WithoutOverlapping()
}
