// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package supervisoraudit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sk-pkg/logger"
	"github.com/sk-pkg/redis"

	"github.com/lutfianrhdn/sc-data-gathering-service/app/supervisor"
)

type fakeSource struct {
	health []supervisor.Health
}

func (f fakeSource) Health() []supervisor.Health { return f.health }

func newTestDeps(t *testing.T) (*logger.Manager, *redis.Manager) {
	t.Helper()

	log, err := logger.New(logger.WithDriver("stdout"), logger.WithLevel("error"))
	if err != nil {
		t.Fatalf("logger.New() error: %v", err)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error: %v", err)
	}
	t.Cleanup(mr.Close)

	manager, err := redis.New(redis.WithAddress(mr.Addr()))
	if err != nil {
		t.Fatalf("redis.New() error: %v", err)
	}

	return log, manager
}

func newHandler(log *logger.Manager, r *redis.Manager, source healthSource) *auditHandler {
	return &auditHandler{
		done:   make(chan struct{}),
		error:  make(chan error),
		logger: log,
		redis:  r,
		source: source,
	}
}

func runExec(t *testing.T, h *auditHandler) {
	t.Helper()
	go h.Exec(context.Background())

	select {
	case err := <-h.Error():
		t.Fatalf("Exec() reported error: %v", err)
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Exec to finish")
	}
}

func TestExecRecordsUnhealthyCount(t *testing.T) {
	log, r := newTestDeps(t)
	source := fakeSource{health: []supervisor.Health{
		{InstanceID: "CrawlWorker-1", Class: "CrawlWorker", Healthy: true},
		{InstanceID: "CrawlWorker-2", Class: "CrawlWorker", Healthy: false},
	}}

	h := newHandler(log, r, source)
	runExec(t, h)

	got, err := r.GetString(lastUnhealthyKey)
	if err != nil {
		t.Fatalf("GetString() error: %v", err)
	}
	if got != "1" {
		t.Fatalf("lastUnhealthyKey = %q, want %q", got, "1")
	}
}

func TestExecWithNoUnhealthyInstancesRecordsZero(t *testing.T) {
	log, r := newTestDeps(t)
	source := fakeSource{health: []supervisor.Health{
		{InstanceID: "CrawlWorker-1", Class: "CrawlWorker", Healthy: true},
	}}

	h := newHandler(log, r, source)
	runExec(t, h)

	got, err := r.GetString(lastUnhealthyKey)
	if err != nil {
		t.Fatalf("GetString() error: %v", err)
	}
	if got != "0" {
		t.Fatalf("lastUnhealthyKey = %q, want %q", got, "0")
	}
}
