// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package crawlworker

import (
	"context"
	"testing"
	"time"

	"github.com/sk-pkg/logger"

	"github.com/lutfianrhdn/sc-data-gathering-service/app/crawllock"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/envelope"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/daterange"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/e"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/resultsstore"
)

func newTestLogger(t *testing.T) *logger.Manager {
	t.Helper()
	log, err := logger.New(logger.WithDriver("stdout"), logger.WithLevel("error"))
	if err != nil {
		t.Fatalf("logger.New() error: %v", err)
	}
	return log
}

// fakeLockManager records Acquire/Release calls and answers Overlap and
// Residual from canned fields, so tests can drive the planner without a
// real Redis-backed crawllock.Manager.
type fakeLockManager struct {
	overlaps []crawllock.Overlap
	residual []daterange.Range

	acquireOK    bool
	acquireCalls []daterange.Range
	releaseCalls []daterange.Range
}

func (f *fakeLockManager) Acquire(keyword string, r daterange.Range, ttlSeconds int) (bool, error) {
	f.acquireCalls = append(f.acquireCalls, r)
	return f.acquireOK, nil
}

func (f *fakeLockManager) Release(keyword string, r daterange.Range) (bool, error) {
	f.releaseCalls = append(f.releaseCalls, r)
	return true, nil
}

func (f *fakeLockManager) Ranges(keyword string) ([]daterange.Range, error) { return nil, nil }

func (f *fakeLockManager) Overlap(keyword string, req daterange.Range) ([]crawllock.Overlap, error) {
	return f.overlaps, nil
}

func (f *fakeLockManager) Residual(req daterange.Range, overlaps []daterange.Range) []daterange.Range {
	return f.residual
}

// fakeDBClient stands in for dbworker.Client.
type fakeDBClient struct {
	coverage      resultsstore.Coverage
	coverageErr   error
	coverageDelay time.Duration

	inserted     []resultsstore.CrawledRecord
	insertedProj string
	insertErr    error
}

func (f *fakeDBClient) GetCrawledData(ctx context.Context, keyword string, r daterange.Range) (resultsstore.Coverage, error) {
	if f.coverageDelay > 0 {
		time.Sleep(f.coverageDelay)
	}
	return f.coverage, f.coverageErr
}

func (f *fakeDBClient) CreateNewData(ctx context.Context, projectID string, records []resultsstore.CrawledRecord) ([]string, error) {
	f.insertedProj = projectID
	f.inserted = append(f.inserted, records...)
	return nil, f.insertErr
}

// fakeCapability returns canned records for every sub-range crawled.
type fakeCapability struct {
	records []resultsstore.CrawledRecord
	err     error
	calls   []daterange.Range
}

func (f *fakeCapability) Crawl(ctx context.Context, accessToken, keyword string, r daterange.Range, targetCount int) ([]resultsstore.CrawledRecord, error) {
	f.calls = append(f.calls, r)
	return f.records, f.err
}

func mustRange(t *testing.T, start, end string) daterange.Range {
	t.Helper()
	r, err := daterange.Parse(start, end)
	if err != nil {
		t.Fatalf("daterange.Parse(%q, %q) error: %v", start, end, err)
	}
	return r
}

func jobEnvelope(t *testing.T) envelope.Envelope {
	t.Helper()
	return envelope.New(envelope.StatusPending, []string{"CrawlWorker/crawling"}, map[string]interface{}{
		"project_id":       "proj-1",
		"keyword":          "golang",
		"start_date_crawl": "2024-01-01",
		"end_date_crawl":   "2024-01-05",
		"tweetToken":       "tok-123",
	})
}

func runOne(t *testing.T, worker func(ctx context.Context, id string, in <-chan envelope.Envelope, out chan<- envelope.Envelope), msg envelope.Envelope) []envelope.Envelope {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan envelope.Envelope, 1)
	out := make(chan envelope.Envelope, 8)

	go worker(ctx, "CrawlWorker-1", in, out)
	in <- msg

	var results []envelope.Envelope
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-out:
			results = append(results, e)
			if e.TargetsSupervisor() {
				return drain(out, results)
			}
		case <-deadline:
			t.Fatal("timed out waiting for worker output")
		}
	}
}

func drain(out <-chan envelope.Envelope, results []envelope.Envelope) []envelope.Envelope {
	for {
		select {
		case e := <-out:
			results = append(results, e)
		case <-time.After(50 * time.Millisecond):
			return results
		}
	}
}

func TestHandleShortCircuitsWhenFullyCovered(t *testing.T) {
	req := mustRange(t, "2024-01-01", "2024-01-05")
	lockMgr := &fakeLockManager{}
	dbClient := &fakeDBClient{coverage: resultsstore.Coverage{Range: req}}
	capability := &fakeCapability{}

	worker := New(lockMgr, dbClient, capability, Config{TargetCount: 100}, newTestLogger(t))
	results := runOne(t, worker, jobEnvelope(t))

	if len(capability.calls) != 0 {
		t.Fatalf("Crawl called %d times, want 0 when already fully covered", len(capability.calls))
	}

	found := false
	for _, r := range results {
		if r.Status == envelope.StatusCompleted && r.TargetsSupervisor() {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a completed ack to the supervisor")
	}
}

func TestHandleCrawlsResidualRangesAndPublishes(t *testing.T) {
	residual := mustRange(t, "2024-01-01", "2024-01-05")
	lockMgr := &fakeLockManager{residual: []daterange.Range{residual}, acquireOK: true}
	dbClient := &fakeDBClient{coverage: resultsstore.Coverage{Empty: true}}
	capability := &fakeCapability{records: []resultsstore.CrawledRecord{
		{FullText: "golang is great", CreatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{FullText: "unrelated text", CreatedAt: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)},
	}}

	worker := New(lockMgr, dbClient, capability, Config{TargetCount: 100}, newTestLogger(t))
	results := runOne(t, worker, jobEnvelope(t))

	if len(capability.calls) != 1 || !capability.calls[0].Equal(residual) {
		t.Fatalf("Crawl calls = %v, want exactly [%v]", capability.calls, residual)
	}
	if len(lockMgr.acquireCalls) != 1 || len(lockMgr.releaseCalls) != 1 {
		t.Fatalf("acquire/release calls = %d/%d, want 1/1", len(lockMgr.acquireCalls), len(lockMgr.releaseCalls))
	}

	if len(dbClient.inserted) != 1 {
		t.Fatalf("persisted %d records, want 1 (only the keyword-matching one)", len(dbClient.inserted))
	}
	if dbClient.insertedProj != "proj-1" {
		t.Fatalf("persisted under project %q, want proj-1", dbClient.insertedProj)
	}

	var publishedDownstream bool
	for _, r := range results {
		if !r.TargetsSupervisor() && r.Status == envelope.StatusCompleted {
			publishedDownstream = true
		}
	}
	if !publishedDownstream {
		t.Fatal("expected a downstream publish envelope when records were found")
	}
}

func TestHandleEmitsCompensationWhenNothingFound(t *testing.T) {
	residual := mustRange(t, "2024-01-01", "2024-01-05")
	lockMgr := &fakeLockManager{residual: []daterange.Range{residual}, acquireOK: true}
	dbClient := &fakeDBClient{coverage: resultsstore.Coverage{Empty: true}}
	capability := &fakeCapability{records: nil}

	worker := New(lockMgr, dbClient, capability, Config{TargetCount: 100}, newTestLogger(t))
	results := runOne(t, worker, jobEnvelope(t))

	var compensated bool
	for _, r := range results {
		if r.Reason == e.ReasonNoTweetFound {
			compensated = true
		}
	}
	if !compensated {
		t.Fatal("expected a compensate envelope with ReasonNoTweetFound")
	}
}

func TestHandleRejectsBadInput(t *testing.T) {
	lockMgr := &fakeLockManager{}
	dbClient := &fakeDBClient{}
	capability := &fakeCapability{}

	worker := New(lockMgr, dbClient, capability, Config{TargetCount: 100}, newTestLogger(t))

	bad := envelope.New(envelope.StatusPending, []string{"CrawlWorker/crawling"}, map[string]interface{}{
		"project_id": "proj-1",
	})

	results := runOne(t, worker, bad)

	var rejected bool
	for _, r := range results {
		if r.Status == envelope.StatusFailed && r.Reason == e.ReasonBadInput {
			rejected = true
		}
	}
	if !rejected {
		t.Fatal("expected a failed/BAD_INPUT ack for a malformed job payload")
	}
}

func TestWorkerRejectsConcurrentJobWithServerBusy(t *testing.T) {
	lockMgr := &fakeLockManager{residual: nil, acquireOK: true}
	dbClient := &fakeDBClient{coverage: resultsstore.Coverage{Empty: true}, coverageDelay: 100 * time.Millisecond}
	capability := &fakeCapability{}

	worker := New(lockMgr, dbClient, capability, Config{TargetCount: 100}, newTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan envelope.Envelope, 2)
	out := make(chan envelope.Envelope, 8)
	go worker(ctx, "CrawlWorker-1", in, out)

	first := jobEnvelope(t)
	second := jobEnvelope(t)
	in <- first
	in <- second

	var sawBusy bool
	deadline := time.After(2 * time.Second)
	seen := 0
	for seen < 2 {
		select {
		case r := <-out:
			if r.Reason == e.ReasonServerBusy {
				sawBusy = true
				seen++
			} else if r.TargetsSupervisor() {
				seen++
			}
		case <-deadline:
			t.Fatal("timed out waiting for worker to process both envelopes")
		}
	}

	if !sawBusy {
		t.Fatal("expected a SERVER_BUSY rejection for the overlapping job")
	}
}
