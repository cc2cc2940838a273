// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package envelope

import "testing"

func TestTargetWorkerExtractsLeadingSegment(t *testing.T) {
	e := New(StatusCompleted, []string{"DBWorker/create_new_data/42"}, nil)
	if got := e.TargetWorker(); got != "DBWorker" {
		t.Fatalf("TargetWorker() = %q, want %q", got, "DBWorker")
	}
}

func TestTargetWorkerEmptyDestination(t *testing.T) {
	e := New(StatusPending, nil, nil)
	if got := e.TargetWorker(); got != "" {
		t.Fatalf("TargetWorker() = %q, want empty", got)
	}
}

func TestTargetsSupervisor(t *testing.T) {
	e := New(StatusCompleted, []string{"supervisor/ack"}, nil)
	if !e.TargetsSupervisor() {
		t.Fatal("TargetsSupervisor() = false, want true")
	}

	e2 := New(StatusCompleted, []string{"DBWorker/create_new_data"}, nil)
	if e2.TargetsSupervisor() {
		t.Fatal("TargetsSupervisor() = true, want false")
	}
}

func TestPendingMessageTableInsertDeduplicatesByMessageID(t *testing.T) {
	table := NewPendingMessageTable()
	e := New(StatusPending, []string{"CrawlWorker/crawling"}, nil)

	table.Insert("CrawlWorker", e)
	table.Insert("CrawlWorker", e)

	if got := table.Len("CrawlWorker"); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}

func TestPendingMessageTableRemove(t *testing.T) {
	table := NewPendingMessageTable()
	e := New(StatusPending, []string{"CrawlWorker/crawling"}, nil)
	table.Insert("CrawlWorker", e)

	table.Remove("CrawlWorker", e.MessageID)

	if got := table.Len("CrawlWorker"); got != 0 {
		t.Fatalf("Len() after Remove() = %d, want 0", got)
	}
}

func TestPendingMessageTableReplayPreservesOrder(t *testing.T) {
	table := NewPendingMessageTable()
	e1 := New(StatusPending, []string{"CrawlWorker/crawling"}, "first")
	e2 := New(StatusPending, []string{"CrawlWorker/crawling"}, "second")

	table.Insert("CrawlWorker", e1)
	table.Insert("CrawlWorker", e2)

	replayed := table.Replay("CrawlWorker")
	if len(replayed) != 2 {
		t.Fatalf("Replay() len = %d, want 2", len(replayed))
	}
	if replayed[0].MessageID != e1.MessageID || replayed[1].MessageID != e2.MessageID {
		t.Fatalf("Replay() order = %v, want [%s, %s]", replayed, e1.MessageID, e2.MessageID)
	}
}

func TestPendingMessageTableGetRecoversOriginalEnvelope(t *testing.T) {
	table := NewPendingMessageTable()
	e := New(StatusPending, []string{"CrawlWorker/crawling"}, "payload").WithSender("CrawlWorker-1")
	table.Insert("CrawlWorker", e)

	got, ok := table.Get("CrawlWorker", e.MessageID)
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.Data != "payload" {
		t.Fatalf("Get() = %+v, want Data=%q", got, "payload")
	}

	if table.Len("CrawlWorker") != 1 {
		t.Fatal("Get() must not remove the entry")
	}
}

func TestPendingMessageTableGetMissing(t *testing.T) {
	table := NewPendingMessageTable()
	if _, ok := table.Get("CrawlWorker", "nonexistent"); ok {
		t.Fatal("Get() ok = true for a missing message id, want false")
	}
}

func TestPendingMessageTableReplayIsACopy(t *testing.T) {
	table := NewPendingMessageTable()
	e := New(StatusPending, []string{"CrawlWorker/crawling"}, nil)
	table.Insert("CrawlWorker", e)

	replayed := table.Replay("CrawlWorker")
	replayed[0].Status = StatusFailed

	if table.Replay("CrawlWorker")[0].Status != StatusPending {
		t.Fatal("mutating a Replay() result leaked into the table's internal state")
	}
}
