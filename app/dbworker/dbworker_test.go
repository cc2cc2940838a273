// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package dbworker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/daterange"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/resultsstore"
)

type fakeStore struct {
	mu       sync.Mutex
	inFlight int
	peak     int

	coverage resultsstore.Coverage
	insert   []resultsstore.CrawledRecord
	delay    time.Duration
}

func (f *fakeStore) InsertMany(ctx context.Context, records []resultsstore.CrawledRecord) ([]string, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.insert = append(f.insert, records...)
	f.inFlight--
	f.mu.Unlock()

	ids := make([]string, len(records))
	return ids, nil
}

func (f *fakeStore) Coverage(ctx context.Context, keyword string, req daterange.Range) (resultsstore.Coverage, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.coverage, nil
}

func mustRange(t *testing.T, start, end string) daterange.Range {
	t.Helper()
	r, err := daterange.Parse(start, end)
	if err != nil {
		t.Fatalf("daterange.Parse(%q, %q) error: %v", start, end, err)
	}
	return r
}

func TestGetCrawledDataDelegatesToStore(t *testing.T) {
	r := mustRange(t, "2024-01-01", "2024-01-05")
	store := &fakeStore{coverage: resultsstore.Coverage{Range: r}}
	client := New(store, 2)

	got, err := client.GetCrawledData(context.Background(), "golang", r)
	if err != nil {
		t.Fatalf("GetCrawledData() error: %v", err)
	}
	if !got.Range.Equal(r) {
		t.Fatalf("GetCrawledData() range = %v, want %v", got.Range, r)
	}
}

func TestCreateNewDataStampsProjectID(t *testing.T) {
	store := &fakeStore{}
	client := New(store, 2)

	records := []resultsstore.CrawledRecord{
		{Keyword: "golang", FullText: "go is great"},
		{Keyword: "golang", FullText: "go rocks"},
	}

	if _, err := client.CreateNewData(context.Background(), "proj-1", records); err != nil {
		t.Fatalf("CreateNewData() error: %v", err)
	}

	if len(store.insert) != 2 {
		t.Fatalf("store received %d records, want 2", len(store.insert))
	}
	for _, r := range store.insert {
		if r.ProjectID != "proj-1" {
			t.Fatalf("record ProjectID = %q, want %q", r.ProjectID, "proj-1")
		}
	}
}

func TestCreateNewDataNoopOnEmptyRecords(t *testing.T) {
	store := &fakeStore{}
	client := New(store, 2)

	ids, err := client.CreateNewData(context.Background(), "proj-1", nil)
	if err != nil {
		t.Fatalf("CreateNewData() error: %v", err)
	}
	if ids != nil {
		t.Fatalf("ids = %v, want nil", ids)
	}
	if len(store.insert) != 0 {
		t.Fatal("store.InsertMany should not have been called for an empty batch")
	}
}

// TestCapacityLimitsConcurrentRequests verifies the bounded semaphore
// never lets more than capacity requests reach the store at once.
func TestCapacityLimitsConcurrentRequests(t *testing.T) {
	store := &fakeStore{delay: 30 * time.Millisecond}
	client := New(store, 2)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = client.GetCrawledData(context.Background(), "golang", mustRange(t, "2024-01-01", "2024-01-02"))
		}()
	}
	wg.Wait()

	store.mu.Lock()
	peak := store.peak
	store.mu.Unlock()

	if peak > 2 {
		t.Fatalf("peak concurrent store calls = %d, want <= 2", peak)
	}
}

func TestCapacityBelowOneTreatedAsOne(t *testing.T) {
	store := &fakeStore{}
	client := New(store, 0)

	if _, err := client.GetCrawledData(context.Background(), "golang", mustRange(t, "2024-01-01", "2024-01-02")); err != nil {
		t.Fatalf("GetCrawledData() error: %v", err)
	}
}

func TestGetCrawledDataRespectsContextCancellation(t *testing.T) {
	store := &fakeStore{delay: 200 * time.Millisecond}
	client := New(store, 1)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_, _ = client.GetCrawledData(context.Background(), "golang", mustRange(t, "2024-01-01", "2024-01-02"))
		close(done)
	}()
	time.Sleep(10 * time.Millisecond) // let the first call take the only slot

	cancel()
	_, err := client.GetCrawledData(ctx, "golang", mustRange(t, "2024-01-01", "2024-01-02"))
	if err == nil {
		t.Fatal("GetCrawledData() with a cancelled context blocked on a full semaphore should return an error")
	}

	<-done
}

func TestKeywordFilterMatchesAnyToken(t *testing.T) {
	re := KeywordFilter("go lang")

	cases := []struct {
		text string
		want bool
	}{
		{"I love GO programming", true},
		{"lang is short for language", true},
		{"nothing relevant here", false},
	}

	for _, c := range cases {
		if got := re.MatchString(c.text); got != c.want {
			t.Errorf("KeywordFilter(%q).MatchString(%q) = %v, want %v", "go lang", c.text, got, c.want)
		}
	}
}

func TestKeywordFilterEscapesMetacharacters(t *testing.T) {
	re := KeywordFilter("c++")

	if !re.MatchString("I write c++ code") {
		t.Fatal("expected literal match on c++")
	}
	if re.MatchString("c plus plus") {
		t.Fatal("metacharacters should be escaped, not interpreted")
	}
}
