// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package crawllock

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/sk-pkg/redis"

	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/daterange"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/lockstore"
)

func newTestManager(t *testing.T) Manager {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error: %v", err)
	}
	t.Cleanup(mr.Close)

	rm, err := redis.New(redis.WithAddress(mr.Addr()))
	if err != nil {
		t.Fatalf("redis.New() error: %v", err)
	}

	return New(lockstore.New(rm, "LOCK_"))
}

func mustRange(t *testing.T, start, end string) daterange.Range {
	t.Helper()
	r, err := daterange.Parse(start, end)
	if err != nil {
		t.Fatalf("daterange.Parse(%q, %q) error: %v", start, end, err)
	}
	return r
}

// TestAcquireReleaseRoundTrip verifies a range can be locked, is then
// reported in Ranges, and becomes free again after Release.
func TestAcquireReleaseRoundTrip(t *testing.T) {
	m := newTestManager(t)
	r := mustRange(t, "2024-01-01", "2024-01-10")

	ok, err := m.Acquire("golang", r, DefaultTTLSeconds)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !ok {
		t.Fatal("Acquire() = false, want true")
	}

	ranges, err := m.Ranges("golang")
	if err != nil {
		t.Fatalf("Ranges() error: %v", err)
	}
	if len(ranges) != 1 || !ranges[0].Equal(r) {
		t.Fatalf("Ranges() = %v, want [%v]", ranges, r)
	}

	released, err := m.Release("golang", r)
	if err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if !released {
		t.Fatal("Release() = false, want true")
	}

	ranges, err = m.Ranges("golang")
	if err != nil {
		t.Fatalf("Ranges() error: %v", err)
	}
	if len(ranges) != 0 {
		t.Fatalf("Ranges() after release = %v, want empty", ranges)
	}
}

// TestAcquireMutualExclusion verifies the same (keyword, range) cannot be
// acquired twice while the first lock is live — the mutual-exclusion
// testable property.
func TestAcquireMutualExclusion(t *testing.T) {
	m := newTestManager(t)
	r := mustRange(t, "2024-01-01", "2024-01-10")

	first, err := m.Acquire("golang", r, DefaultTTLSeconds)
	if err != nil || !first {
		t.Fatalf("Acquire() first = %v, %v, want true, nil", first, err)
	}

	second, err := m.Acquire("golang", r, DefaultTTLSeconds)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if second {
		t.Fatal("Acquire() second attempt = true, want false")
	}
}

// TestRangesIsolatedByKeyword verifies locks under one keyword never leak
// into another keyword's Ranges.
func TestRangesIsolatedByKeyword(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Acquire("golang", mustRange(t, "2024-01-01", "2024-01-05"), DefaultTTLSeconds); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if _, err := m.Acquire("rustlang", mustRange(t, "2024-01-01", "2024-01-05"), DefaultTTLSeconds); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	ranges, err := m.Ranges("golang")
	if err != nil {
		t.Fatalf("Ranges() error: %v", err)
	}
	if len(ranges) != 1 {
		t.Fatalf("Ranges(%q) = %v, want exactly 1", "golang", ranges)
	}
}

// TestRangesMergesAdjacentLocks verifies Ranges merges adjacent/overlapping
// live locks for a keyword into a disjoint set.
func TestRangesMergesAdjacentLocks(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Acquire("golang", mustRange(t, "2024-01-01", "2024-01-02"), DefaultTTLSeconds); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if _, err := m.Acquire("golang", mustRange(t, "2024-01-03", "2024-01-05"), DefaultTTLSeconds); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	ranges, err := m.Ranges("golang")
	if err != nil {
		t.Fatalf("Ranges() error: %v", err)
	}

	want := mustRange(t, "2024-01-01", "2024-01-05")
	if len(ranges) != 1 || !ranges[0].Equal(want) {
		t.Fatalf("Ranges() = %v, want [%v]", ranges, want)
	}
}

// TestOverlapClipsToRequestedWindow verifies Overlap returns only the
// portion of a live lock that intersects the requested window.
func TestOverlapClipsToRequestedWindow(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Acquire("golang", mustRange(t, "2024-01-01", "2024-01-20"), DefaultTTLSeconds); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	req := mustRange(t, "2024-01-05", "2024-01-10")
	overlaps, err := m.Overlap("golang", req)
	if err != nil {
		t.Fatalf("Overlap() error: %v", err)
	}

	if len(overlaps) != 1 {
		t.Fatalf("Overlap() = %v, want exactly 1 match", overlaps)
	}
	if !overlaps[0].From.Equal(req.Start) || !overlaps[0].To.Equal(req.End) {
		t.Fatalf("Overlap() = %+v, want From=%v To=%v", overlaps[0], req.Start, req.End)
	}
}

// TestOverlapNoneWhenDisjoint verifies a live lock outside the requested
// window produces no overlaps.
func TestOverlapNoneWhenDisjoint(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Acquire("golang", mustRange(t, "2024-01-01", "2024-01-05"), DefaultTTLSeconds); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	overlaps, err := m.Overlap("golang", mustRange(t, "2024-02-01", "2024-02-05"))
	if err != nil {
		t.Fatalf("Overlap() error: %v", err)
	}
	if len(overlaps) != 0 {
		t.Fatalf("Overlap() = %v, want none", overlaps)
	}
}

// TestResidualDelegatesToSubtract verifies Residual is a thin wrapper over
// daterange.Subtract.
func TestResidualDelegatesToSubtract(t *testing.T) {
	m := newTestManager(t)

	req := mustRange(t, "2024-01-01", "2024-01-10")
	overlap := mustRange(t, "2024-01-04", "2024-01-06")

	got := m.Residual(req, []daterange.Range{overlap})
	want := daterange.Subtract(req, []daterange.Range{overlap})

	if len(got) != len(want) {
		t.Fatalf("Residual() = %v, want %v", got, want)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("Residual()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
