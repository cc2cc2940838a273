// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package crawllock layers date-range locking semantics for a single
// keyword on top of app/pkg/lockstore: acquiring and releasing a range,
// enumerating the live ranges for a keyword, and computing the residual
// sub-ranges of a requested window that are not yet covered by any live
// lock. It holds no state of its own — every fact lives in the backing
// lockstore.Store.
package crawllock

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/daterange"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/lockstore"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/metrics"
)

// DefaultTTLSeconds is the lock lifetime used when a caller does not pick
// one explicitly; it must exceed the worst-case crawl duration or the
// mutual-exclusion guarantee is lost once a lock expires mid-crawl.
const DefaultTTLSeconds = 6000

// lockValue is the JSON blob written as a lock's value. Its contents are
// never read back; the key's mere presence is the lock.
type lockValue struct {
	Timestamp int64 `json:"timestamp"`
}

// Overlap is a live range intersecting a requested window, clipped to
// that window.
type Overlap struct {
	From time.Time
	To   time.Time
}

// Manager grants and releases date-range locks for keywords, and computes
// overlap/residual sets against the current lock state.
type Manager interface {
	// Acquire locks [r.Start, r.End] for keyword. Returns false if the
	// exact range is already locked by another owner.
	Acquire(keyword string, r daterange.Range, ttlSeconds int) (bool, error)

	// Release unlocks a previously acquired range.
	Release(keyword string, r daterange.Range) (bool, error)

	// Ranges returns the merged, disjoint set of currently live ranges
	// for keyword.
	Ranges(keyword string) ([]daterange.Range, error)

	// Overlap reports the portions of req currently locked for keyword.
	Overlap(keyword string, req daterange.Range) ([]Overlap, error)

	// Residual computes the disjoint sub-ranges of req not covered by
	// overlaps, which may include an externally-supplied already-crawled
	// range alongside the live lock overlaps.
	Residual(req daterange.Range, overlaps []daterange.Range) []daterange.Range
}

type manager struct {
	store lockstore.Store
}

// New builds a Manager over store. store should be namespaced (e.g. with
// prefix "LOCK_") so keyword locks never collide with unrelated keys.
func New(store lockstore.Store) Manager {
	return &manager{store: store}
}

func encodeKey(keyword string, r daterange.Range) string {
	return fmt.Sprintf("%s:%s:%s", keyword, r.Start.Format(daterange.Layout), r.End.Format(daterange.Layout))
}

// decodeKey reverses encodeKey. keyword itself may not contain ":", which
// mirrors the reference key layout.
func decodeKey(key string) (string, daterange.Range, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return "", daterange.Range{}, fmt.Errorf("crawllock: malformed lock key %q", key)
	}
	r, err := daterange.Parse(parts[1], parts[2])
	if err != nil {
		return "", daterange.Range{}, fmt.Errorf("crawllock: malformed lock key %q: %w", key, err)
	}
	return parts[0], r, nil
}

func (m *manager) Acquire(keyword string, r daterange.Range, ttlSeconds int) (bool, error) {
	value, err := json.Marshal(lockValue{Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return false, fmt.Errorf("crawllock: encode lock value: %w", err)
	}
	ok, err := m.store.Acquire(encodeKey(keyword, r), string(value), ttlSeconds)
	if err == nil && !ok {
		metrics.LockContentionTotal.WithLabelValues(keyword).Inc()
	}
	return ok, err
}

func (m *manager) Release(keyword string, r daterange.Range) (bool, error) {
	return m.store.Release(encodeKey(keyword, r))
}

func (m *manager) Ranges(keyword string) ([]daterange.Range, error) {
	keys, err := m.store.Scan(keyword + ":")
	if err != nil {
		return nil, fmt.Errorf("crawllock: scan keyword %q: %w", keyword, err)
	}

	ranges := make([]daterange.Range, 0, len(keys))
	for _, key := range keys {
		_, r, err := decodeKey(key)
		if err != nil {
			continue
		}
		ranges = append(ranges, r)
	}

	return daterange.Merge(ranges), nil
}

func (m *manager) Overlap(keyword string, req daterange.Range) ([]Overlap, error) {
	merged, err := m.Ranges(keyword)
	if err != nil {
		return nil, err
	}

	var overlaps []Overlap
	for _, r := range merged {
		clipped, ok := r.Intersect(req)
		if !ok {
			continue
		}
		overlaps = append(overlaps, Overlap{From: clipped.Start, To: clipped.End})
	}

	return overlaps, nil
}

func (m *manager) Residual(req daterange.Range, overlaps []daterange.Range) []daterange.Range {
	return daterange.Subtract(req, overlaps)
}
