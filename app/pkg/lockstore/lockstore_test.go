// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package lockstore

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/sk-pkg/redis"
)

func newTestStore(t *testing.T) (Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error: %v", err)
	}
	t.Cleanup(mr.Close)

	manager, err := redis.New(redis.WithAddress(mr.Addr()))
	if err != nil {
		t.Fatalf("redis.New() error: %v", err)
	}

	return New(manager, "LOCK_"), mr
}

// TestAcquireIsSetIfAbsent verifies a reacquire of a still-live key fails,
// satisfying the mutual-exclusion testable property (spec §8).
func TestAcquireIsSetIfAbsent(t *testing.T) {
	store, _ := newTestStore(t)

	ok, err := store.Acquire("kw:2024-01-01:2024-01-10", "1", 60)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !ok {
		t.Fatal("Acquire() = false on first attempt, want true")
	}

	ok, err = store.Acquire("kw:2024-01-01:2024-01-10", "1", 60)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if ok {
		t.Fatal("Acquire() = true on second attempt against a live lock, want false")
	}
}

// TestAcquireExpires verifies a lock becomes acquirable again after its TTL
// elapses.
func TestAcquireExpires(t *testing.T) {
	store, mr := newTestStore(t)

	if ok, err := store.Acquire("kw:x", "1", 5); err != nil || !ok {
		t.Fatalf("Acquire() = %v, %v, want true, nil", ok, err)
	}

	mr.FastForward(6 * 1e9) // advance virtual clock past the 5s TTL

	ok, err := store.Acquire("kw:x", "1", 5)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !ok {
		t.Fatal("Acquire() after TTL expiry = false, want true")
	}
}

// TestReleaseDeletesKey verifies Release both deletes and reports whether a
// key existed.
func TestReleaseDeletesKey(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.Acquire("kw:y", "1", 60); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	deleted, err := store.Release("kw:y")
	if err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if !deleted {
		t.Fatal("Release() = false, want true for an existing key")
	}

	deleted, err = store.Release("kw:y")
	if err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if deleted {
		t.Fatal("Release() = true for an already-deleted key, want false")
	}
}

// TestExists verifies Exists reflects current acquisition state.
func TestExists(t *testing.T) {
	store, _ := newTestStore(t)

	exists, err := store.Exists("kw:z")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if exists {
		t.Fatal("Exists() = true before acquire, want false")
	}

	if _, err = store.Acquire("kw:z", "1", 60); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	exists, err = store.Exists("kw:z")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if !exists {
		t.Fatal("Exists() = false after acquire, want true")
	}
}

// TestScanAndReleaseAll verifies prefix scan returns unnamespaced keys and
// ReleaseAll atomically removes every matching key.
func TestScanAndReleaseAll(t *testing.T) {
	store, _ := newTestStore(t)

	keys := []string{
		"golang:2024-01-01:2024-01-05",
		"golang:2024-02-01:2024-02-05",
		"rustlang:2024-01-01:2024-01-05",
	}
	for _, k := range keys {
		if _, err := store.Acquire(k, "1", 60); err != nil {
			t.Fatalf("Acquire(%q) error: %v", k, err)
		}
	}

	scanned, err := store.Scan("golang:")
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(scanned) != 2 {
		t.Fatalf("Scan() = %v, want 2 matches", scanned)
	}

	deletedCount, err := store.ReleaseAll("golang:")
	if err != nil {
		t.Fatalf("ReleaseAll() error: %v", err)
	}
	if deletedCount != 2 {
		t.Fatalf("ReleaseAll() = %d, want 2", deletedCount)
	}

	exists, err := store.Exists("rustlang:2024-01-01:2024-01-05")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if !exists {
		t.Fatal("ReleaseAll() removed a key outside its prefix")
	}
}
