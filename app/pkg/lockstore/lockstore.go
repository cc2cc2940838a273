// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package lockstore implements a namespaced key-value lock store over Redis:
// set-if-absent with TTL, existence checks, prefix scans, and atomic
// multi-delete. It generalizes the single-server job lock in
// github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/schedule (itself
// taken from the teacher's lock/unLock/renewalServerLock) into a reusable
// store any component can namespace and key however it needs.
package lockstore

import (
	"fmt"
	"strconv"

	"github.com/sk-pkg/redis"
)

// Store is a set-if-absent, TTL-bearing key-value lock store. Every key
// passed in is namespaced by a constant prefix chosen at construction time,
// so callers never collide across concerns sharing one Redis instance.
type Store interface {
	// Acquire sets key to value with an expiry if and only if key is
	// currently absent. Returns true when the key was set (lock
	// acquired), false when it was already present (lock held
	// elsewhere).
	Acquire(key, value string, ttlSeconds int) (bool, error)

	// Release deletes key. Returns true if a key was actually deleted.
	Release(key string) (bool, error)

	// Exists reports whether key is currently set.
	Exists(key string) (bool, error)

	// Scan returns every key (with the namespace prefix stripped) whose
	// namespaced form starts with prefix.
	Scan(prefix string) ([]string, error)

	// ReleaseAll deletes every key matching prefix in one atomic
	// operation, returning the count deleted.
	ReleaseAll(prefix string) (int, error)
}

type store struct {
	redis     *redis.Manager
	namespace string
}

// New creates a Store namespacing every key under namespace (e.g. "LOCK_").
func New(redisManager *redis.Manager, namespace string) Store {
	return &store{redis: redisManager, namespace: namespace}
}

func (s *store) namespaced(key string) string {
	return s.namespace + key
}

// Acquire performs a Redis SET key value EX ttl NX, the same primitive the
// teacher's schedule.Job.lock uses for its single-server execution lock.
func (s *store) Acquire(key, value string, ttlSeconds int) (bool, error) {
	reply, err := s.redis.Do("SET", s.namespaced(key), value, "EX", ttlSeconds, "NX")
	if err != nil {
		return false, fmt.Errorf("lockstore: acquire %q: %w", key, err)
	}
	return reply != nil, nil
}

func (s *store) Release(key string) (bool, error) {
	ok, err := s.redis.Del(s.namespaced(key))
	if err != nil {
		return false, fmt.Errorf("lockstore: release %q: %w", key, err)
	}
	return ok, nil
}

func (s *store) Exists(key string) (bool, error) {
	reply, err := s.redis.Do("EXISTS", s.namespaced(key))
	if err != nil {
		return false, fmt.Errorf("lockstore: exists %q: %w", key, err)
	}

	switch v := reply.(type) {
	case int64:
		return v > 0, nil
	case []byte:
		n, convErr := strconv.ParseInt(string(v), 10, 64)
		return convErr == nil && n > 0, nil
	default:
		return false, nil
	}
}

func (s *store) Scan(prefix string) ([]string, error) {
	reply, err := s.redis.Do("KEYS", s.namespaced(prefix)+"*")
	if err != nil {
		return nil, fmt.Errorf("lockstore: scan %q: %w", prefix, err)
	}

	raw, ok := reply.([]interface{})
	if !ok {
		return nil, nil
	}

	keys := make([]string, 0, len(raw))
	for _, item := range raw {
		k, err := toString(item)
		if err != nil {
			continue
		}
		keys = append(keys, stripPrefix(k, s.namespace))
	}

	return keys, nil
}

// ReleaseAll scans prefix and deletes every matched key in one DEL command.
// Redis's DEL is atomic across all keys given in a single invocation, so no
// matched key can be independently re-acquired mid-deletion.
func (s *store) ReleaseAll(prefix string) (int, error) {
	reply, err := s.redis.Do("KEYS", s.namespaced(prefix)+"*")
	if err != nil {
		return 0, fmt.Errorf("lockstore: release_all scan %q: %w", prefix, err)
	}

	raw, ok := reply.([]interface{})
	if !ok || len(raw) == 0 {
		return 0, nil
	}

	args := make([]interface{}, 0, len(raw))
	for _, item := range raw {
		args = append(args, item)
	}

	deleted, err := s.redis.Do("DEL", args...)
	if err != nil {
		return 0, fmt.Errorf("lockstore: release_all delete %q: %w", prefix, err)
	}

	switch v := deleted.(type) {
	case int64:
		return int(v), nil
	default:
		return len(raw), nil
	}
}

func toString(v interface{}) (string, error) {
	switch t := v.(type) {
	case []byte:
		return string(t), nil
	case string:
		return t, nil
	default:
		return "", fmt.Errorf("lockstore: unexpected reply type %T", v)
	}
}

func stripPrefix(key, prefix string) string {
	if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):]
	}
	return key
}
