// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package envelope defines the uniform message passed between the
// Supervisor and its workers, and the PendingMessageTable used to track
// delivered-but-unacknowledged envelopes. It replaces the reference
// implementation's child-process message passing with a typed channel
// payload: any transport (an in-process chan, a future RPC layer) can
// carry an Envelope unchanged.
package envelope

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Status is the lifecycle state an Envelope carries.
type Status string

const (
	StatusPending   Status = "pending"
	StatusHealthy   Status = "healthy"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusError     Status = "error"
)

// Envelope is the routing+payload record exchanged between the Supervisor
// and its workers. Both sides must tolerate unknown fields on Data for
// forward compatibility, which is why Data is left as interface{} rather
// than a closed struct.
type Envelope struct {
	MessageID   string      `json:"message_id"`
	Status      Status      `json:"status"`
	Reason      string      `json:"reason,omitempty"`
	Destination []string    `json:"destination"`
	Data        interface{} `json:"data,omitempty"`

	// SenderID identifies the worker instance that emitted this
	// envelope. It is a supervisor-internal routing aid, not part of
	// the wire contract with external systems (BrokerGateway strips it
	// before publishing), but both sides must tolerate it being present
	// or absent.
	SenderID string `json:"sender_id,omitempty"`
}

// New builds an Envelope with a freshly generated MessageID.
func New(status Status, destination []string, data interface{}) Envelope {
	return Envelope{
		MessageID:   uuid.NewString(),
		Status:      status,
		Destination: destination,
		Data:        data,
	}
}

// WithReason returns a copy of e carrying reason, for the failed/error
// statuses that require one.
func (e Envelope) WithReason(reason string) Envelope {
	e.Reason = reason
	return e
}

// WithSender returns a copy of e stamped with the emitting instance ID.
func (e Envelope) WithSender(instanceID string) Envelope {
	e.SenderID = instanceID
	return e
}

// TargetWorker returns the leading segment of the first destination path
// ("<WorkerName>/<Method>[/<Param>]"), the routing key the Supervisor uses
// to pick a candidate worker. Returns "" if Destination is empty.
func (e Envelope) TargetWorker() string {
	if len(e.Destination) == 0 {
		return ""
	}
	return firstSegment(e.Destination[0])
}

func firstSegment(path string) string {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

// TargetsSupervisor reports whether any destination path routes back to
// the Supervisor itself, used for completion tracking.
func (e Envelope) TargetsSupervisor() bool {
	for _, dest := range e.Destination {
		if firstSegment(dest) == "supervisor" {
			return true
		}
	}
	return false
}

// PendingMessageTable maps a worker class name to the ordered list of
// envelopes delivered to it but not yet acknowledged completed, keyed
// uniquely by MessageID. It is owned exclusively by the Supervisor; no
// other component may read or mutate it directly.
type PendingMessageTable struct {
	mu      sync.Mutex
	entries map[string][]Envelope
}

// NewPendingMessageTable builds an empty table.
func NewPendingMessageTable() *PendingMessageTable {
	return &PendingMessageTable{entries: make(map[string][]Envelope)}
}

// Insert records e as pending under workerClass, deduplicated by
// MessageID. Called immediately before a message is sent.
func (t *PendingMessageTable) Insert(workerClass string, e Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, existing := range t.entries[workerClass] {
		if existing.MessageID == e.MessageID {
			return
		}
	}
	t.entries[workerClass] = append(t.entries[workerClass], e)
}

// Remove deletes the entry for messageID under workerClass, if present.
// Called when a completion envelope for that message arrives.
func (t *PendingMessageTable) Remove(workerClass, messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.entries[workerClass]
	for i, e := range list {
		if e.MessageID == messageID {
			t.entries[workerClass] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Replay returns a copy of every envelope still pending for workerClass,
// in original delivery order. Used to re-deliver work to a freshly
// respawned worker after its predecessor died.
func (t *PendingMessageTable) Replay(workerClass string) []Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.entries[workerClass]
	out := make([]Envelope, len(list))
	copy(out, list)
	return out
}

// Len reports how many envelopes are currently pending for workerClass.
func (t *PendingMessageTable) Len(workerClass string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries[workerClass])
}

// Get returns the pending envelope for messageID under workerClass
// without removing it, used to recover the original job when a worker
// rejects it with SERVER_BUSY and it must be rerouted elsewhere.
func (t *PendingMessageTable) Get(workerClass, messageID string) (Envelope, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries[workerClass] {
		if e.MessageID == messageID {
			return e, true
		}
	}
	return Envelope{}, false
}
