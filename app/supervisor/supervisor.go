// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package supervisor spawns, monitors, restarts, and routes messages
// between worker goroutines. It replaces the reference implementation's
// child-process model with goroutines talking over typed envelope
// channels (per the re-architecture guidance for child-process message
// passing): each worker instance is a goroutine holding its own inbox,
// cancellable via context, and all cross-instance coordination happens
// through the Supervisor's routing loop and PendingMessageTable.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sk-pkg/logger"
	"go.uber.org/zap"

	"github.com/lutfianrhdn/sc-data-gathering-service/app/envelope"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/e"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/metrics"
)

// WorkerFunc is one worker instance's body. It must run until ctx is
// cancelled or in is closed, reading job envelopes from in and writing
// status/result envelopes to out. id identifies this instance for
// restart/health bookkeeping.
type WorkerFunc func(ctx context.Context, id string, in <-chan envelope.Envelope, out chan<- envelope.Envelope)

// ClassConfig describes one worker class to spawn and supervise.
type ClassConfig struct {
	Name    string
	Count   int
	Factory WorkerFunc
	Config  map[string]string
}

// Health is a point-in-time snapshot of one worker instance's liveness.
type Health struct {
	InstanceID    string
	Class         string
	LastHeartbeat time.Time
	Healthy       bool
	Busy          bool
}

type instance struct {
	id      string
	class   string
	in      chan envelope.Envelope
	cancel  context.CancelFunc
	exited  chan struct{}
	busy    atomic.Bool
	healthy atomic.Bool

	mu            sync.Mutex
	lastHeartbeat time.Time
}

func (inst *instance) touchHeartbeat() {
	inst.mu.Lock()
	inst.lastHeartbeat = time.Now()
	inst.mu.Unlock()
	inst.healthy.Store(true)
}

func (inst *instance) heartbeat() time.Time {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.lastHeartbeat
}

// Supervisor owns the roster of live worker instances, their
// PendingMessageTable, and the routing algorithm that delivers envelopes
// to the right instance, rerouting and respawning as needed.
type Supervisor struct {
	logger  *logger.Manager
	backoff time.Duration
	staleAfter time.Duration

	mu        sync.Mutex
	classes   map[string]ClassConfig
	instances map[string][]*instance
	pending   *envelope.PendingMessageTable

	out    chan envelope.Envelope
	nextID uint64
}

// New builds a Supervisor. backoff is the delay before re-attempting
// routing when no live candidate exists; staleAfter is the heartbeat age
// past which a worker is reported unhealthy.
func New(log *logger.Manager, backoff, staleAfter time.Duration) *Supervisor {
	return &Supervisor{
		logger:     log,
		backoff:    backoff,
		staleAfter: staleAfter,
		classes:    make(map[string]ClassConfig),
		instances:  make(map[string][]*instance),
		pending:    envelope.NewPendingMessageTable(),
		out:        make(chan envelope.Envelope, 256),
	}
}

// RegisterClass adds or replaces the configuration for a worker class.
// Must be called before Start spawns it.
func (s *Supervisor) RegisterClass(cfg ClassConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes[cfg.Name] = cfg
}

// Start spawns each registered class's initial instance count and begins
// the routing loop. It returns once every initial instance is spawned;
// the routing loop itself runs until ctx is cancelled.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	classes := make([]ClassConfig, 0, len(s.classes))
	for _, c := range s.classes {
		classes = append(classes, c)
	}
	s.mu.Unlock()

	for _, c := range classes {
		for i := 0; i < c.Count; i++ {
			if _, err := s.spawn(ctx, c.Name); err != nil {
				s.logger.Error(ctx, "failed to spawn initial worker instance", zap.String("class", c.Name), zap.Error(err))
			}
		}
	}

	go s.routingLoop(ctx)
}

// Deliver enqueues e for routing. Safe to call from any goroutine,
// including from within a worker's own body.
func (s *Supervisor) Deliver(e envelope.Envelope) {
	s.out <- e
}

// Health reports a snapshot of every live worker instance.
func (s *Supervisor) Health() []Health {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Health
	for class, list := range s.instances {
		for _, inst := range list {
			hb := inst.heartbeat()
			out = append(out, Health{
				InstanceID:    inst.id,
				Class:         class,
				LastHeartbeat: hb,
				Healthy:       inst.healthy.Load() && time.Since(hb) < s.staleAfter,
				Busy:          inst.busy.Load(),
			})
		}
	}
	return out
}

// Pending returns a snapshot of the envelopes currently delivered to
// class but not yet acknowledged, for the admin API's list-pending
// endpoint.
func (s *Supervisor) Pending(class string) []envelope.Envelope {
	return s.pending.Replay(class)
}

// ForceReplay redelivers every envelope still pending for class, used by
// the admin API's manual-replay endpoint to resolve the
// UNKNOWN_DESTINATION lifecycle (§9.2/§9.4): once an operator configures
// a previously-missing class, the pending entries that had no candidate
// to route to are retried. Returns the number of envelopes redelivered.
func (s *Supervisor) ForceReplay(ctx context.Context, class string) int {
	pending := s.pending.Replay(class)
	for _, msg := range pending {
		s.deliver(ctx, msg, "")
	}
	return len(pending)
}

func (s *Supervisor) routingLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.out:
			s.route(ctx, msg)
		}
	}
}

// route is the entry point for every envelope a worker emits: completion
// acks, health pings, error/busy rejections, and brand-new work requests
// all arrive here and are dispatched to deliver accordingly.
func (s *Supervisor) route(ctx context.Context, msg envelope.Envelope) {
	if msg.TargetsSupervisor() {
		// The completion ack's own destination names the supervisor,
		// not the originating class, so the class must be recovered
		// from the sender instance itself.
		if class, ok := s.classOf(msg.SenderID); ok {
			if msg.Status == envelope.StatusCompleted {
				s.setBusy(class, msg.SenderID, false)
				s.pending.Remove(class, msg.MessageID)
				metrics.PendingDepth.WithLabelValues(class).Set(float64(s.pending.Len(class)))
			}
		}
		return
	}

	workerName := msg.TargetWorker()
	if workerName == "" {
		s.logger.Warn(ctx, "dropping envelope with no destination", zap.String("message_id", msg.MessageID))
		return
	}

	switch {
	case msg.Status == envelope.StatusHealthy:
		s.touchHeartbeatFor(workerName, msg.SenderID)
		return
	case msg.Status == envelope.StatusError:
		s.setBusy(workerName, msg.SenderID, false)
		if msg.SenderID != "" {
			s.restart(ctx, workerName, msg.SenderID)
		}
		return
	case msg.Reason == e.ReasonServerBusy:
		// The sender rejected its own assigned job; recover the
		// original envelope and reroute it to a different instance.
		s.setBusy(workerName, msg.SenderID, false)
		if original, ok := s.pending.Get(workerName, msg.MessageID); ok {
			s.deliver(ctx, original, msg.SenderID)
		}
		return
	case msg.Status == envelope.StatusCompleted || msg.Status == envelope.StatusFailed:
		// Only a worker acking its own completion without going through
		// TargetsSupervisor() belongs here; a completed/failed envelope
		// addressed to a *different* class (e.g. CrawlWorker's downstream
		// publish/compensate handoff to BrokerGateway) is real work and
		// must fall through to deliver().
		if class, ok := s.classOf(msg.SenderID); ok && class == workerName {
			s.setBusy(workerName, msg.SenderID, false)
			return
		}
	}

	s.deliver(ctx, msg, "")
}

// deliver implements handle_worker_message (§4.6): filter live non-busy
// candidates for workerName, spawning or backing off as needed, then
// hand msg to the first candidate and track it as pending.
func (s *Supervisor) deliver(ctx context.Context, msg envelope.Envelope, excludeInstanceID string) {
	workerName := msg.TargetWorker()

	s.mu.Lock()
	_, configured := s.classes[workerName]
	s.mu.Unlock()
	if !configured {
		s.logger.Error(ctx, "envelope routed to an unconfigured worker class",
			zap.String("worker", workerName), zap.String("reason", e.ReasonUnknownDestination))
		// Keep the message in PendingMessageTable (spec §7/§9.2): an
		// operator can list it via the admin API and replay it once the
		// class is configured, rather than losing it silently.
		s.pending.Insert(workerName, msg)
		metrics.PendingDepth.WithLabelValues(workerName).Set(float64(s.pending.Len(workerName)))
		return
	}

	candidate := s.pickCandidate(workerName, excludeInstanceID)
	if candidate == nil {
		if _, err := s.spawn(ctx, workerName); err != nil {
			s.logger.Error(ctx, "failed to spawn worker on demand", zap.String("worker", workerName), zap.Error(err))
		}
		candidate = s.pickCandidate(workerName, excludeInstanceID)
	}

	if candidate == nil {
		time.AfterFunc(s.backoff, func() { s.deliver(ctx, msg, excludeInstanceID) })
		return
	}

	candidate.busy.Store(true)
	s.pending.Insert(workerName, msg)
	metrics.PendingDepth.WithLabelValues(workerName).Set(float64(s.pending.Len(workerName)))
	candidate.in <- msg
}

// classOf finds which worker class currently owns instanceID.
func (s *Supervisor) classOf(instanceID string) (string, bool) {
	if instanceID == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for class, list := range s.instances {
		for _, inst := range list {
			if inst.id == instanceID {
				return class, true
			}
		}
	}
	return "", false
}

func (s *Supervisor) setBusy(workerName, instanceID string, busy bool) {
	if instanceID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.instances[workerName] {
		if inst.id == instanceID {
			inst.busy.Store(busy)
			return
		}
	}
}

func (s *Supervisor) pickCandidate(workerName, excludeInstanceID string) *instance {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inst := range s.instances[workerName] {
		if inst.id == excludeInstanceID {
			continue
		}
		if inst.busy.Load() {
			continue
		}
		return inst
	}
	return nil
}

func (s *Supervisor) touchHeartbeatFor(workerName, instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.instances[workerName] {
		if instanceID == "" || inst.id == instanceID {
			inst.touchHeartbeat()
		}
	}
}

// spawn starts one new instance of workerName using its registered
// ClassConfig.
func (s *Supervisor) spawn(ctx context.Context, workerName string) (*instance, error) {
	s.mu.Lock()
	cfg, ok := s.classes[workerName]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("supervisor: no configuration for worker class %q", workerName)
	}

	id := fmt.Sprintf("%s-%d", workerName, atomic.AddUint64(&s.nextID, 1))
	instCtx, cancel := context.WithCancel(ctx)

	inst := &instance{
		id:     id,
		class:  workerName,
		in:     make(chan envelope.Envelope, 16),
		cancel: cancel,
		exited: make(chan struct{}),
	}
	inst.touchHeartbeat()

	s.mu.Lock()
	s.instances[workerName] = append(s.instances[workerName], inst)
	s.mu.Unlock()

	go func() {
		defer close(inst.exited)
		cfg.Factory(instCtx, id, inst.in, s.out)
	}()

	go s.watch(ctx, inst)

	s.logger.Info(ctx, "spawned worker instance", zap.String("worker", workerName), zap.String("instance", id))

	return inst, nil
}

// watch waits for an instance's body to return (its exit signal), then
// removes it from the roster and replays its pending work onto a
// freshly spawned replacement — the Supervisor replay property (§8).
func (s *Supervisor) watch(ctx context.Context, inst *instance) {
	<-inst.exited

	s.mu.Lock()
	list := s.instances[inst.class]
	for i, candidate := range list {
		if candidate.id == inst.id {
			s.instances[inst.class] = append(list[:i], list[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if ctx.Err() != nil {
		// Shutting down: the instance exited because its context was
		// cancelled, not because it crashed. Don't respawn.
		return
	}

	s.logger.Warn(ctx, "worker instance exited, respawning", zap.String("worker", inst.class), zap.String("instance", inst.id))
	metrics.WorkerRestartsTotal.WithLabelValues(inst.class).Inc()

	replacement, err := s.spawn(ctx, inst.class)
	if err != nil {
		s.logger.Error(ctx, "failed to respawn worker instance", zap.String("worker", inst.class), zap.Error(err))
		return
	}

	for _, pending := range s.pending.Replay(inst.class) {
		replacement.in <- pending
	}
}

// restart cancels instanceID's context, which unwinds its goroutine and
// triggers watch's respawn-and-replay path.
func (s *Supervisor) restart(ctx context.Context, workerName, instanceID string) {
	s.mu.Lock()
	var target *instance
	for _, inst := range s.instances[workerName] {
		if inst.id == instanceID {
			target = inst
			break
		}
	}
	s.mu.Unlock()

	if target == nil {
		return
	}

	s.logger.Warn(ctx, "restarting worker instance after error envelope", zap.String("worker", workerName), zap.String("instance", instanceID))
	target.cancel()
}
