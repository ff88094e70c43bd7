package supervisor

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// healthShardCount shards HealthMonitor's tracked-resource map so the
// periodic sweep can check shards concurrently with errgroup instead of
// holding one lock across every tracked resource. Heartbeat writes only
// ever take the single shard lock for the affected ID, per spec section 5's
// "heartbeats take the writer lock only for the affected entry" allowance.
const healthShardCount = 16

// HealthEventKind discriminates HealthMonitor's internal broadcast stream.
// This is distinct from the lifecycle:* event-sink catalogue in events.go;
// LifecycleManager is what translates these into stable event-sink
// payloads (see SPEC_FULL.md section D.3).
type HealthEventKind string

const (
	HealthEventHeartbeatRecorded HealthEventKind = "heartbeat_recorded"
	HealthEventHealthChanged     HealthEventKind = "health_changed"
	HealthEventResourceStuck     HealthEventKind = "resource_stuck"
	HealthEventResourceRecovered HealthEventKind = "resource_recovered"
)

// HealthEvent is a single item on HealthMonitor's broadcast stream.
type HealthEvent struct {
	Kind          HealthEventKind
	ResourceID    ResourceId
	Timestamp     time.Time
	OldStatus     HealthStatus
	NewStatus     HealthStatus
	LastHeartbeat time.Time
}

// heartbeatState is the bookkeeping kept per tracked resource.
type heartbeatState struct {
	lastHeartbeat time.Time
	missedCount   uint32
	status        HealthStatus
	config        HeartbeatConfig
}

type healthShard struct {
	mu    sync.RWMutex
	state map[ResourceId]*heartbeatState
}

// HealthMonitor keeps { resource_id -> { last_heartbeat, missed_count,
// status, config } } and drives the Healthy/Degraded/Stuck lifecycle
// described in spec section 4.3. Events are delivered on a bounded
// broadcast channel per subscriber (buffer 256); when a subscriber's buffer
// is full, the new event is dropped for it rather than blocking the monitor.
type HealthMonitor struct {
	shards [healthShardCount]*healthShard

	subMu       sync.Mutex
	subscribers map[int]chan HealthEvent
	nextSubID   int

	log *slog.Logger
}

// NewHealthMonitor creates a HealthMonitor with all shards empty.
func NewHealthMonitor(log *slog.Logger) *HealthMonitor {
	if log == nil {
		log = slog.Default()
	}
	hm := &HealthMonitor{
		subscribers: make(map[int]chan HealthEvent),
		log:         log,
	}
	for i := range hm.shards {
		hm.shards[i] = &healthShard{state: make(map[ResourceId]*heartbeatState)}
	}
	return hm
}

func (h *HealthMonitor) shardFor(id ResourceId) *healthShard {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(id.String()))
	return h.shards[hasher.Sum32()%healthShardCount]
}

// Subscribe returns a channel of HealthEvents with a bounded buffer of 256.
// Call the returned cancel function to stop receiving and release the
// channel.
func (h *HealthMonitor) Subscribe() (<-chan HealthEvent, func()) {
	ch := make(chan HealthEvent, 256)

	h.subMu.Lock()
	id := h.nextSubID
	h.nextSubID++
	h.subscribers[id] = ch
	h.subMu.Unlock()

	cancel := func() {
		h.subMu.Lock()
		delete(h.subscribers, id)
		h.subMu.Unlock()
	}
	return ch, cancel
}

func (h *HealthMonitor) emit(ev HealthEvent) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			h.log.Warn("health event subscriber lagging, dropping event", "subscriber", id, "kind", ev.Kind)
		}
	}
}

// StartTracking begins monitoring instance using its per-type default
// HeartbeatConfig, or the override carried on its ResourceConfig.
func (h *HealthMonitor) StartTracking(instance ResourceInstance) {
	config := DefaultHeartbeatConfig(instance.ResourceType)
	if instance.Config.Heartbeat != nil {
		config = *instance.Config.Heartbeat
	}

	shard := h.shardFor(instance.ID)
	shard.mu.Lock()
	shard.state[instance.ID] = &heartbeatState{
		lastHeartbeat: time.Now(),
		status:        healthyStatus(),
		config:        config,
	}
	shard.mu.Unlock()

	h.log.Debug("started tracking resource", "resource_id", instance.ID.String(),
		"interval_secs", config.IntervalSecs, "stuck_threshold", config.StuckThreshold)
}

// StopTracking stops monitoring id.
func (h *HealthMonitor) StopTracking(id ResourceId) {
	shard := h.shardFor(id)
	shard.mu.Lock()
	delete(shard.state, id)
	shard.mu.Unlock()

	h.log.Debug("stopped tracking resource", "resource_id", id.String())
}

// RecordHeartbeat resets id's missed counter and last-heartbeat timestamp.
// An arriving heartbeat always wins over an in-progress sweep's accounting
// for the same resource, since both take the same shard's writer lock.
// If the prior status was not Healthy, flips to Healthy and emits
// ResourceRecovered.
func (h *HealthMonitor) RecordHeartbeat(id ResourceId) {
	shard := h.shardFor(id)

	shard.mu.Lock()
	state, ok := shard.state[id]
	if !ok {
		shard.mu.Unlock()
		h.log.Warn("heartbeat for untracked resource", "resource_id", id.String())
		return
	}

	now := time.Now()
	oldStatus := state.status
	state.lastHeartbeat = now
	state.missedCount = 0
	recovered := oldStatus.Kind != HealthHealthy
	if recovered {
		state.status = healthyStatus()
	}
	newStatus := state.status
	shard.mu.Unlock()

	if recovered {
		h.emit(HealthEvent{Kind: HealthEventResourceRecovered, ResourceID: id, Timestamp: now})
		h.emit(HealthEvent{Kind: HealthEventHealthChanged, ResourceID: id, Timestamp: now, OldStatus: oldStatus, NewStatus: newStatus})
	}
	h.emit(HealthEvent{Kind: HealthEventHeartbeatRecorded, ResourceID: id, Timestamp: now})
}

// GetHealth returns id's current HealthStatus, or Unknown if untracked.
func (h *HealthMonitor) GetHealth(id ResourceId) HealthStatus {
	shard := h.shardFor(id)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	state, ok := shard.state[id]
	if !ok {
		return unknownStatus()
	}
	return state.status
}

// GetStuckResources returns every currently tracked ResourceId whose
// status is Stuck.
func (h *HealthMonitor) GetStuckResources() []ResourceId {
	var out []ResourceId
	for _, shard := range h.shards {
		shard.mu.RLock()
		for id, state := range shard.state {
			if state.status.Kind == HealthStuck {
				out = append(out, id)
			}
		}
		shard.mu.RUnlock()
	}
	return out
}

// GetTrackedResources returns every currently tracked ResourceId.
func (h *HealthMonitor) GetTrackedResources() []ResourceId {
	var out []ResourceId
	for _, shard := range h.shards {
		shard.mu.RLock()
		for id := range shard.state {
			out = append(out, id)
		}
		shard.mu.RUnlock()
	}
	return out
}

// GetLastHeartbeat returns the last recorded heartbeat time for id and
// whether id is tracked.
func (h *HealthMonitor) GetLastHeartbeat(id ResourceId) (time.Time, bool) {
	shard := h.shardFor(id)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	state, ok := shard.state[id]
	if !ok {
		return time.Time{}, false
	}
	return state.lastHeartbeat, true
}

// UpdateConfig replaces id's HeartbeatConfig. No-op if id is untracked.
func (h *HealthMonitor) UpdateConfig(id ResourceId, config HeartbeatConfig) {
	shard := h.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if state, ok := shard.state[id]; ok {
		state.config = config
	}
}

// HealthMonitorStats summarises tracked resources by health status.
type HealthMonitorStats struct {
	TotalTracked int `json:"total_tracked"`
	Healthy      int `json:"healthy"`
	Degraded     int `json:"degraded"`
	Stuck        int `json:"stuck"`
	Unknown      int `json:"unknown"`
}

// GetStats summarises all tracked resources across every shard.
func (h *HealthMonitor) GetStats() HealthMonitorStats {
	var stats HealthMonitorStats
	for _, shard := range h.shards {
		shard.mu.RLock()
		for _, state := range shard.state {
			stats.TotalTracked++
			switch state.status.Kind {
			case HealthHealthy:
				stats.Healthy++
			case HealthDegraded:
				stats.Degraded++
			case HealthStuck:
				stats.Stuck++
			case HealthUnknown:
				stats.Unknown++
			}
		}
		shard.mu.RUnlock()
	}
	return stats
}

// CheckHealth runs one sweep: for every tracked resource whose elapsed time
// since its last heartbeat is at least its configured interval, increments
// its missed count and re-derives its status. Shards are swept
// concurrently via errgroup since each shard's lock is independent.
func (h *HealthMonitor) CheckHealth() {
	var g errgroup.Group
	for _, shard := range h.shards {
		shard := shard
		g.Go(func() error {
			h.sweepShard(shard)
			return nil
		})
	}
	_ = g.Wait()
}

func (h *HealthMonitor) sweepShard(shard *healthShard) {
	now := time.Now()

	shard.mu.Lock()
	type change struct {
		id        ResourceId
		oldStatus HealthStatus
		newStatus HealthStatus
		stuck     bool
	}
	var changes []change

	for id, state := range shard.state {
		elapsed := now.Sub(state.lastHeartbeat)
		interval := state.config.Interval()
		if elapsed < interval {
			continue
		}

		state.missedCount++
		oldStatus := state.status

		switch {
		case state.missedCount >= state.config.StuckThreshold:
			state.status = stuckStatus(now)
		case state.missedCount > 0:
			state.status = degradedStatus(state.missedCount)
		}

		if oldStatus.Kind != state.status.Kind || oldStatus.Missed != state.status.Missed {
			changes = append(changes, change{id: id, oldStatus: oldStatus, newStatus: state.status, stuck: state.status.Kind == HealthStuck})
		}
	}
	shard.mu.Unlock()

	for _, c := range changes {
		if c.stuck {
			h.log.Warn("resource is stuck", "resource_id", c.id.String())
			h.emit(HealthEvent{Kind: HealthEventResourceStuck, ResourceID: c.id, Timestamp: now})
		}
		h.emit(HealthEvent{Kind: HealthEventHealthChanged, ResourceID: c.id, Timestamp: now, OldStatus: c.oldStatus, NewStatus: c.newStatus})
	}
}
