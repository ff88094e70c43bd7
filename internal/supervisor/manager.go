package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ManagerConfig bundles a LifecycleManager's collaborators. Storage and
// Sink may be nil: a nil Storage disables durability (restore_from_storage
// becomes a no-op), a nil Sink disables event emission — both are
// best-effort collaborators per spec section 6, not required for the core
// state machine to function, which keeps the facade testable without a
// database or a live subscriber.
type ManagerConfig struct {
	Registry *StateRegistry
	Plugins  *PluginRegistry
	Health   *HealthMonitor
	Recovery *RecoveryEngine
	Storage  LifecycleStorage
	Sink     EventSink
	Log      *slog.Logger
}

// LifecycleManager is the public facade tying StateRegistry, PluginRegistry,
// HealthMonitor, RecoveryEngine, LifecycleStorage and the event sink
// together. Every mutation flows state -> registry -> storage -> event
// emission, in that order; events are best-effort, but registry and
// storage must both succeed (or both roll back) before the event fires.
type LifecycleManager struct {
	registry *StateRegistry
	plugins  *PluginRegistry
	health   *HealthMonitor
	recovery *RecoveryEngine
	storage  LifecycleStorage
	sink     EventSink
	log      *slog.Logger

	mu         sync.RWMutex
	monitoring bool
	stopSweep  chan struct{}
	sweepDone  chan struct{}
	healthDone chan struct{}

	intMu         sync.Mutex
	interventions map[string]UserInterventionRequest
}

// NewLifecycleManager constructs a LifecycleManager from cfg. Registry,
// Plugins, Health and Recovery are required; Storage and Sink are optional.
func NewLifecycleManager(cfg ManagerConfig) *LifecycleManager {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	m := &LifecycleManager{
		registry:      cfg.Registry,
		plugins:       cfg.Plugins,
		health:        cfg.Health,
		recovery:      cfg.Recovery,
		storage:       cfg.Storage,
		sink:          cfg.Sink,
		log:           log,
		interventions: make(map[string]UserInterventionRequest),
	}

	// Every registry mutation — whether driven directly by this manager
	// (stop/kill/progress/stuck) or indirectly by RecoveryEngine's retry/
	// transfer/escalate/abort algorithms — flows through this one observer,
	// so state:changed emission and durable transition logging never drift
	// out of sync with what StateRegistry actually recorded.
	m.registry.SetTransitionObserver(m.onStateTransition)

	return m
}

// onStateTransition is installed on the registry as its sole transition
// observer. It implements spec section 4.5's state -> registry -> storage
// -> event flow for every transition, regardless of which component drove
// it: records the transition to durable storage, then emits state:changed.
func (m *LifecycleManager) onStateTransition(t StateTransition) {
	if m.storage != nil {
		if err := m.storage.RecordTransition(context.Background(), t, t.ToState.Substate); err != nil {
			m.log.Warn("failed to record transition", "resource_id", t.ResourceID.String(), "error", err)
		}
	}

	var progress *float64
	if t.ToState.Kind == StateRunning {
		progress = t.ToState.Progress
	}
	m.emit(EventStateChanged, StateChangePayload{
		ResourceID:   t.ResourceID.String(),
		ResourceType: t.ResourceID.Type.String(),
		FromState:    string(t.FromState.Kind),
		ToState:      string(t.ToState.Kind),
		Substate:     t.ToState.Substate,
		Progress:     progress,
		Timestamp:    t.Timestamp.UTC().Format(time.RFC3339),
	})
}

func (m *LifecycleManager) emit(name string, payload interface{}) {
	if m.sink == nil {
		return
	}
	m.sink.Emit(name, payload)
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339) }

func floatPtr(f float64) *float64 { return &f }

// SpawnResource looks up t's handler, starts a new instance, registers it,
// persists it, begins health tracking, and emits session:created.
func (m *LifecycleManager) SpawnResource(ctx context.Context, t ResourceType, config ResourceConfig) (ResourceId, error) {
	var instance ResourceInstance
	var startErr error

	lookupErr := m.plugins.WithHandler(t, func(handler ResourceHandler) error {
		instanceID := NewResourceId(t, uuid.NewString())
		startCtx, cancel := context.WithTimeout(ctx, startTimeout(config))
		defer cancel()

		inst, err := handler.Start(startCtx, instanceID, config)
		if err != nil {
			startErr = err
			return err
		}
		instance = inst
		return nil
	})
	if lookupErr != nil {
		return ResourceId{}, wrapHandlerLookupOrStart(lookupErr, startErr)
	}

	if !m.registry.Register(instance) {
		return ResourceId{}, NewError(ErrAlreadyExists, "resource "+instance.ID.String()+" already registered", nil)
	}

	if m.storage != nil {
		if err := m.storage.SaveInstance(ctx, instance); err != nil {
			// Storage failures during spawn are fatal to the spawn: roll
			// the registry entry back so no orphaned in-memory-only
			// resource survives.
			m.registry.Unregister(instance.ID)
			return ResourceId{}, NewError(ErrStorageFailed, "failed to persist new instance", err)
		}
	}

	m.health.StartTracking(instance)

	m.emit(EventSessionCreated, instance)
	m.log.Info("spawned resource", "resource_id", instance.ID.String(), "resource_type", t.String())

	return instance.ID, nil
}

func wrapHandlerLookupOrStart(lookupErr, startErr error) error {
	if startErr != nil {
		return NewError(ErrHandlerFailed, "handler start failed", startErr)
	}
	return lookupErr
}

// StopResource delegates to the handler's graceful Stop, persists the
// resulting state, and emits session:completed if Stop returns nil or
// session:failed if it returns an error.
func (m *LifecycleManager) StopResource(ctx context.Context, id ResourceId) error {
	instance, ok := m.registry.Get(id)
	if !ok {
		return NewError(ErrNotFound, "resource "+id.String()+" not found", nil)
	}

	err := m.plugins.WithHandler(instance.ResourceType, func(handler ResourceHandler) error {
		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout(instance.Config))
		defer cancel()
		return handler.Stop(stopCtx, &instance)
	})
	if err != nil {
		m.registry.UpdateState(id, Failed(time.Now(), err.Error(), false, instance.CurrentEscalationTier), "stop failed")
		m.persistAndEmitFailure(ctx, id, err)
		return NewError(ErrHandlerFailed, "stop failed", err)
	}

	m.registry.UpdateState(id, Completed(time.Now(), nil), "stopped")
	m.health.StopTracking(id)
	m.persistCurrent(ctx, id)

	m.emit(EventSessionCompleted, map[string]string{"resourceId": id.String()})
	return nil
}

// KillResource forcibly halts id via the handler's Kill, leaving it
// Failed{terminal:false}.
func (m *LifecycleManager) KillResource(ctx context.Context, id ResourceId) error {
	instance, ok := m.registry.Get(id)
	if !ok {
		return NewError(ErrNotFound, "resource "+id.String()+" not found", nil)
	}

	_ = m.plugins.WithHandler(instance.ResourceType, func(handler ResourceHandler) error {
		killCtx, cancel := context.WithTimeout(ctx, stopTimeout(instance.Config))
		defer cancel()
		return handler.Kill(killCtx, &instance)
	})

	m.registry.UpdateState(id, Failed(time.Now(), "killed by caller", false, instance.CurrentEscalationTier), "killed")
	m.health.StopTracking(id)
	m.persistAndEmitFailure(ctx, id, fmt.Errorf("killed by caller"))
	return nil
}

func (m *LifecycleManager) persistCurrent(ctx context.Context, id ResourceId) {
	if m.storage == nil {
		return
	}
	instance, ok := m.registry.Get(id)
	if !ok {
		return
	}
	if err := m.storage.SaveInstance(ctx, instance); err != nil {
		m.log.Warn("failed to persist state update, will retry at next save", "resource_id", id.String(), "error", err)
	}
}

func (m *LifecycleManager) persistAndEmitFailure(ctx context.Context, id ResourceId, cause error) {
	m.persistCurrent(ctx, id)
	m.emit(EventSessionFailed, SessionFailedPayload{ResourceID: id.String(), Error: cause.Error(), Timestamp: nowRFC3339()})
}

// RecoverResource recovers id using its handler's first declared fallback
// option. Raises a UserInterventionRequest if the handler has no fallback
// to offer.
func (m *LifecycleManager) RecoverResource(ctx context.Context, id ResourceId) (RecoveryResult, error) {
	fallbacks, err := m.recovery.GetFallbacks(id)
	if err != nil {
		return RecoveryResult{}, err
	}
	if len(fallbacks) == 0 {
		m.raiseIntervention(id, "no fallback options available", nil)
		return RecoveryResult{}, NewError(ErrInternal, "no fallback options available, intervention raised", nil)
	}

	return m.RunRecoveryAction(ctx, id, fallbacks[0].Action)
}

// RunRecoveryAction runs a specific RecoveryAction against id, emitting
// recovery:started/succeeded/failed and handling the Escalate-exhausted
// case by raising a UserInterventionRequest.
func (m *LifecycleManager) RunRecoveryAction(ctx context.Context, id ResourceId, action RecoveryAction) (RecoveryResult, error) {
	m.emit(EventRecoveryStarted, RecoveryStartedPayload{ResourceID: id.String(), Action: string(action.Type), Timestamp: nowRFC3339()})

	result, err := m.recovery.Recover(ctx, id, action)
	if err != nil {
		m.emit(EventRecoveryFailed, RecoveryResultPayload{ResourceID: id.String(), Detail: err.Error(), Timestamp: nowRFC3339()})
		return RecoveryResult{}, err
	}

	m.persistCurrent(ctx, id)
	if result.Kind == RecoveryTransferred {
		m.persistCurrent(ctx, result.ToID)
		m.health.StopTracking(id)
		if newInstance, ok := m.registry.Get(result.ToID); ok {
			m.health.StartTracking(newInstance)
		}
	}

	switch result.Kind {
	case RecoveryEscalated:
		fallbacks, _ := m.recovery.GetFallbacks(id)
		if len(fallbacks) <= int(result.Tier) {
			m.raiseIntervention(id, "escalation exhausted available fallback options", fallbacks)
		}
	case RecoveryFailed:
		m.emit(EventRecoveryFailed, RecoveryResultPayload{ResourceID: id.String(), Detail: result.Reason, Timestamp: nowRFC3339()})
		return result, nil
	}

	m.emit(EventRecoverySucceeded, RecoveryResultPayload{ResourceID: id.String(), Timestamp: nowRFC3339()})
	return result, nil
}

func (m *LifecycleManager) raiseIntervention(id ResourceId, errMsg string, fallbacks []FallbackOption) {
	options := make([]InterventionOptionView, 0, len(fallbacks))
	for _, fb := range fallbacks {
		options = append(options, InterventionOptionView{ID: fb.ID, Label: fb.Label, Description: fb.Description, Destructive: fb.Destructive})
	}

	req := UserInterventionRequest{
		RequestID:  uuid.NewString(),
		ResourceID: id,
		Error:      errMsg,
		Options:    options,
		CreatedAt:  time.Now(),
	}

	m.intMu.Lock()
	m.interventions[req.RequestID] = req
	m.intMu.Unlock()

	m.emit(EventInterventionRequired, InterventionRequiredPayload{
		RequestID: req.RequestID, ResourceID: id.String(), Error: errMsg, Options: options,
	})
}

// RecordHeartbeat forwards to HealthMonitor.
func (m *LifecycleManager) RecordHeartbeat(id ResourceId) {
	m.health.RecordHeartbeat(id)
}

// UpdateProgress replaces id's Running state through StateRegistry's
// UpdateState, which records a transition and so emits state:changed, and
// then emits progress:updated. Returns false if id is unknown or not Running.
func (m *LifecycleManager) UpdateProgress(ctx context.Context, id ResourceId, progress float64, substate string) bool {
	instance, ok := m.registry.Get(id)
	if !ok || instance.State.Kind != StateRunning {
		return false
	}

	newState := Running(substate, instance.State.StartedAt, floatPtr(progress))
	if !m.registry.UpdateState(id, newState, "substate: "+substate) {
		return false
	}
	m.persistCurrent(ctx, id)

	m.emit(EventProgressUpdated, ProgressUpdatedPayload{ResourceID: id.String(), Progress: progress, Substate: substate, Timestamp: nowRFC3339()})
	return true
}

// GetResource returns id's current instance.
func (m *LifecycleManager) GetResource(id ResourceId) (ResourceInstance, bool) { return m.registry.Get(id) }

// GetAllResources returns every tracked instance.
func (m *LifecycleManager) GetAllResources() []ResourceInstance { return m.registry.GetAll() }

// GetResourcesByType returns every tracked instance of type t.
func (m *LifecycleManager) GetResourcesByType(t ResourceType) []ResourceInstance {
	return m.registry.GetByType(t)
}

// GetStuckResources returns every instance currently Stuck.
func (m *LifecycleManager) GetStuckResources() []ResourceInstance { return m.registry.GetStuck() }

// GetRunningResources returns every instance currently Running.
func (m *LifecycleManager) GetRunningResources() []ResourceInstance { return m.registry.GetRunning() }

// GetTransitionHistory returns id's per-resource transition ring.
func (m *LifecycleManager) GetTransitionHistory(id ResourceId) []StateTransition {
	return m.registry.GetHistory(id)
}

// GetStats returns the registry's population summary.
func (m *LifecycleManager) GetStats() RegistryStats { return m.registry.GetStats() }

// GetPendingInterventions returns every currently unresolved
// UserInterventionRequest.
func (m *LifecycleManager) GetPendingInterventions() []UserInterventionRequest {
	m.intMu.Lock()
	defer m.intMu.Unlock()

	out := make([]UserInterventionRequest, 0, len(m.interventions))
	for _, req := range m.interventions {
		out = append(out, req)
	}
	return out
}

// ResolveIntervention applies resolution to a pending request: it removes
// the request from the pending set and runs the selected option's
// RecoveryAction against the affected resource.
func (m *LifecycleManager) ResolveIntervention(ctx context.Context, resolution InterventionResolution) error {
	m.intMu.Lock()
	req, ok := m.interventions[resolution.RequestID]
	if ok {
		delete(m.interventions, resolution.RequestID)
	}
	m.intMu.Unlock()

	if !ok {
		return NewError(ErrNotFound, "intervention request "+resolution.RequestID+" not found", nil)
	}

	m.emit(EventInterventionResolved, map[string]string{"requestId": resolution.RequestID})

	fallbacks, err := m.recovery.GetFallbacks(req.ResourceID)
	if err != nil {
		return err
	}
	for _, fb := range fallbacks {
		if fb.ID == resolution.SelectedOption {
			_, err := m.RunRecoveryAction(ctx, req.ResourceID, fb.Action)
			return err
		}
	}
	return NewError(ErrInvalidArgument, "selected option not found among current fallbacks", nil)
}

// IsMonitoring reports whether the background health sweep is running.
func (m *LifecycleManager) IsMonitoring() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.monitoring
}

// StartMonitoring launches the background health-check sweep at the given
// interval. No-op if already monitoring.
func (m *LifecycleManager) StartMonitoring(ctx context.Context, sweepInterval time.Duration) {
	m.mu.Lock()
	if m.monitoring {
		m.mu.Unlock()
		return
	}
	m.monitoring = true
	m.stopSweep = make(chan struct{})
	m.sweepDone = make(chan struct{})
	m.healthDone = make(chan struct{})
	stop := m.stopSweep
	done := m.sweepDone
	healthDone := m.healthDone
	m.mu.Unlock()

	// Translate HealthMonitor's internal broadcast stream into stable
	// lifecycle:* sink payloads for as long as the sweep runs, per spec
	// section D.3.
	healthCh, healthCancel := m.health.Subscribe()
	go func() {
		defer close(healthDone)
		defer healthCancel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case ev, ok := <-healthCh:
				if !ok {
					return
				}
				m.handleHealthEvent(ev)
			}
		}
	}()

	go func() {
		defer close(done)
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				m.health.CheckHealth()
				m.syncStuckResources(ctx)
				m.emit(EventResourcesUpdated, m.registry.GetAll())
			}
		}
	}()
}

// handleHealthEvent translates a single HealthMonitor broadcast event into
// the stable lifecycle:* catalogue. Not every HealthEventKind has a
// dedicated external event: HealthEventResourceStuck is already surfaced
// through syncStuckResources' own registry transition and session:stuck
// emission, and a heartbeat resuming (HealthEventResourceRecovered /
// HealthEventHeartbeatRecorded) on a resource nothing else flagged is
// internal bookkeeping with no external-observer analogue.
func (m *LifecycleManager) handleHealthEvent(ev HealthEvent) {
	if ev.Kind == HealthEventHealthChanged && ev.NewStatus.Kind == HealthDegraded {
		m.emit(EventHeartbeatMissed, HeartbeatMissedPayload{
			ResourceID:  ev.ResourceID.String(),
			MissedCount: ev.NewStatus.Missed,
		})
	}
}

// syncStuckResources mirrors HealthMonitor's Stuck verdicts into
// StateRegistry's ResourceState, emitting session:stuck exactly once per
// transition into Stuck.
func (m *LifecycleManager) syncStuckResources(ctx context.Context) {
	for _, id := range m.health.GetStuckResources() {
		instance, ok := m.registry.Get(id)
		if !ok || instance.State.Kind == StateStuck || instance.State.IsTerminal() {
			continue
		}
		var lastProgress *float64
		if instance.State.Kind == StateRunning {
			lastProgress = instance.State.Progress
		}

		m.registry.UpdateState(id, Stuck(time.Now(), instance.RecoveryAttempts, lastProgress), "heartbeat threshold exceeded")
		m.persistCurrent(ctx, id)
		m.emit(EventSessionStuck, SessionStuckPayload{ResourceID: id.String(), RecoveryAttempts: instance.RecoveryAttempts, Timestamp: nowRFC3339()})
	}
}

// StopMonitoring stops the background sweep and the health-event
// translator and waits for both goroutines to exit. It does not wait for
// in-flight recoveries, flush storage, or close the event sink.
func (m *LifecycleManager) StopMonitoring() {
	m.mu.Lock()
	if !m.monitoring {
		m.mu.Unlock()
		return
	}
	m.monitoring = false
	close(m.stopSweep)
	done := m.sweepDone
	healthDone := m.healthDone
	m.mu.Unlock()

	<-done
	<-healthDone
}

// RestoreFromStorage re-registers every active instance from the durable
// store and resumes health tracking, without restarting any external side
// effect. Called on boot.
func (m *LifecycleManager) RestoreFromStorage(ctx context.Context) ([]ResourceInstance, error) {
	if m.storage == nil {
		return nil, nil
	}

	instances, err := m.storage.LoadActiveInstances(ctx)
	if err != nil {
		return nil, NewError(ErrStorageFailed, "failed to load active instances", err)
	}

	restored := make([]ResourceInstance, 0, len(instances))
	for _, instance := range instances {
		if !m.registry.Register(instance) {
			m.log.Warn("skipping duplicate instance during restore", "resource_id", instance.ID.String())
			continue
		}
		m.health.StartTracking(instance)
		restored = append(restored, instance)
	}

	m.log.Info("restored instances from storage", "count", len(restored))
	return restored, nil
}
