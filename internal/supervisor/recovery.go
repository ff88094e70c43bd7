package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultStartTimeout       = 30 * time.Second
	defaultStopTimeout        = 30 * time.Second
	defaultHealthCheckTimeout = 10 * time.Second
)

// RecoveryEngine orchestrates retry / transfer / escalate / abort for a
// Stuck resource, always going through the handler registered for the
// instance's (or target's) ResourceType. Concurrent Recover calls against
// the same ResourceId are collapsed with singleflight so a double-fired
// sweep or double-clicked "retry" button cannot run two recovery
// algorithms against one instance at once.
type RecoveryEngine struct {
	registry *StateRegistry
	plugins  *PluginRegistry

	group singleflight.Group

	log *slog.Logger
}

// NewRecoveryEngine constructs a RecoveryEngine over the given registry and
// plugin lookup.
func NewRecoveryEngine(registry *StateRegistry, plugins *PluginRegistry, log *slog.Logger) *RecoveryEngine {
	if log == nil {
		log = slog.Default()
	}
	return &RecoveryEngine{registry: registry, plugins: plugins, log: log}
}

func startTimeout(cfg ResourceConfig) time.Duration {
	if cfg.StartTimeout > 0 {
		return cfg.StartTimeout
	}
	return defaultStartTimeout
}

func stopTimeout(cfg ResourceConfig) time.Duration {
	if cfg.StopTimeout > 0 {
		return cfg.StopTimeout
	}
	return defaultStopTimeout
}

// Recover is the single public entry point. It dispatches to the algorithm
// matching action.Type, after looking up the current instance.
func (e *RecoveryEngine) Recover(ctx context.Context, id ResourceId, action RecoveryAction) (RecoveryResult, error) {
	v, err, _ := e.group.Do(id.String(), func() (interface{}, error) {
		return e.recover(ctx, id, action)
	})
	if err != nil {
		return RecoveryResult{}, err
	}
	return v.(RecoveryResult), nil
}

func (e *RecoveryEngine) recover(ctx context.Context, id ResourceId, action RecoveryAction) (RecoveryResult, error) {
	instance, ok := e.registry.Get(id)
	if !ok {
		return RecoveryResult{}, NewError(ErrNotFound, "resource "+id.String()+" not found", nil)
	}

	switch action.Type {
	case RecoveryActionRetry:
		return e.retry(ctx, instance, action.PreserveState)
	case RecoveryActionTransfer:
		return e.transfer(ctx, instance, action.ToType, action.PreserveState)
	case RecoveryActionEscalate:
		return e.escalate(instance, action.Tier)
	case RecoveryActionAbort:
		return e.abort(ctx, instance, action.Reason)
	default:
		return RecoveryResult{}, NewError(ErrInvalidArgument, "unknown recovery action type", nil)
	}
}

func (e *RecoveryEngine) handlerFor(t ResourceType) (ResourceHandler, error) {
	if !e.plugins.IsRegistered(t) {
		return nil, NewError(ErrHandlerNotRegistered, "no handler registered for "+t.String(), nil)
	}
	var h ResourceHandler
	err := e.plugins.WithHandler(t, func(handler ResourceHandler) error {
		h = handler
		return nil
	})
	return h, err
}

// retry implements spec section 4.4's Retry algorithm: transition to
// Recovering, optionally extract state, stop, start under the same ID,
// optionally apply state, transition to Running{"recovered"}, bump
// recovery_attempts.
func (e *RecoveryEngine) retry(ctx context.Context, instance ResourceInstance, preserveState bool) (RecoveryResult, error) {
	e.log.Info("retrying resource", "resource_id", instance.ID.String(), "preserve_state", preserveState)

	handler, err := e.handlerFor(instance.ResourceType)
	if err != nil {
		return RecoveryResult{}, err
	}

	e.registry.UpdateState(instance.ID, Recovering(RecoveryActionRetry, time.Now()), "starting retry recovery")

	var preserved *PreservedState
	if preserveState {
		state, err := handler.ExtractState(ctx, &instance)
		if err != nil {
			// Edge case: extract failure falls through to preserve_state=false,
			// recording the extraction failure in the transition reason.
			e.log.Warn("extract_state failed during retry, continuing without preserved state",
				"resource_id", instance.ID.String(), "error", err)
			e.registry.UpdateState(instance.ID, Recovering(RecoveryActionRetry, time.Now()),
				fmt.Sprintf("extract_state failed: %v", err))
		} else {
			preserved = &state
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout(instance.Config))
	stopErr := handler.Stop(stopCtx, &instance)
	cancel()
	if stopErr != nil {
		e.log.Warn("stop failed during retry, continuing to restart", "resource_id", instance.ID.String(), "error", stopErr)
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout(instance.Config))
	newInstance, startErr := handler.Start(startCtx, instance.ID, instance.Config)
	cancel()
	if startErr != nil {
		// Edge case: start failure during Retry leaves the original
		// Failed{terminal:false}; no successor is left orphaned.
		e.registry.UpdateState(instance.ID, Failed(time.Now(), startErr.Error(), false, instance.CurrentEscalationTier),
			"restart failed during retry")
		return RecoveryResult{}, NewError(ErrHandlerFailed, "restart failed during retry", startErr)
	}

	if preserved != nil {
		applyCtx, cancel := context.WithTimeout(ctx, startTimeout(instance.Config))
		applyErr := handler.ApplyState(applyCtx, &newInstance, *preserved)
		cancel()
		if applyErr != nil {
			e.log.Warn("apply_state failed during retry", "resource_id", instance.ID.String(), "error", applyErr)
		}
	}

	e.registry.UpdateState(instance.ID, Running("recovered", time.Now(), nil), "recovery retry completed")
	e.registry.IncrementRecoveryAttempts(instance.ID)

	return RecoveryResult{Kind: RecoveryRecovered, ResourceID: instance.ID}, nil
}

// transfer implements spec section 4.4's Transfer algorithm.
func (e *RecoveryEngine) transfer(ctx context.Context, instance ResourceInstance, toType *ResourceType, preserveState bool) (RecoveryResult, error) {
	targetType := instance.ResourceType
	if toType != nil {
		targetType = *toType
	}

	e.log.Info("transferring resource", "resource_id", instance.ID.String(), "target_type", targetType.String(), "preserve_state", preserveState)

	sourceHandler, err := e.handlerFor(instance.ResourceType)
	if err != nil {
		return RecoveryResult{}, err
	}
	targetHandler, err := e.handlerFor(targetType)
	if err != nil {
		return RecoveryResult{}, err
	}

	e.registry.UpdateState(instance.ID, Recovering(RecoveryActionTransfer, time.Now()),
		fmt.Sprintf("starting transfer to %s", targetType.String()))

	var preserved *PreservedState
	if preserveState {
		state, err := sourceHandler.ExtractState(ctx, &instance)
		if err != nil {
			e.log.Warn("extract_state failed during transfer, continuing without preserved state",
				"resource_id", instance.ID.String(), "error", err)
			e.registry.UpdateState(instance.ID, Recovering(RecoveryActionTransfer, time.Now()),
				fmt.Sprintf("extract_state failed: %v", err))
		} else {
			preserved = &state
		}
	}

	newID := NewResourceId(targetType, fmt.Sprintf("%s:transferred:%d", instance.ID.InstanceID, time.Now().Unix()))

	startCtx, cancel := context.WithTimeout(ctx, startTimeout(instance.Config))
	newInstance, startErr := targetHandler.Start(startCtx, newID, instance.Config)
	cancel()
	if startErr != nil {
		e.registry.UpdateState(instance.ID, Recovering(RecoveryActionTransfer, time.Now()),
			fmt.Sprintf("transfer target start failed: %v", startErr))
		return RecoveryResult{}, NewError(ErrHandlerFailed, "transfer target start failed", startErr)
	}

	if !e.registry.Register(newInstance) {
		return RecoveryResult{}, NewError(ErrAlreadyExists, "transfer successor ID collision: "+newID.String(), nil)
	}

	if preserved != nil {
		applyCtx, cancel := context.WithTimeout(ctx, startTimeout(instance.Config))
		applyErr := targetHandler.ApplyState(applyCtx, &newInstance, *preserved)
		cancel()
		if applyErr != nil {
			// Edge case: apply_state failure on the new instance during
			// Transfer kills and cleans it up; the source remains in
			// Recovering for another attempt.
			e.log.Warn("apply_state failed on transfer target, rolling back successor",
				"resource_id", newID.String(), "error", applyErr)

			killCtx, cancel := context.WithTimeout(ctx, stopTimeout(instance.Config))
			_ = targetHandler.Kill(killCtx, &newInstance)
			cancel()
			_ = targetHandler.Cleanup(ctx, newInstance)
			e.registry.Unregister(newID)

			e.registry.UpdateState(instance.ID, Recovering(RecoveryActionTransfer, time.Now()),
				fmt.Sprintf("transfer target apply_state failed: %v", applyErr))
			return RecoveryResult{}, NewError(ErrHandlerFailed, "transfer target apply_state failed", applyErr)
		}
	}

	e.registry.UpdateState(newID, Running("transferred", time.Now(), nil),
		fmt.Sprintf("transferred from %s", instance.ID.String()))

	if cleanupErr := sourceHandler.Cleanup(ctx, instance); cleanupErr != nil {
		e.log.Warn("cleanup failed on transfer source", "resource_id", instance.ID.String(), "error", cleanupErr)
	}

	result, _ := json.Marshal(map[string]string{"transferred_to": newID.String()})
	e.registry.UpdateState(instance.ID, Completed(time.Now(), result),
		fmt.Sprintf("transferred to %s", newID.String()))

	return RecoveryResult{Kind: RecoveryTransferred, FromID: instance.ID, ToID: newID}, nil
}

// escalate implements spec section 4.4's Escalate algorithm: it never
// creates a successor. The caller (LifecycleManager) decides what happens
// when a handler's fallback list is exhausted.
func (e *RecoveryEngine) escalate(instance ResourceInstance, tier uint8) (RecoveryResult, error) {
	e.log.Info("escalating resource", "resource_id", instance.ID.String(), "tier", tier)

	e.registry.SetEscalationTier(instance.ID, tier)
	e.registry.UpdateState(instance.ID, Recovering(RecoveryActionEscalate, time.Now()),
		fmt.Sprintf("escalated to tier %d", tier))

	return RecoveryResult{Kind: RecoveryEscalated, Tier: tier}, nil
}

// abort implements spec section 4.4's Abort algorithm.
func (e *RecoveryEngine) abort(ctx context.Context, instance ResourceInstance, reason string) (RecoveryResult, error) {
	e.log.Warn("aborting resource", "resource_id", instance.ID.String(), "reason", reason)

	handler, err := e.handlerFor(instance.ResourceType)
	if err != nil {
		return RecoveryResult{}, err
	}

	killCtx, cancel := context.WithTimeout(ctx, stopTimeout(instance.Config))
	killErr := handler.Kill(killCtx, &instance)
	cancel()
	if killErr != nil {
		e.log.Warn("kill failed during abort, continuing to cleanup", "resource_id", instance.ID.String(), "error", killErr)
	}

	if cleanupErr := handler.Cleanup(ctx, instance); cleanupErr != nil {
		e.log.Warn("cleanup failed during abort", "resource_id", instance.ID.String(), "error", cleanupErr)
	}

	e.registry.UpdateState(instance.ID, Failed(time.Now(), reason, true, instance.CurrentEscalationTier), "aborted")

	return RecoveryResult{Kind: RecoveryFailed, Reason: reason}, nil
}

// GetFallbacks returns id's handler-declared fallback options, in the
// handler's own order; RecoveryEngine never reorders them.
func (e *RecoveryEngine) GetFallbacks(id ResourceId) ([]FallbackOption, error) {
	instance, ok := e.registry.Get(id)
	if !ok {
		return nil, NewError(ErrNotFound, "resource "+id.String()+" not found", nil)
	}

	handler, err := e.handlerFor(instance.ResourceType)
	if err != nil {
		return nil, err
	}
	return handler.GetFallbacks(instance), nil
}
