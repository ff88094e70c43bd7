package main

import (
	"context"
	"fmt"

	"github.com/steveyegge/vc/internal/control"
	"github.com/steveyegge/vc/internal/supervisor"
)

// dispatchControlCommand turns a control.Command arriving over the Unix
// socket into the corresponding LifecycleManager call, so a control.Client
// connected from another process can drive the same supervisor a `vc
// monitor` instance has already loaded into memory. The `vc` subcommands
// themselves act on the manager built in their own process.
func dispatchControlCommand(ctx context.Context, cmd control.Command) (map[string]interface{}, error) {
	switch cmd.Type {
	case "ps":
		resources := manager.GetAllResources()
		out := make([]map[string]interface{}, 0, len(resources))
		for _, inst := range resources {
			out = append(out, map[string]interface{}{
				"id":    inst.ID.String(),
				"state": string(inst.State.Kind),
			})
		}
		return map[string]interface{}{"resources": out}, nil

	case "stuck":
		stuck := manager.GetStuckResources()
		out := make([]string, 0, len(stuck))
		for _, inst := range stuck {
			out = append(out, inst.ID.String())
		}
		return map[string]interface{}{"stuck": out}, nil

	case "history":
		id, err := supervisor.ParseResourceId(cmd.ResourceID)
		if err != nil {
			return nil, err
		}
		history := manager.GetTransitionHistory(id)
		out := make([]string, 0, len(history))
		for _, t := range history {
			out = append(out, string(t.FromState.Kind)+"->"+string(t.ToState.Kind))
		}
		return map[string]interface{}{"history": out}, nil

	case "retry":
		return runDispatchedRecovery(ctx, cmd.ResourceID, supervisor.RetryAction(true))

	case "transfer":
		toTypeStr, _ := cmd.Metadata["to_type"].(string)
		var tt *supervisor.ResourceType
		if toTypeStr != "" {
			parsed, err := supervisor.ParseResourceType(toTypeStr)
			if err != nil {
				return nil, err
			}
			tt = &parsed
		}
		return runDispatchedRecovery(ctx, cmd.ResourceID, supervisor.TransferAction(tt, true))

	case "escalate":
		tier, err := metadataUint8(cmd.Metadata, "tier")
		if err != nil {
			return nil, err
		}
		return runDispatchedRecovery(ctx, cmd.ResourceID, supervisor.EscalateAction(tier))

	case "abort":
		return runDispatchedRecovery(ctx, cmd.ResourceID, supervisor.AbortAction(cmd.Reason))

	default:
		return nil, fmt.Errorf("unknown control command %q", cmd.Type)
	}
}

// metadataUint8 reads an integer tier out of a Command's Metadata bag.
// Over the wire it decodes as float64 (encoding/json's default number
// type for interface{}); an in-process caller may hand it over as an int.
func metadataUint8(metadata map[string]interface{}, key string) (uint8, error) {
	switch v := metadata[key].(type) {
	case float64:
		return uint8(v), nil
	case int:
		return uint8(v), nil
	default:
		return 0, fmt.Errorf("missing or invalid %q in command metadata", key)
	}
}

func runDispatchedRecovery(ctx context.Context, resourceIDStr string, action supervisor.RecoveryAction) (map[string]interface{}, error) {
	id, err := supervisor.ParseResourceId(resourceIDStr)
	if err != nil {
		return nil, err
	}
	result, err := manager.RunRecoveryAction(ctx, id, action)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"result": string(result.Kind)}, nil
}
