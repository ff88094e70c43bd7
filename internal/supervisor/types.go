// Package supervisor implements the lifecycle supervisor: a concurrent
// runtime that tracks heterogeneous managed resources (agent conversations,
// channel connections, tool invocations, scheduled jobs, sub-agents, memory
// operations), detects when any of them stop making progress, and drives
// them through a recovery protocol that can retry in place, transfer state
// onto a fresh instance, escalate, or abort.
package supervisor

import (
	"encoding/json"
	"fmt"
	"time"
)

// ResourceType identifies the kind of resource a ResourceId refers to. The
// closed set covers the platform's built-in resource kinds; Custom extends
// it without requiring any change to core logic, only a matching handler
// registered in PluginRegistry.
type ResourceType struct {
	kind string
	name string // only set when kind == "custom"
}

var (
	ResourceTypeAgent           = ResourceType{kind: "agent"}
	ResourceTypeChannel         = ResourceType{kind: "channel"}
	ResourceTypeTool            = ResourceType{kind: "tool"}
	ResourceTypeSchedulerJob    = ResourceType{kind: "scheduler_job"}
	ResourceTypeSubagent        = ResourceType{kind: "subagent"}
	ResourceTypeGatewayHandler  = ResourceType{kind: "gateway_handler"}
	ResourceTypeMemoryOperation = ResourceType{kind: "memory_operation"}
)

// CustomResourceType constructs the open Custom(name) variant.
func CustomResourceType(name string) ResourceType {
	return ResourceType{kind: "custom", name: name}
}

// String renders the type for use in ResourceId's printable form and in
// logs. Custom types render as "custom:name".
func (t ResourceType) String() string {
	if t.kind == "custom" {
		return "custom:" + t.name
	}
	return t.kind
}

// IsCustom reports whether t is the open Custom(name) variant.
func (t ResourceType) IsCustom() bool { return t.kind == "custom" }

// Equal reports whether two ResourceTypes name the same kind.
func (t ResourceType) Equal(other ResourceType) bool {
	return t.kind == other.kind && t.name == other.name
}

// ParseResourceType parses the literal set accepted by the external command
// surface: the built-in kind names (case-insensitive) or "custom:NAME".
// Unknown strings return an error of kind ErrInvalidArgument.
func ParseResourceType(s string) (ResourceType, error) {
	lower := toLower(s)
	switch lower {
	case "agent":
		return ResourceTypeAgent, nil
	case "channel":
		return ResourceTypeChannel, nil
	case "tool":
		return ResourceTypeTool, nil
	case "scheduler_job", "schedulerjob":
		return ResourceTypeSchedulerJob, nil
	case "subagent":
		return ResourceTypeSubagent, nil
	case "gateway_handler", "gatewayhandler":
		return ResourceTypeGatewayHandler, nil
	case "memory_operation", "memoryoperation":
		return ResourceTypeMemoryOperation, nil
	}
	if len(lower) > 7 && lower[:7] == "custom:" {
		name := s[7:]
		if name == "" {
			return ResourceType{}, NewError(ErrInvalidArgument, "custom resource type requires a name", nil)
		}
		return CustomResourceType(name), nil
	}
	return ResourceType{}, NewError(ErrInvalidArgument, fmt.Sprintf("unrecognized resource type %q", s), nil)
}

// MarshalJSON serialises a ResourceType as its string form, so a
// ResourceInstance round-trips through storage without a custom
// marshaller at every call site.
func (t ResourceType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON parses a ResourceType from its string form.
func (t *ResourceType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseResourceType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// ResourceId is a pair (ResourceType, instance id). Instance IDs are opaque
// to the core; uniqueness is per type. Two ResourceIds are equal iff both
// components are equal.
type ResourceId struct {
	Type       ResourceType
	InstanceID string
}

// NewResourceId constructs a ResourceId.
func NewResourceId(t ResourceType, instanceID string) ResourceId {
	return ResourceId{Type: t, InstanceID: instanceID}
}

// String returns the printable form "{type}:{instance_id}".
func (id ResourceId) String() string {
	return id.Type.String() + ":" + id.InstanceID
}

// Equal reports whether two ResourceIds name the same resource.
func (id ResourceId) Equal(other ResourceId) bool {
	return id.Type.Equal(other.Type) && id.InstanceID == other.InstanceID
}

// MarshalJSON serialises a ResourceId as its printable string form, matching
// the storage schema's ResourceId-printable-form primary key.
func (id ResourceId) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON parses a ResourceId from its printable string form.
func (id *ResourceId) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseResourceId(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseResourceId parses the "{type}:{instance_id}" printable form produced
// by ResourceId.String. Custom types ("custom:name:instance_id") are
// disambiguated by their fixed "custom:" prefix before the instance id is
// split off, since an instance id may itself contain colons.
func ParseResourceId(s string) (ResourceId, error) {
	if len(s) > 7 && s[:7] == "custom:" {
		rest := s[7:]
		idx := indexByte(rest, ':')
		if idx < 0 {
			return ResourceId{}, NewError(ErrInvalidArgument, fmt.Sprintf("malformed resource id %q", s), nil)
		}
		t := CustomResourceType(rest[:idx])
		return ResourceId{Type: t, InstanceID: rest[idx+1:]}, nil
	}

	idx := indexByte(s, ':')
	if idx < 0 {
		return ResourceId{}, NewError(ErrInvalidArgument, fmt.Sprintf("malformed resource id %q", s), nil)
	}
	t, err := ParseResourceType(s[:idx])
	if err != nil {
		return ResourceId{}, err
	}
	return ResourceId{Type: t, InstanceID: s[idx+1:]}, nil
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// RecoveryActionType names which recovery algorithm is (or was) in flight,
// used both inside Recovering{action} and in the recovery:started event.
type RecoveryActionType string

const (
	RecoveryActionRetry    RecoveryActionType = "retry"
	RecoveryActionTransfer RecoveryActionType = "transfer"
	RecoveryActionEscalate RecoveryActionType = "escalate"
	RecoveryActionAbort    RecoveryActionType = "abort"
)

// ResourceState is a tagged sum with exactly six variants. Kind determines
// which of the variant-specific fields are meaningful; callers must switch
// on Kind rather than infer the variant from populated fields, since a zero
// progress or empty substate is itself meaningful.
type ResourceStateKind string

const (
	StateIdle       ResourceStateKind = "idle"
	StateRunning    ResourceStateKind = "running"
	StateStuck      ResourceStateKind = "stuck"
	StateRecovering ResourceStateKind = "recovering"
	StateCompleted  ResourceStateKind = "completed"
	StateFailed     ResourceStateKind = "failed"
)

// ResourceState models spec section 3's tagged state sum as a single struct
// carrying a Kind discriminator plus every variant's fields side by side.
// This mirrors the JSON tagged-blob storage schema directly: one row, one
// shape, discriminated by "kind".
type ResourceState struct {
	Kind ResourceStateKind `json:"kind"`

	// Running
	Substate  string    `json:"substate,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Progress  *float64  `json:"progress,omitempty"`

	// Stuck
	Since               time.Time `json:"since,omitempty"`
	RecoveryAttempts    uint32    `json:"recovery_attempts,omitempty"`
	LastKnownProgress   *float64  `json:"last_known_progress,omitempty"`

	// Recovering
	Action RecoveryActionType `json:"action,omitempty"`

	// Completed
	At     time.Time       `json:"at,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`

	// Failed
	Error                  string `json:"error,omitempty"`
	Terminal               bool   `json:"terminal,omitempty"`
	EscalationTierReached  uint8  `json:"escalation_tier_reached,omitempty"`
}

// Idle returns the Idle variant.
func Idle() ResourceState { return ResourceState{Kind: StateIdle} }

// Running returns the Running variant.
func Running(substate string, startedAt time.Time, progress *float64) ResourceState {
	return ResourceState{Kind: StateRunning, Substate: substate, StartedAt: startedAt, Progress: progress}
}

// Stuck returns the Stuck variant.
func Stuck(since time.Time, recoveryAttempts uint32, lastKnownProgress *float64) ResourceState {
	return ResourceState{Kind: StateStuck, Since: since, RecoveryAttempts: recoveryAttempts, LastKnownProgress: lastKnownProgress}
}

// Recovering returns the Recovering variant.
func Recovering(action RecoveryActionType, startedAt time.Time) ResourceState {
	return ResourceState{Kind: StateRecovering, Action: action, StartedAt: startedAt}
}

// Completed returns the Completed variant.
func Completed(at time.Time, result json.RawMessage) ResourceState {
	return ResourceState{Kind: StateCompleted, At: at, Result: result}
}

// Failed returns the Failed variant.
func Failed(at time.Time, errMsg string, terminal bool, escalationTierReached uint8) ResourceState {
	return ResourceState{Kind: StateFailed, At: at, Error: errMsg, Terminal: terminal, EscalationTierReached: escalationTierReached}
}

// IsTerminal reports whether the state is a sink: Completed, or
// Failed{terminal:true}. Terminal states never transition again.
func (s ResourceState) IsTerminal() bool {
	switch s.Kind {
	case StateCompleted:
		return true
	case StateFailed:
		return s.Terminal
	default:
		return false
	}
}

// HealthStatus is orthogonal to ResourceState; it is derived purely from
// heartbeat bookkeeping inside HealthMonitor.
type HealthStatusKind string

const (
	HealthHealthy  HealthStatusKind = "healthy"
	HealthDegraded HealthStatusKind = "degraded"
	HealthStuck    HealthStatusKind = "stuck"
	HealthUnknown  HealthStatusKind = "unknown"
)

// HealthStatus carries the Kind discriminator plus the variant-specific
// fields (Missed for Degraded, Since for Stuck).
type HealthStatus struct {
	Kind   HealthStatusKind `json:"kind"`
	Missed uint32           `json:"missed,omitempty"`
	Since  time.Time        `json:"since,omitempty"`
}

func healthyStatus() HealthStatus                { return HealthStatus{Kind: HealthHealthy} }
func degradedStatus(missed uint32) HealthStatus   { return HealthStatus{Kind: HealthDegraded, Missed: missed} }
func stuckStatus(since time.Time) HealthStatus    { return HealthStatus{Kind: HealthStuck, Since: since} }
func unknownStatus() HealthStatus                 { return HealthStatus{Kind: HealthUnknown} }

// HeartbeatConfig configures how a single tracked resource's liveness is
// judged. Threshold is counted in missed intervals, not wall time, so a
// slow clock tick never produces a spurious stuck report within a single
// interval.
type HeartbeatConfig struct {
	IntervalSecs   uint32 `json:"interval_secs" yaml:"interval_secs" mapstructure:"interval_secs"`
	StuckThreshold uint32 `json:"stuck_threshold" yaml:"stuck_threshold" mapstructure:"stuck_threshold"`
}

// Interval returns the configured heartbeat interval as a time.Duration.
func (c HeartbeatConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// DefaultHeartbeatConfig returns the per-resource-type defaults. Interactive,
// user-facing resources get short intervals and low stuck thresholds;
// batch/background resources can tolerate longer silence. Supplements
// spec.md's generic HeartbeatConfig with the original Rust source's
// per-type defaulting (original_source/src-tauri/src/lifecycle), which the
// distilled spec leaves to the implementer.
func DefaultHeartbeatConfig(t ResourceType) HeartbeatConfig {
	switch {
	case t.Equal(ResourceTypeAgent):
		return HeartbeatConfig{IntervalSecs: 10, StuckThreshold: 3}
	case t.Equal(ResourceTypeChannel):
		return HeartbeatConfig{IntervalSecs: 30, StuckThreshold: 4}
	case t.Equal(ResourceTypeTool):
		return HeartbeatConfig{IntervalSecs: 5, StuckThreshold: 6}
	case t.Equal(ResourceTypeSchedulerJob):
		return HeartbeatConfig{IntervalSecs: 60, StuckThreshold: 5}
	case t.Equal(ResourceTypeSubagent):
		return HeartbeatConfig{IntervalSecs: 10, StuckThreshold: 3}
	case t.Equal(ResourceTypeGatewayHandler):
		return HeartbeatConfig{IntervalSecs: 15, StuckThreshold: 4}
	case t.Equal(ResourceTypeMemoryOperation):
		return HeartbeatConfig{IntervalSecs: 5, StuckThreshold: 6}
	default:
		return HeartbeatConfig{IntervalSecs: 15, StuckThreshold: 4}
	}
}

// ResourceConfig is the opaque, handler-defined configuration passed to
// start. The core never inspects it beyond round-tripping it for restart
// and restore.
type ResourceConfig struct {
	// Params carries handler-specific configuration as a JSON-serialisable
	// bag; the core treats it as opaque.
	Params json.RawMessage `json:"params,omitempty"`

	// StartTimeout/StopTimeout override the default 30s deadlines used when
	// invoking the resource's handler. HealthCheckTimeout is carried and
	// persisted but not read, since nothing calls the handler's HealthCheck.
	StartTimeout       time.Duration `json:"start_timeout,omitempty"`
	StopTimeout        time.Duration `json:"stop_timeout,omitempty"`
	HealthCheckTimeout time.Duration `json:"health_check_timeout,omitempty"`

	// Heartbeat overrides DefaultHeartbeatConfig for this instance when set.
	Heartbeat *HeartbeatConfig `json:"heartbeat,omitempty"`
}

// ResourceInstance is the unit StateRegistry owns. Created by a handler's
// start; mutated only through StateRegistry operations. No external code
// holds a mutable reference to one.
type ResourceInstance struct {
	ID                    ResourceId     `json:"id"`
	ResourceType          ResourceType   `json:"resource_type"`
	State                 ResourceState  `json:"state"`
	Config                ResourceConfig `json:"config"`
	CreatedAt             time.Time      `json:"created_at"`
	RecoveryAttempts      uint32         `json:"recovery_attempts"`
	CurrentEscalationTier uint8          `json:"current_escalation_tier"`
}

// Clone returns a deep-enough copy safe to hand to a caller outside the
// registry's lock (config's Params is a byte slice, copied by value on
// assignment already being an immutable json.RawMessage in practice).
func (ri ResourceInstance) Clone() ResourceInstance {
	return ri
}

// StateTransition is an append-only record of a single state change.
type StateTransition struct {
	ResourceID ResourceId    `json:"resource_id"`
	FromState  ResourceState `json:"from_state"`
	ToState    ResourceState `json:"to_state"`
	Timestamp  time.Time     `json:"timestamp"`
	Reason     string        `json:"reason"`
}

// FallbackOption is a handler-declared choice for what to try next against
// a Stuck resource.
type FallbackOption struct {
	ID          string         `json:"id"`
	Label       string         `json:"label"`
	Description string         `json:"description"`
	Destructive bool           `json:"destructive"`
	Action      RecoveryAction `json:"action"`
}

// RecoveryAction is a tagged sum selecting which recovery algorithm to run.
type RecoveryAction struct {
	Type RecoveryActionType `json:"type"`

	// Retry
	PreserveState bool `json:"preserve_state,omitempty"`

	// Transfer
	ToType *ResourceType `json:"to_type,omitempty"`

	// Escalate
	Tier uint8 `json:"tier,omitempty"`

	// Abort
	Reason string `json:"reason,omitempty"`
}

// RetryAction builds a Retry{preserve_state} action.
func RetryAction(preserveState bool) RecoveryAction {
	return RecoveryAction{Type: RecoveryActionRetry, PreserveState: preserveState}
}

// TransferAction builds a Transfer{to_type, preserve_state} action.
func TransferAction(toType *ResourceType, preserveState bool) RecoveryAction {
	return RecoveryAction{Type: RecoveryActionTransfer, ToType: toType, PreserveState: preserveState}
}

// EscalateAction builds an Escalate{tier} action.
func EscalateAction(tier uint8) RecoveryAction {
	return RecoveryAction{Type: RecoveryActionEscalate, Tier: tier}
}

// AbortAction builds an Abort{reason} action.
func AbortAction(reason string) RecoveryAction {
	return RecoveryAction{Type: RecoveryActionAbort, Reason: reason}
}

// PreservedState is an opaque, serialisable bag produced by a handler from
// one instance and later applied by the same or another compatible
// handler. The core never inspects its contents.
type PreservedState struct {
	Data json.RawMessage `json:"data"`
}

// UserInterventionRequest is raised when automated recovery cannot proceed
// without a human decision.
type UserInterventionRequest struct {
	RequestID  string                   `json:"request_id"`
	ResourceID ResourceId               `json:"resource_id"`
	Error      string                   `json:"error"`
	Options    []InterventionOptionView `json:"options"`
	CreatedAt  time.Time                `json:"created_at"`
}

// InterventionOptionView is the subset of a FallbackOption exposed to an
// intervention request's options list.
type InterventionOptionView struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Destructive bool   `json:"destructive"`
}

// InterventionResolution is the operator's answer to a pending
// UserInterventionRequest.
type InterventionResolution struct {
	RequestID      string          `json:"request_id"`
	SelectedOption string          `json:"selected_option"`
	AdditionalData json.RawMessage `json:"additional_data,omitempty"`
}

// RecoveryResultKind discriminates RecoveryEngine.Recover's return value.
type RecoveryResultKind string

const (
	RecoveryRecovered   RecoveryResultKind = "recovered"
	RecoveryTransferred RecoveryResultKind = "transferred"
	RecoveryEscalated   RecoveryResultKind = "escalated"
	RecoveryFailed      RecoveryResultKind = "failed"
)

// RecoveryResult is RecoveryEngine.Recover's tagged return value.
type RecoveryResult struct {
	Kind RecoveryResultKind `json:"kind"`

	ResourceID ResourceId `json:"resource_id,omitempty"` // Recovered

	FromID ResourceId `json:"from_id,omitempty"` // Transferred
	ToID   ResourceId `json:"to_id,omitempty"`   // Transferred

	Tier uint8 `json:"tier,omitempty"` // Escalated

	Reason string `json:"reason,omitempty"` // Failed
}

// RegistryStats summarises StateRegistry's current population, grouped by
// ResourceState kind.
type RegistryStats struct {
	Total      int `json:"total"`
	Idle       int `json:"idle"`
	Running    int `json:"running"`
	Stuck      int `json:"stuck"`
	Recovering int `json:"recovering"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
