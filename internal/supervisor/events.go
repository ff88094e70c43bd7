package supervisor

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Event kind names. Stable across releases — external observers (the CLI,
// a future UI) key off these strings, not Go types.
const (
	EventSessionCreated       = "lifecycle:session:created"
	EventStateChanged         = "lifecycle:state:changed"
	EventSessionCompleted     = "lifecycle:session:completed"
	EventSessionFailed        = "lifecycle:session:failed"
	EventSessionStuck         = "lifecycle:session:stuck"
	EventRecoveryStarted      = "lifecycle:recovery:started"
	EventRecoverySucceeded    = "lifecycle:recovery:succeeded"
	EventRecoveryFailed       = "lifecycle:recovery:failed"
	EventInterventionRequired = "lifecycle:intervention:required"
	EventInterventionResolved = "lifecycle:intervention:resolved"
	EventProgressUpdated      = "lifecycle:progress:updated"
	EventHeartbeatMissed      = "lifecycle:heartbeat:missed"
	EventResourcesUpdated     = "lifecycle:resources:updated"
)

// Event is a single emission: a stable name plus a JSON-serialisable,
// already-marshalled payload. The core never inspects what a subscriber
// does with it.
type Event struct {
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventSink delivers events by name and payload to any number of
// subscribers. Best-effort: a failure to emit is logged by the
// implementation, never propagated to the operation that triggered it.
type EventSink interface {
	Emit(name string, payload interface{})
}

// StateChangePayload accompanies EventStateChanged.
type StateChangePayload struct {
	ResourceID   string   `json:"resourceId"`
	ResourceType string   `json:"resourceType"`
	FromState    string   `json:"fromState"`
	ToState      string   `json:"toState"`
	Substate     string   `json:"substate,omitempty"`
	Progress     *float64 `json:"progress,omitempty"`
	Timestamp    string   `json:"timestamp"`
}

// SessionFailedPayload accompanies EventSessionFailed.
type SessionFailedPayload struct {
	ResourceID string `json:"resourceId"`
	Error      string `json:"error"`
	Timestamp  string `json:"timestamp"`
}

// SessionStuckPayload accompanies EventSessionStuck.
type SessionStuckPayload struct {
	ResourceID       string `json:"resourceId"`
	RecoveryAttempts uint32 `json:"recoveryAttempts"`
	Timestamp        string `json:"timestamp"`
}

// RecoveryStartedPayload accompanies EventRecoveryStarted.
type RecoveryStartedPayload struct {
	ResourceID string `json:"resourceId"`
	Action     string `json:"action"`
	Timestamp  string `json:"timestamp"`
}

// RecoveryResultPayload accompanies EventRecoverySucceeded/EventRecoveryFailed.
type RecoveryResultPayload struct {
	ResourceID string `json:"resourceId"`
	Detail     string `json:"detail,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// InterventionRequiredPayload accompanies EventInterventionRequired.
type InterventionRequiredPayload struct {
	RequestID  string                    `json:"requestId"`
	ResourceID string                    `json:"resourceId"`
	Error      string                    `json:"error"`
	Options    []InterventionOptionView  `json:"options"`
}

// ProgressUpdatedPayload accompanies EventProgressUpdated.
type ProgressUpdatedPayload struct {
	ResourceID string  `json:"resourceId"`
	Progress   float64 `json:"progress"`
	Substate   string  `json:"substate"`
	Timestamp  string  `json:"timestamp"`
}

// HeartbeatMissedPayload accompanies EventHeartbeatMissed.
type HeartbeatMissedPayload struct {
	ResourceID  string `json:"resourceId"`
	MissedCount uint32 `json:"missedCount"`
}

// BroadcastSink is the in-memory EventSink implementation: every Emit
// fans out to every subscriber channel (buffer 256), dropping for any
// subscriber whose channel is full rather than blocking the caller. A
// token-bucket limiter additionally protects a pathological high-rate
// producer from starving the fan-out loop itself.
type BroadcastSink struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextSubID   int
	limiter     *rate.Limiter
	log         *slog.Logger
}

// NewBroadcastSink creates a BroadcastSink. ratePerSec/burst bound how many
// events per second the sink will actually deliver; additional Emit calls
// within a burst window are dropped and logged rather than queued.
func NewBroadcastSink(ratePerSec float64, burst int, log *slog.Logger) *BroadcastSink {
	if log == nil {
		log = slog.Default()
	}
	return &BroadcastSink{
		subscribers: make(map[int]chan Event),
		limiter:     rate.NewLimiter(rate.Limit(ratePerSec), burst),
		log:         log,
	}
}

// Subscribe returns a channel of Events with a bounded buffer of 256 and a
// cancel function to unsubscribe.
func (b *BroadcastSink) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 256)

	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
	return ch, cancel
}

// Emit marshals payload and fans it out to every subscriber. Marshalling
// failures and per-subscriber back-pressure drops are logged, never
// returned — event emission is always best-effort per spec section 7.
func (b *BroadcastSink) Emit(name string, payload interface{}) {
	if !b.limiter.Allow() {
		b.log.Warn("event emission rate-limited, dropping event", "event", name)
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		b.log.Error("failed to marshal event payload", "event", name, "error", err)
		return
	}
	ev := Event{Name: name, Payload: raw, Timestamp: time.Now()}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.log.Warn("event subscriber lagging, dropping event", "subscriber", id, "event", name)
		}
	}
}

// Close closes every subscriber channel, used during shutdown.
func (b *BroadcastSink) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
