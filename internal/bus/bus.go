package bus

import (
	"context"
	"strings"
	"sync"

	"github.com/basket/clawdeck/internal/shared"
)

const defaultBufferSize = 100

// Event is a message published on the bus.
type Event struct {
	Topic   string
	Payload interface{}
	// TraceID correlates the event with the request that caused it.
	// Empty for events with no originating request.
	TraceID string
}

// Gateway lifecycle topics.
const (
	TopicGatewayStarted     = "gateway.started"
	TopicGatewayStopped     = "gateway.stopped"
	TopicGatewayExited      = "gateway.exited"
	TopicGatewaySpawnFailed = "gateway.spawn_failed"
)

// Config topics.
const (
	TopicConfigUpdated = "config.updated"
	TopicConfigReload  = "config.reload"
)

// Skill topics.
const (
	TopicSkillSaved   = "skills.saved"
	TopicSkillDeleted = "skills.deleted"
	TopicSkillChanged = "skills.changed"
)

// GatewayStartedEvent is published when the gateway process comes up.
type GatewayStartedEvent struct {
	PID       int    `json:"pid"`        // OS process ID
	StartedAt string `json:"started_at"` // RFC3339 start timestamp
}

// GatewayStoppedEvent is published after a deliberate stop completes.
type GatewayStoppedEvent struct {
	PID    int  `json:"pid"`    // OS process ID of the stopped process
	Killed bool `json:"killed"` // true when escalation to SIGKILL was required
}

// GatewayExitedEvent is published when the process exits on its own.
type GatewayExitedEvent struct {
	PID      int `json:"pid"`       // OS process ID
	ExitCode int `json:"exit_code"` // process exit code, -1 when unknown
}

// GatewaySpawnFailedEvent is published when a start attempt fails.
type GatewaySpawnFailedEvent struct {
	Command string `json:"command"` // command that failed to spawn
	Reason  string `json:"reason"`  // redacted error string
}

// ConfigUpdatedEvent is published when the gateway config document is rewritten.
type ConfigUpdatedEvent struct {
	Path        string `json:"path"`        // config document path
	Fingerprint string `json:"fingerprint"` // content fingerprint after the write
}

// SkillEvent is published on skill create/update/delete.
type SkillEvent struct {
	Name string `json:"name"`           // skill name (file stem)
	Path string `json:"path,omitempty"` // absolute path of the skill file
}

// Subscription represents an active subscription.
type Subscription struct {
	id     int
	prefix string
	ch     chan Event
}

// Ch returns the channel to receive events on.
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Bus is a simple in-process pub/sub message bus with topic prefix matching.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// New creates a new Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*Subscription),
	}
}

// Subscribe creates a subscription for events matching the given topic prefix.
// An empty prefix matches all topics.
// The returned channel has a buffer of 100 events; slow consumers will miss events
// (non-blocking send).
func (b *Bus) Subscribe(topicPrefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		prefix: topicPrefix,
		ch:     make(chan Event, defaultBufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish sends an event to all matching subscribers.
// Delivery is non-blocking: if a subscriber's buffer is full, the event is dropped.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.deliver(Event{Topic: topic, Payload: payload})
}

// PublishCtx publishes like Publish but stamps the event with the trace ID
// carried by ctx, if any.
func (b *Bus) PublishCtx(ctx context.Context, topic string, payload interface{}) {
	var traceID string
	if id := shared.TraceID(ctx); id != "-" {
		traceID = id
	}
	b.deliver(Event{Topic: topic, Payload: payload, TraceID: traceID})
}

func (b *Bus) deliver(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.prefix == "" || strings.HasPrefix(event.Topic, sub.prefix) {
			// Non-blocking send.
			select {
			case sub.ch <- event:
			default:
				// Buffer full, drop event for this subscriber.
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
