// Package bus is the observable fan-out used to decouple telemetry and
// trace-log emission from the synchronous request path. The pipeline never
// blocks on a slow tap:
// publish is always non-blocking and drops with a warning if a subscriber
// is backed up.
package bus

import (
	"log"
	"sync"
)

// MessageType is the closed set of internal pipeline stage-completion
// events a tap can observe.
type MessageType string

const (
	StageDecisionStateAssembled MessageType = "decision_state_assembled"
	StageControlPlanAssembled   MessageType = "control_plan_assembled"
	StageOutputPlanAssembled    MessageType = "output_plan_assembled"
	StageDeepThinkPlanned       MessageType = "deep_think_planned"
	StagePassCompleted          MessageType = "pass_completed"
	StageDeepThinkStopped       MessageType = "deep_think_stopped"
	StagePatchApplied           MessageType = "patch_applied"
	StageModelInvoked           MessageType = "model_invoked"
	StageRequestCompleted       MessageType = "request_completed"
)

// Message is one structural, content-free event on the bus. Payload must
// hold only structural data (IDs, enums, counters) — never user or model
// text, matching the no-leakage requirement telemetry/tracelog depend on.
type Message struct {
	Type      MessageType
	RequestID string
	Payload   any
}

const (
	subscriberBufSize = 64
	tapBufSize        = 256
)

// Bus is the observable message bus used to fan internal pipeline events
// out to the telemetry recorder and the optional trace logger.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[MessageType][]chan Message
	taps        []chan Message
}

// New creates a new Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[MessageType][]chan Message)}
}

// Publish fans out msg to all subscribers of msg.Type and to every tap.
// Non-blocking: a full subscriber or tap channel drops the message with a
// warning rather than stalling the request path.
func (b *Bus) Publish(msg Message) {
	b.mu.RLock()
	subs := b.subscribers[msg.Type]
	taps := b.taps
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			log.Printf("[BUS] WARNING: subscriber channel full for type=%s request_id=%s — message dropped", msg.Type, msg.RequestID)
		}
	}
	for _, tap := range taps {
		select {
		case tap <- msg:
		default:
			log.Printf("[BUS] WARNING: tap channel full — message dropped type=%s", msg.Type)
		}
	}
}

// Subscribe returns a receive-only channel delivering messages of type t.
func (b *Bus) Subscribe(t MessageType) <-chan Message {
	ch := make(chan Message, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[t] = append(b.subscribers[t], ch)
	b.mu.Unlock()
	return ch
}

// NewTap registers and returns a new tap channel that receives every
// published message regardless of type, for the telemetry recorder and
// trace logger.
func (b *Bus) NewTap() <-chan Message {
	ch := make(chan Message, tapBufSize)
	b.mu.Lock()
	b.taps = append(b.taps, ch)
	b.mu.Unlock()
	return ch
}
