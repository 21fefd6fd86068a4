// Package events delivers per-conversation chat events to listeners. Live
// events (chunk, reasoning, tool activity) are emitted synchronously in
// frame arrival order; exactly one terminal complete or error event closes
// every send.
package events

import (
	"sync"
	"time"
)

// Kind discriminates the type of chat event.
type Kind string

const (
	// KindChunk carries a text delta of the assistant's answer.
	KindChunk Kind = "chunk"
	// KindReasoning carries a thinking/reasoning delta.
	KindReasoning Kind = "reasoning"
	// KindToolActivity reports the start or result of a tool execution.
	KindToolActivity Kind = "tool_activity"
	// KindComplete is the successful terminal event. MessageID is empty when
	// a cancelled send had nothing to persist.
	KindComplete Kind = "complete"
	// KindError is the failure terminal event.
	KindError Kind = "error"
)

// ToolPhase qualifies a tool_activity event.
type ToolPhase string

const (
	ToolPhaseStart  ToolPhase = "start"
	ToolPhaseResult ToolPhase = "result"
)

// Event is a single chat event scoped to one conversation.
type Event struct {
	Kind           Kind      `json:"kind"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`

	// Delta is set for chunk and reasoning events.
	Delta string `json:"delta,omitempty"`

	// Tool fields are set for tool_activity events.
	ToolName    string    `json:"tool_name,omitempty"`
	ToolPhase   ToolPhase `json:"tool_phase,omitempty"`
	ToolIsError bool      `json:"tool_is_error,omitempty"`

	// MessageID is set on complete events when a turn was persisted.
	MessageID string `json:"message_id,omitempty"`

	// Message is set on error events.
	Message string `json:"message,omitempty"`
}

// Emitter is a synchronous event dispatcher. Listeners are invoked in
// registration order on the goroutine that calls Emit. Emitter is safe for
// concurrent use.
type Emitter struct {
	mu        sync.RWMutex
	listeners []func(Event)
}

// NewEmitter creates an Emitter with no listeners.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// On registers a listener for every subsequent event.
func (e *Emitter) On(listener func(Event)) {
	if listener == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, listener)
}

// Emit stamps the event and dispatches it to all registered listeners.
func (e *Emitter) Emit(evt Event) {
	evt.Timestamp = time.Now()

	// Snapshot under read lock so listeners run without holding it.
	e.mu.RLock()
	snapshot := make([]func(Event), len(e.listeners))
	copy(snapshot, e.listeners)
	e.mu.RUnlock()

	for _, fn := range snapshot {
		fn(evt)
	}
}

// ListenerCount returns the number of registered listeners.
func (e *Emitter) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}
