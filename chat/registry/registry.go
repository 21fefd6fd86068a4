// Package registry tracks the single active cancellation handle per
// conversation. It is the only shared mutable state in the chat core and is
// safe for concurrent registration, lookup, and removal across conversation
// ids. The registry is a constructed object with an explicit lifecycle:
// created at process start, drained at shutdown via StopAll.
package registry

import (
	"context"
	"sync"
)

// Handle is the cancellation handle for one in-flight generation. It lives
// from the start of a send until completion, error, or an explicit stop.
type Handle struct {
	conversationID string
	ctx            context.Context
	cancel         context.CancelFunc
}

// Context returns the context that fires when the handle is stopped.
func (h *Handle) Context() context.Context { return h.ctx }

// Stop signals cancellation. Safe to call more than once.
func (h *Handle) Stop() { h.cancel() }

// Stopped reports whether the handle has been signalled. The orchestration
// layer uses this, not error types, to distinguish cancellation from
// failure.
func (h *Handle) Stopped() bool { return h.ctx.Err() != nil }

// ConversationID returns the conversation this handle belongs to.
func (h *Handle) ConversationID() string { return h.conversationID }

// Registry maps a conversation id to its single active handle.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Handle
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{active: make(map[string]*Handle)}
}

// Begin creates and registers a handle for the conversation, deriving its
// context from parent. Any pre-existing handle for the same conversation is
// cancelled before the new one is installed, so a second concurrent send
// supersedes the first rather than racing it.
func (r *Registry) Begin(parent context.Context, conversationID string) *Handle {
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{conversationID: conversationID, ctx: ctx, cancel: cancel}

	r.mu.Lock()
	prev := r.active[conversationID]
	r.active[conversationID] = h
	r.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	return h
}

// Stop signals the conversation's active handle and removes the mapping.
// It is a no-op when no handle is registered.
func (r *Registry) Stop(conversationID string) {
	r.mu.Lock()
	h := r.active[conversationID]
	delete(r.active, conversationID)
	r.mu.Unlock()

	if h != nil {
		h.Stop()
	}
}

// StopAll signals every registered handle and clears the registry. Used at
// process shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.active))
	for _, h := range r.active {
		handles = append(handles, h)
	}
	r.active = make(map[string]*Handle)
	r.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
}

// End removes the mapping once a generation completes, whatever the outcome,
// so the registry never retains stale handles. The removal is guarded by
// handle identity: a superseded send ending late must not evict its
// successor's handle.
func (r *Registry) End(h *Handle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	if r.active[h.conversationID] == h {
		delete(r.active, h.conversationID)
	}
	r.mu.Unlock()
	h.cancel()
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
