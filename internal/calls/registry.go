package calls

import "sync"

// LiveSession is the handle the registry keeps for an in-flight conversation.
// Stop must be idempotent; the registry may race with self-teardown.
type LiveSession interface {
	CallID() string
	Stop(reason string)
}

// Registry is the process-wide index of live conversations by call id, so
// webhook updates and explicit stop requests can find the right session.
// Lifecycle is explicit: insert on session create, remove on teardown.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]LiveSession
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]LiveSession)}
}

// Put registers a live session. Returns false if the call already has one;
// at most one stream session may exist per call at a time.
func (r *Registry) Put(s LiveSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.CallID()]; exists {
		return false
	}
	r.sessions[s.CallID()] = s
	return true
}

// Get returns the live session for a call, if any.
func (r *Registry) Get(callID string) (LiveSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Remove drops a session from the index. Safe to call twice.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callID)
}

// Len reports the number of live conversations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StopAll stops every live session, used on process shutdown.
func (r *Registry) StopAll(reason string) {
	r.mu.RLock()
	live := make([]LiveSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.RUnlock()

	for _, s := range live {
		s.Stop(reason)
	}
}
