package memory

import "sync"

// SessionRegistry is an in-process implementation of app.SessionRegistry.
type SessionRegistry struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{active: make(map[string]struct{})}
}

func (r *SessionRegistry) Acquire(attemptID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[attemptID]; ok {
		return false
	}
	r.active[attemptID] = struct{}{}
	return true
}

func (r *SessionRegistry) Release(attemptID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, attemptID)
}
