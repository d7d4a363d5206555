package sync

import "sync"

// credentialLocks serializes sync execution per credential inside one
// process. TryLock never blocks: overlapping triggers for the same credential
// collapse into the run already in flight.
type credentialLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newCredentialLocks() *credentialLocks {
	return &credentialLocks{held: make(map[string]struct{})}
}

func (l *credentialLocks) TryLock(credentialID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[credentialID]; taken {
		return false
	}
	l.held[credentialID] = struct{}{}
	return true
}

func (l *credentialLocks) Unlock(credentialID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, credentialID)
}
