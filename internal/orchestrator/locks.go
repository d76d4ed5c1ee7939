// internal/orchestrator/locks.go
package orchestrator

import "sync"

// conversationLocks serializes message handling per (tenant, contact).
// Two messages from the same lead are always applied in order; messages
// for different leads proceed in parallel.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{locks: make(map[string]*lockEntry)}
}

// Lock acquires the lock for a key and returns its unlock function.
func (c *conversationLocks) Lock(tenantID, contact string) func() {
	key := tenantID + "/" + contact

	c.mu.Lock()
	e, ok := c.locks[key]
	if !ok {
		e = &lockEntry{}
		c.locks[key] = e
	}
	e.refs++
	c.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		c.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(c.locks, key)
		}
		c.mu.Unlock()
	}
}
