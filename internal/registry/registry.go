// Package registry is the process-local directory of live connections. It maps
// a user id to at most one connection handle and is the source of truth for
// whether a user is reachable from this gateway instance.
//
// The map is owned by a single goroutine. Every operation is sent to that
// goroutine as a closure over the map and executed in arrival order, so no
// caller ever observes a partially applied mutation.
package registry

import "sync"

// Handle is a live connection to one client.
type Handle interface {
	// Send queues an encoded server message for delivery. It must not block on
	// network I/O.
	Send(data []byte) error
	// Close terminates the connection. It is idempotent.
	Close() error
}

type op func(conns map[string]Handle)

// Registry serializes all access to the userId -> Handle map.
type Registry struct {
	ops      chan op
	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// New starts the owner goroutine and returns a ready Registry.
func New() *Registry {
	r := &Registry{
		ops:     make(chan op),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Registry) run() {
	defer close(r.stopped)
	conns := make(map[string]Handle)
	for {
		select {
		case fn := <-r.ops:
			fn(conns)
		case <-r.stop:
			return
		}
	}
}

// do runs fn on the owner goroutine and waits for it to finish. It reports
// false if the registry has been closed.
func (r *Registry) do(fn op) bool {
	done := make(chan struct{})
	select {
	case r.ops <- func(conns map[string]Handle) {
		fn(conns)
		close(done)
	}:
	case <-r.stopped:
		return false
	}
	<-done
	return true
}

// Register installs h as the only live connection for userID. The handle it
// replaces, if any, is returned so the caller can close it.
func (r *Registry) Register(userID string, h Handle) (previous Handle) {
	r.do(func(conns map[string]Handle) {
		if cur, ok := conns[userID]; ok && cur != h {
			previous = cur
		}
		conns[userID] = h
	})
	return previous
}

// Unregister removes the mapping for userID only if it still points at h, so
// a late disconnect of a superseded connection cannot evict its successor.
func (r *Registry) Unregister(userID string, h Handle) (removed bool) {
	r.do(func(conns map[string]Handle) {
		if cur, ok := conns[userID]; ok && cur == h {
			delete(conns, userID)
			removed = true
		}
	})
	return removed
}

// Lookup returns the live handle for userID.
func (r *Registry) Lookup(userID string) (h Handle, ok bool) {
	r.do(func(conns map[string]Handle) {
		h, ok = conns[userID]
	})
	return h, ok
}

// ConnectedUserIDs returns a snapshot of every registered user id.
func (r *Registry) ConnectedUserIDs() []string {
	var ids []string
	r.do(func(conns map[string]Handle) {
		ids = make([]string, 0, len(conns))
		for id := range conns {
			ids = append(ids, id)
		}
	})
	return ids
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	var n int
	r.do(func(conns map[string]Handle) {
		n = len(conns)
	})
	return n
}

// Close stops the owner goroutine. Operations issued afterwards behave as if
// the registry were empty.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.stopped
}
