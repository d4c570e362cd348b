package loader

import (
	"sync"

	"github.com/favloyalty/widgetbridge/model"
)

// IdentityFuture is an in-flight identity resolution. It completes exactly
// once; waiters select on Done and read Result afterwards.
type IdentityFuture struct {
	done chan struct{}
	once sync.Once
	id   model.CustomerIdentity
	err  error
}

// NewIdentityFuture creates an unresolved future.
func NewIdentityFuture() *IdentityFuture {
	return &IdentityFuture{done: make(chan struct{})}
}

// Complete resolves the future. Later calls are no-ops.
func (f *IdentityFuture) Complete(id model.CustomerIdentity, err error) {
	f.once.Do(func() {
		f.id = id
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future resolves.
func (f *IdentityFuture) Done() <-chan struct{} { return f.done }

// Result returns the resolution. Valid only after Done is closed.
func (f *IdentityFuture) Result() (model.CustomerIdentity, error) { return f.id, f.err }

// Mailbox is the single-slot pending-delivery holder for an identity
// resolution awaiting the frame's readiness signal. Take clears the slot, so
// delivery is at most once per Put; a second Put before a Take replaces the
// stale occupant.
type Mailbox struct {
	mu   sync.Mutex
	slot *IdentityFuture
}

// Put stores a pending resolution, replacing any previous occupant.
func (m *Mailbox) Put(f *IdentityFuture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slot = f
}

// Take removes and returns the pending resolution, if any.
func (m *Mailbox) Take() (*IdentityFuture, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.slot
	m.slot = nil
	return f, f != nil
}

// Clear empties the slot without delivering.
func (m *Mailbox) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slot = nil
}
