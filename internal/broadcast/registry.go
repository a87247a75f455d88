package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Run is the cancellation token of one admitted broadcast. Cancelling a run
// never affects a later run in the same scope.
type Run struct {
	id        string
	scope     ScopeID
	cancelled atomic.Bool
	// done is set once delivery has stopped; the slot may still be held
	// while the result is recorded.
	done atomic.Bool
}

func (r *Run) ID() string { return r.id }
func (r *Run) Scope() ScopeID { return r.scope }
func (r *Run) Cancel() { r.cancelled.Store(true) }
func (r *Run) Cancelled() bool { return r.cancelled.Load() }
func (r *Run) Done() bool { return r.done.Load() }

type scopeSlot struct {
	mu  sync.Mutex
	run *Run
}

// Registry tracks the active broadcast per scope. Scopes are independent:
// every slot carries its own lock.
type Registry struct {
	slots sync.Map // ScopeID -> *scopeSlot
	newID func() string
}

func NewRegistry() *Registry {
	return &Registry{newID: uuid.NewString}
}

func (r *Registry) slot(scope ScopeID) *scopeSlot {
	if v, ok := r.slots.Load(scope); ok {
		return v.(*scopeSlot)
	}
	v, _ := r.slots.LoadOrStore(scope, &scopeSlot{})
	return v.(*scopeSlot)
}

// TryAcquire marks scope active and returns the new run. It returns false
// without side effects when a broadcast is already active there.
func (r *Registry) TryAcquire(scope ScopeID) (*Run, bool) {
	s := r.slot(scope)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil {
		return nil, false
	}
	s.run = &Run{id: r.newID(), scope: scope}
	return s.run, true
}

// Release clears the active run of scope. Releasing an idle scope is a no-op.
func (r *Registry) Release(scope ScopeID) {
	s := r.slot(scope)
	s.mu.Lock()
	s.run = nil
	s.mu.Unlock()
}

// Active reports whether a broadcast is running in scope.
func (r *Registry) Active(scope ScopeID) bool {
	_, ok := r.Current(scope)
	return ok
}

// Current returns the active run of scope.
func (r *Registry) Current(scope ScopeID) (*Run, bool) {
	s := r.slot(scope)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run, s.run != nil
}

// Finish marks run as no longer delivering. Cancel ignores it from then on.
func (r *Registry) Finish(run *Run) {
	s := r.slot(run.scope)
	s.mu.Lock()
	run.done.Store(true)
	s.mu.Unlock()
}

// Cancel requests cancellation of the active run in scope. It returns false
// when nothing is active or the run has already finished delivering.
// Cancelling twice is harmless.
func (r *Registry) Cancel(scope ScopeID) bool {
	s := r.slot(scope)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil || s.run.Done() {
		return false
	}
	s.run.Cancel()
	return true
}

// ActiveCount returns the number of scopes with a running broadcast.
func (r *Registry) ActiveCount() int {
	n := 0
	r.slots.Range(func(_, v any) bool {
		s := v.(*scopeSlot)
		s.mu.Lock()
		if s.run != nil {
			n++
		}
		s.mu.Unlock()
		return true
	})
	return n
}
