// Package inflight deduplicates concurrent asynchronous operations by key:
// callers that request work already in progress share the original outcome
// instead of issuing duplicate network calls.
package inflight

import "sync"

type result struct {
	wg  sync.WaitGroup
	val any
	err error
}

// Registry is a keyed table of in-progress operations. The zero value is not
// usable; create one with NewRegistry. It is an explicit object passed by
// reference, not a process-wide variable, so it can be scoped and tested.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*result
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]*result)}
}

// Do runs fn unless another call with the same key is already in flight, in
// which case it waits for that call and returns its outcome. The key is
// released once fn settles, so later calls start fresh work.
func (r *Registry) Do(key string, fn func() (any, error)) (any, error) {
	r.mu.Lock()
	if res, ok := r.pending[key]; ok {
		r.mu.Unlock()
		res.wg.Wait()
		return res.val, res.err
	}
	res := &result{}
	res.wg.Add(1)
	r.pending[key] = res
	r.mu.Unlock()

	res.val, res.err = fn()

	r.mu.Lock()
	delete(r.pending, key)
	r.mu.Unlock()
	res.wg.Done()

	return res.val, res.err
}

// Pending reports whether an operation with the given key is in flight.
func (r *Registry) Pending(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	return ok
}
