// Package registry tracks in-flight generation requests and lets any caller
// cancel one by ID while its backend call is running.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrCancelled is the cancellation cause recorded when a handle is signalled.
	ErrCancelled = errors.New("request cancelled")

	// ErrDuplicateRequest is returned when registering an ID that is already active.
	ErrDuplicateRequest = errors.New("request id already active")
)

// Handle is the cancellation token of one active request.
// It can be signalled once; later signals are no-ops.
type Handle struct {
	id        string
	ctx       context.Context
	cancel    context.CancelCauseFunc
	once      sync.Once
	createdAt time.Time
}

func newHandle(parent context.Context, id string, now time.Time) *Handle {
	ctx, cancel := context.WithCancelCause(parent)
	return &Handle{id: id, ctx: ctx, cancel: cancel, createdAt: now}
}

// ID returns the request ID the handle was registered under.
func (h *Handle) ID() string { return h.id }

// Context is passed to the backend call; it is done once the handle is signalled.
func (h *Handle) Context() context.Context { return h.ctx }

// CreatedAt is the registration time.
func (h *Handle) CreatedAt() time.Time { return h.createdAt }

// Cancel signals the handle. It returns true only for the call that signalled it.
func (h *Handle) Cancel() bool {
	signalled := false
	h.once.Do(func() {
		h.cancel(ErrCancelled)
		signalled = true
	})
	return signalled
}

// Cancelled reports whether this handle itself was signalled, as opposed to
// its parent context ending.
func (h *Handle) Cancelled() bool {
	return errors.Is(context.Cause(h.ctx), ErrCancelled)
}

// release frees the context resources without recording a cancellation.
func (h *Handle) release() {
	h.once.Do(func() {
		h.cancel(nil)
	})
}

// Entry is a point-in-time view of an active request.
type Entry struct {
	ID        string
	CreatedAt time.Time
}

// Registry is a concurrency-safe table of active requests keyed by ID.
//
// Usage:
//
//	h, err := reg.Register(ctx, id)
//	if err != nil {
//	    return err
//	}
//	defer reg.Deregister(id)
//	img, err := backend.GenerateImage(h.Context(), req)
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Handle
	now     func() time.Time
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*Handle),
		now:     time.Now,
	}
}

// Register adds id and returns its cancellation handle, derived from parent.
func (r *Registry) Register(parent context.Context, id string) (*Handle, error) {
	if parent == nil {
		parent = context.Background()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return nil, fmt.Errorf("register %q: %w", id, ErrDuplicateRequest)
	}
	h := newHandle(parent, id, r.now())
	r.entries[id] = h
	return h, nil
}

// Lookup returns the handle registered under id.
func (r *Registry) Lookup(id string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.entries[id]
	return h, ok
}

// Cancel signals and removes the request registered under id.
// It returns false when no such request is active.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.entries[id]
	if !ok {
		return false
	}
	delete(r.entries, id)
	// Signalled under the lock so a concurrent Deregister observes either
	// the entry still present or the handle already cancelled.
	h.Cancel()
	return true
}

// Deregister removes id. Removing an absent id is a no-op.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	h, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if ok {
		h.release()
	}
}

// Len returns the number of active requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns the active requests, oldest first.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for id, h := range r.entries {
		out = append(out, Entry{ID: id, CreatedAt: h.createdAt})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
