package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Registry holds every registered hook, sorted by priority within each
// (event, timing) bucket. Grounded on internal/hooks/registry.go's
// map-of-slices-plus-byID shape; Trigger is replaced by Emit, which adds
// the Allow/Modify/Block semantics spec.md §4.11 calls for and the
// Before/After phase split the teacher's single Trigger doesn't have.
type Registry struct {
	mu     sync.RWMutex
	before map[EventType][]*Registration
	after  map[EventType][]*Registration
	byID   map[string]*Registration
	log    zerolog.Logger
}

// NewRegistry builds an empty Registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		before: make(map[EventType][]*Registration),
		after:  make(map[EventType][]*Registration),
		byID:   make(map[string]*Registration),
		log:    log.With().Str("component", "hooks").Logger(),
	}
}

// Register adds reg, assigning it a fresh ID if none was set. Returns the
// ID so the caller can Unregister later.
func (r *Registry) Register(reg Registration) string {
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	copied := reg

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.bucketFor(copied.Timing)
	bucket[copied.Event] = append(bucket[copied.Event], &copied)
	sort.SliceStable(bucket[copied.Event], func(i, j int) bool {
		return bucket[copied.Event][i].Priority < bucket[copied.Event][j].Priority
	})
	r.byID[copied.ID] = &copied

	r.log.Debug().Str("id", copied.ID).Str("event", string(copied.Event)).
		Str("timing", string(copied.Timing)).Str("name", copied.Name).Msg("registered hook")
	return copied.ID
}

// Unregister removes a hook by ID. Returns false if no such hook exists.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)

	bucket := r.bucketFor(reg.Timing)
	handlers := bucket[reg.Event]
	for i, h := range handlers {
		if h.ID == id {
			bucket[reg.Event] = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) bucketFor(t Timing) map[EventType][]*Registration {
	if t == After {
		return r.after
	}
	return r.before
}

// Emit runs every Before handler for hctx.Event in priority order on the
// caller's goroutine. A Modify decision replaces hctx.Payload for every
// handler still to run. A Block decision halts the Before chain immediately
// and skips After dispatch entirely, returning blocked=true and its reason.
// Otherwise every After handler for the event is spawned concurrently;
// their errors are logged, never surfaced to the caller.
func (r *Registry) Emit(ctx context.Context, hctx *Context) (blocked bool, reason string) {
	r.mu.RLock()
	befores := append([]*Registration(nil), r.before[hctx.Event]...)
	afters := append([]*Registration(nil), r.after[hctx.Event]...)
	r.mu.RUnlock()

	for _, reg := range befores {
		decision, err := r.call(ctx, reg, hctx)
		if err != nil {
			r.log.Warn().Err(err).Str("hook", reg.Name).Str("event", string(hctx.Event)).
				Msg("before hook handler error")
			continue
		}
		switch decision.Kind {
		case Modify:
			if decision.Payload != nil {
				hctx.Payload = decision.Payload
			}
		case Block:
			r.log.Info().Str("hook", reg.Name).Str("event", string(hctx.Event)).
				Str("reason", decision.Reason).Msg("before hook blocked event")
			return true, decision.Reason
		}
	}

	for _, reg := range afters {
		reg := reg
		go func() {
			defer func() {
				if p := recover(); p != nil {
					r.log.Error().Interface("panic", p).Str("hook", reg.Name).
						Str("event", string(hctx.Event)).Msg("after hook handler panicked")
				}
			}()
			if _, err := reg.Handler(ctx, hctx); err != nil {
				r.log.Warn().Err(err).Str("hook", reg.Name).Str("event", string(hctx.Event)).
					Msg("after hook handler error")
			}
		}()
	}
	return false, ""
}

func (r *Registry) call(ctx context.Context, reg *Registration, hctx *Context) (decision Decision, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panic: %v", p)
		}
	}()
	return reg.Handler(ctx, hctx)
}

// Count returns the number of handlers registered for (event, timing).
func (r *Registry) Count(event EventType, timing Timing) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bucketFor(timing)[event])
}
