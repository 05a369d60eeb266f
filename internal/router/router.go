// Package router holds an ordered list of provider slots and tries them in
// order until one succeeds, consulting a rolling-window health tracker to
// skip slots unlikely to succeed. Grounded on
// internal/agent/routing/router.go's candidate-list/markUnhealthy shape,
// generalized from a binary cooldown map to health.Tracker's four-tier
// rolling-window status plus explicit auth/rate-limit overrides.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/skynetai/skynet/internal/providers"
)

// Slot is one entry in the router's ordered failover list. Per-slot retry
// policy lives on the Provider itself (BaseProvider.maxRetries), not here —
// the router's job is choosing which slot, not how hard to hammer it.
type Slot struct {
	Provider providers.Provider
}

// Router tries slots in order, skipping any the tracker reports as down,
// and records the outcome of every attempt.
type Router struct {
	slots   []Slot
	tracker *Tracker
}

// NewRouter builds a Router over slots in priority order.
func NewRouter(tracker *Tracker, slots ...Slot) *Router {
	if tracker == nil {
		tracker = NewTracker()
	}
	return &Router{slots: slots, tracker: tracker}
}

// Tracker exposes the router's health tracker, e.g. for the monitor's
// RefreshAuth sweep or a status endpoint.
func (r *Router) Tracker() *Tracker { return r.tracker }

// ErrNoProviders is returned when the router has no slots configured.
var ErrNoProviders = errors.New("router: no providers configured")

// candidates returns slots in order, preferring ones that aren't down. If
// every slot is down, it falls back to the full ordered list rather than
// refusing outright — a down status is a signal to deprioritize, not a
// hard veto, since the alternative is failing a request that might still
// succeed.
func (r *Router) candidates() []Slot {
	var up []Slot
	for _, s := range r.slots {
		if r.tracker.Status(s.Provider.Name()) != StatusDown {
			up = append(up, s)
		}
	}
	if len(up) == 0 {
		return r.slots
	}
	return up
}

// Send tries each candidate slot in order, returning the first success.
// Every attempt's outcome is recorded in the tracker before moving on.
func (r *Router) Send(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	slots := r.candidates()
	if len(slots) == 0 {
		return nil, ErrNoProviders
	}

	var lastErr error
	for _, slot := range slots {
		name := slot.Provider.Name()
		resp, err := slot.Provider.Send(ctx, req)
		if err == nil {
			r.tracker.RecordSuccess(name)
			return resp, nil
		}
		r.recordFailure(name, err)
		lastErr = err
		if !providers.ShouldFailover(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("router: all provider slots exhausted: %w", lastErr)
}

// SendStream tries each candidate slot in order. Because a streaming call
// may fail only after partial output has already been forwarded to a
// caller, the router cannot transparently retry mid-stream — it fails over
// only when SendStream itself returns an error before any events are
// produced; a stream that emits a StreamEventError after starting is the
// caller's problem to surface, not the router's to retry.
func (r *Router) SendStream(ctx context.Context, req *providers.ChatRequest) (<-chan providers.StreamEvent, error) {
	slots := r.candidates()
	if len(slots) == 0 {
		return nil, ErrNoProviders
	}

	var lastErr error
	for _, slot := range slots {
		name := slot.Provider.Name()
		events, err := slot.Provider.SendStream(ctx, req)
		if err != nil {
			r.recordFailure(name, err)
			lastErr = err
			if !providers.ShouldFailover(err) {
				return nil, err
			}
			continue
		}
		return r.observeStream(name, events), nil
	}
	return nil, fmt.Errorf("router: all provider slots exhausted: %w", lastErr)
}

// observeStream relays events from the upstream channel, recording success
// or failure against the slot's health once a terminal event arrives.
func (r *Router) observeStream(name string, in <-chan providers.StreamEvent) <-chan providers.StreamEvent {
	out := make(chan providers.StreamEvent)
	go func() {
		defer close(out)
		for ev := range in {
			out <- ev
			switch ev.Type {
			case providers.StreamEventDone:
				r.tracker.RecordSuccess(name)
			case providers.StreamEventError:
				r.recordFailure(name, ev.Err)
			}
		}
	}()
	return out
}

// recordFailure classifies err and updates the slot's health accordingly:
// auth failures and rate limits set an override that holds until the next
// success, everything else contributes to the rolling-window ratio.
func (r *Router) recordFailure(name string, err error) {
	pe, ok := providers.GetProviderError(err)
	if !ok {
		r.tracker.RecordFailure(name)
		return
	}
	switch pe.Reason {
	case providers.FailoverAuth:
		r.tracker.RecordAuthExpired(name)
	case providers.FailoverRateLimit:
		r.tracker.RecordRateLimited(name)
	default:
		r.tracker.RecordFailure(name)
	}
}
