package gateway

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/skynetai/skynet/internal/models"
	"github.com/skynetai/skynet/internal/scheduler"
)

// hub tracks every authenticated WS connection so scheduler fires and other
// server-pushed events can be broadcast to all of them. Grounded on the
// teacher's ws_control_plane.go connection bookkeeping, reduced to the one
// thing spec.md §6 needs from it: "all connected WS clients received
// {event:reminder.fire}".
type hub struct {
	mu      sync.RWMutex
	clients map[string]*connection
	seq     int64
	log     zerolog.Logger
}

func newHub(log zerolog.Logger) *hub {
	return &hub{
		clients: make(map[string]*connection),
		log:     log.With().Str("component", "gateway.hub").Logger(),
	}
}

func (h *hub) add(c *connection) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *hub) remove(c *connection) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}

func (h *hub) nextSeq() int64 {
	return atomic.AddInt64(&h.seq, 1)
}

// broadcast pushes an event frame to every connected client, dropping it
// for any client whose outbound buffer is full rather than blocking.
func (h *hub) broadcast(event string, payload any) {
	frame := eventFrame(event, payload, h.nextSeq())
	data, err := marshalFrame(frame)
	if err != nil {
		h.log.Warn().Err(err).Msg("broadcast: marshal failed")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.enqueue(data)
	}
}

// Deliver implements scheduler.Dispatcher for the "ws" channel: a fired
// reminder job is broadcast to every connected client as reminder.fire.
func (h *hub) Deliver(ctx context.Context, action scheduler.Action, job *models.Job) error {
	h.broadcast("reminder.fire", map[string]any{"message": action.Message, "job_id": job.ID})
	return nil
}
