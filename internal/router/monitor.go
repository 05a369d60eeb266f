package router

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	monitorInterval  = 5 * time.Minute
	refreshLookahead = 15 * time.Minute
)

// Monitor periodically calls RefreshAuth on any provider whose token is
// close to expiring, per spec.md §4.2's background auth-refresh sweep. A
// failed refresh marks the slot auth_expired (down), so the router skips it
// while another slot is up. The mark holds until the slot's next successful
// call; a later successful refresh does not clear it.
type Monitor struct {
	router *Router
	log    zerolog.Logger
}

// NewMonitor builds a Monitor over router's slots.
func NewMonitor(router *Router, log zerolog.Logger) *Monitor {
	return &Monitor{router: router, log: log.With().Str("component", "router.monitor").Logger()}
}

// Run ticks every 5 minutes until ctx is cancelled, refreshing any
// provider whose TokenInfo reports an expiry within the next 15 minutes.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	cutoff := time.Now().Add(refreshLookahead).Unix()
	for _, slot := range m.router.slots {
		name := slot.Provider.Name()
		info := slot.Provider.TokenInfo(ctx)
		if info == nil || !info.Refreshable || info.ExpiresAt == 0 || info.ExpiresAt > cutoff {
			continue
		}
		if err := slot.Provider.RefreshAuth(ctx); err != nil {
			m.log.Warn().Err(err).Str("provider", name).Msg("token refresh failed")
			m.router.tracker.RecordAuthExpired(name)
			continue
		}
		m.log.Info().Str("provider", name).Msg("token refreshed")
	}
}
