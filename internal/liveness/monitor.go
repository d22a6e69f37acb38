// Package liveness detects and evicts dead connections without a
// client-side signal.
package liveness

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"xrlink/internal/metrics"
	"xrlink/internal/presence"
	"xrlink/internal/websocket"
)

// DefaultInterval is the probe period. A connection survives one missed
// probe and is evicted on the second, so eviction takes two intervals.
const DefaultInterval = 30 * time.Second

// Monitor probes every open connection on a fixed period. Each cycle it
// evicts connections whose alive flag was never reset since the previous
// probe, then clears the flag and pings the survivors. Pong replies set
// the flag back through the transport handler.
type Monitor struct {
	registry *websocket.Registry
	presence *presence.Notifier
	interval time.Duration
	log      zerolog.Logger

	shutdownCh chan struct{}
	running    bool
	mu         sync.Mutex
}

// NewMonitor creates a liveness monitor. Non-positive intervals fall
// back to the default.
func NewMonitor(registry *websocket.Registry, notifier *presence.Notifier, interval time.Duration, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		registry:   registry,
		presence:   notifier,
		interval:   interval,
		log:        log.With().Str("component", "liveness").Logger(),
		shutdownCh: make(chan struct{}),
	}
}

// Start begins periodic probing in a background goroutine.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyRunning
	}
	m.running = true

	m.log.Info().Dur("interval", m.interval).Msg("starting liveness monitor")
	go m.run(ctx)

	return nil
}

// Stop halts probing. Connections already evicted stay evicted.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return ErrNotRunning
	}
	m.running = false

	select {
	case <-m.shutdownCh:
	default:
		close(m.shutdownCh)
	}

	return nil
}

func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.probe()
		case <-m.shutdownCh:
			m.log.Info().Msg("liveness monitor stopped")
			return
		case <-ctx.Done():
			m.log.Info().Msg("liveness monitor context cancelled")
			return
		}
	}
}

// probe runs one heartbeat cycle over a point-in-time snapshot.
func (m *Monitor) probe() {
	evicted := false

	for _, conn := range m.registry.Snapshot() {
		if !conn.IsAlive() {
			m.log.Warn().
				Str("conn", conn.ID()).
				Str("device", conn.DeviceName()).
				Msg("evicting dead connection")

			_ = conn.Close()
			if m.registry.Remove(conn) {
				metrics.ConnectionsActive.Dec()
				metrics.LivenessEvictions.Inc()
				evicted = true
			}
			continue
		}

		conn.ClearAlive()
		if err := conn.Ping(); err != nil {
			m.log.Warn().Err(err).Str("conn", conn.ID()).Msg("ping failed")
		}
	}

	if evicted {
		m.presence.Broadcast()
	}
}
