package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"xrlink/internal/history"
	"xrlink/internal/metrics"
	"xrlink/pkg/types"
)

var upgrader = websocket.Upgrader{
	// Viewers connect from arbitrary origins (LAN browsers, tunneled
	// URLs), so the handshake accepts all of them.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// FrameHandler consumes decoded inbound frames. The routing engine
// implements it; the indirection keeps transport handling free of
// routing policy.
type FrameHandler interface {
	HandleFrame(conn *Connection, data []byte)
}

// Handler accepts WebSocket connections, admits them to the registry,
// replays recent history, and pumps inbound frames into the routing
// engine. One goroutine per connection handles that connection's reads.
type Handler struct {
	registry    *Registry
	frames      FrameHandler
	hist        *history.Buffer
	onMemberGone func()

	readTimeout  time.Duration
	writeBuffer  int
	writeTimeout time.Duration
	replayCount  int

	log zerolog.Logger
}

// HandlerConfig carries the transport tuning knobs.
type HandlerConfig struct {
	ReadTimeout  time.Duration
	WriteBuffer  int
	WriteTimeout time.Duration
	ReplayCount  int
}

// NewHandler creates a WebSocket handler. onMemberGone runs after a
// connection is removed from the registry on transport close, so the
// participant list can be rebroadcast.
func NewHandler(registry *Registry, frames FrameHandler, hist *history.Buffer, cfg HandlerConfig, onMemberGone func(), log zerolog.Logger) *Handler {
	if cfg.ReplayCount <= 0 {
		cfg.ReplayCount = history.DefaultReplayCount
	}
	return &Handler{
		registry:     registry,
		frames:       frames,
		hist:         hist,
		onMemberGone: onMemberGone,
		readTimeout:  cfg.ReadTimeout,
		writeBuffer:  cfg.WriteBuffer,
		writeTimeout: cfg.WriteTimeout,
		replayCount:  cfg.ReplayCount,
		log:          log.With().Str("component", "websocket").Logger(),
	}
}

// HandleWebSocket upgrades the request and starts the connection's read
// pump. The connection is admitted unidentified; identification happens
// via the first identification frame the routing engine processes.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := NewConnection(wsConn, h.writeBuffer, h.writeTimeout)
	if err := h.registry.Admit(conn); err != nil {
		h.log.Error().Err(err).Msg("failed to admit connection")
		_ = conn.Close()
		return
	}

	metrics.ConnectionsActive.Inc()
	h.log.Info().Str("conn", conn.ID()).Str("remote", r.RemoteAddr).Msg("connection accepted")

	h.replayHistory(conn)

	go h.readLoop(conn)
}

// replayHistory sends the newest buffered chat messages to a freshly
// accepted connection. Nothing is sent when the buffer is empty.
func (h *Handler) replayHistory(conn *Connection) {
	recent := h.hist.Recent(h.replayCount)
	if len(recent) == 0 {
		return
	}

	messages := make([]map[string]interface{}, len(recent))
	for i, entry := range recent {
		messages[i] = entry
	}

	replay := types.HistoryReplay{
		Type:     types.TypeMessageHistory,
		Messages: messages,
	}
	if err := conn.WriteJSON(replay); err != nil {
		h.log.Warn().Err(err).Str("conn", conn.ID()).Msg("history replay failed")
	}
}

// readLoop consumes inbound frames until the transport closes. Teardown
// removes the connection from the registry exactly once and triggers the
// membership notification only if this goroutine performed the removal
// (the liveness monitor may have evicted the connection first).
func (h *Handler) readLoop(conn *Connection) {
	defer func() {
		removed := h.registry.Remove(conn)
		_ = conn.Close()
		if removed {
			metrics.ConnectionsActive.Dec()
			h.log.Info().
				Str("conn", conn.ID()).
				Str("device", conn.DeviceName()).
				Msg("connection closed")
			h.onMemberGone()
		}
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		conn.MarkAlive()
		return conn.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("conn", conn.ID()).Msg("read error")
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}
		h.frames.HandleFrame(conn, data)
	}
}
