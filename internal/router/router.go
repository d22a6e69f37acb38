package router

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"xrlink/internal/history"
	"xrlink/internal/metrics"
	"xrlink/internal/presence"
	"xrlink/internal/websocket"
	"xrlink/pkg/types"
)

// Router classifies each inbound frame and fans it out per type-specific
// policy. Frames from different connections are processed concurrently;
// per-connection ordering is preserved because each connection's read
// pump calls HandleFrame sequentially, and each recipient's outbound
// channel preserves queue order.
type Router struct {
	registry *websocket.Registry
	hist     *history.Buffer
	presence *presence.Notifier
	roles    types.RoleMap
	log      zerolog.Logger
}

// NewRouter creates the routing engine.
func NewRouter(registry *websocket.Registry, hist *history.Buffer, notifier *presence.Notifier, roles types.RoleMap, log zerolog.Logger) *Router {
	return &Router{
		registry: registry,
		hist:     hist,
		presence: notifier,
		roles:    roles,
		log:      log.With().Str("component", "router").Logger(),
	}
}

// HandleFrame processes one decoded inbound frame. Failures never
// surface back to the sender: malformed and unknown frames are dropped
// with a log line and the connection stays open.
func (r *Router) HandleFrame(conn *websocket.Connection, data []byte) {
	env, err := types.DecodeEnvelope(data)
	if err != nil {
		metrics.FramesDropped.WithLabelValues("malformed").Inc()
		r.log.Warn().Err(err).Str("conn", conn.ID()).Msg("dropping unparseable frame")
		return
	}

	metrics.FramesRouted.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case types.TypeIdentification:
		r.handleIdentification(conn, env)

	case types.TypeMessage:
		r.handleChat(conn, data)

	case types.TypeClearMessages:
		// Cosmetic clear: clients wipe their local views, the replay
		// buffer keeps serving late joiners.
		r.log.Info().Str("by", env.By).Msg("clear requested")
		r.broadcastAll(map[string]interface{}{
			"type":      types.TypeMessageCleared,
			"by":        env.By,
			"messageId": time.Now().UnixMilli(),
		})

	case types.TypeClearConfirmation:
		r.deliverToRole(types.RoleControl, map[string]interface{}{
			"type":      types.TypeMessageClearedAck,
			"by":        env.Device,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})

	case types.TypeOffer, types.TypeAnswer:
		r.routeSignal(conn, types.Signal{
			Type: env.Type,
			SDP:  env.SDP,
			From: env.From,
			To:   env.To,
		})

	case types.TypeICECandidate:
		r.routeSignal(conn, types.Signal{
			Type:      types.TypeICECandidate,
			Candidate: env.Candidate,
			From:      env.From,
			To:        env.To,
		})

	case types.TypeControlCommand, types.TypeControlCommandAlt:
		// Both spellings normalize to the hyphenated form and go to
		// everyone, sender included. A to field is ignored for this type.
		r.log.Info().Str("command", env.Command).Str("from", env.From).Msg("forwarding control command")
		r.broadcastAll(map[string]interface{}{
			"type":    types.TypeControlCommand,
			"command": env.Command,
			"from":    env.From,
		})

	case types.TypeStatusReport:
		// The from label comes from the sender's registered identity, not
		// the frame.
		from := env.From
		if conn.IsIdentified() {
			from = conn.DeviceName()
		}
		r.deliverToRole(types.RoleControl, map[string]interface{}{
			"type":      types.TypeStatusReport,
			"from":      from,
			"status":    env.Status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})

	default:
		metrics.FramesDropped.WithLabelValues("unknown_type").Inc()
		r.log.Warn().Str("type", env.Type).Str("conn", conn.ID()).Msg("dropping frame with unknown type")
	}
}

// handleIdentification mutates the sender's registry entry and
// rebroadcasts the participant list. Identification is idempotent and
// last-writer-wins; a repeat with different fields just overwrites.
func (r *Router) handleIdentification(conn *websocket.Connection, env *types.Envelope) {
	deviceName := env.DeviceName
	if deviceName == "" {
		deviceName = "Unknown"
	}
	role := r.roles.Resolve(deviceName, env.XRID)

	r.registry.Identify(conn, deviceName, env.XRID, role)

	r.log.Info().
		Str("device", deviceName).
		Str("xrId", env.XRID).
		Str("role", string(role)).
		Msg("connection identified")

	r.presence.Broadcast()
}

// handleChat appends the message to history, which assigns the id and
// timestamp, then delivers it to every other identified connection.
// Fields the sender supplied beyond the contract ride along verbatim.
func (r *Router) handleChat(conn *websocket.Connection, data []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		metrics.FramesDropped.WithLabelValues("malformed").Inc()
		r.log.Warn().Err(err).Str("conn", conn.ID()).Msg("dropping malformed chat frame")
		return
	}

	if _, ok := msg["sender"]; !ok && conn.IsIdentified() {
		msg["sender"] = conn.DeviceName()
	}

	stored := r.hist.Append(msg)
	metrics.HistorySize.Set(float64(r.hist.Len()))

	recipients := r.registry.Find(func(c *websocket.Connection) bool {
		return c != conn && c.IsIdentified()
	})
	r.deliver(recipients, stored)
}

// routeSignal forwards an offer, answer, or ICE candidate. With a to
// field, delivery is id/name-targeted; without one, it falls back to
// everyone except the sender. Signaling is fire-and-forget: an
// unresolvable target drops silently, logged for diagnosability.
func (r *Router) routeSignal(conn *websocket.Connection, sig types.Signal) {
	r.log.Debug().Str("type", sig.Type).Str("from", sig.From).Str("to", sig.To).Msg("forwarding signal")

	if sig.To == "" {
		recipients := r.registry.Find(func(c *websocket.Connection) bool {
			return c != conn
		})
		r.deliver(recipients, sig)
		return
	}

	recipients := r.registry.ByTarget(sig.To, conn)
	if len(recipients) == 0 {
		metrics.FramesDropped.WithLabelValues("no_target").Inc()
		r.log.Warn().Str("to", sig.To).Str("type", sig.Type).Msg("no connection matches signal target")
		return
	}
	r.deliver(recipients, sig)
}

// broadcastAll delivers to every connection, sender included.
func (r *Router) broadcastAll(payload interface{}) {
	r.deliver(r.registry.Snapshot(), payload)
}

// deliverToRole delivers only to identified connections holding role.
func (r *Router) deliverToRole(role types.Role, payload interface{}) {
	r.deliver(r.registry.ByRole(role), payload)
}

// deliver marshals once and writes to each recipient. A failed or slow
// recipient is skipped and logged; it never stalls delivery to the rest.
func (r *Router) deliver(recipients []*websocket.Connection, payload interface{}) {
	if len(recipients) == 0 {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to marshal outbound frame")
		return
	}

	for _, conn := range recipients {
		if err := conn.Write(data); err != nil {
			metrics.DeliveryFailures.Inc()
			r.log.Warn().Err(err).Str("conn", conn.ID()).Str("device", conn.DeviceName()).Msg("delivery failed")
		}
	}
}
