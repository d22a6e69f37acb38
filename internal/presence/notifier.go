// Package presence recomputes and broadcasts the participant list on
// every membership or identity change.
package presence

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"xrlink/internal/metrics"
	"xrlink/internal/websocket"
	"xrlink/pkg/types"
)

// Notifier broadcasts device_list snapshots. The snapshot lists only
// identified connections, but every connection receives it, identified
// or not.
type Notifier struct {
	registry *websocket.Registry
	log      zerolog.Logger
}

// NewNotifier creates a presence notifier over the given registry.
func NewNotifier(registry *websocket.Registry, log zerolog.Logger) *Notifier {
	return &Notifier{
		registry: registry,
		log:      log.With().Str("component", "presence").Logger(),
	}
}

// DeviceList returns the current participant snapshot.
func (n *Notifier) DeviceList() []types.Device {
	conns := n.registry.Find(func(c *websocket.Connection) bool {
		return c.IsIdentified()
	})

	devices := make([]types.Device, 0, len(conns))
	for _, conn := range conns {
		devices = append(devices, types.Device{
			Name: conn.DeviceName(),
			XRID: conn.XRID(),
		})
	}
	return devices
}

// Broadcast sends the full participant snapshot to every connection.
// The snapshot is marshaled once; per-recipient failures are logged and
// skipped.
func (n *Notifier) Broadcast() {
	list := types.DeviceList{
		Type:    types.TypeDeviceList,
		Devices: n.DeviceList(),
	}

	data, err := json.Marshal(list)
	if err != nil {
		n.log.Error().Err(err).Msg("failed to marshal device list")
		return
	}

	for _, conn := range n.registry.Snapshot() {
		if err := conn.Write(data); err != nil {
			metrics.DeliveryFailures.Inc()
			n.log.Warn().Err(err).Str("conn", conn.ID()).Msg("device list delivery failed")
		}
	}

	n.log.Debug().Int("devices", len(list.Devices)).Msg("device list broadcast")
}
