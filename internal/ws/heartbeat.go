package ws

import (
	"time"

	"github.com/gobwas/ws"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping
	Timeout  time.Duration // grace period after a missed interval
}

// DefaultHeartbeatConfig returns the default heartbeat settings.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  60 * time.Second,
	}
}

// StartHeartbeat starts a goroutine that periodically pings every connection
// and evicts those with no reads within Interval + Timeout. It exits when
// the server shuts down.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	if config.Interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				checkConnections(server, config, time.Now())
			}
		}
	}()
}

// checkConnections removes stale connections and sends a protocol-level ping
// frame to the rest; browsers answer it automatically.
func checkConnections(server *Server, config HeartbeatConfig, now time.Time) {
	deadline := config.Interval + config.Timeout

	for _, c := range server.Connections().All() {
		idle := now.Sub(c.LastActivity())
		if idle > deadline {
			server.log.Info().
				Str("conn", c.ID).
				Str("user", c.Username).
				Dur("idle", idle.Round(time.Second)).
				Msg("heartbeat timeout")
			server.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			server.log.Debug().Err(err).Str("conn", c.ID).Msg("heartbeat ping failed")
			server.RemoveConnection(c)
		}
	}
}

// WritePing sends a WebSocket ping frame (opcode 0x9).
func (c *Connection) WritePing() error {
	return c.writeControl(ws.NewPingFrame(nil))
}
