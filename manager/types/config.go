package types

import (
	"time"
)

// ConnectionType selects the network a host listens on.
type ConnectionType string

const (
	// Socket hosts listen on a unix domain socket named after their id.
	Socket ConnectionType = "unix"
	// TCP hosts listen on a free loopback port.
	TCP ConnectionType = "tcp"
)

// Config is handed to a host when it is spawned. It is passed as the single JSON argument of the
// host executable.
type Config struct {
	// ID names the host, usually after the session it serves.
	ID string `json:"id"`
	// Type decides whether the host creates a socket or picks a port.
	Type ConnectionType `json:"type"`
	// IdleTimeout stops a host that had no requests for this long.
	// Without it the host runs until it is shut down.
	IdleTimeout *time.Duration `json:"idleTimeout,omitempty"`
}
