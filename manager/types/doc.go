// Package types holds what the lifecycle provider, the connection manager and the hosts share:
// the host Config, the Host handle and the ConnectionType.
package types
