// Package server is the network edge of the group chat service.
//
// The Hub owns live websocket clients and runs every inbound frame through a
// single FrameHandler on its own goroutine, so room and presence changes are
// applied one at a time. API exposes the REST surface for accounts, groups
// and message history next to the websocket endpoint, the health checks and
// Prometheus metrics. Config is read from the environment and shared with
// every new connection.
package server
