// Package server implements the chat relay: it accepts line-oriented TCP
// clients, and WebSocket clients when the HTTP gateway is enabled, and
// rebroadcasts every line a client sends to all other connected clients while
// replaying recent history to newcomers.
//
// The implementation is organized into specialized files for configuration,
// connection ownership, the client registry, per-client pumps, transports,
// HTTP handlers, and metrics to keep the codebase maintainable and testable.
package server
