// Package broadcast fans play events out to overlay WebSocket connections
// using the actor pattern.
//
// A single goroutine owns the client set and serves a command channel (no
// mutexes). Each connection gets its own writer goroutine with a bounded
// queue, so a slow overlay is evicted instead of stalling everyone else.
// Liveness is ping based: clients that miss two pings in a row are dropped.
package broadcast
