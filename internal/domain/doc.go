// Package domain defines the core domain types and interfaces.
//
// No implementation code, just contracts shared by the webhook pipeline,
// the reward store, the broadcaster, and the HTTP layer.
package domain
