// Package redis is the optional shared backend for EventSub message
// de-duplication. Every command runs through a metrics hook and a circuit
// breaker hook so an unavailable Redis fails fast.
package redis
