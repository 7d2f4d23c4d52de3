// Package server implements the HTTP server using Echo framework.
//
// Routes: auth (OAuth), admin (reward mapping UI + JSON API), eventsub
// (registration and the webhook), overlay (page + WebSocket), health.
// Handlers split by concern: handlers_auth.go, handlers_admin.go,
// handlers_rewards.go, handlers_eventsub.go, handlers_overlay.go.
package server
