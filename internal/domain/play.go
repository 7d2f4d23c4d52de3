package domain

import "context"

// PlayKind is the only message kind the overlay understands today.
const PlayKind = "play"

// PlayEvent is the message pushed to overlay pages.
type PlayEvent struct {
	Kind  string `json:"kind"`
	Media string `json:"media"`
	Title string `json:"title,omitempty"`
	User  string `json:"user,omitempty"`
}

// NewPlayEvent builds a play event for the given media reference.
func NewPlayEvent(media, title, user string) PlayEvent {
	return PlayEvent{Kind: PlayKind, Media: media, Title: title, User: user}
}

// Broadcaster fans play events out to connected overlay clients.
type Broadcaster interface {
	// Broadcast returns the number of clients the event was queued to.
	Broadcast(ctx context.Context, event PlayEvent) (int, error)
}
