package domain

import "context"

// AuthSession is the broadcaster identity established by the OAuth callback.
// There is no refresh path; when the token expires the broadcaster logs in again.
type AuthSession struct {
	AccessToken       string
	BroadcasterUserID string
	Login             string
	DisplayName       string
}

// Subscription is an EventSub subscription as reported by Twitch.
type Subscription struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	Version           string `json:"version"`
	Status            string `json:"status"`
	BroadcasterUserID string `json:"broadcaster_user_id"`
	Callback          string `json:"callback"`
	CreatedAt         string `json:"created_at"`
}

// EventSubRegistrar registers and lists webhook subscriptions.
type EventSubRegistrar interface {
	RegisterRedemptions(ctx context.Context, broadcasterUserID string) (*Subscription, error)
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
}
