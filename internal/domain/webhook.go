package domain

import (
	"context"
	"time"
)

// EventSub message types carried in the Twitch-Eventsub-Message-Type header.
const (
	MessageTypeVerification = "webhook_callback_verification"
	MessageTypeNotification = "notification"
	MessageTypeRevocation   = "revocation"
)

// SubscriptionTypeRedemptionAdd is the only subscription type the webhook acts on.
const SubscriptionTypeRedemptionAdd = "channel.channel_points_custom_reward_redemption.add"

// WebhookEvent is one inbound EventSub delivery. RawBody holds the exact
// request bytes; the signature is computed over them, never over re-encoded JSON.
type WebhookEvent struct {
	MessageID        string
	Timestamp        string
	Signature        string
	MessageType      string
	SubscriptionType string
	RawBody          []byte
}

// Redemption is a reward redemption extracted from a verified notification.
type Redemption struct {
	RedemptionID      string
	RewardID          string
	RewardTitle       string
	RedeemerName      string
	UserInput         string
	BroadcasterUserID string
	RedeemedAt        time.Time
}

// Deduplicator admits each EventSub message id at most once within its TTL.
type Deduplicator interface {
	// Claim returns true the first time messageID is seen, false afterwards.
	// The id is remembered for at least ttl; stores may keep it longer.
	Claim(ctx context.Context, messageID string, ttl time.Duration) (bool, error)
}
