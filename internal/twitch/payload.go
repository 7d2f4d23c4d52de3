package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nicklaw5/helix/v2"
	"github.com/pscheid92/redeemcast/internal/domain"
)

// envelope is the outer EventSub webhook body shared by all message types.
type envelope struct {
	Subscription envelopeSubscription `json:"subscription"`
	Challenge    string               `json:"challenge,omitempty"`
	Event        json.RawMessage      `json:"event,omitempty"`
}

type envelopeSubscription struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Cost      int               `json:"cost"`
	Condition map[string]string `json:"condition"`
	Transport map[string]string `json:"transport"`
	CreatedAt string            `json:"created_at"`
}

// RedemptionPayload describes a synthetic redemption delivery.
type RedemptionPayload struct {
	BroadcasterUserID string
	RewardID          string
	RewardTitle       string
	RewardCost        int
	UserLogin         string
	UserName          string
	UserInput         string
}

func newEnvelopeSubscription(broadcasterUserID, callback, status string, now time.Time) envelopeSubscription {
	return envelopeSubscription{
		ID:        uuid.NewString(),
		Type:      domain.SubscriptionTypeRedemptionAdd,
		Version:   "1",
		Status:    status,
		Condition: map[string]string{"broadcaster_user_id": broadcasterUserID},
		Transport: map[string]string{"method": "webhook", "callback": callback},
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
	}
}

// BuildVerificationBody returns a webhook_callback_verification body.
func BuildVerificationBody(challenge, broadcasterUserID, callback string, now time.Time) ([]byte, error) {
	env := envelope{
		Subscription: newEnvelopeSubscription(broadcasterUserID, callback, "webhook_callback_verification_pending", now),
		Challenge:    challenge,
	}
	return json.Marshal(env)
}

// BuildRedemptionBody returns a notification body for a reward redemption.
func BuildRedemptionBody(p RedemptionPayload, callback string, now time.Time) ([]byte, error) {
	event := helix.EventSubChannelPointsCustomRewardRedemptionEvent{
		ID:                uuid.NewString(),
		BroadcasterUserID: p.BroadcasterUserID,
		UserID:            "0",
		UserLogin:         p.UserLogin,
		UserName:          p.UserName,
		UserInput:         p.UserInput,
		Status:            "unfulfilled",
		Reward: helix.EventSubReward{
			ID:     p.RewardID,
			Title:  p.RewardTitle,
			Cost:   p.RewardCost,
			Prompt: "",
		},
		RedeemedAt: helix.Time{Time: now.UTC()},
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode redemption event: %w", err)
	}

	env := envelope{
		Subscription: newEnvelopeSubscription(p.BroadcasterUserID, callback, "enabled", now),
		Event:        raw,
	}
	return json.Marshal(env)
}

// BuildRevocationBody returns a revocation body with the given status
// (e.g. "authorization_revoked", "user_removed").
func BuildRevocationBody(broadcasterUserID, status, callback string, now time.Time) ([]byte, error) {
	env := envelope{Subscription: newEnvelopeSubscription(broadcasterUserID, callback, status, now)}
	return json.Marshal(env)
}

// NewSignedRequest builds a POST to url carrying body, signed with secret
// exactly as Twitch signs deliveries. The message id is random.
func NewSignedRequest(ctx context.Context, url string, secret []byte, messageType string, body []byte, now time.Time) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	SetSignatureHeaders(req.Header, secret, uuid.NewString(), now.UTC().Format(time.RFC3339Nano), messageType, domain.SubscriptionTypeRedemptionAdd, body)
	return req, nil
}
