package twitch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pscheid92/redeemcast/internal/domain"
)

// eventsubAPIClient is the subset of Client used by EventSubManager.
type eventsubAPIClient interface {
	CreateWebhookSubscription(ctx context.Context, broadcasterUserID, callback, secret string) (*domain.Subscription, error)
	ListWebhookSubscriptions(ctx context.Context) ([]domain.Subscription, error)
}

// EventSubManager registers the redemption webhook with Twitch.
type EventSubManager struct {
	client      eventsubAPIClient
	callbackURL string
	secret      string
}

// NewEventSubManager creates a new EventSubManager.
func NewEventSubManager(client eventsubAPIClient, callbackURL, secret string) *EventSubManager {
	return &EventSubManager{
		client:      client,
		callbackURL: callbackURL,
		secret:      secret,
	}
}

// RegisterRedemptions subscribes the webhook to redemptions on the
// broadcaster's channel. Idempotent: an existing subscription is returned
// as-is, and a 409 from Twitch counts as success.
func (m *EventSubManager) RegisterRedemptions(ctx context.Context, broadcasterUserID string) (*domain.Subscription, error) {
	if existing := m.findExisting(ctx, broadcasterUserID); existing != nil {
		slog.InfoContext(ctx, "EventSub subscription already exists",
			"broadcaster_user_id", broadcasterUserID, "subscription_id", existing.ID, "status", existing.Status)
		return existing, nil
	}

	sub, err := m.client.CreateWebhookSubscription(ctx, broadcasterUserID, m.callbackURL, m.secret)
	if err != nil {
		if IsConflict(err) {
			// Twitch already has it, e.g. created by a previous process.
			slog.InfoContext(ctx, "EventSub subscription already exists on Twitch, treating as success",
				"broadcaster_user_id", broadcasterUserID)
			return &domain.Subscription{
				Type:              domain.SubscriptionTypeRedemptionAdd,
				Version:           "1",
				Status:            "enabled",
				BroadcasterUserID: broadcasterUserID,
				Callback:          m.callbackURL,
			}, nil
		}
		return nil, fmt.Errorf("failed to create EventSub subscription: %w", err)
	}

	slog.InfoContext(ctx, "Subscribed to channel point redemptions",
		"broadcaster_user_id", broadcasterUserID, "subscription_id", sub.ID, "status", sub.Status)
	return sub, nil
}

// findExisting looks for a live subscription to the same callback. Listing
// errors are logged and treated as "none found"; the create call decides.
func (m *EventSubManager) findExisting(ctx context.Context, broadcasterUserID string) *domain.Subscription {
	subs, err := m.client.ListWebhookSubscriptions(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Failed to list EventSub subscriptions", "error", err)
		return nil
	}
	for i := range subs {
		s := subs[i]
		if s.BroadcasterUserID != broadcasterUserID || s.Callback != m.callbackURL {
			continue
		}
		if s.Status == "enabled" || s.Status == "webhook_callback_verification_pending" {
			return &s
		}
	}
	return nil
}

// ListSubscriptions returns the app's redemption subscriptions.
func (m *EventSubManager) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	subs, err := m.client.ListWebhookSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list EventSub subscriptions: %w", err)
	}
	return subs, nil
}
