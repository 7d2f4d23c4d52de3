package twitch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/redeemcast/internal/domain"
	"github.com/pscheid92/redeemcast/internal/metrics"
	"github.com/pscheid92/redeemcast/internal/platform/correlation"
)

// maxWebhookBody bounds what is read before the signature check.
const maxWebhookBody = 1 << 20

// dedupMargin keeps a claimed id a little past the instant its timestamp
// leaves the replay window.
const dedupMargin = time.Second

// WebhookHandler handles Twitch EventSub webhook deliveries.
//
// Pipeline: raw body → HMAC verify → replay window → route → de-duplicate →
// reward lookup → broadcast. Nothing is parsed until the signature matches.
type WebhookHandler struct {
	secret      []byte
	rewards     domain.RewardLookup
	broadcaster domain.Broadcaster
	dedup       domain.Deduplicator
	clock       clockwork.Clock
	maxAge      time.Duration
}

// NewWebhookHandler creates a WebhookHandler. dedup may be nil, in which case
// Twitch retries of the same message are acted on again.
func NewWebhookHandler(secret string, rewards domain.RewardLookup, broadcaster domain.Broadcaster, dedup domain.Deduplicator, clock clockwork.Clock, maxAge time.Duration) *WebhookHandler {
	return &WebhookHandler{
		secret:      []byte(secret),
		rewards:     rewards,
		broadcaster: broadcaster,
		dedup:       dedup,
		clock:       clock,
		maxAge:      maxAge,
	}
}

// HandleEventSub is the Echo handler for POST /webhook.
func (wh *WebhookHandler) HandleEventSub(c echo.Context) error {
	start := wh.clock.Now()
	defer func() {
		metrics.WebhookProcessingDuration.Observe(wh.clock.Since(start).Seconds())
	}()

	req := c.Request()
	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), req.Body, maxWebhookBody))
	if err != nil {
		metrics.WebhookRejectedTotal.WithLabelValues("body").Inc()
		slog.WarnContext(req.Context(), "Failed to read webhook body", "error", err)
		return c.NoContent(http.StatusBadRequest)
	}

	event := domain.WebhookEvent{
		MessageID:        req.Header.Get(HeaderMessageID),
		Timestamp:        req.Header.Get(HeaderMessageTimestamp),
		Signature:        req.Header.Get(HeaderMessageSignature),
		MessageType:      req.Header.Get(HeaderMessageType),
		SubscriptionType: req.Header.Get(HeaderSubscriptionType),
		RawBody:          body,
	}

	ctx := req.Context()
	if event.MessageID != "" {
		ctx = correlation.WithID(ctx, event.MessageID)
	}

	if !Verify(wh.secret, event.MessageID, event.Timestamp, event.RawBody, event.Signature) {
		metrics.WebhookRejectedTotal.WithLabelValues("signature").Inc()
		slog.WarnContext(ctx, "Rejected webhook with invalid signature", "message_type", event.MessageType)
		return c.NoContent(http.StatusForbidden)
	}

	ts, reason, ok := wh.withinReplayWindow(event.Timestamp)
	if !ok {
		metrics.WebhookRejectedTotal.WithLabelValues("replay").Inc()
		slog.WarnContext(ctx, "Rejected webhook outside replay window", "timestamp", event.Timestamp, "reason", reason)
		return c.NoContent(http.StatusForbidden)
	}

	action, err := Route(event.MessageType, event.RawBody)
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues(event.MessageType, "malformed").Inc()
		slog.ErrorContext(ctx, "Malformed webhook payload", "message_type", event.MessageType, "error", err)
		return c.NoContent(http.StatusBadRequest)
	}

	// The handshake is answered even for repeated ids; Twitch may resend it.
	if action.Kind == ActionChallenge {
		metrics.WebhookRequestsTotal.WithLabelValues(event.MessageType, "challenge").Inc()
		slog.InfoContext(ctx, "Answering EventSub verification challenge", "subscription_type", event.SubscriptionType)
		return c.Blob(http.StatusOK, echo.MIMETextPlainCharsetUTF8, []byte(action.Challenge))
	}

	if !wh.claim(ctx, event, ts) {
		metrics.WebhookDuplicatesTotal.Inc()
		metrics.WebhookRequestsTotal.WithLabelValues(event.MessageType, "duplicate").Inc()
		slog.InfoContext(ctx, "Dropping duplicate EventSub message")
		return c.NoContent(http.StatusNoContent)
	}

	if action.Kind == ActionIgnored {
		metrics.WebhookRequestsTotal.WithLabelValues(event.MessageType, "ignored").Inc()
		if event.MessageType == domain.MessageTypeRevocation {
			slog.WarnContext(ctx, "EventSub subscription revoked", "reason", action.Reason)
		} else {
			slog.DebugContext(ctx, "Ignoring EventSub delivery", "reason", action.Reason)
		}
		return c.NoContent(http.StatusNoContent)
	}

	r := action.Redemption
	media, found := wh.lookup(r)
	if !found {
		metrics.WebhookRequestsTotal.WithLabelValues(event.MessageType, "unmapped").Inc()
		slog.InfoContext(ctx, "No media mapped for redeemed reward", "reward_title", r.RewardTitle, "reward_id", r.RewardID)
		return c.NoContent(http.StatusNoContent)
	}

	delivered, err := wh.broadcaster.Broadcast(ctx, domain.NewPlayEvent(media, r.RewardTitle, r.RedeemerName))
	if err != nil {
		// Acknowledge anyway: a Twitch retry would be dropped as a duplicate.
		slog.ErrorContext(ctx, "Failed to broadcast redemption", "reward_title", r.RewardTitle, "error", err)
		metrics.WebhookRequestsTotal.WithLabelValues(event.MessageType, "broadcast_failed").Inc()
		return c.NoContent(http.StatusNoContent)
	}

	metrics.BroadcasterEventsTotal.WithLabelValues("webhook").Inc()
	metrics.WebhookRequestsTotal.WithLabelValues(event.MessageType, "played").Inc()
	slog.InfoContext(ctx, "Redemption broadcast",
		"reward_title", r.RewardTitle,
		"redeemer", r.RedeemerName,
		"media", media,
		"clients", delivered,
	)
	return c.NoContent(http.StatusNoContent)
}

func (wh *WebhookHandler) withinReplayWindow(timestamp string) (time.Time, string, bool) {
	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return time.Time{}, "unparseable timestamp", false
	}
	age := wh.clock.Since(ts)
	if age > wh.maxAge {
		return ts, "too old", false
	}
	if age < -wh.maxAge {
		return ts, "too far in the future", false
	}
	return ts, "", true
}

// claim reports whether this delivery should be processed. Store errors fail
// open: a duplicate alert is preferable to dropping a real redemption.
//
// The id must outlive the replay window of its own timestamp, which for a
// future-dated message is longer than maxAge from now.
func (wh *WebhookHandler) claim(ctx context.Context, event domain.WebhookEvent, ts time.Time) bool {
	if wh.dedup == nil || event.MessageID == "" {
		return true
	}
	ttl := wh.maxAge - wh.clock.Since(ts) + dedupMargin
	first, err := wh.dedup.Claim(ctx, event.MessageID, ttl)
	if err != nil {
		slog.ErrorContext(ctx, "De-duplication check failed, processing anyway", "error", err)
		return true
	}
	return first
}

func (wh *WebhookHandler) lookup(r domain.Redemption) (string, bool) {
	if r.RewardTitle != "" {
		if media, ok := wh.rewards.Lookup(r.RewardTitle); ok {
			return media, true
		}
	}
	if r.RewardID != "" {
		if media, ok := wh.rewards.Lookup(r.RewardID); ok {
			return media, true
		}
	}
	return "", false
}
