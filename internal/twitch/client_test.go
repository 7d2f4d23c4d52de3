package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pscheid92/redeemcast/internal/domain"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rewriteTransport sends every request to the test server, keeping the path.
type rewriteTransport struct {
	target *url.URL
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = t.target.Scheme
	r.URL.Host = t.target.Host
	r.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

type fakeTwitch struct {
	server        *httptest.Server
	appTokenCalls atomic.Int32
	createStatus  int
	createCalls   atomic.Int32
}

func newFakeTwitch(t *testing.T) *fakeTwitch {
	t.Helper()
	f := &fakeTwitch{createStatus: http.StatusAccepted}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		switch r.FormValue("grant_type") {
		case "authorization_code":
			if r.FormValue("code") != "good-code" {
				writeJSON(w, http.StatusBadRequest, map[string]any{"status": 400, "message": "Invalid authorization code"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"access_token": "user-token", "token_type": "bearer", "expires_in": 3600})
		case "client_credentials":
			f.appTokenCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{"access_token": "app-token", "token_type": "bearer", "expires_in": 3600})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": "unsupported grant"})
		}
	})
	mux.HandleFunc("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]any{
			{"id": "b-1", "login": "streamer", "display_name": "Streamer"},
		}})
	})
	mux.HandleFunc("/helix/channel_points/custom_rewards", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["title"] == "Taken" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Bad Request", "status": 400, "message": "CREATE_CUSTOM_REWARD_DUPLICATE_REWARD"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]any{
			{"id": "reward-1", "title": req["title"], "cost": req["cost"], "prompt": req["prompt"], "broadcaster_id": r.URL.Query().Get("broadcaster_id")},
		}})
	})
	mux.HandleFunc("/helix/eventsub/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]any{
				subscriptionJSON("sub-1", "enabled"),
			}, "total": 1})
			return
		}
		f.createCalls.Add(1)
		if f.createStatus != http.StatusAccepted {
			writeJSON(w, f.createStatus, map[string]any{"error": http.StatusText(f.createStatus), "status": f.createStatus, "message": "upstream says no"})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"data": []map[string]any{
			subscriptionJSON("sub-2", "webhook_callback_verification_pending"),
		}})
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func subscriptionJSON(id, status string) map[string]any {
	return map[string]any{
		"id":         id,
		"status":     status,
		"type":       domain.SubscriptionTypeRedemptionAdd,
		"version":    "1",
		"condition":  map[string]string{"broadcaster_user_id": "b-1"},
		"transport":  map[string]string{"method": "webhook", "callback": testCallback},
		"created_at": "2026-03-14T15:09:26Z",
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeTwitch) client(t *testing.T) *Client {
	t.Helper()
	target, err := url.Parse(f.server.URL)
	require.NoError(t, err)
	return NewClient(ClientConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "http://localhost:3000/auth/callback",
		Timeout:      2 * time.Second,
		HTTPClient:   &http.Client{Transport: rewriteTransport{target: target}, Timeout: 2 * time.Second},
	})
}

func TestClient_AuthorizationURL(t *testing.T) {
	c := NewClient(ClientConfig{ClientID: "client-id", RedirectURI: "http://localhost:3000/auth/callback"})

	raw := c.AuthorizationURL("state-xyz")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "http://localhost:3000/auth/callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "state-xyz", q.Get("state"))
	assert.Contains(t, q.Get("scope"), "channel:read:redemptions")
}

func TestClient_ExchangeCode(t *testing.T) {
	f := newFakeTwitch(t)

	session, err := f.client(t).ExchangeCode(context.Background(), "good-code")

	require.NoError(t, err)
	assert.Equal(t, domain.AuthSession{
		AccessToken:       "user-token",
		BroadcasterUserID: "b-1",
		Login:             "streamer",
		DisplayName:       "Streamer",
	}, *session)
}

func TestClient_ExchangeCodeRejected(t *testing.T) {
	f := newFakeTwitch(t)

	_, err := f.client(t).ExchangeCode(context.Background(), "bad-code")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestClient_CreateCustomReward(t *testing.T) {
	f := newFakeTwitch(t)
	session := domain.AuthSession{AccessToken: "user-token", BroadcasterUserID: "b-1"}

	reward, err := f.client(t).CreateCustomReward(context.Background(), session, domain.CustomRewardRequest{Title: "Play Horn", Cost: 500, Prompt: "honk"})

	require.NoError(t, err)
	assert.Equal(t, &domain.CustomReward{ID: "reward-1", Title: "Play Horn", Cost: 500, Prompt: "honk"}, reward)
}

func TestClient_CreateCustomRewardCarriesUpstreamMessage(t *testing.T) {
	f := newFakeTwitch(t)
	session := domain.AuthSession{AccessToken: "user-token", BroadcasterUserID: "b-1"}

	_, err := f.client(t).CreateCustomReward(context.Background(), session, domain.CustomRewardRequest{Title: "Taken", Cost: 1})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "CREATE_CUSTOM_REWARD_DUPLICATE_REWARD", apiErr.Message)
}

func TestClient_AppTokenFetchedOnce(t *testing.T) {
	f := newFakeTwitch(t)
	c := f.client(t)

	for i := 0; i < 3; i++ {
		_, err := c.ListWebhookSubscriptions(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), f.appTokenCalls.Load())
}

func TestClient_ListWebhookSubscriptions(t *testing.T) {
	f := newFakeTwitch(t)

	subs, err := f.client(t).ListWebhookSubscriptions(context.Background())

	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "sub-1", subs[0].ID)
	assert.Equal(t, "b-1", subs[0].BroadcasterUserID)
	assert.Equal(t, testCallback, subs[0].Callback)
	assert.Equal(t, "2026-03-14T15:09:26Z", subs[0].CreatedAt)
}

func TestClient_CreateWebhookSubscription(t *testing.T) {
	f := newFakeTwitch(t)

	sub, err := f.client(t).CreateWebhookSubscription(context.Background(), "b-1", testCallback, testWebhookSecret)

	require.NoError(t, err)
	assert.Equal(t, "sub-2", sub.ID)
	assert.Equal(t, "webhook_callback_verification_pending", sub.Status)
}

func TestClient_ConflictIsReported(t *testing.T) {
	f := newFakeTwitch(t)
	f.createStatus = http.StatusConflict

	_, err := f.client(t).CreateWebhookSubscription(context.Background(), "b-1", testCallback, testWebhookSecret)

	assert.True(t, IsConflict(err))
	assert.Equal(t, "409", StatusCode(err))
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	f := newFakeTwitch(t)
	f.createStatus = http.StatusServiceUnavailable
	c := f.client(t)

	for i := 0; i < 5; i++ {
		_, err := c.CreateWebhookSubscription(context.Background(), "b-1", testCallback, testWebhookSecret)
		require.Error(t, err)
	}
	_, err := c.CreateWebhookSubscription(context.Background(), "b-1", testCallback, testWebhookSecret)

	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(5), f.createCalls.Load(), "open breaker must not reach upstream")
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	f := newFakeTwitch(t)
	f.createStatus = http.StatusBadRequest
	c := f.client(t)

	for i := 0; i < 7; i++ {
		_, err := c.CreateWebhookSubscription(context.Background(), "b-1", testCallback, testWebhookSecret)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
	}
	assert.Equal(t, int32(7), f.createCalls.Load())
}
