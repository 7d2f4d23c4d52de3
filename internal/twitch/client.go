package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nicklaw5/helix/v2"
	"github.com/pscheid92/redeemcast/internal/domain"
	"github.com/pscheid92/redeemcast/internal/metrics"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

// Scopes requested from the broadcaster during login.
var Scopes = []string{
	"channel:read:redemptions",
	"channel:manage:redemptions",
	"user:read:email",
}

// APIError is a non-2xx Helix response. Message is Twitch's own text and is
// shown to the admin as-is.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitch %s failed with status %d: %s", e.Operation, e.StatusCode, e.Message)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Timeout      time.Duration
	// HTTPClient overrides the transport; tests point it at an httptest server.
	HTTPClient *http.Client
}

// Client wraps nicklaw5/helix for the handful of calls this service makes.
//
// Helix clients carry a single token, so user-scoped calls build a fresh
// client per call; the app token is cached and shared.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker

	appTokenMu sync.Mutex
	appToken   string
	appTokens  singleflight.Group
}

// NewClient creates a Client. Every request is bounded by cfg.Timeout.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "twitch",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// 4xx responses are the caller's problem, not an unhealthy upstream.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerStateChanges.WithLabelValues(name, to.String()).Inc()
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return &Client{cfg: cfg, httpClient: httpClient, breaker: breaker}
}

func (c *Client) newHelix(ctx context.Context, userToken, appToken string) (*helix.Client, error) {
	hc, err := helix.NewClientWithContext(ctx, &helix.Options{
		ClientID:        c.cfg.ClientID,
		ClientSecret:    c.cfg.ClientSecret,
		RedirectURI:     c.cfg.RedirectURI,
		UserAccessToken: userToken,
		AppAccessToken:  appToken,
		HTTPClient:      c.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create helix client: %w", err)
	}
	return hc, nil
}

// call runs op through the circuit breaker and records metrics. op must turn
// non-2xx responses into *APIError since helix reports them as data, not errors.
func (c *Client) call(ctx context.Context, operation string, op func() error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		done := make(chan error, 1)
		go func() { done <- op() }()
		select {
		case err := <-done:
			return nil, err
		case <-ctx.Done():
			return nil, fmt.Errorf("twitch %s: %w", operation, ctx.Err())
		}
	})
	metrics.TwitchAPIDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.TwitchAPIRequestsTotal.WithLabelValues(operation, status).Inc()
	return err
}

func (c *Client) timeout() time.Duration {
	if c.cfg.Timeout > 0 {
		return c.cfg.Timeout
	}
	return 10 * time.Second
}

func checkResponse(operation string, resp helix.ResponseCommon, want ...int) error {
	for _, code := range want {
		if resp.StatusCode == code {
			return nil
		}
	}
	msg := resp.ErrorMessage
	if msg == "" {
		msg = resp.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Operation: operation, StatusCode: resp.StatusCode, Message: msg}
}

// AuthorizationURL returns the Twitch authorize URL for the given CSRF state.
func (c *Client) AuthorizationURL(state string) string {
	hc, err := helix.NewClient(&helix.Options{ClientID: c.cfg.ClientID, RedirectURI: c.cfg.RedirectURI})
	if err != nil {
		// NewClient only fails without a client id, which config validation rules out.
		slog.Error("Failed to build authorization URL", "error", err)
		return ""
	}
	return hc.GetAuthorizationURL(&helix.AuthorizationURLParams{
		ResponseType: "code",
		Scopes:       Scopes,
		State:        state,
	})
}

// ExchangeCode trades an OAuth code for a user token and resolves the
// broadcaster it belongs to.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*domain.AuthSession, error) {
	var accessToken string
	err := c.call(ctx, "exchange_code", func() error {
		hc, err := c.newHelix(ctx, "", "")
		if err != nil {
			return err
		}
		resp, err := hc.RequestUserAccessToken(code)
		if err != nil {
			return fmt.Errorf("token request: %w", err)
		}
		if err := checkResponse("exchange_code", resp.ResponseCommon, http.StatusOK); err != nil {
			return err
		}
		accessToken = resp.Data.AccessToken
		return nil
	})
	if err != nil {
		return nil, err
	}
	if accessToken == "" {
		return nil, errors.New("twitch returned an empty access token")
	}

	var session *domain.AuthSession
	err = c.call(ctx, "get_user", func() error {
		hc, err := c.newHelix(ctx, accessToken, "")
		if err != nil {
			return err
		}
		resp, err := hc.GetUsers(&helix.UsersParams{})
		if err != nil {
			return fmt.Errorf("users request: %w", err)
		}
		if err := checkResponse("get_user", resp.ResponseCommon, http.StatusOK); err != nil {
			return err
		}
		if len(resp.Data.Users) == 0 {
			return errors.New("twitch returned no user for token")
		}
		u := resp.Data.Users[0]
		session = &domain.AuthSession{
			AccessToken:       accessToken,
			BroadcasterUserID: u.ID,
			Login:             u.Login,
			DisplayName:       u.DisplayName,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// CreateCustomReward creates a channel-point reward on the broadcaster's channel.
func (c *Client) CreateCustomReward(ctx context.Context, session domain.AuthSession, req domain.CustomRewardRequest) (*domain.CustomReward, error) {
	var created *domain.CustomReward
	err := c.call(ctx, "create_reward", func() error {
		hc, err := c.newHelix(ctx, session.AccessToken, "")
		if err != nil {
			return err
		}
		resp, err := hc.CreateCustomReward(&helix.ChannelCustomRewardsParams{
			BroadcasterID: session.BroadcasterUserID,
			Title:         req.Title,
			Cost:          req.Cost,
			Prompt:        req.Prompt,
			IsEnabled:     true,
		})
		if err != nil {
			return fmt.Errorf("custom reward request: %w", err)
		}
		if err := checkResponse("create_reward", resp.ResponseCommon, http.StatusOK); err != nil {
			return err
		}
		if len(resp.Data.ChannelCustomRewards) == 0 {
			return errors.New("twitch returned no reward")
		}
		r := resp.Data.ChannelCustomRewards[0]
		created = &domain.CustomReward{ID: r.ID, Title: r.Title, Cost: r.Cost, Prompt: r.Prompt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// appAccessToken returns the cached client-credentials token, fetching it
// once. Concurrent callers share a single token request.
func (c *Client) appAccessToken(ctx context.Context) (string, error) {
	c.appTokenMu.Lock()
	token := c.appToken
	c.appTokenMu.Unlock()
	if token != "" {
		return token, nil
	}

	v, err, _ := c.appTokens.Do("app", func() (interface{}, error) {
		var fetched string
		err := c.call(ctx, "app_token", func() error {
			hc, err := c.newHelix(ctx, "", "")
			if err != nil {
				return err
			}
			resp, err := hc.RequestAppAccessToken(nil)
			if err != nil {
				return fmt.Errorf("app token request: %w", err)
			}
			if err := checkResponse("app_token", resp.ResponseCommon, http.StatusOK); err != nil {
				return err
			}
			fetched = resp.Data.AccessToken
			return nil
		})
		if err != nil {
			return "", err
		}
		c.appTokenMu.Lock()
		c.appToken = fetched
		c.appTokenMu.Unlock()
		return fetched, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// invalidateAppToken drops the cached token after Twitch rejected it.
func (c *Client) invalidateAppToken() {
	c.appTokenMu.Lock()
	c.appToken = ""
	c.appTokenMu.Unlock()
}

// CreateWebhookSubscription subscribes callback to redemptions on the broadcaster's channel.
func (c *Client) CreateWebhookSubscription(ctx context.Context, broadcasterUserID, callback, secret string) (*domain.Subscription, error) {
	token, err := c.appAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var sub *domain.Subscription
	err = c.call(ctx, "create_subscription", func() error {
		hc, err := c.newHelix(ctx, "", token)
		if err != nil {
			return err
		}
		resp, err := hc.CreateEventSubSubscription(&helix.EventSubSubscription{
			Type:    helix.EventSubTypeChannelPointsCustomRewardRedemptionAdd,
			Version: "1",
			Condition: helix.EventSubCondition{
				BroadcasterUserID: broadcasterUserID,
			},
			Transport: helix.EventSubTransport{
				Method:   "webhook",
				Callback: callback,
				Secret:   secret,
			},
		})
		if err != nil {
			return fmt.Errorf("eventsub request: %w", err)
		}
		if err := checkResponse("create_subscription", resp.ResponseCommon, http.StatusAccepted); err != nil {
			return err
		}
		if len(resp.Data.EventSubSubscriptions) == 0 {
			return errors.New("twitch returned no subscription")
		}
		s := toSubscription(resp.Data.EventSubSubscriptions[0])
		sub = &s
		return nil
	})
	if isUnauthorized(err) {
		c.invalidateAppToken()
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ListWebhookSubscriptions returns the app's redemption subscriptions.
func (c *Client) ListWebhookSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	token, err := c.appAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var subs []domain.Subscription
	err = c.call(ctx, "list_subscriptions", func() error {
		hc, err := c.newHelix(ctx, "", token)
		if err != nil {
			return err
		}
		resp, err := hc.GetEventSubSubscriptions(&helix.EventSubSubscriptionsParams{
			Type: helix.EventSubTypeChannelPointsCustomRewardRedemptionAdd,
		})
		if err != nil {
			return fmt.Errorf("eventsub list request: %w", err)
		}
		if err := checkResponse("list_subscriptions", resp.ResponseCommon, http.StatusOK); err != nil {
			return err
		}
		subs = make([]domain.Subscription, 0, len(resp.Data.EventSubSubscriptions))
		for _, s := range resp.Data.EventSubSubscriptions {
			subs = append(subs, toSubscription(s))
		}
		return nil
	})
	if isUnauthorized(err) {
		c.invalidateAppToken()
	}
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func toSubscription(s helix.EventSubSubscription) domain.Subscription {
	return domain.Subscription{
		ID:                s.ID,
		Type:              s.Type,
		Version:           s.Version,
		Status:            s.Status,
		BroadcasterUserID: s.Condition.BroadcasterUserID,
		Callback:          s.Transport.Callback,
		CreatedAt:         s.CreatedAt.Format(time.RFC3339),
	}
}

func isUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsConflict reports a 409, which Twitch returns for an existing subscription.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// StatusCode extracts the upstream status for logs, or 0.
func StatusCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return strconv.Itoa(apiErr.StatusCode)
	}
	return ""
}
