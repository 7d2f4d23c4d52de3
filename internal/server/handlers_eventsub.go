package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/redeemcast/internal/domain"
)

func (s *Server) registerEventSubRoutes(csrfMiddleware echo.MiddlewareFunc) {
	s.echo.POST("/eventsub/register", s.handleRegisterEventSub, s.requireAuth, csrfMiddleware)
	s.echo.GET("/eventsub/subscriptions", s.handleListSubscriptions, s.requireAuth, csrfMiddleware)

	// Twitch calls this directly: no session, no CSRF.
	s.echo.POST("/webhook", s.webhook.HandleEventSub, newRateLimiter(webhookRatePerSecond, webhookBurst))
}

func (s *Server) handleRegisterEventSub(c echo.Context) error {
	auth, err := authFromContext(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.TwitchAPITimeout)
	defer cancel()

	sub, err := s.eventsub.RegisterRedemptions(ctx, auth.BroadcasterUserID)
	if err != nil {
		return upstreamError("failed to register EventSub subscription", err).
			WithField("broadcaster_user_id", auth.BroadcasterUserID)
	}

	slog.InfoContext(ctx, "EventSub subscription registered", "subscription_id", sub.ID, "status", sub.Status)

	if err := c.JSON(http.StatusOK, sub); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleListSubscriptions(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.TwitchAPITimeout)
	defer cancel()

	subs, err := s.eventsub.ListSubscriptions(ctx)
	if err != nil {
		return upstreamError("failed to list EventSub subscriptions", err)
	}
	if subs == nil {
		subs = []domain.Subscription{}
	}

	if err := c.JSON(http.StatusOK, map[string]any{"subscriptions": subs}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
