package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/redeemcast/internal/errors"
	"github.com/pscheid92/redeemcast/internal/platform/logging"
)

func (s *Server) registerAuthRoutes(csrfMiddleware, rateLimiter echo.MiddlewareFunc) {
	s.echo.GET("/auth/start", s.handleAuthStart, rateLimiter)
	s.echo.GET("/auth/callback", s.handleOAuthCallback, rateLimiter)
	s.echo.POST("/auth/logout", s.handleLogout, s.requireAuth, csrfMiddleware)
	s.echo.GET("/auth/status", s.handleAuthStatus)
}

func generateOAuthState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate OAuth state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (s *Server) handleAuthStart(c echo.Context) error {
	state, err := generateOAuthState()
	if err != nil {
		return apperrors.InternalError("failed to generate OAuth state", err)
	}

	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		// An undecodable cookie (e.g. rotated SESSION_SECRET) still yields a fresh session.
		slog.WarnContext(c.Request().Context(), "Discarding unreadable session cookie", "error", err)
	}

	session.Values[sessionKeyOAuthState] = state
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to save OAuth state session", err)
	}

	if err := c.Redirect(http.StatusFound, s.auth.AuthorizationURL(state)); err != nil {
		return fmt.Errorf("failed to redirect: %w", err)
	}
	return nil
}

func (s *Server) handleOAuthCallback(c echo.Context) error {
	if twitchErr := c.QueryParam("error"); twitchErr != "" {
		return apperrors.ValidationError("authorization was not granted").WithField("twitch_error", twitchErr)
	}

	code := c.QueryParam("code")
	if code == "" {
		return apperrors.ValidationError("missing code parameter")
	}

	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		return apperrors.ValidationError("invalid session")
	}

	expectedState, ok := session.Values[sessionKeyOAuthState].(string)
	if !ok || expectedState == "" {
		return apperrors.ValidationError("missing OAuth state")
	}
	if c.QueryParam("state") != expectedState {
		return apperrors.ValidationError("invalid OAuth state")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.TwitchAPITimeout)
	defer cancel()

	auth, err := s.auth.ExchangeCode(ctx, code)
	if err != nil {
		return apperrors.ExternalError("failed to authenticate with Twitch", err)
	}

	if err := s.saveAuthSession(c, session, auth); err != nil {
		return err
	}

	logger := logging.WithBroadcaster(auth.BroadcasterUserID)
	subCtx, subCancel := context.WithTimeout(c.Request().Context(), s.config.TwitchAPITimeout)
	defer subCancel()
	if _, subErr := s.eventsub.RegisterRedemptions(subCtx, auth.BroadcasterUserID); subErr != nil {
		logger.ErrorContext(subCtx, "Failed to create EventSub subscription during OAuth callback", "error", subErr)
	}

	logger.InfoContext(c.Request().Context(), "Broadcaster logged in", "login", auth.Login)

	if err := c.Redirect(http.StatusFound, "/admin"); err != nil {
		return fmt.Errorf("failed to redirect: %w", err)
	}
	return nil
}

func (s *Server) handleLogout(c echo.Context) error {
	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		slog.ErrorContext(c.Request().Context(), "Failed to get session during logout", "error", err)
	}
	session.Values = map[any]any{}
	session.Options.MaxAge = -1

	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to save logout session", err)
	}

	slog.InfoContext(c.Request().Context(), "Broadcaster logged out", "broadcaster_user_id", c.Get("broadcasterUserID"))

	if err := c.Redirect(http.StatusFound, "/"); err != nil {
		return fmt.Errorf("failed to redirect: %w", err)
	}
	return nil
}

type authStatusResponse struct {
	Authenticated     bool   `json:"authenticated"`
	BroadcasterUserID string `json:"broadcaster_user_id,omitempty"`
	Login             string `json:"login,omitempty"`
	DisplayName       string `json:"display_name,omitempty"`
}

func (s *Server) handleAuthStatus(c echo.Context) error {
	resp := authStatusResponse{}
	if auth, ok := s.currentSession(c); ok {
		resp = authStatusResponse{
			Authenticated:     true,
			BroadcasterUserID: auth.BroadcasterUserID,
			Login:             auth.Login,
			DisplayName:       auth.DisplayName,
		}
	}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
