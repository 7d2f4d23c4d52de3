package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/redeemcast/internal/domain"
	apperrors "github.com/pscheid92/redeemcast/internal/errors"
	"github.com/pscheid92/redeemcast/internal/metrics"
	"github.com/pscheid92/redeemcast/internal/twitch"
)

// Limits enforced by Twitch on custom rewards.
const (
	maxRewardTitleLength  = 45
	maxRewardPromptLength = 200
)

func (s *Server) registerRewardRoutes(csrfMiddleware echo.MiddlewareFunc) {
	s.echo.GET("/rewards", s.handleListRewards, s.requireAuth, csrfMiddleware)
	s.echo.POST("/rewards", s.handleUpsertReward, s.requireAuth, csrfMiddleware)
	s.echo.DELETE("/rewards/:title", s.handleDeleteReward, s.requireAuth, csrfMiddleware)
	s.echo.POST("/rewards/create-on-twitch", s.handleCreateOnTwitch, s.requireAuth, csrfMiddleware)
	s.echo.POST("/simulate", s.handleSimulate, s.requireAuth, csrfMiddleware)
}

func (s *Server) handleListRewards(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.rewards.All()); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// upsertRewardRequest accepts "file" as an alias for "media".
type upsertRewardRequest struct {
	Title string `json:"title"`
	Media string `json:"media"`
	File  string `json:"file"`
}

type rewardEntry struct {
	Title string `json:"title"`
	Media string `json:"media"`
}

func (s *Server) handleUpsertReward(c echo.Context) error {
	var req upsertRewardRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	title := strings.TrimSpace(req.Title)
	media := strings.TrimSpace(req.Media)
	if media == "" {
		media = strings.TrimSpace(req.File)
	}
	if title == "" {
		return apperrors.ValidationError("title is required")
	}
	if media == "" {
		return apperrors.ValidationError("media is required").WithField("title", title)
	}

	if err := s.rewards.Upsert(title, media); err != nil {
		return apperrors.InternalError("failed to save reward mapping", err).WithField("title", title)
	}

	slog.InfoContext(c.Request().Context(), "Reward mapping saved", "title", title, "media", media)

	if err := c.JSON(http.StatusOK, rewardEntry{Title: title, Media: media}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleDeleteReward(c echo.Context) error {
	title := c.Param("title")
	if unescaped, err := url.PathUnescape(title); err == nil {
		title = unescaped
	}

	removed, err := s.rewards.Delete(title)
	if err != nil {
		return apperrors.InternalError("failed to delete reward mapping", err).WithField("title", title)
	}
	if !removed {
		return apperrors.NotFoundError("reward not found").WithField("title", title)
	}

	slog.InfoContext(c.Request().Context(), "Reward mapping deleted", "title", title)
	return c.NoContent(http.StatusNoContent)
}

type createOnTwitchRequest struct {
	Title  string `json:"title"`
	Cost   int    `json:"cost"`
	Prompt string `json:"prompt"`
	Media  string `json:"media"`
}

func (r createOnTwitchRequest) validate() error {
	switch {
	case strings.TrimSpace(r.Title) == "":
		return apperrors.ValidationError("title is required")
	case utf8.RuneCountInString(r.Title) > maxRewardTitleLength:
		return apperrors.ValidationError(fmt.Sprintf("title must be at most %d characters", maxRewardTitleLength))
	case r.Cost <= 0:
		return apperrors.ValidationError("cost must be positive")
	case utf8.RuneCountInString(r.Prompt) > maxRewardPromptLength:
		return apperrors.ValidationError(fmt.Sprintf("prompt must be at most %d characters", maxRewardPromptLength))
	}
	return nil
}

func (s *Server) handleCreateOnTwitch(c echo.Context) error {
	auth, err := authFromContext(c)
	if err != nil {
		return err
	}

	var req createOnTwitchRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	req.Title = strings.TrimSpace(req.Title)
	if err := req.validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.TwitchAPITimeout)
	defer cancel()

	reward, err := s.creator.CreateCustomReward(ctx, *auth, domain.CustomRewardRequest{
		Title:  req.Title,
		Cost:   req.Cost,
		Prompt: req.Prompt,
	})
	if err != nil {
		return upstreamError("failed to create reward on Twitch", err).WithField("title", req.Title)
	}

	if media := strings.TrimSpace(req.Media); media != "" {
		if err := s.rewards.Upsert(reward.Title, media); err != nil {
			return apperrors.InternalError("reward created on Twitch but mapping could not be saved", err).
				WithField("reward_id", reward.ID)
		}
	}

	slog.InfoContext(ctx, "Custom reward created", "reward_id", reward.ID, "title", reward.Title, "cost", reward.Cost)

	if err := c.JSON(http.StatusCreated, reward); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type simulateRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleSimulate(c echo.Context) error {
	auth, err := authFromContext(c)
	if err != nil {
		return err
	}

	var req simulateRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	media, ok := s.rewards.Lookup(req.Title)
	if !ok {
		return apperrors.NotFoundError("reward not found").WithField("title", req.Title)
	}

	delivered, err := s.hub.Broadcast(c.Request().Context(), domain.NewPlayEvent(media, req.Title, auth.DisplayName))
	if err != nil {
		return apperrors.InternalError("failed to broadcast", err)
	}
	metrics.BroadcasterEventsTotal.WithLabelValues("simulate").Inc()

	slog.InfoContext(c.Request().Context(), "Simulated redemption", "title", req.Title, "media", media, "delivered", delivered)

	if err := c.JSON(http.StatusOK, map[string]any{"status": "ok", "delivered": delivered}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// upstreamError surfaces the Twitch message to the admin page when there is one.
func upstreamError(fallback string, err error) *apperrors.Error {
	var apiErr *twitch.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apperrors.ExternalError(apiErr.Message, err).WithField("twitch_status", apiErr.StatusCode)
	}
	return apperrors.ExternalError(fallback, err)
}
