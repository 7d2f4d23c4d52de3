package server

import (
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperrors "github.com/pscheid92/redeemcast/internal/errors"
)

func (s *Server) registerAdminRoutes(csrfMiddleware echo.MiddlewareFunc) {
	s.echo.GET("/admin", s.handleAdmin, s.requirePageAuth, csrfMiddleware)
}

func (s *Server) handleAdmin(c echo.Context) error {
	auth, err := authFromContext(c)
	if err != nil {
		return err
	}

	token, err := s.overlay.Issue(auth.BroadcasterUserID)
	if err != nil {
		return apperrors.InternalError("failed to issue overlay token", err)
	}

	csrfToken, _ := c.Get(middleware.DefaultCSRFConfig.ContextKey).(string)
	displayName := auth.DisplayName
	if displayName == "" {
		displayName = auth.Login
	}

	data := map[string]any{
		"DisplayName": displayName,
		"CSRFToken":   csrfToken,
		"OverlayURL":  s.getBaseURL(c) + "/overlay?token=" + url.QueryEscape(token),
	}
	return s.renderTemplate(c, "admin.html", data)
}
