package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/redeemcast/internal/domain"
	apperrors "github.com/pscheid92/redeemcast/internal/errors"
)

// Session keys
const (
	sessionName           = "redeemcast-session"
	sessionKeyBroadcaster = "broadcaster_user_id"
	sessionKeyLogin       = "login"
	sessionKeyDisplayName = "display_name"
	sessionKeyToken       = "access_token"
	sessionKeyOAuthState  = "oauth_state"

	csrfCookieName = "csrf_token"

	// contextKeySession holds the *domain.AuthSession set by requireAuth.
	contextKeySession = "authSession"
)

// currentSession returns the broadcaster identity stored in the session cookie.
// A cookie whose sealed token no longer opens counts as logged out.
func (s *Server) currentSession(c echo.Context) (*domain.AuthSession, bool) {
	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		return nil, false
	}

	broadcasterID, _ := session.Values[sessionKeyBroadcaster].(string)
	sealed, _ := session.Values[sessionKeyToken].(string)
	if broadcasterID == "" || sealed == "" {
		return nil, false
	}

	token, err := s.sealer.Open(sealed, broadcasterID)
	if err != nil {
		slog.WarnContext(c.Request().Context(), "Session token did not open, treating as logged out",
			"broadcaster_user_id", broadcasterID, "error", err)
		return nil, false
	}

	login, _ := session.Values[sessionKeyLogin].(string)
	displayName, _ := session.Values[sessionKeyDisplayName].(string)

	return &domain.AuthSession{
		AccessToken:       token,
		BroadcasterUserID: broadcasterID,
		Login:             login,
		DisplayName:       displayName,
	}, true
}

// saveAuthSession replaces everything in the session with the new identity.
// Dropping the old values (including the OAuth state) keeps anything set
// before login from surviving into the authenticated session.
func (s *Server) saveAuthSession(c echo.Context, session *sessions.Session, auth *domain.AuthSession) error {
	sealed, err := s.sealer.Seal(auth.AccessToken, auth.BroadcasterUserID)
	if err != nil {
		return apperrors.InternalError("failed to seal access token", err)
	}

	session.Values = map[any]any{
		sessionKeyBroadcaster: auth.BroadcasterUserID,
		sessionKeyLogin:       auth.Login,
		sessionKeyDisplayName: auth.DisplayName,
		sessionKeyToken:       sealed,
	}
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to save session", err)
	}
	return nil
}

// requireAuth guards the JSON API. It must run before the CSRF middleware so
// anonymous callers get 401 rather than a CSRF error.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		auth, ok := s.currentSession(c)
		if !ok {
			return apperrors.UnauthorizedError("not authenticated")
		}
		c.Set("broadcasterUserID", auth.BroadcasterUserID)
		c.Set(contextKeySession, auth)
		return next(c)
	}
}

// requirePageAuth guards HTML pages by sending anonymous visitors to login.
func (s *Server) requirePageAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		auth, ok := s.currentSession(c)
		if !ok {
			return c.Redirect(http.StatusFound, "/auth/start")
		}
		c.Set("broadcasterUserID", auth.BroadcasterUserID)
		c.Set(contextKeySession, auth)
		return next(c)
	}
}

func authFromContext(c echo.Context) (*domain.AuthSession, error) {
	auth, ok := c.Get(contextKeySession).(*domain.AuthSession)
	if !ok {
		return nil, apperrors.InternalError("missing session in context", nil)
	}
	return auth, nil
}

// redactToken hides overlay tokens in logged URIs.
func redactToken(uri string) string {
	if !strings.Contains(uri, "token=") {
		return uri
	}
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
