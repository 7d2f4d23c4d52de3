package server

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/redeemcast/internal/crypto"
	"github.com/pscheid92/redeemcast/internal/domain"
	"github.com/pscheid92/redeemcast/internal/overlay"
	"github.com/pscheid92/redeemcast/internal/platform/config"
	"github.com/pscheid92/redeemcast/web"
)

type authClient interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*domain.AuthSession, error)
}

type overlayTokens interface {
	Issue(broadcasterUserID string) (string, error)
	Verify(token string) (*overlay.Claims, error)
}

// overlayHub is the broadcaster as seen by the HTTP layer.
type overlayHub interface {
	domain.Broadcaster
	Register(conn *websocket.Conn) (uuid.UUID, error)
	Unregister(id uuid.UUID)
	ClientCount() int
}

type webhookHandler interface {
	HandleEventSub(c echo.Context) error
}

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Auth         authClient
	Rewards      domain.RewardStore
	Creator      domain.RewardCreator
	EventSub     domain.EventSubRegistrar
	Hub          overlayHub
	Webhook      webhookHandler
	Overlay      overlayTokens
	Sealer       crypto.Sealer
	HealthChecks []HealthCheck
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	auth     authClient
	rewards  domain.RewardStore
	creator  domain.RewardCreator
	eventsub domain.EventSubRegistrar
	hub      overlayHub
	webhook  webhookHandler
	overlay  overlayTokens
	sealer   crypto.Sealer

	templates    *template.Template
	sessionStore *sessions.CookieStore
	wsLimits     *ConnectionLimits
	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	templates, err := template.ParseFS(web.TemplateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	sealer := deps.Sealer
	if sealer == nil {
		sealer = crypto.Plain{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		auth:         deps.Auth,
		rewards:      deps.Rewards,
		creator:      deps.Creator,
		eventsub:     deps.EventSub,
		hub:          deps.Hub,
		webhook:      deps.Webhook,
		overlay:      deps.Overlay,
		sealer:       sealer,
		templates:    templates,
		sessionStore: setupSessionStore(cfg),
		wsLimits:     NewConnectionLimits(wsMaxPerIP, wsConnectRate, wsConnectBurst),
		healthChecks: deps.HealthChecks,
		startTime:    time.Now(),
	}

	srv.registerRoutes()

	return srv, nil
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP lets the server be mounted on an httptest.Server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) renderTemplate(c echo.Context, name string, data any) error {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.ErrorContext(c.Request().Context(), "Template execution failed", "path", c.Request().URL.Path, "error", err)
		if err := c.String(http.StatusInternalServerError, "Failed to render page"); err != nil {
			return fmt.Errorf("failed to send error response: %w", err)
		}
		return nil
	}
	if err := c.HTMLBlob(http.StatusOK, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to send HTML response: %w", err)
	}
	return nil
}

func (s *Server) getBaseURL(c echo.Context) string {
	scheme := "http"
	if c.Request().TLS != nil {
		scheme = "https"
	}
	if fwdProto := c.Request().Header.Get("X-Forwarded-Proto"); fwdProto == "http" || fwdProto == "https" {
		scheme = fwdProto
	}
	return fmt.Sprintf("%s://%s", scheme, c.Request().Host)
}

func setupSessionStore(cfg *config.Config) *sessions.CookieStore {
	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}
	return sessionStore
}
