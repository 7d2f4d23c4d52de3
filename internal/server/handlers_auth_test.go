package server

import (
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/pscheid92/redeemcast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startLogin runs /auth/start and returns the session cookie and OAuth state.
func startLogin(t *testing.T, h *harness) (*http.Cookie, string) {
	t.Helper()
	rec := h.do(t, http.MethodGet, "/auth/start", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	return findCookie(t, rec.Result().Cookies(), sessionName), state
}

func TestHandleAuthStart_RedirectsToTwitch(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/auth/start", nil)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), testAuthorizeURL)

	cookie := findCookie(t, rec.Result().Cookies(), sessionName)
	assert.True(t, cookie.HttpOnly)
}

func TestHandleAuthStart_StateIsRandom(t *testing.T) {
	h := newHarness(t)

	_, first := startLogin(t, h)
	_, second := startLogin(t, h)

	assert.Len(t, first, 32)
	assert.NotEqual(t, first, second)
}

func TestHandleOAuthCallback_Success(t *testing.T) {
	h := newHarness(t)
	cookie, state := startLogin(t, h)

	rec := h.do(t, http.MethodGet, "/auth/callback?code=good-code&state="+state, nil, withCookies(cookie))

	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	assert.Equal(t, "/admin", rec.Header().Get("Location"))
	assert.Equal(t, []string{"good-code"}, h.auth.exchanged)
	assert.Equal(t, []string{testBroadcasterID}, h.eventsub.registrations())

	// The new cookie carries the broadcaster identity.
	authed := findCookie(t, rec.Result().Cookies(), sessionName)
	status := h.do(t, http.MethodGet, "/auth/status", nil, withCookies(authed))
	resp := decodeJSON[authStatusResponse](t, status)
	assert.True(t, resp.Authenticated)
	assert.Equal(t, testBroadcasterID, resp.BroadcasterUserID)
	assert.Equal(t, testDisplayName, resp.DisplayName)
}

func TestHandleOAuthCallback_StateCannotBeReused(t *testing.T) {
	h := newHarness(t)
	cookie, state := startLogin(t, h)

	rec := h.do(t, http.MethodGet, "/auth/callback?code=c&state="+state, nil, withCookies(cookie))
	require.Equal(t, http.StatusFound, rec.Code)
	authed := findCookie(t, rec.Result().Cookies(), sessionName)

	rec = h.do(t, http.MethodGet, "/auth/callback?code=c&state="+state, nil, withCookies(authed))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleOAuthCallback_EventSubFailureStillLogsIn(t *testing.T) {
	h := newHarness(t)
	h.eventsub.err = errors.New("twitch down")
	cookie, state := startLogin(t, h)

	rec := h.do(t, http.MethodGet, "/auth/callback?code=c&state="+state, nil, withCookies(cookie))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/admin", rec.Header().Get("Location"))
}

func TestHandleOAuthCallback_EventSubGetsItsOwnTimeout(t *testing.T) {
	h := newHarness(t)
	h.cfg.TwitchAPITimeout = 200 * time.Millisecond
	h.auth.delay = 120 * time.Millisecond
	cookie, state := startLogin(t, h)

	rec := h.do(t, http.MethodGet, "/auth/callback?code=slow&state="+state, nil, withCookies(cookie))
	require.Equal(t, http.StatusFound, rec.Code)

	h.eventsub.mu.Lock()
	defer h.eventsub.mu.Unlock()
	require.Len(t, h.eventsub.registered, 1)
	require.NoError(t, h.eventsub.ctxErr)
	require.False(t, h.eventsub.deadline.IsZero())
	assert.GreaterOrEqual(t, h.eventsub.deadline.Sub(h.auth.deadline), 100*time.Millisecond,
		"subscription call must not inherit what is left of the code exchange budget")
}

func TestHandleOAuthCallback_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		query      func(state string) string
		withCookie bool
		exchange   error
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing code",
			query:      func(state string) string { return "?state=" + state },
			withCookie: true,
			wantStatus: http.StatusBadRequest,
			wantError:  "missing code parameter",
		},
		{
			name:       "no state in session",
			query:      func(state string) string { return "?code=c&state=" + state },
			withCookie: false,
			wantStatus: http.StatusBadRequest,
			wantError:  "missing OAuth state",
		},
		{
			name:       "state mismatch",
			query:      func(string) string { return "?code=c&state=forged" },
			withCookie: true,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid OAuth state",
		},
		{
			name:       "user denied access",
			query:      func(state string) string { return "?error=access_denied&state=" + state },
			withCookie: true,
			wantStatus: http.StatusBadRequest,
			wantError:  "authorization was not granted",
		},
		{
			name:       "exchange fails",
			query:      func(state string) string { return "?code=c&state=" + state },
			withCookie: true,
			exchange:   errors.New("invalid authorization code"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "failed to authenticate with Twitch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.auth.err = tt.exchange
			if tt.exchange != nil {
				h.auth.session = nil
			}
			cookie, state := startLogin(t, h)

			var opts []requestOption
			if tt.withCookie {
				opts = append(opts, withCookies(cookie))
			}
			rec := h.do(t, http.MethodGet, "/auth/callback"+tt.query(state), nil, opts...)

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeJSON[map[string]any](t, rec)
			assert.Equal(t, tt.wantError, resp["error"])
			assert.Empty(t, h.eventsub.registrations())
		})
	}
}

func TestHandleAuthStatus_Anonymous(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/auth/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"authenticated":false}`, rec.Body.String())
}

func TestHandleAuthStatus_NeverExposesToken(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/auth/status", nil, withCookies(h.sessionCookie(t)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), testAccessToken)
	assert.Contains(t, rec.Body.String(), testBroadcasterID)
}

func TestSession_TokenSealedForAnotherBroadcasterIsRejected(t *testing.T) {
	h := newHarness(t)
	req, rec := newRecorderPair()

	session, err := h.srv.sessionStore.New(req, sessionName)
	require.NoError(t, err)
	sealed, err := h.sealer.Seal(testAccessToken, "someone-else")
	require.NoError(t, err)
	session.Values[sessionKeyBroadcaster] = testBroadcasterID
	session.Values[sessionKeyToken] = sealed
	require.NoError(t, session.Save(req, rec))
	cookie := findCookie(t, rec.Result().Cookies(), sessionName)

	status := h.do(t, http.MethodGet, "/auth/status", nil, withCookies(cookie))
	assert.JSONEq(t, `{"authenticated":false}`, status.Body.String())

	rewards := h.do(t, http.MethodGet, "/rewards", nil, withCookies(cookie))
	assert.Equal(t, http.StatusUnauthorized, rewards.Code)
}

func TestHandleLogout(t *testing.T) {
	t.Run("anonymous gets 401", func(t *testing.T) {
		h := newHarness(t)
		rec := h.do(t, http.MethodPost, "/auth/logout", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing CSRF token is rejected", func(t *testing.T) {
		h := newHarness(t)
		rec := h.do(t, http.MethodPost, "/auth/logout", nil, withCookies(h.sessionCookie(t), csrfCookie()))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("clears the session", func(t *testing.T) {
		h := newHarness(t)

		rec := h.doAuthed(t, http.MethodPost, "/auth/logout", nil)

		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/", rec.Header().Get("Location"))
		cleared := findCookie(t, rec.Result().Cookies(), sessionName)
		assert.Less(t, cleared.MaxAge, 0)
	})
}

func TestRequireAuth_AllowsLoggedInBroadcaster(t *testing.T) {
	h := newHarness(t)

	rec := h.doAuthed(t, http.MethodGet, "/rewards", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RewardMapping{}, decodeJSON[domain.RewardMapping](t, rec))
}
