package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileMiddleware_IssuesCookieOnce(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	issued := findCookie(rec, ProfileCookie)
	require.NotNil(t, issued)
	_, err := uuid.Parse(issued.Value)
	assert.NoError(t, err)
	assert.True(t, issued.HttpOnly)

	rec = env.do("GET", "/health", "", "")
	assert.Nil(t, findCookie(rec, ProfileCookie))
}

func TestProfileMiddleware_ReplacesGarbageCookie(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/health", nil)
	req.AddCookie(&http.Cookie{Name: ProfileCookie, Value: "not-a-uuid"})
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	issued := findCookie(rec, ProfileCookie)
	require.NotNil(t, issued)
	assert.NotEqual(t, "not-a-uuid", issued.Value)
}

func TestCartsAreKeyedByProfile(t *testing.T) {
	env := newTestEnv(t)
	env.do("POST", "/api/v1/cart/lines", `{"productId":"p1","quantity":1}`, "")

	req := httptest.NewRequest("GET", "/api/v1/cart", nil)
	req.AddCookie(&http.Cookie{Name: ProfileCookie, Value: uuid.NewString()})
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Empty(t, decodeCart(t, rec.Body.Bytes()).Lines)
}

func TestSessionMiddleware_RefreshesExpiredSession(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: ProfileCookie, Value: testProfile})
	req.AddCookie(&http.Cookie{Name: RefreshCookie, Value: "good-refresh"})
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	access := findCookie(rec, AccessCookie)
	require.NotNil(t, access)
	assert.Equal(t, "rotated", access.Value)
	refresh := findCookie(rec, RefreshCookie)
	require.NotNil(t, refresh)
	assert.Equal(t, "refresh-rotated", refresh.Value)
}

func TestSessionMiddleware_RevokedClearsCookies(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/api/v1/auth/session", "", "revoked")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	access := findCookie(rec, AccessCookie)
	require.NotNil(t, access)
	assert.Empty(t, access.Value)
}

func TestSessionMiddleware_BackendFailureKeepsCookies(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/api/v1/auth/session", "", "broken")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, findCookie(rec, AccessCookie))
}

func TestRequireSession_PageRedirect(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/dashboard/orders", "", "")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/login?redirectTo=%2Fdashboard%2Forders", rec.Header().Get("Location"))

	rec = env.do("GET", "/dashboard", "", "valid")
	assert.NotEqual(t, http.StatusSeeOther, rec.Code)

	// prefix match is per path segment
	rec = env.do("GET", "/profiles", "", "")
	assert.NotEqual(t, http.StatusSeeOther, rec.Code)
}

func TestLoginRedirect(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/auth/login?redirectTo=/settings", "", "valid")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/settings", rec.Header().Get("Location"))

	rec = env.do("GET", "/auth/login?redirectTo=//evil.example", "", "valid")
	assert.Equal(t, "/", rec.Header().Get("Location"))

	rec = env.do("GET", "/auth/login?redirectTo=/settings", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"authenticated":false,"redirectTo":"/settings"}`, rec.Body.String())
}

func TestSafeRedirect(t *testing.T) {
	tests := map[string]string{
		"":                   "/",
		"/profile":           "/profile",
		"https://evil.test":  "/",
		"//evil.test":        "/",
		`/\evil.test`:        "/",
		"/orders?page=2":     "/orders?page=2",
		"javascript:alert()": "/",
	}
	for in, want := range tests {
		assert.Equal(t, want, safeRedirect(in), in)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(addr string) int {
		req := httptest.NewRequest("POST", "/api/v1/auth/signin", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, send("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:1002"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1000"))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/health", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
