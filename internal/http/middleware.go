package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fjod/go_storefront/internal/auth"
	"github.com/fjod/go_storefront/internal/backend"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	ProfileCookie = "sf_profile"
	AccessCookie  = "sb-access-token"
	RefreshCookie = "sb-refresh-token"

	profileCookieMaxAge = 365 * 24 * 60 * 60
	refreshCookieMaxAge = 30 * 24 * 60 * 60
)

// ProtectedPaths need a signed-in session.
var ProtectedPaths = []string{"/api/v1/profile", "/api/v1/orders", "/dashboard", "/profile", "/settings"}

type ctxKey int

const (
	profileKey ctxKey = iota
	sessionKey
)

type CookieConfig struct {
	Secure bool
}

func (c CookieConfig) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (c CookieConfig) setSession(w http.ResponseWriter, s domain.Session, now time.Time) {
	accessAge := int(s.ExpiresAt.Sub(now).Seconds())
	if s.ExpiresAt.IsZero() || accessAge <= 0 {
		accessAge = 3600
	}
	http.SetCookie(w, c.cookie(AccessCookie, s.AccessToken, accessAge))
	if s.RefreshToken != "" {
		http.SetCookie(w, c.cookie(RefreshCookie, s.RefreshToken, refreshCookieMaxAge))
	}
}

func (c CookieConfig) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(AccessCookie, "", -1))
	http.SetCookie(w, c.cookie(RefreshCookie, "", -1))
}

// ProfileMiddleware identifies the browser profile by a long-lived cookie, issuing
// one on first visit. Carts are keyed by this id.
func ProfileMiddleware(cookies CookieConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			profileID := ""
			if c, err := r.Cookie(ProfileCookie); err == nil {
				if id, err := uuid.Parse(c.Value); err == nil {
					profileID = id.String()
				}
			}
			if profileID == "" {
				profileID = uuid.NewString()
				http.SetCookie(w, cookies.cookie(ProfileCookie, profileID, profileCookieMaxAge))
			}
			ctx := context.WithValue(r.Context(), profileKey, profileID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func profileFrom(ctx context.Context) string {
	id, _ := ctx.Value(profileKey).(string)
	return id
}

func sessionFrom(ctx context.Context) (domain.Session, bool) {
	s, ok := ctx.Value(sessionKey).(domain.Session)
	return s, ok
}

// SessionResolver resolves cookie tokens into a session.
type SessionResolver interface {
	Session(ctx context.Context, profileID, accessToken, refreshToken string) (domain.Session, bool, error)
}

// SessionMiddleware attaches the signed-in session, if any, to the request. Expired
// access tokens are refreshed and the new cookies written. Backend failures leave
// the request anonymous without touching the cookies.
func SessionMiddleware(sessions SessionResolver, cookies CookieConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access := cookieValue(r, AccessCookie)
			refresh := cookieValue(r, RefreshCookie)
			if access == "" && refresh == "" {
				next.ServeHTTP(w, r)
				return
			}

			s, refreshed, err := sessions.Session(r.Context(), profileFrom(r.Context()), access, refresh)
			switch {
			case err == nil:
				if refreshed {
					cookies.setSession(w, s, time.Now())
				}
				ctx := context.WithValue(r.Context(), sessionKey, s)
				ctx = backend.WithAccessToken(ctx, s.AccessToken)
				r = r.WithContext(ctx)
			case errors.Is(err, auth.ErrNoSession):
				cookies.clearSession(w)
			default:
				logger(r).WithError(err).Warn("session lookup failed, continuing anonymously")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession guards the protected paths. API calls get 401; page requests are
// sent to the login page with a redirectTo back to where they came from.
func RequireSession(paths []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isProtected(r.URL.Path, paths) {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := sessionFrom(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}
			if strings.HasPrefix(r.URL.Path, "/api/") {
				respondError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}
			target := url.URL{Path: "/auth/login", RawQuery: url.Values{"redirectTo": {r.URL.Path}}.Encode()}
			http.Redirect(w, r, target.String(), http.StatusSeeOther)
		})
	}
}

func isProtected(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// LoginRedirect sends signed-in visitors of /auth/login on to redirectTo.
func LoginRedirect(w http.ResponseWriter, r *http.Request) {
	redirectTo := safeRedirect(r.URL.Query().Get("redirectTo"))
	if _, ok := sessionFrom(r.Context()); ok {
		http.Redirect(w, r, redirectTo, http.StatusSeeOther)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"authenticated": false,
		"redirectTo":    redirectTo,
	})
}

// safeRedirect only allows same-site absolute paths.
func safeRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, `\`) {
		return "/"
	}
	return target
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// RateLimiter throttles requests per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	rate     rate.Limit
	burst    int
	idle     time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*visitor),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
	}
}

func (rl *RateLimiter) getLimiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.limiters[key]
	if !exists {
		if len(rl.limiters) >= 10_000 {
			rl.evictIdle(now)
		}
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	for k, v := range rl.limiters {
		if now.Sub(v.lastSeen) > rl.idle {
			delete(rl.limiters, k)
		}
	}
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if !rl.getLimiter(key, time.Now()).Allow() {
			logger(r).WithField("client", key).Warn("rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			respondError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
