package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired = errors.New("access token expired")
	ErrInvalidToken = errors.New("invalid access token")
)

// Claims follows the layout of Supabase access tokens so both backends share one verifier.
type Claims struct {
	Email        string         `json:"email"`
	Role         string         `json:"role,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

func (c Claims) user() domain.User {
	u := domain.User{ID: c.Subject, Email: c.Email}
	if v, ok := c.UserMetadata["first_name"].(string); ok {
		u.FirstName = v
	}
	if v, ok := c.UserMetadata["last_name"].(string); ok {
		u.LastName = v
	}
	if c.IssuedAt != nil {
		u.CreatedAt = c.IssuedAt.Time
	}
	return u
}

// TokenIssuer signs and parses HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *TokenIssuer) Issue(u domain.User) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl).Truncate(time.Second)
	claims := Claims{
		Email: u.Email,
		Role:  "authenticated",
		UserMetadata: map[string]any{
			"first_name": u.FirstName,
			"last_name":  u.LastName,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Audience:  jwt.ClaimStrings{"authenticated"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies token and returns its user and expiry.
func (t *TokenIssuer) Parse(token string) (domain.User, time.Time, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(t.now), jwt.WithExpirationRequired())
	if errors.Is(err, jwt.ErrTokenExpired) {
		return domain.User{}, time.Time{}, ErrTokenExpired
	}
	if err != nil {
		return domain.User{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return domain.User{}, time.Time{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.user(), claims.ExpiresAt.Time, nil
}

type UserLookup interface {
	GetUser(ctx context.Context, accessToken string) (domain.User, error)
}

// Verifier checks access tokens locally when the signing secret is known and asks
// the backend otherwise.
type Verifier struct {
	local  *TokenIssuer
	remote UserLookup
	now    func() time.Time
}

// NewVerifier accepts an empty secret, in which case every token goes to remote.
func NewVerifier(secret string, remote UserLookup) *Verifier {
	v := &Verifier{remote: remote, now: time.Now}
	if secret != "" {
		v.local = NewTokenIssuer(secret, 0)
	}
	return v
}

func (v *Verifier) Verify(ctx context.Context, token string) (domain.User, time.Time, error) {
	if token == "" {
		return domain.User{}, time.Time{}, ErrInvalidToken
	}
	if v.local != nil {
		u, exp, err := v.local.Parse(token)
		if err == nil || errors.Is(err, ErrTokenExpired) || v.remote == nil {
			return u, exp, err
		}
	}
	if v.remote == nil {
		return domain.User{}, time.Time{}, ErrInvalidToken
	}

	// read exp without the key so an expired token is refreshed rather than sent upstream
	var claims Claims
	var exp time.Time
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err == nil && claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
		if !v.now().Before(exp) {
			return domain.User{}, time.Time{}, ErrTokenExpired
		}
	}

	u, err := v.remote.GetUser(ctx, token)
	if err != nil {
		return domain.User{}, time.Time{}, err
	}
	return u, exp, nil
}
