package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fjod/go_storefront/internal/backend"
	"github.com/fjod/go_storefront/internal/domain"
)

// Auth adapts the GoTrue endpoints to backend.Authenticator.
type Auth struct {
	client *Client
	now    func() time.Time
}

func (c *Client) Auth() *Auth {
	return &Auth{client: c, now: time.Now}
}

type authResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         *user  `json:"user"`
	ID           string `json:"id"`
	Email        string `json:"email"`
}

type user struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	CreatedAt    string         `json:"created_at"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (u user) toDomain() domain.User {
	out := domain.User{ID: u.ID, Email: u.Email}
	if t, err := time.Parse(time.RFC3339Nano, u.CreatedAt); err == nil {
		out.CreatedAt = t
	}
	if v, ok := u.UserMetadata["first_name"].(string); ok {
		out.FirstName = v
	}
	if v, ok := u.UserMetadata["last_name"].(string); ok {
		out.LastName = v
	}
	return out
}

func (a *Auth) SignUp(ctx context.Context, email, password string) (domain.Session, error) {
	resp, err := a.post(ctx, "/auth/v1/signup", "", credentials(email, password))
	if err != nil {
		return domain.Session{}, fmt.Errorf("sign up: %w", err)
	}
	return a.session(resp)
}

func (a *Auth) SignIn(ctx context.Context, email, password string) (domain.Session, error) {
	resp, err := a.post(ctx, "/auth/v1/token?grant_type=password", "", credentials(email, password))
	if err != nil {
		return domain.Session{}, fmt.Errorf("sign in: %w", err)
	}
	return a.session(resp)
}

func (a *Auth) Refresh(ctx context.Context, refreshToken string) (domain.Session, error) {
	resp, err := a.post(ctx, "/auth/v1/token?grant_type=refresh_token", "", map[string]string{
		"refresh_token": refreshToken,
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("refresh session: %w", err)
	}
	return a.session(resp)
}

func (a *Auth) SignOut(ctx context.Context, accessToken string) error {
	if _, err := a.post(ctx, "/auth/v1/logout", accessToken, nil); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

func (a *Auth) GetUser(ctx context.Context, accessToken string) (domain.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.client.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return domain.User{}, fmt.Errorf("create request: %w", err)
	}
	a.client.setHeaders(backend.WithAccessToken(ctx, accessToken), req)

	resp, err := a.client.send(req)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}

	var u user
	if err := resp.JSON(&u); err != nil {
		return domain.User{}, fmt.Errorf("unmarshal response: %w", err)
	}
	return u.toDomain(), nil
}

func (a *Auth) UpdateUser(ctx context.Context, accessToken string, update domain.UserUpdate) (domain.User, error) {
	body, err := json.Marshal(update)
	if err != nil {
		return domain.User{}, fmt.Errorf("marshal update: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, a.client.baseURL+"/auth/v1/user", bytes.NewReader(body))
	if err != nil {
		return domain.User{}, fmt.Errorf("create request: %w", err)
	}
	a.client.setHeaders(backend.WithAccessToken(ctx, accessToken), req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.send(req)
	if err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}

	var u user
	if err := resp.JSON(&u); err != nil {
		return domain.User{}, fmt.Errorf("unmarshal response: %w", err)
	}
	return u.toDomain(), nil
}

func (a *Auth) post(ctx context.Context, path, accessToken string, payload any) (*Response, error) {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.client.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if accessToken != "" {
		ctx = backend.WithAccessToken(ctx, accessToken)
	}
	a.client.setHeaders(ctx, req)
	req.Header.Set("Content-Type", "application/json")

	return a.client.send(req)
}

// session builds a domain session. Sign-up with email confirmation enabled returns
// a bare user, which becomes a session without tokens.
func (a *Auth) session(resp *Response) (domain.Session, error) {
	var ar authResponse
	if err := resp.JSON(&ar); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal response: %w", err)
	}

	s := domain.Session{
		AccessToken:  ar.AccessToken,
		RefreshToken: ar.RefreshToken,
	}
	switch {
	case ar.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(ar.ExpiresAt, 0)
	case ar.ExpiresIn > 0:
		s.ExpiresAt = a.now().Add(time.Duration(ar.ExpiresIn) * time.Second)
	}

	if ar.User != nil {
		s.User = ar.User.toDomain()
	} else if ar.ID != "" {
		s.User = domain.User{ID: ar.ID, Email: ar.Email}
	}
	return s, nil
}

func credentials(email, password string) map[string]string {
	return map[string]string{
		"email":    email,
		"password": password,
	}
}
