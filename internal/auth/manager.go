package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_storefront/internal/backend"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/sirupsen/logrus"
)

const MinPasswordLength = 6

var (
	ErrNoSession        = errors.New("no active session")
	ErrPasswordMismatch = errors.New("new passwords do not match")
	ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrEmailRequired    = errors.New("email is required")
)

// Manager runs session operations against the backend and publishes the resulting
// changes on its Broker.
type Manager struct {
	auth     backend.Authenticator
	verifier *Verifier
	broker   *Broker
	log      logrus.FieldLogger
}

func NewManager(a backend.Authenticator, verifier *Verifier, broker *Broker, log logrus.FieldLogger) *Manager {
	return &Manager{
		auth:     a,
		verifier: verifier,
		broker:   broker,
		log:      log.WithField("component", "auth"),
	}
}

func (m *Manager) Broker() *Broker { return m.broker }

// SignUp registers a user. The returned session is inactive when the backend
// asks for email confirmation first.
func (m *Manager) SignUp(ctx context.Context, profileID, email, password string) (domain.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return domain.Session{}, ErrEmailRequired
	}
	if len(password) < MinPasswordLength {
		return domain.Session{}, ErrPasswordTooShort
	}
	s, err := m.auth.SignUp(ctx, email, password)
	if err != nil {
		return domain.Session{}, err
	}
	if s.Active() {
		m.publish(EventSignedIn, profileID, &s.User)
	}
	return s, nil
}

func (m *Manager) SignIn(ctx context.Context, profileID, email, password string) (domain.Session, error) {
	s, err := m.auth.SignIn(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return domain.Session{}, err
	}
	m.publish(EventSignedIn, profileID, &s.User)
	return s, nil
}

// SignOut revokes the session upstream. A token the backend no longer accepts
// still counts as signed out.
func (m *Manager) SignOut(ctx context.Context, profileID, accessToken string) error {
	if accessToken != "" {
		err := m.auth.SignOut(ctx, accessToken)
		if err != nil && !errors.Is(err, backend.ErrUnauthorized) {
			return err
		}
	}
	m.publish(EventSignedOut, profileID, nil)
	return nil
}

// Session resolves the current session from cookie tokens, refreshing it when the
// access token has expired. refreshed reports whether new tokens were issued.
func (m *Manager) Session(ctx context.Context, profileID, accessToken, refreshToken string) (domain.Session, bool, error) {
	if accessToken != "" {
		u, exp, err := m.verifier.Verify(ctx, accessToken)
		switch {
		case err == nil:
			return domain.Session{AccessToken: accessToken, RefreshToken: refreshToken, ExpiresAt: exp, User: u}, false, nil
		case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrInvalidToken), errors.Is(err, backend.ErrUnauthorized):
		default:
			return domain.Session{}, false, err
		}
	}
	if refreshToken == "" {
		return domain.Session{}, false, ErrNoSession
	}

	s, err := m.auth.Refresh(ctx, refreshToken)
	if err != nil {
		if isRejected(err) {
			m.log.WithError(err).WithField("profile_id", profileID).Debug("refresh token rejected")
			return domain.Session{}, false, ErrNoSession
		}
		return domain.Session{}, false, fmt.Errorf("refresh session: %w", err)
	}
	m.publish(EventTokenRefreshed, profileID, &s.User)
	return s, true, nil
}

func (m *Manager) UpdateEmail(ctx context.Context, profileID, accessToken, email string) (domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return domain.User{}, ErrEmailRequired
	}
	return m.update(ctx, profileID, accessToken, domain.UserUpdate{Email: email})
}

func (m *Manager) UpdatePassword(ctx context.Context, profileID, accessToken, newPassword, confirmPassword string) (domain.User, error) {
	if newPassword != confirmPassword {
		return domain.User{}, ErrPasswordMismatch
	}
	if len(newPassword) < MinPasswordLength {
		return domain.User{}, ErrPasswordTooShort
	}
	return m.update(ctx, profileID, accessToken, domain.UserUpdate{Password: newPassword})
}

func (m *Manager) update(ctx context.Context, profileID, accessToken string, upd domain.UserUpdate) (domain.User, error) {
	u, err := m.auth.UpdateUser(ctx, accessToken, upd)
	if err != nil {
		return domain.User{}, err
	}
	m.publish(EventUserUpdated, profileID, &u)
	return u, nil
}

func (m *Manager) publish(t EventType, profileID string, u *domain.User) {
	m.broker.Publish(Event{Type: t, ProfileID: profileID, User: u, At: time.Now()})
}

func isRejected(err error) bool {
	return errors.Is(err, backend.ErrUnauthorized) ||
		errors.Is(err, backend.ErrInvalidCredentials) ||
		errors.Is(err, backend.ErrInvalidInput) ||
		errors.Is(err, backend.ErrNotFound)
}
