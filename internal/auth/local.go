package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_storefront/internal/backend"
	"github.com/fjod/go_storefront/internal/backend/sqlbackend"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// LocalAuthenticator keeps users in the SQL backend. Access tokens are HS256 JWTs;
// refresh tokens are random, stored hashed and rotated on every use.
type LocalAuthenticator struct {
	db         *sql.DB
	tokens     *TokenIssuer
	refreshTTL time.Duration
	cost       int
	now        func() time.Time
}

func NewLocalAuthenticator(db *sqlbackend.DB, tokens *TokenIssuer, refreshTTL time.Duration) *LocalAuthenticator {
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &LocalAuthenticator{
		db:         db.DB,
		tokens:     tokens,
		refreshTTL: refreshTTL,
		cost:       bcrypt.DefaultCost,
		now:        time.Now,
	}
}

func (a *LocalAuthenticator) SignUp(ctx context.Context, email, password string) (domain.Session, error) {
	email = normalizeEmail(email)
	if email == "" || len(password) < MinPasswordLength {
		return domain.Session{}, backend.ErrInvalidInput
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return domain.Session{}, fmt.Errorf("hash password: %w", err)
	}

	u := domain.User{ID: uuid.NewString(), Email: email, CreatedAt: a.now().UTC()}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)`,
		u.ID, u.Email, string(hash), u.CreatedAt)
	if sqlbackend.IsUniqueViolation(err) {
		return domain.Session{}, fmt.Errorf("email already registered: %w", backend.ErrConflict)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("insert user: %w", err)
	}
	return a.issue(ctx, u)
}

func (a *LocalAuthenticator) SignIn(ctx context.Context, email, password string) (domain.Session, error) {
	var u domain.User
	var hash string
	err := a.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, first_name, last_name, created_at FROM users WHERE email = $1`,
		normalizeEmail(email)).Scan(&u.ID, &u.Email, &hash, &u.FirstName, &u.LastName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, backend.ErrInvalidCredentials
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("query user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return domain.Session{}, backend.ErrInvalidCredentials
	}
	return a.issue(ctx, u)
}

// SignOut revokes every refresh token of the token's user.
func (a *LocalAuthenticator) SignOut(ctx context.Context, accessToken string) error {
	u, err := a.authenticate(accessToken)
	if err != nil {
		return err
	}
	if _, err := a.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, u.ID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return nil
}

func (a *LocalAuthenticator) GetUser(ctx context.Context, accessToken string) (domain.User, error) {
	claimed, err := a.authenticate(accessToken)
	if err != nil {
		return domain.User{}, err
	}
	return a.userByID(ctx, claimed.ID)
}

func (a *LocalAuthenticator) Refresh(ctx context.Context, refreshToken string) (domain.Session, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, fmt.Errorf("begin refresh: %w", err)
	}
	defer tx.Rollback()

	hash := hashToken(refreshToken)
	var userID string
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM refresh_tokens WHERE token_hash = $1`, hash).Scan(&userID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, backend.ErrUnauthorized
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("query refresh token: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, hash); err != nil {
		return domain.Session{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, fmt.Errorf("commit refresh: %w", err)
	}
	if !a.now().Before(expiresAt) {
		return domain.Session{}, backend.ErrUnauthorized
	}

	u, err := a.userByID(ctx, userID)
	if err != nil {
		return domain.Session{}, err
	}
	return a.issue(ctx, u)
}

func (a *LocalAuthenticator) UpdateUser(ctx context.Context, accessToken string, update domain.UserUpdate) (domain.User, error) {
	claimed, err := a.authenticate(accessToken)
	if err != nil {
		return domain.User{}, err
	}

	if update.Email != "" {
		_, err := a.db.ExecContext(ctx,
			`UPDATE users SET email = $1, updated_at = $2 WHERE id = $3`,
			normalizeEmail(update.Email), a.now().UTC(), claimed.ID)
		if sqlbackend.IsUniqueViolation(err) {
			return domain.User{}, fmt.Errorf("email already registered: %w", backend.ErrConflict)
		}
		if err != nil {
			return domain.User{}, fmt.Errorf("update email: %w", err)
		}
	}
	if update.Password != "" {
		if len(update.Password) < MinPasswordLength {
			return domain.User{}, backend.ErrInvalidInput
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(update.Password), a.cost)
		if err != nil {
			return domain.User{}, fmt.Errorf("hash password: %w", err)
		}
		if _, err := a.db.ExecContext(ctx,
			`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`,
			string(hash), a.now().UTC(), claimed.ID); err != nil {
			return domain.User{}, fmt.Errorf("update password: %w", err)
		}
	}
	return a.userByID(ctx, claimed.ID)
}

func (a *LocalAuthenticator) authenticate(accessToken string) (domain.User, error) {
	u, _, err := a.tokens.Parse(accessToken)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", backend.ErrUnauthorized, err)
	}
	return u, nil
}

func (a *LocalAuthenticator) userByID(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := a.db.QueryRowContext(ctx,
		`SELECT id, email, first_name, last_name, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, backend.ErrUnauthorized
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

func (a *LocalAuthenticator) issue(ctx context.Context, u domain.User) (domain.Session, error) {
	access, expiresAt, err := a.tokens.Issue(u)
	if err != nil {
		return domain.Session{}, err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return domain.Session{}, fmt.Errorf("generate refresh token: %w", err)
	}
	refresh := base64.RawURLEncoding.EncodeToString(raw)
	if _, err := a.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (token_hash, user_id, expires_at) VALUES ($1, $2, $3)`,
		hashToken(refresh), u.ID, a.now().Add(a.refreshTTL).UTC()); err != nil {
		return domain.Session{}, fmt.Errorf("store refresh token: %w", err)
	}

	return domain.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
		User:         u,
	}, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
