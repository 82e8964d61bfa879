// Package backend describes the capabilities the storefront consumes from its data
// backend: row queries, authentication, object storage and change notification.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fjod/go_storefront/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("already exists")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnavailable        = errors.New("backend unavailable")
)

// Rows is the JSON-encoded result of a select.
type Rows []json.RawMessage

// DecodeRows unmarshals every row into a T.
func DecodeRows[T any](rows Rows) ([]T, error) {
	out := make([]T, 0, len(rows))
	for i, raw := range rows {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode row %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

type Condition struct {
	Column string
	Value  any
}

// Filter narrows a select. The zero value selects every row in table order.
type Filter struct {
	Columns    string
	Conditions []Condition
	OrderBy    string
	Descending bool
	Limit      int
}

func (f Filter) Eq(column string, value any) Filter {
	f.Conditions = append(append([]Condition(nil), f.Conditions...), Condition{Column: column, Value: value})
	return f
}

func (f Filter) Order(column string, descending bool) Filter {
	f.OrderBy = column
	f.Descending = descending
	return f
}

func (f Filter) Take(n int) Filter {
	f.Limit = n
	return f
}

func (f Filter) Select(columns string) Filter {
	f.Columns = columns
	return f
}

// Querier reads and writes table rows.
type Querier interface {
	Select(ctx context.Context, table string, f Filter) (Rows, error)
	Insert(ctx context.Context, table string, rows any) (Rows, error)
}

// Authenticator manages users and token sessions.
type Authenticator interface {
	SignUp(ctx context.Context, email, password string) (domain.Session, error)
	SignIn(ctx context.Context, email, password string) (domain.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (domain.User, error)
	Refresh(ctx context.Context, refreshToken string) (domain.Session, error)
	UpdateUser(ctx context.Context, accessToken string, update domain.UserUpdate) (domain.User, error)
}

// ObjectStorage stores product imagery.
type ObjectStorage interface {
	Upload(ctx context.Context, path string, body io.Reader, contentType string) error
	Download(ctx context.Context, path string) ([]byte, error)
	Remove(ctx context.Context, paths ...string) error
	PublicURL(path string) string
}

type ChangeEvent string

const (
	EventInsert ChangeEvent = "INSERT"
	EventUpdate ChangeEvent = "UPDATE"
	EventDelete ChangeEvent = "DELETE"
	EventAll    ChangeEvent = "*"
)

// Change is one row-level change notification.
type Change struct {
	Table  string
	Type   ChangeEvent
	Record map[string]any
	Old    map[string]any
}

// ChangeFeed delivers row changes until the returned cancel func is called.
type ChangeFeed interface {
	Subscribe(ctx context.Context, table string, event ChangeEvent, handler func(Change)) (cancel func(), err error)
}

type tokenKey struct{}

// WithAccessToken makes queries on ctx run as the signed-in user.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func AccessToken(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey{}).(string)
	return t
}
