package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fjod/go_storefront/internal/backend"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{URL: srv.URL + "/", APIKey: "anon-key", HTTPClient: srv.Client()})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresURLAndKey(t *testing.T) {
	_, err := New(Config{APIKey: "k"})
	assert.Error(t, err)

	_, err = New(Config{URL: "http://localhost"})
	assert.Error(t, err)
}

func TestSelect_BuildsPostgRESTQuery(t *testing.T) {
	var got *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Write([]byte(`[{"id":"1","slug":"raspberry-pi-4"}]`))
	})

	f := backend.Filter{}.Eq("category", "Electronics").Order("created_at", true).Take(10)
	rows, err := c.Select(context.Background(), "products", f)
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, "/rest/v1/products", got.URL.Path)
	q := got.URL.Query()
	assert.Equal(t, "*", q.Get("select"))
	assert.Equal(t, "eq.Electronics", q.Get("category"))
	assert.Equal(t, "created_at.desc", q.Get("order"))
	assert.Equal(t, "10", q.Get("limit"))
	assert.Equal(t, "anon-key", got.Header.Get("apikey"))
	assert.Equal(t, "Bearer anon-key", got.Header.Get("Authorization"))
}

func TestSelect_UsesUserTokenFromContext(t *testing.T) {
	var auth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	})

	_, err := c.Select(backend.WithAccessToken(context.Background(), "user-jwt"), "orders", backend.Filter{})
	require.NoError(t, err)

	assert.Equal(t, "Bearer user-jwt", auth)
}

func TestSelect_MapsErrors(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusNotFound, `{"message":"relation does not exist"}`, backend.ErrNotFound},
		{http.StatusNotAcceptable, `{"code":"PGRST116","message":"0 rows"}`, backend.ErrNotFound},
		{http.StatusUnauthorized, `{"message":"JWT expired"}`, backend.ErrUnauthorized},
		{http.StatusServiceUnavailable, `upstream down`, backend.ErrUnavailable},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(tc.body))
		})

		_, err := c.Select(context.Background(), "products", backend.Filter{})

		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
	}
}

func TestSelect_RefusedConnectionIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{URL: url, APIKey: "anon-key"})
	require.NoError(t, err)

	_, err = c.Select(context.Background(), "products", backend.Filter{})
	assert.ErrorIs(t, err, backend.ErrUnavailable)
}

func TestSelect_CanceledContextIsNotUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Select(ctx, "products", backend.Filter{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, backend.ErrUnavailable)
}

func TestInsert_PostsRepresentation(t *testing.T) {
	var body map[string]any
	var prefer string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		prefer = r.Header.Get("Prefer")
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[{"id":"abc","name":"Arduino Uno Rev3"}]`))
	})

	rows, err := c.Insert(context.Background(), "products", map[string]any{"name": "Arduino Uno Rev3"})
	require.NoError(t, err)

	assert.Len(t, rows, 1)
	assert.Equal(t, "return=representation", prefer)
	assert.Equal(t, "Arduino Uno Rev3", body["name"])
}

func TestAuth_SignInReturnsSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":3600,
			"user":{"id":"u1","email":"ada@example.com","created_at":"2024-01-02T03:04:05Z"}}`))
	})
	a := c.Auth()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	s, err := a.SignIn(context.Background(), "ada@example.com", "secret")
	require.NoError(t, err)

	assert.Equal(t, "at", s.AccessToken)
	assert.Equal(t, "rt", s.RefreshToken)
	assert.Equal(t, now.Add(time.Hour), s.ExpiresAt)
	assert.Equal(t, "u1", s.User.ID)
	assert.Equal(t, "ada@example.com", s.User.Email)
}

func TestAuth_SignInBadCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
	})

	_, err := c.Auth().SignIn(context.Background(), "ada@example.com", "nope")

	assert.ErrorIs(t, err, backend.ErrInvalidCredentials)
}

func TestAuth_SignUpAwaitingConfirmation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"u2","email":"new@example.com"}`))
	})

	s, err := c.Auth().SignUp(context.Background(), "new@example.com", "secret1")
	require.NoError(t, err)

	assert.False(t, s.Active())
	assert.Equal(t, "u2", s.User.ID)
}

func TestAuth_UpdateUserSendsBearer(t *testing.T) {
	var auth string
	var body domain.UserUpdate
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"id":"u1","email":"new@example.com"}`))
	})

	u, err := c.Auth().UpdateUser(context.Background(), "user-jwt", domain.UserUpdate{Email: "new@example.com"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer user-jwt", auth)
	assert.Equal(t, "new@example.com", body.Email)
	assert.Empty(t, body.Password)
	assert.Equal(t, "new@example.com", u.Email)
}

func TestBucket_Objects(t *testing.T) {
	var paths []string
	var removed map[string][]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		switch r.Method {
		case http.MethodPost:
			b, _ := io.ReadAll(r.Body)
			assert.Equal(t, "png-bytes", string(b))
			assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
			w.Write([]byte(`{"Key":"product-images/pi/front.png"}`))
		case http.MethodGet:
			w.Write([]byte("png-bytes"))
		case http.MethodDelete:
			json.NewDecoder(r.Body).Decode(&removed)
			w.Write([]byte(`[]`))
		}
	})
	b := c.Bucket("product-images")
	ctx := context.Background()

	require.NoError(t, b.Upload(ctx, "pi/front.png", strings.NewReader("png-bytes"), "image/png"))
	data, err := b.Download(ctx, "pi/front.png")
	require.NoError(t, err)
	require.NoError(t, b.Remove(ctx, "pi/front.png"))

	assert.Equal(t, "png-bytes", string(data))
	assert.Equal(t, []string{"pi/front.png"}, removed["prefixes"])
	assert.Equal(t, []string{
		"POST /storage/v1/object/product-images/pi/front.png",
		"GET /storage/v1/object/product-images/pi/front.png",
		"DELETE /storage/v1/object/product-images",
	}, paths)
	assert.Equal(t, c.URL()+"/storage/v1/object/public/product-images/pi/front.png", b.PublicURL("pi/front.png"))
}
