package supabase

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fjod/go_storefront/internal/backend"
	"github.com/sony/gobreaker/v2"
)

var errServerStatus = errors.New("server error status")

// BreakerTransport fails fast with backend.ErrUnavailable after repeated transport
// errors or 5xx responses. It never retries.
type BreakerTransport struct {
	next http.RoundTripper
	cb   *gobreaker.CircuitBreaker[*http.Response]
}

func NewBreakerTransport(name string, next http.RoundTripper) *BreakerTransport {
	return NewBreakerTransportWithSettings(next, gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

func NewBreakerTransportWithSettings(next http.RoundTripper, st gobreaker.Settings) *BreakerTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &BreakerTransport{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[*http.Response](st),
	}
}

func (t *BreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.cb.Execute(func() (*http.Response, error) {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errServerStatus
		}
		return resp, nil
	})

	switch {
	case errors.Is(err, errServerStatus):
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%s: %w", t.cb.Name(), backend.ErrUnavailable)
	}
	return resp, err
}

func (t *BreakerTransport) State() gobreaker.State {
	return t.cb.State()
}
