// Package auth manages sign-in sessions and notifies subscribers when they change.
package auth

import (
	"sync"
	"time"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/sirupsen/logrus"
)

type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventUserUpdated    EventType = "USER_UPDATED"
)

// Event describes a session change for one browser profile. User is nil after sign-out.
type Event struct {
	Type      EventType    `json:"event"`
	ProfileID string       `json:"-"`
	User      *domain.User `json:"user"`
	At        time.Time    `json:"at"`
}

type Listener func(Event)

// Broker fans session events out to subscribers. Listeners run on the publishing
// goroutine and must not block.
type Broker struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
}

func NewBroker() *Broker {
	return &Broker{listeners: make(map[int]Listener)}
}

// Subscribe registers l and returns its unsubscribe func. Calling it more than
// once is a no-op.
func (b *Broker) Subscribe(l Listener) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

func (b *Broker) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.RUnlock()

	for _, l := range listeners {
		l(e)
	}
}

func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// LogEvents writes an audit line for every session change until the returned
// func is called.
func LogEvents(b *Broker, log logrus.FieldLogger) func() {
	return b.Subscribe(func(e Event) {
		entry := log.WithFields(logrus.Fields{
			"event":      e.Type,
			"profile_id": e.ProfileID,
		})
		if e.User != nil {
			entry = entry.WithField("user_id", e.User.ID)
		}
		entry.Info("session changed")
	})
}
