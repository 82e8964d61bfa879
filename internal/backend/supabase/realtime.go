package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fjod/go_storefront/internal/backend"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Realtime subscribes to Postgres row changes over the Phoenix channel protocol.
// A dropped connection is redialled with backoff and every open channel rejoined.
type Realtime struct {
	mu        sync.Mutex
	url       string
	conn      *websocket.Conn
	done      chan struct{}
	stop      chan struct{}
	ref       int
	nextID    int
	topics    map[string]map[int]subscriber
	joins     map[string]any
	heartbeat time.Duration
	log       logrus.FieldLogger

	minBackoff time.Duration
	maxBackoff time.Duration
}

type subscriber struct {
	event   backend.ChangeEvent
	handler func(backend.Change)
}

type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type changePayload struct {
	Type      string         `json:"type"`
	Table     string         `json:"table"`
	Record    map[string]any `json:"record"`
	OldRecord map[string]any `json:"old_record"`
	Data      *changePayload `json:"data"`
}

func (c *Client) Realtime(log logrus.FieldLogger) *Realtime {
	wsURL := c.baseURL
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	wsURL += "/realtime/v1/websocket?apikey=" + url.QueryEscape(c.apiKey) + "&vsn=1.0.0"

	return &Realtime{
		url:       wsURL,
		stop:      make(chan struct{}),
		topics:    make(map[string]map[int]subscriber),
		joins:     make(map[string]any),
		heartbeat: 30 * time.Second,
		log:       log,

		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Subscribe joins the table's channel, connecting first if needed. Calling the
// returned cancel func removes handler and leaves the channel once it is unused.
func (r *Realtime) Subscribe(ctx context.Context, table string, event backend.ChangeEvent, handler func(backend.Change)) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.connectLocked(ctx); err != nil {
		return nil, err
	}

	topic := "realtime:public:" + table
	subs, joined := r.topics[topic]
	if !joined {
		join := map[string]any{
			"config": map[string]any{
				"postgres_changes": []map[string]string{
					{"event": "*", "schema": "public", "table": table},
				},
			},
		}
		if err := r.sendLocked(topic, "phx_join", join); err != nil {
			return nil, fmt.Errorf("send join: %w", err)
		}
		subs = make(map[int]subscriber)
		r.topics[topic] = subs
		r.joins[topic] = join
	}

	r.nextID++
	id := r.nextID
	subs[id] = subscriber{event: event, handler: handler}

	var once sync.Once
	return func() {
		once.Do(func() { r.unsubscribe(topic, id) })
	}, nil
}

func (r *Realtime) unsubscribe(topic string, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.topics[topic]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) > 0 {
		return
	}
	delete(r.topics, topic)
	delete(r.joins, topic)
	if r.conn != nil {
		if err := r.sendLocked(topic, "phx_leave", map[string]any{}); err != nil {
			r.log.WithError(err).WithField("topic", topic).Warn("realtime leave failed")
		}
	}
}

// Close disconnects, drops every subscription and stops any pending reconnect.
func (r *Realtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.topics = make(map[string]map[int]subscriber)
	r.joins = make(map[string]any)
	close(r.stop)
	r.stop = make(chan struct{})
	if r.conn == nil {
		return nil
	}
	close(r.done)
	err := r.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	r.conn.Close()
	r.conn = nil
	if err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return nil
}

// connectLocked dials when there is no live connection and rejoins every
// channel that still has subscribers.
func (r *Realtime) connectLocked(ctx context.Context) error {
	if r.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	r.conn = conn
	for topic, join := range r.joins {
		if err := r.sendLocked(topic, "phx_join", join); err != nil {
			conn.Close()
			r.conn = nil
			return fmt.Errorf("rejoin %s: %w", topic, err)
		}
	}

	r.done = make(chan struct{})
	go r.readLoop(conn, r.done)
	go r.heartbeatLoop(r.done)
	return nil
}

// reconnect redials with exponential backoff until a connection is back, the
// last subscriber is gone or Close is called.
func (r *Realtime) reconnect(stop chan struct{}) {
	delay := r.minBackoff
	for {
		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		r.mu.Lock()
		if r.conn != nil || len(r.topics) == 0 {
			r.mu.Unlock()
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := r.connectLocked(ctx)
		cancel()
		channels := len(r.joins)
		r.mu.Unlock()

		if err == nil {
			r.log.WithField("channels", channels).Info("realtime reconnected")
			return
		}
		r.log.WithError(err).WithField("retry_in", delay).Warn("realtime reconnect failed")
		delay = min(delay*2, r.maxBackoff)
	}
}

func (r *Realtime) sendLocked(topic, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.ref++
	ref := strconv.Itoa(r.ref)
	return r.conn.WriteJSON(phxMessage{Topic: topic, Event: event, Payload: raw, Ref: ref, JoinRef: ref})
}

func (r *Realtime) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		var msg phxMessage
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-done:
			default:
				r.log.WithError(err).Warn("realtime connection lost")
				r.mu.Lock()
				if r.conn == conn {
					close(r.done)
					r.conn.Close()
					r.conn = nil
					if len(r.topics) > 0 {
						go r.reconnect(r.stop)
					}
				}
				r.mu.Unlock()
			}
			return
		}
		r.dispatch(msg)
	}
}

func (r *Realtime) dispatch(msg phxMessage) {
	switch msg.Event {
	case "phx_reply", "phx_close", "presence_state", "presence_diff", "system":
		return
	}

	var p changePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return
	}
	if p.Data != nil {
		p = *p.Data
	}
	if p.Type == "" {
		p.Type = msg.Event
	}

	change := backend.Change{
		Table:  p.Table,
		Type:   backend.ChangeEvent(p.Type),
		Record: p.Record,
		Old:    p.OldRecord,
	}
	if change.Table == "" {
		change.Table = strings.TrimPrefix(msg.Topic, "realtime:public:")
	}

	r.mu.Lock()
	var handlers []func(backend.Change)
	for _, s := range r.topics[msg.Topic] {
		if s.event == backend.EventAll || s.event == change.Type {
			handlers = append(handlers, s.handler)
		}
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(change)
	}
}

func (r *Realtime) heartbeatLoop(done chan struct{}) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.conn != nil {
				if err := r.sendLocked("phoenix", "heartbeat", map[string]any{}); err != nil {
					r.log.WithError(err).Warn("realtime heartbeat failed")
				}
			}
			r.mu.Unlock()
		}
	}
}
