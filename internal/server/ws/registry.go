// Package ws delivers price events to WebSocket subscribers grouped by scope.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// DefaultSendBuffer is the per-subscriber queue length.
	DefaultSendBuffer = 256

	// DefaultHeartbeat is the heartbeat and reap period.
	DefaultHeartbeat = 30 * time.Second

	// DefaultStaleAfter is how long a subscriber may stay silent.
	DefaultStaleAfter = 120 * time.Second

	// priceChannels is the bus pattern carrying every scope.
	priceChannels = domain.ChannelPrefix + "*"
)

// Conn is the transport side of a subscriber. *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Handle is one registered subscriber.
type Handle struct {
	ID          string
	Scope       domain.Scope
	ConnectedAt time.Time

	conn      Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	lastSeen  atomic.Int64 // unix nanos
	delivered atomic.Int64
}

// Delivered is the number of frames written to the subscriber.
func (h *Handle) Delivered() int64 { return h.delivered.Load() }

// LastSeen is the time of the subscriber's last sign of life.
func (h *Handle) LastSeen() time.Time { return time.Unix(0, h.lastSeen.Load()) }

// Done is closed once the subscriber has been removed.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) close() {
	h.closeOnce.Do(func() {
		close(h.done)
		_ = h.conn.Close()
	})
}

// Config tunes the registry. Zero values take the defaults.
type Config struct {
	SendBuffer int
	Heartbeat  time.Duration
	StaleAfter time.Duration
}

// Stats is a snapshot of the registry.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ByType           map[string]int `json:"by_type"`
	Dropped          int64          `json:"dropped"`
	Reaped           int64          `json:"reaped"`
}

// Registry tracks subscribers by scope and fans messages out to them. A
// broadcast never blocks: a subscriber whose queue is full is removed.
type Registry struct {
	mu     sync.RWMutex
	scopes map[domain.Scope]map[*Handle]struct{}

	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	dropped atomic.Int64
	reaped  atomic.Int64
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		scopes: make(map[domain.Scope]map[*Handle]struct{}),
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ws")),
		now:    time.Now,
	}
}

// Subscribe registers conn under scope and starts its delivery goroutine.
func (r *Registry) Subscribe(conn Conn, scope domain.Scope) *Handle {
	now := r.now()
	h := &Handle{
		ID:          uuid.NewString(),
		Scope:       scope,
		ConnectedAt: now,
		conn:        conn,
		send:        make(chan []byte, r.cfg.SendBuffer),
		done:        make(chan struct{}),
	}
	h.lastSeen.Store(now.UnixNano())

	r.mu.Lock()
	set, ok := r.scopes[scope]
	if !ok {
		set = make(map[*Handle]struct{})
		r.scopes[scope] = set
	}
	set[h] = struct{}{}
	total := r.countLocked()
	r.mu.Unlock()

	r.logger.Info("subscriber connected",
		slog.String("id", h.ID),
		slog.String("scope", scope.String()),
		slog.Int("total", total),
	)
	go r.deliver(h)
	return h
}

// Unsubscribe removes h and closes its transport. Safe to call more than once.
func (r *Registry) Unsubscribe(h *Handle) {
	r.remove(h, "unsubscribed")
}

func (r *Registry) remove(h *Handle, reason string) {
	r.mu.Lock()
	set := r.scopes[h.Scope]
	_, present := set[h]
	if present {
		delete(set, h)
		if len(set) == 0 {
			delete(r.scopes, h.Scope)
		}
	}
	total := r.countLocked()
	r.mu.Unlock()

	h.close()
	if present {
		r.logger.Info("subscriber removed",
			slog.String("id", h.ID),
			slog.String("scope", h.Scope.String()),
			slog.String("reason", reason),
			slog.Int("total", total),
		)
	}
}

// Broadcast queues msg for every subscriber of scope and returns how many
// accepted it.
func (r *Registry) Broadcast(scope domain.Scope, msg []byte) int {
	r.mu.RLock()
	targets := make([]*Handle, 0, len(r.scopes[scope]))
	for h := range r.scopes[scope] {
		targets = append(targets, h)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, h := range targets {
		if r.Enqueue(h, msg) {
			delivered++
		}
	}
	return delivered
}

// Enqueue queues msg for one subscriber without blocking. A full queue
// removes the subscriber and returns false.
func (r *Registry) Enqueue(h *Handle, msg []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.send <- msg:
		return true
	default:
		r.dropped.Add(1)
		r.remove(h, "send buffer full")
		return false
	}
}

// Touch records a sign of life from the subscriber.
func (r *Registry) Touch(h *Handle) {
	h.lastSeen.Store(r.now().UnixNano())
}

// Stats returns connection counts by scope kind.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{
		ByType: map[string]int{
			string(domain.ScopeAll):        0,
			string(domain.ScopeCollection): 0,
			string(domain.ScopeItem):       0,
		},
		Dropped: r.dropped.Load(),
		Reaped:  r.reaped.Load(),
	}
	for scope, set := range r.scopes {
		s.ByType[string(scope.Kind)] += len(set)
		s.TotalConnections += len(set)
	}
	return s
}

func (r *Registry) countLocked() int {
	n := 0
	for _, set := range r.scopes {
		n += len(set)
	}
	return n
}

func (r *Registry) handles() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, 0, r.countLocked())
	for _, set := range r.scopes {
		for h := range set {
			out = append(out, h)
		}
	}
	return out
}

// deliver drains h's queue until the handle is removed. A write error
// removes only this subscriber.
func (r *Registry) deliver(h *Handle) {
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.send:
			_ = h.conn.SetWriteDeadline(r.now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				r.remove(h, "write failed: "+err.Error())
				return
			}
			h.delivered.Add(1)
		}
	}
}

// Heartbeat reaps stale subscribers and pings the rest once.
func (r *Registry) Heartbeat() {
	now := r.now()
	all := r.handles()
	frame, _ := json.Marshal(struct {
		Type        domain.EventType `json:"type"`
		Timestamp   string           `json:"timestamp"`
		Connections int              `json:"connections"`
	}{domain.EventHeartbeat, now.UTC().Format(time.RFC3339Nano), len(all)})

	for _, h := range all {
		if now.Sub(h.LastSeen()) > r.cfg.StaleAfter {
			r.reaped.Add(1)
			r.remove(h, "stale")
			continue
		}
		if !r.Enqueue(h, frame) {
			continue
		}
		if err := h.conn.WriteControl(websocket.PingMessage, nil, now.Add(writeWait)); err != nil {
			r.remove(h, "ping failed: "+err.Error())
		}
	}
}

// Run drives the heartbeat loop until ctx is cancelled, then closes every
// subscriber.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			for _, h := range r.handles() {
				r.remove(h, "shutdown")
			}
			return ctx.Err()
		case <-ticker.C:
			r.Heartbeat()
		}
	}
}

// Listen pattern-subscribes to every price channel on the bus and
// broadcasts each message to the scope its channel names.
func (r *Registry) Listen(ctx context.Context, bus domain.SignalBus) error {
	msgs, err := bus.Subscribe(ctx, priceChannels)
	if err != nil {
		return err
	}
	r.logger.Info("listening for price events", slog.String("pattern", priceChannels))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				r.logger.Warn("price subscription closed")
				return nil
			}
			scope, err := domain.ScopeFromChannel(m.Channel)
			if err != nil {
				r.logger.Debug("ignoring message", slog.String("channel", m.Channel))
				continue
			}
			r.Broadcast(scope, m.Payload)
		}
	}
}
