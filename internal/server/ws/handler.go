package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

// maxMessageSize is the maximum size of an incoming message.
const maxMessageSize = 4096

// Frame types exchanged with subscribers besides the price events.
const (
	frameConnected domain.EventType = "connected"
	framePing      domain.EventType = "ping"
	framePong      domain.EventType = "pong"
	frameStats     domain.EventType = "stats"
)

// Handler upgrades HTTP requests into registry subscribers.
type Handler struct {
	reg      *Registry
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a Handler. An empty origins list accepts any origin.
func NewHandler(reg *Registry, origins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		reg: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(origins),
		},
		logger: logger.With(slog.String("component", "ws")),
	}
}

func checkOrigin(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(origins) == 0 {
			return true
		}
		for _, o := range origins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// ServeAll subscribes to every event.
// GET /ws
func (h *Handler) ServeAll(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, domain.AllScope)
}

// ServeCollection subscribes to one collection.
// GET /ws/collection/{id}
func (h *Handler) ServeCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.serve(w, r, domain.CollectionScope(id))
}

// ServeItem subscribes to one item.
// GET /ws/item/{id}
func (h *Handler) ServeItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.serve(w, r, domain.ItemScope(id))
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, `{"error":"invalid id"}`, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, scope domain.Scope) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	sub := h.reg.Subscribe(conn, scope)
	defer h.reg.Unsubscribe(sub)

	h.reg.Enqueue(sub, h.frame(frameConnected, map[string]any{
		"scope": scope.String(),
		"kind":  string(scope.Kind),
		"id":    scopeID(scope),
	}, ""))

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		h.reg.Touch(sub)
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("unexpected close", slog.String("id", sub.ID), slog.String("error", err.Error()))
			}
			return
		}
		h.handleFrame(sub, msg)
	}
}

// handleFrame answers one client frame. Non-JSON text is taken as its own
// type, so a bare "ping" works.
func (h *Handler) handleFrame(sub *Handle, raw []byte) {
	var in struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		in.Type = strings.TrimSpace(string(raw))
	}
	switch t := domain.EventType(strings.ToLower(in.Type)); t {
	case framePing:
		h.reg.Touch(sub)
		h.reg.Enqueue(sub, h.frame(framePong, nil, ""))
	case framePong:
		h.reg.Touch(sub)
	case frameStats:
		h.reg.Enqueue(sub, h.frame(frameStats, map[string]any{
			"connected_at":      sub.ConnectedAt.UTC().Format(time.RFC3339Nano),
			"messages_received": sub.Delivered(),
			"scope":             sub.Scope.String(),
		}, ""))
	default:
		h.reg.Enqueue(sub, h.frame(domain.EventError, nil, "Unknown message type: "+string(t)))
	}
}

func (h *Handler) frame(t domain.EventType, data any, message string) []byte {
	env := domain.NewEnvelope(t, data, h.reg.now())
	env.Message = message
	b, _ := json.Marshal(env)
	return b
}

func scopeID(s domain.Scope) any {
	if s.Kind == domain.ScopeAll {
		return nil
	}
	return s.ID
}
