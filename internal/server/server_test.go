package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/giftagg/internal/domain"
	"github.com/alanyoungcy/giftagg/internal/server/handler"
	"github.com/alanyoungcy/giftagg/internal/server/ws"
)

type memQueue struct{ n int }

func (q *memQueue) Enqueue(_ context.Context, req domain.JobRequest) (domain.Job, error) {
	q.n++
	return domain.Job{ID: "j", Request: req, Status: domain.JobQueued}, nil
}

func (q *memQueue) Get(context.Context, string) (domain.Job, error) {
	return domain.Job{}, domain.ErrJobNotFound
}

func (q *memQueue) Cancel(context.Context, string) (domain.Job, error) {
	return domain.Job{}, domain.ErrJobNotFound
}

type denyAfter struct{ left int }

func (d *denyAfter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	d.left--
	return d.left >= 0, nil
}

func newTestServer(q *memQueue, limiter domain.RateLimiter) *Server {
	reg := ws.NewRegistry(ws.Config{}, nil)
	return NewServer(Config{AdminAPIKey: "k", AdminReadKeys: []string{"r"}, AdminRateLimit: 10}, Handlers{
		Health:   handler.NewHealthHandler(nil, nil),
		Admin:    handler.NewAdminHandler(q, nil, nil),
		WSStatus: handler.NewWSStatusHandler(reg, nil),
		WS:       ws.NewHandler(reg, nil, nil),
	}, limiter, nil)
}

func TestRoutes(t *testing.T) {
	q := &memQueue{}
	h := newTestServer(q, &denyAfter{left: 1}).Handler()

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		want   int
	}{
		{"health is public", http.MethodGet, "/api/health", "", http.StatusOK},
		{"ws status is public", http.MethodGet, "/api/ws/status", "", http.StatusOK},
		{"admin needs a key", http.MethodPost, "/api/admin/sync", "", http.StatusUnauthorized},
		{"admin with key", http.MethodPost, "/api/admin/sync", "k", http.StatusAccepted},
		{"admin rate limited", http.MethodPost, "/api/admin/sync", "k", http.StatusTooManyRequests},
		{"wrong method", http.MethodGet, "/api/admin/sync", "k", http.StatusMethodNotAllowed},
		{"audit needs a key", http.MethodGet, "/api/admin/audit", "", http.StatusUnauthorized},
		{"read key cannot cancel", http.MethodPost, "/api/admin/jobs/x/cancel", "r", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(""))
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
	if q.n != 1 {
		t.Errorf("enqueued = %d, want 1", q.n)
	}
}
