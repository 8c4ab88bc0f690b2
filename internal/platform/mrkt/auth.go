package mrkt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/giftagg/internal/domain"
	"github.com/alanyoungcy/giftagg/internal/httpx"
)

const (
	refreshBefore    = 300 * time.Second
	defaultExpiresIn = 3600
)

// tokenSource exchanges Telegram initData for a bearer token and caches it
// until shortly before expiry.
type tokenSource struct {
	client   *httpx.Client
	initData string
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

func newTokenSource(c *httpx.Client, initData string, logger *slog.Logger) *tokenSource {
	return &tokenSource{client: c, initData: initData, logger: logger, now: time.Now}
}

func (s *tokenSource) valid() bool {
	return s.token != "" && s.now().Before(s.expiresAt.Add(-refreshBefore))
}

// Token returns a cached token or authenticates. Concurrent callers share a
// single /auth round trip.
func (s *tokenSource) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	if s.valid() {
		tok := s.token
		s.mu.RUnlock()
		return tok, nil
	}
	s.mu.RUnlock()
	return s.authenticate(ctx, "")
}

// Refresh forces re-authentication unless another caller already replaced
// the token that failed.
func (s *tokenSource) Refresh(ctx context.Context, failed string) (string, error) {
	return s.authenticate(ctx, failed)
}

func (s *tokenSource) authenticate(ctx context.Context, failed string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.valid() && s.token != failed {
		return s.token, nil
	}
	if s.initData == "" {
		return "", fmt.Errorf("mrkt: no initData configured: %w", domain.ErrUnauthorized)
	}

	var resp authResponse
	err := s.client.PostJSON(ctx, "/auth", authRequest{Data: s.initData}, &resp)
	if errors.Is(err, domain.ErrUnauthorized) {
		return "", fmt.Errorf("mrkt: initData rejected: %w", domain.ErrUnauthorized)
	}
	if err != nil {
		return "", fmt.Errorf("mrkt: auth: %w", err)
	}
	tok := resp.token()
	if tok == "" {
		return "", fmt.Errorf("mrkt: auth response missing token: %w", domain.ErrUnauthorized)
	}
	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}

	s.token = tok
	s.expiresAt = s.now().Add(time.Duration(expiresIn) * time.Second)
	s.logger.Info("authenticated", slog.Time("expires_at", s.expiresAt))
	return tok, nil
}

// reset drops the cached token.
func (s *tokenSource) reset() {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}
