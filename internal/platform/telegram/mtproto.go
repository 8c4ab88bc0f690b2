package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

var errNotAuthorized = errors.New("telegram session is not authorized, run giftagg telegram-login")

// SessionConfig identifies the user account the resale queries run as.
// Resale listings are only served to user accounts, not bots.
type SessionConfig struct {
	AppID       int
	AppHash     string
	SessionFile string
}

// Session is a lazily connected MTProto client. The connection is opened on
// the first call and reopened after the run loop exits.
type Session struct {
	cfg    SessionConfig
	logger *slog.Logger

	mu   sync.Mutex
	api  *tg.Client
	stop context.CancelFunc
	done chan error
}

var _ ResaleAPI = (*Session)(nil)

// NewSession creates a Session. Nothing is dialled until the first call.
func NewSession(cfg SessionConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{cfg: cfg, logger: logger}
}

func (s *Session) newClient() *telegram.Client {
	return telegram.NewClient(s.cfg.AppID, s.cfg.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: s.cfg.SessionFile},
	})
}

// conn returns the API of a running, authorized client.
func (s *Session) conn(ctx context.Context) (*tg.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.api != nil {
		select {
		case err := <-s.done:
			s.logger.Warn("telegram connection closed, reconnecting", slog.Any("error", err))
			s.stop()
			s.api = nil
		default:
			return s.api, nil
		}
	}

	client := s.newClient()
	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- client.Run(runCtx, func(ctx context.Context) error {
			status, err := client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("auth status: %w", err)
			}
			if !status.Authorized {
				return errNotAuthorized
			}
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	select {
	case <-ready:
	case err := <-done:
		cancel()
		if errors.Is(err, errNotAuthorized) {
			return nil, fmt.Errorf("telegram: %w: %v", domain.ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("telegram: connect: %w", err)
	case <-ctx.Done():
		cancel()
		<-done
		return nil, ctx.Err()
	}

	s.api = client.API()
	s.stop = cancel
	s.done = done
	s.logger.Info("telegram connected")
	return s.api, nil
}

// ResalePage implements ResaleAPI with payments.getResaleStarGifts sorted by
// price.
func (s *Session) ResalePage(ctx context.Context, giftID int64, offset string, limit int) (ResalePage, error) {
	api, err := s.conn(ctx)
	if err != nil {
		return ResalePage{}, err
	}
	res, err := api.PaymentsGetResaleStarGifts(ctx, &tg.PaymentsGetResaleStarGiftsRequest{
		SortByPrice: true,
		GiftID:      giftID,
		Offset:      offset,
		Limit:       limit,
	})
	if err != nil {
		return ResalePage{}, mapError("get resale gifts", err)
	}

	page := ResalePage{Count: res.Count, NextOffset: res.NextOffset}
	for _, g := range res.Gifts {
		u, ok := g.(*tg.StarGiftUnique)
		if !ok {
			continue
		}
		page.Gifts = append(page.Gifts, flatten(u))
	}
	return page, nil
}

// Catalog implements ResaleAPI with payments.getStarGifts.
func (s *Session) Catalog(ctx context.Context) ([]CatalogGift, error) {
	api, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	res, err := api.PaymentsGetStarGifts(ctx, 0)
	if err != nil {
		return nil, mapError("get star gifts", err)
	}
	gifts, ok := res.(*tg.PaymentsStarGifts)
	if !ok {
		return nil, nil
	}
	out := make([]CatalogGift, 0, len(gifts.Gifts))
	for _, g := range gifts.Gifts {
		sg, ok := g.(*tg.StarGift)
		if !ok {
			continue
		}
		out = append(out, CatalogGift{ID: sg.ID, Title: sg.Title, AvailabilityResale: sg.AvailabilityResale})
	}
	return out, nil
}

// Close stops the run loop.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.api == nil {
		return nil
	}
	s.stop()
	<-s.done
	s.api = nil
	return nil
}

// Login authorizes the session file interactively with a login code.
func Login(ctx context.Context, cfg SessionConfig, phone string, code func(ctx context.Context) (string, error)) error {
	s := NewSession(cfg, nil)
	client := s.newClient()
	return client.Run(ctx, func(ctx context.Context) error {
		flow := auth.NewFlow(
			auth.CodeOnly(phone, auth.CodeAuthenticatorFunc(func(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
				return code(ctx)
			})),
			auth.SendCodeOptions{},
		)
		if err := client.Auth().IfNecessary(ctx, flow); err != nil {
			return fmt.Errorf("telegram: login: %w", err)
		}
		return nil
	})
}

func flatten(u *tg.StarGiftUnique) ResaleGift {
	g := ResaleGift{
		ID:           u.ID,
		GiftID:       u.GiftID,
		Title:        u.Title,
		Slug:         u.Slug,
		Num:          u.Num,
		OwnerAddress: u.OwnerAddress,
		GiftAddress:  u.GiftAddress,
	}
	for _, amt := range u.ResellAmount {
		switch a := amt.(type) {
		case *tg.StarsAmount:
			if a.Amount > 0 {
				g.Stars = a.Amount
				return g
			}
		case *tg.StarsTonAmount:
			if a.Amount > 0 {
				g.TonNano = a.Amount
				return g
			}
		}
	}
	return g
}

func mapError(op string, err error) error {
	if d, ok := tgerr.AsFloodWait(err); ok {
		return fmt.Errorf("telegram: %s: %w (retry in %s)", op, domain.ErrRateLimited, d)
	}
	if tgerr.Is(err, "AUTH_KEY_UNREGISTERED", "SESSION_REVOKED") {
		return fmt.Errorf("telegram: %s: %w: %v", op, domain.ErrUnauthorized, err)
	}
	return fmt.Errorf("telegram: %s: %w", op, err)
}
