// Package adapter holds the market adapter registry and the paging helpers
// shared by the concrete adapters under internal/platform.
package adapter

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/giftagg/internal/config"
	"github.com/alanyoungcy/giftagg/internal/domain"
	"github.com/alanyoungcy/giftagg/internal/httpx"
)

const (
	defaultTimeout = 30 * time.Second
	defaultRetries = 3
	defaultRate    = 1.0
)

// Deps is everything a Constructor needs to build an adapter.
type Deps struct {
	Slug   string
	Config config.MarketConfig
	FX     config.FXConfig
	Logger *slog.Logger
	// HTTPOptions are appended after the config-derived options.
	HTTPOptions []httpx.Option
}

// HTTPClient builds the paced client for the market, falling back to
// defaultBaseURL when the config leaves the base URL empty.
func (d Deps) HTTPClient(defaultBaseURL string, extra ...httpx.Option) *httpx.Client {
	base := d.Config.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	timeout := d.Config.Timeout.Duration
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := d.Config.MaxRetries
	if retries <= 0 {
		retries = defaultRetries
	}
	rps := d.Config.RateLimit
	if rps <= 0 {
		rps = defaultRate
	}

	opts := []httpx.Option{
		httpx.WithRate(rps),
		httpx.WithTimeout(timeout),
		httpx.WithRetries(retries),
		httpx.WithLogger(d.logger()),
	}
	opts = append(opts, extra...)
	opts = append(opts, d.HTTPOptions...)
	return httpx.New(base, opts...)
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Constructor builds one adapter.
type Constructor func(Deps) (domain.MarketAdapter, error)

// Registry maps market slugs to constructors. The map is fixed at compile
// time by the caller; there is no dynamic discovery.
type Registry struct {
	ctors   map[string]Constructor
	markets map[string]config.MarketConfig
	fx      config.FXConfig
	logger  *slog.Logger
	opts    []httpx.Option
}

// NewRegistry creates a Registry.
func NewRegistry(ctors map[string]Constructor, markets map[string]config.MarketConfig, fx config.FXConfig, logger *slog.Logger, opts ...httpx.Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		ctors:   ctors,
		markets: markets,
		fx:      fx,
		logger:  logger.With(slog.String("component", "adapter_registry")),
		opts:    opts,
	}
}

// Slugs returns the registered slugs in sorted order.
func (r *Registry) Slugs() []string {
	out := make([]string, 0, len(r.ctors))
	for slug := range r.ctors {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// Has reports whether slug has a constructor.
func (r *Registry) Has(slug string) bool {
	_, ok := r.ctors[slug]
	return ok
}

// New constructs the adapter for slug. It returns ErrAdapterNotFound for
// unregistered slugs.
func (r *Registry) New(slug string) (domain.MarketAdapter, error) {
	ctor, ok := r.ctors[slug]
	if !ok {
		return nil, fmt.Errorf("adapter %q: %w", slug, domain.ErrAdapterNotFound)
	}
	mc := r.markets[slug]
	a, err := ctor(Deps{
		Slug:        slug,
		Config:      mc,
		FX:          r.fx,
		Logger:      r.logger.With(slog.String("market", slug)),
		HTTPOptions: r.opts,
	})
	if err != nil {
		return nil, fmt.Errorf("adapter %q: %w", slug, err)
	}
	return a, nil
}

// Build constructs adapters for slugs. Unknown slugs and markets disabled in
// config are skipped with a log line; construction errors are returned after
// closing anything already built.
func (r *Registry) Build(slugs []string) (map[string]domain.MarketAdapter, error) {
	out := make(map[string]domain.MarketAdapter, len(slugs))
	for _, slug := range slugs {
		if !r.Has(slug) {
			r.logger.Warn("no adapter registered for market, skipping", slog.String("market", slug))
			continue
		}
		if mc, ok := r.markets[slug]; ok && !mc.Enabled {
			r.logger.Info("market disabled in config, skipping", slog.String("market", slug))
			continue
		}
		a, err := r.New(slug)
		if err != nil {
			CloseAll(out, r.logger)
			return nil, err
		}
		out[slug] = a
	}
	return out, nil
}

// CloseAll closes every adapter, logging failures.
func CloseAll(adapters map[string]domain.MarketAdapter, logger *slog.Logger) {
	for slug, a := range adapters {
		if err := a.Close(); err != nil && logger != nil {
			logger.Warn("close adapter", slog.String("market", slug), slog.String("error", err.Error()))
		}
	}
}
