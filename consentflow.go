// Package consentflow provides a top-level convenience entry point for
// creating a consent handler with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/consentflow"
//
//	h, err := consentflow.New(consentflow.WithStorePath("patterns.db"))
//	h, err := consentflow.New(consentflow.WithMinScore(0.5), consentflow.WithLogger(logger))
//
// The handler owns its pattern store; call [Handler.Close] when done. For
// full control over the store, options and metrics, construct the pieces
// from the consent package directly.
package consentflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/consentflow/browser"
	"github.com/BaSui01/consentflow/consent"
	"github.com/BaSui01/consentflow/internal/metrics"
)

// Handler bundles a consent handler with the store it was built from.
type Handler struct {
	*consent.Handler
	store *consent.PatternStore
}

// Close releases the underlying pattern store.
func (h *Handler) Close() error {
	return h.store.Close()
}

// Handle navigates nothing; it runs banner detection and the dismissal
// cascade against an already-loaded page.
func (h *Handler) Handle(ctx context.Context, page browser.Page, url string) (consent.Result, error) {
	return h.HandleConsent(ctx, page, url)
}

type settings struct {
	storeCfg  consent.StoreConfig
	opts      consent.Options
	logger    *zap.Logger
	collector *metrics.Collector
}

// Option configures the handler created by [New].
type Option func(*settings)

// WithStorePath sets the SQLite pattern store location.
func WithStorePath(path string) Option {
	return func(s *settings) { s.storeCfg.Path = path }
}

// WithMinScore sets the effectiveness threshold for hydrating learned
// patterns into the cache.
func WithMinScore(score float64) Option {
	return func(s *settings) { s.opts.MinScore = score }
}

// WithOptions replaces the full handler tuning.
func WithOptions(opts consent.Options) Option {
	return func(s *settings) { s.opts = opts }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithMetrics registers prometheus instruments under the given namespace.
func WithMetrics(namespace string) Option {
	return func(s *settings) { s.collector = metrics.NewCollector(namespace, s.logger) }
}

// New opens the pattern store, hydrates the cache and returns a ready
// handler.
func New(opts ...Option) (*Handler, error) {
	s := settings{
		storeCfg: consent.DefaultStoreConfig(),
		opts:     consent.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	store, err := consent.OpenStore(s.storeCfg, s.logger)
	if err != nil {
		return nil, err
	}

	h, err := consent.NewHandler(store, s.opts, s.collector, s.logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &Handler{Handler: h, store: store}, nil
}
