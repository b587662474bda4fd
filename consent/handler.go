package consent

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/consentflow/browser"
	"github.com/BaSui01/consentflow/internal/metrics"
)

// DefaultOverallTimeout is the hard ceiling for one HandleConsent call,
// covering detection and all three tiers. Per-candidate timeouts alone can
// sum to tens of seconds on hostile pages; the end-to-end deadline is what
// actually bounds the caller's latency.
const DefaultOverallTimeout = 20 * time.Second

// Result is the terminal outcome of a HandleConsent call. Exhaustion is
// reported here, never as an error: only infrastructure faults surface as
// errors.
type Result struct {
	Handled bool   `json:"handled"`
	Reason  string `json:"reason"`
}

// Options tunes the handler.
type Options struct {
	// MinScore is the hydration threshold for learned patterns.
	MinScore float64 `yaml:"min_score" json:"min_score"`
	// LearnedTimeout bounds visibility checks for Tier-1 candidates.
	LearnedTimeout time.Duration `yaml:"learned_timeout" json:"learned_timeout"`
	// FallbackTimeout bounds visibility checks for Tier-2 candidates.
	FallbackTimeout time.Duration `yaml:"fallback_timeout" json:"fallback_timeout"`
	// OverallTimeout is the end-to-end deadline for one call.
	OverallTimeout time.Duration `yaml:"overall_timeout" json:"overall_timeout"`
}

// DefaultOptions returns the default handler tuning.
func DefaultOptions() Options {
	return Options{
		MinScore:        DefaultMinScore,
		LearnedTimeout:  DefaultLearnedTimeout,
		FallbackTimeout: DefaultFallbackTimeout,
		OverallTimeout:  DefaultOverallTimeout,
	}
}

// Handler is the consent engine's entry point. It owns the domain cache
// (hydrated from the store at construction), the detector, the cascade and
// the feedback loop that writes every attempt outcome through to the store.
//
// One logical flow per HandleConsent call: tiers and candidates are
// evaluated strictly sequentially.
type Handler struct {
	store     *PatternStore
	cache     *DomainCache
	detector  *Detector
	cascade   *Cascade
	behaviors map[string][]DomainBehavior
	collector *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger
	opts      Options
}

// NewHandler hydrates the domain cache and behavior observations from the
// store and wires the cascade. collector may be nil to disable metrics.
func NewHandler(store *PatternStore, opts Options, collector *metrics.Collector, logger *zap.Logger) (*Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MinScore == 0 {
		opts.MinScore = DefaultMinScore
	}
	if opts.OverallTimeout <= 0 {
		opts.OverallTimeout = DefaultOverallTimeout
	}

	cache := NewDomainCache(store.MaxPatternsPerDomain(), logger)
	byDomain, err := store.LoadPatterns(opts.MinScore)
	if err != nil {
		return nil, err
	}
	cache.Hydrate(byDomain)

	behaviors, err := store.LoadBehaviors(opts.MinScore)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		store:     store,
		cache:     cache,
		detector:  NewDetector(cache, logger),
		behaviors: behaviors,
		collector: collector,
		tracer:    otel.Tracer("github.com/BaSui01/consentflow/consent"),
		logger:    logger.With(zap.String("component", "consent_handler")),
		opts:      opts,
	}
	h.cascade = newCascade(cache, h.feedback, h.observeAttempt,
		opts.LearnedTimeout, opts.FallbackTimeout, logger)

	behaviorCount := 0
	for _, list := range behaviors {
		behaviorCount += len(list)
	}
	h.logger.Info("learned state loaded",
		zap.Int("patterns", cache.Len()),
		zap.Int("domains", cache.Domains()),
		zap.Int("behaviors", behaviorCount))

	if h.collector != nil {
		h.collector.SetLearnedPatterns(cache.Len())
	}
	return h, nil
}

// HandleConsent detects a consent banner on the page and runs the cascade
// to dismiss it. The call is bounded by Options.OverallTimeout regardless of
// how many candidates the tiers hold. A page with no banner is a success
// with reason "no_banner_detected"; a detected banner that survives all
// tiers is unhandled with reason "no_suitable_element_found"; a call cut off
// by the deadline is unhandled with reason "deadline_exceeded", never a
// false no-banner success.
func (h *Handler) HandleConsent(ctx context.Context, page browser.Page, rawURL string) (Result, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, h.opts.OverallTimeout)
	defer cancel()

	ctx, span := h.tracer.Start(ctx, "consent.HandleConsent",
		trace.WithAttributes(attribute.String("url", rawURL)))
	defer span.End()

	det := h.detector.Detect(ctx, page, rawURL)
	span.SetAttributes(
		attribute.String("consent.domain", det.Domain),
		attribute.Bool("consent.has_banner", det.HasBanner),
		attribute.Float64("consent.confidence", det.Confidence),
	)
	if h.collector != nil {
		h.collector.ObserveDetection(det.Confidence)
	}

	var result Result
	switch {
	case ctx.Err() != nil:
		// Detection was cut off; an empty evidence list means nothing here.
		result = Result{Handled: false, Reason: "deadline_exceeded"}
	case !det.HasBanner:
		result = Result{Handled: true, Reason: "no_banner_detected"}
	default:
		h.logger.Info("consent banner detected",
			zap.String("domain", det.Domain),
			zap.Float64("confidence", det.Confidence),
			zap.Int("evidence", len(det.Evidence)))
		reason, handled := h.cascade.Run(ctx, page, det.Domain)
		if !handled && ctx.Err() != nil {
			reason = "deadline_exceeded"
		}
		result = Result{Handled: handled, Reason: reason}
	}

	span.SetAttributes(
		attribute.Bool("consent.handled", result.Handled),
		attribute.String("consent.reason", result.Reason),
	)
	if h.collector != nil {
		h.collector.RecordHandled(result.Reason)
		h.collector.ObserveCascadeDuration(time.Since(start))
	}

	h.logger.Info("consent handling finished",
		zap.String("domain", det.Domain),
		zap.Bool("handled", result.Handled),
		zap.String("reason", result.Reason),
		zap.Duration("took", time.Since(start)))
	return result, nil
}

// feedback is the single path by which every tier's attempt updates learned
// state: write-through to the store, then mirror into the cache. A failed
// store write is logged and absorbed — the in-memory ranking still moves.
func (h *Handler) feedback(ctx context.Context, domain, selector string, action ActionType, success bool) {
	p, err := h.store.UpsertOutcome(domain, selector, action, success)
	if err != nil {
		h.logger.Warn("pattern write failed",
			zap.String("domain", domain),
			zap.String("selector", selector),
			zap.Bool("success", success),
			zap.Error(err))
		if h.collector != nil {
			h.collector.RecordStoreWriteFailure()
		}
		h.cache.ApplyOutcome(domain, selector, action, success)
	} else {
		h.cache.Update(p)
	}

	if h.collector != nil {
		h.collector.SetLearnedPatterns(h.cache.Len())
	}
}

func (h *Handler) observeAttempt(tier string, status attemptStatus) {
	if h.collector != nil {
		h.collector.RecordAttempt(tier, status.String())
	}
}

// DomainStats reports the aggregate view for one domain.
func (h *Handler) DomainStats(domain string) (Stats, error) {
	return h.store.DomainStats(domain)
}

// GlobalStats reports the aggregate view across all domains.
func (h *Handler) GlobalStats() (Stats, error) {
	return h.store.GlobalStats()
}

// Cache exposes the domain cache for observability.
func (h *Handler) Cache() *DomainCache {
	return h.cache
}

// Behaviors returns the descriptive observations loaded for a domain at
// startup. Observability only; the cascade never consults them.
func (h *Handler) Behaviors(domain string) []DomainBehavior {
	return append([]DomainBehavior{}, h.behaviors[domain]...)
}
