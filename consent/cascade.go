package consent

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/consentflow/browser"
)

// Cascade timeouts. Learned patterns get a longer visibility window than the
// static fallbacks; the caller bounds the whole run with a context deadline.
const (
	DefaultLearnedTimeout  = 2 * time.Second
	DefaultFallbackTimeout = 1 * time.Second
	defaultHoverPause      = 500 * time.Millisecond
)

// fallbackSelectors is the Tier-2 priority list, most specific first: known
// framework accept buttons down to any accept-labeled button or link.
var fallbackSelectors = []string{
	"button:has-text('Accept All')",
	"button:has-text('Accept all')",
	"button:has-text('Accept')",
	"a:has-text('Accept All')",
	"a:has-text('Accept')",

	"#accept-cookies",
	"#acceptCookies",
	".accept-cookies",
	".accept-all",
	".cookie-accept",

	"[aria-label*='Accept' i]",
	"[aria-label*='Allow' i]",

	"#onetrust-accept-btn-handler",
	".ot-sdk-show-settings",
	"#cookiescript_accept",
	".cc-allow",
	".cookielaw-accept",

	"button[class*='accept']",
	"button[id*='accept']",
	"input[value*='Accept']",

	"button:has-text('Allow')",
	"button:has-text('I Accept')",
	"button:has-text('Agree')",
	"button:has-text('OK')",
	"button:has-text('Got it')",
	"a:has-text('I Accept')",
	"a:has-text('Agree')",
}

// dismissKeywords is the Tier-3 scan order over clickable element text.
var dismissKeywords = []string{"accept", "allow", "agree", "ok", "got it", "continue"}

// clickableSelector enumerates elements Tier 3 considers clickable.
const clickableSelector = "button, a, [role='button']"

// attemptStatus is the per-candidate outcome. The cascade branches on these
// values; candidate failures are data, not faults.
type attemptStatus int

const (
	attemptClicked attemptStatus = iota
	attemptNotFound
	attemptNotVisible
	attemptError
)

func (s attemptStatus) String() string {
	switch s {
	case attemptClicked:
		return "clicked"
	case attemptNotFound:
		return "not_found"
	case attemptNotVisible:
		return "not_visible"
	default:
		return "error"
	}
}

// attemptResult carries the status plus the underlying error for logging.
type attemptResult struct {
	status attemptStatus
	err    error
}

// feedbackFunc records one attempted candidate's outcome into learned state.
type feedbackFunc func(ctx context.Context, domain, selector string, action ActionType, success bool)

// attemptObserver is notified of every candidate attempt, for metrics.
type attemptObserver func(tier string, status attemptStatus)

// Cascade is the strict, ordered waterfall that picks and executes one
// dismissal action: learned patterns, then static fallbacks, then a keyword
// text scan. The first tier to land a successful action short-circuits the
// rest. Candidates are evaluated strictly sequentially; parallel probing
// could double-dismiss a single-shot banner.
type Cascade struct {
	cache           *DomainCache
	feedback        feedbackFunc
	observe         attemptObserver
	logger          *zap.Logger
	learnedTimeout  time.Duration
	fallbackTimeout time.Duration
	hoverPause      time.Duration
}

func newCascade(cache *DomainCache, feedback feedbackFunc, observe attemptObserver, learnedTimeout, fallbackTimeout time.Duration, logger *zap.Logger) *Cascade {
	if logger == nil {
		logger = zap.NewNop()
	}
	if learnedTimeout <= 0 {
		learnedTimeout = DefaultLearnedTimeout
	}
	if fallbackTimeout <= 0 {
		fallbackTimeout = DefaultFallbackTimeout
	}
	if observe == nil {
		observe = func(string, attemptStatus) {}
	}
	return &Cascade{
		cache:           cache,
		feedback:        feedback,
		observe:         observe,
		logger:          logger.With(zap.String("component", "cascade")),
		learnedTimeout:  learnedTimeout,
		fallbackTimeout: fallbackTimeout,
		hoverPause:      defaultHoverPause,
	}
}

// Run works through the tiers in order and returns the terminal reason.
// handled is false only when a banner was detected but every tier exhausted.
func (c *Cascade) Run(ctx context.Context, page browser.Page, domain string) (reason string, handled bool) {
	if reason, ok := c.tryLearned(ctx, page, domain); ok {
		return reason, true
	}
	if reason, ok := c.tryFallback(ctx, page, domain); ok {
		return reason, true
	}
	if reason, ok := c.tryKeywords(ctx, page, domain); ok {
		return reason, true
	}
	return "no_suitable_element_found", false
}

// tryLearned iterates the domain's cached patterns, highest score first.
// Every candidate's outcome feeds back into learned state, success or not;
// the tier never falls through while untried candidates remain.
func (c *Cascade) tryLearned(ctx context.Context, page browser.Page, domain string) (string, bool) {
	for _, pattern := range c.cache.Ranked(domain) {
		if ctx.Err() != nil {
			return "", false
		}
		action := pattern.ActionType()
		res := c.attempt(ctx, page, pattern.Selector, action, c.learnedTimeout)
		c.observe("learned", res.status)

		if res.status == attemptClicked {
			c.feedback(ctx, domain, pattern.Selector, action, true)
			c.logger.Info("dismissed via learned pattern",
				zap.String("domain", domain),
				zap.String("selector", pattern.Selector),
				zap.String("action", action.String()))
			return "learned_pattern_" + action.String(), true
		}

		c.logger.Debug("learned pattern failed",
			zap.String("domain", domain),
			zap.String("selector", pattern.Selector),
			zap.String("status", res.status.String()),
			zap.Error(res.err))
		c.feedback(ctx, domain, pattern.Selector, action, false)
	}
	return "", false
}

// tryFallback walks the static priority list. The first visible match is
// clicked and learned as a new pattern with the first-success prior.
func (c *Cascade) tryFallback(ctx context.Context, page browser.Page, domain string) (string, bool) {
	for _, selector := range fallbackSelectors {
		if ctx.Err() != nil {
			return "", false
		}
		res := c.attempt(ctx, page, selector, ActionClick, c.fallbackTimeout)
		c.observe("fallback", res.status)

		if res.status == attemptClicked {
			c.feedback(ctx, domain, selector, ActionClick, true)
			c.logger.Info("dismissed via fallback selector",
				zap.String("domain", domain),
				zap.String("selector", selector))
			return "fallback_click", true
		}
		if res.err != nil {
			c.logger.Debug("fallback selector failed",
				zap.String("selector", selector),
				zap.String("status", res.status.String()),
				zap.Error(res.err))
		}
	}
	return "", false
}

// tryKeywords is the last resort: scan every clickable element's text for
// dismissal keywords, click the first visible match, and learn a pattern
// keyed on the element's fingerprint selector.
func (c *Cascade) tryKeywords(ctx context.Context, page browser.Page, domain string) (string, bool) {
	for _, keyword := range dismissKeywords {
		if ctx.Err() != nil {
			return "", false
		}
		elements, err := page.QueryElements(ctx, clickableSelector)
		if err != nil {
			c.logger.Debug("clickable enumeration failed", zap.Error(err))
			continue
		}
		for _, el := range elements {
			if ctx.Err() != nil {
				return "", false
			}
			text, err := el.Text(ctx)
			if err != nil || !strings.Contains(strings.ToLower(text), keyword) {
				continue
			}
			if !el.IsVisible(ctx, 0) {
				continue
			}
			if err := el.Click(ctx); err != nil {
				c.observe("keyword", attemptError)
				c.logger.Debug("keyword click failed",
					zap.String("keyword", keyword), zap.Error(err))
				continue
			}
			c.observe("keyword", attemptClicked)

			selector, err := el.Fingerprint(ctx)
			if err != nil || selector == "" {
				selector, _ = el.TagName(ctx)
			}
			c.feedback(ctx, domain, selector, ActionClick, true)
			c.logger.Info("dismissed via text detection",
				zap.String("domain", domain),
				zap.String("keyword", keyword),
				zap.String("selector", selector))
			return "text_detection_" + keyword, true
		}
	}
	return "", false
}

// attempt evaluates one candidate: locate by selector, require visibility
// within the timeout, then execute the action against the first matching
// element only. The result is a value, never a fault — a malformed selector
// or detached element cannot abort the cascade.
func (c *Cascade) attempt(ctx context.Context, page browser.Page, selector string, action ActionType, timeout time.Duration) attemptResult {
	elements, err := page.QueryElements(ctx, selector)
	if err != nil {
		return attemptResult{status: attemptError, err: err}
	}
	if len(elements) == 0 {
		return attemptResult{status: attemptNotFound}
	}

	el := elements[0]
	if !el.IsVisible(ctx, timeout) {
		return attemptResult{status: attemptNotVisible}
	}

	switch action {
	case ActionHoverClick:
		if err := el.Hover(ctx); err != nil {
			return attemptResult{status: attemptError, err: err}
		}
		select {
		case <-ctx.Done():
			return attemptResult{status: attemptError, err: ctx.Err()}
		case <-time.After(c.hoverPause):
		}
		if err := el.Click(ctx); err != nil {
			return attemptResult{status: attemptError, err: err}
		}
	default:
		if err := el.Click(ctx); err != nil {
			return attemptResult{status: attemptError, err: err}
		}
	}
	return attemptResult{status: attemptClicked}
}
