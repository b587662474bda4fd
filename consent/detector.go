package consent

import (
	"context"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/consentflow/browser"
)

// evidenceTarget is the number of visible matches after which the scan stops.
// A cheap, intentionally approximate presence heuristic: three visible
// cookie-ish elements is treated as full confidence.
const evidenceTarget = 3

// evidenceTextLimit truncates recorded element text.
const evidenceTextLimit = 100

// heuristicSelectors are the fixed detection candidates tried after any
// learned selectors: generic id/class substrings, known consent-framework
// containers, then accept-labeled buttons and links.
var heuristicSelectors = []string{
	"[id*='cookie']",
	"[class*='cookie']",
	"[id*='consent']",
	"[class*='consent']",
	"[aria-label*='cookie' i]",
	"[aria-label*='consent' i]",

	"#cookieConsent",
	".cookie-consent",
	".cookie-banner",
	".cookie-notice",
	".gdpr-banner",
	".privacy-banner",
	"#onetrust-banner-sdk",
	"#cookiescript_injected",
	".cc-banner",
	".cookielaw-banner",

	"button:has-text('Accept')",
	"button:has-text('Accept All')",
	"button:has-text('Allow')",
	"button:has-text('I Accept')",
	"button:has-text('Agree')",
	"button:has-text('OK')",
	"a:has-text('Accept')",
	"a:has-text('Accept All')",
}

// Evidence is one visible, matched candidate element recorded during
// detection.
type Evidence struct {
	Selector string               `json:"selector"`
	Text     string               `json:"text"`
	Tag      string               `json:"tag"`
	Box      *browser.BoundingBox `json:"bounding_box,omitempty"`
}

// Detection is the outcome of a banner presence scan.
type Detection struct {
	HasBanner  bool       `json:"has_banner"`
	Confidence float64    `json:"confidence"`
	Domain     string     `json:"domain"`
	Evidence   []Evidence `json:"evidence"`
}

// Detector decides whether a dismissible consent banner is present and
// enumerates candidate elements as evidence.
type Detector struct {
	cache  *DomainCache
	logger *zap.Logger
}

// NewDetector returns a detector ranking learned selectors ahead of the
// fixed heuristics.
func NewDetector(cache *DomainCache, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		cache:  cache,
		logger: logger.With(zap.String("component", "detector")),
	}
}

// Detect scans the page for banner evidence. Learned selectors for the URL's
// domain are tried first (highest score first), then the fixed heuristics.
// The scan stops as soon as evidenceTarget visible matches are collected.
// Per-candidate evaluation errors are swallowed; a malformed selector or a
// stale element never aborts the scan.
func (d *Detector) Detect(ctx context.Context, page browser.Page, rawURL string) Detection {
	domain := NormalizeDomain(rawURL)

	candidates := make([]string, 0, len(heuristicSelectors)+8)
	for _, p := range d.cache.Ranked(domain) {
		candidates = append(candidates, p.Selector)
	}
	candidates = append(candidates, heuristicSelectors...)

	var evidence []Evidence
scan:
	for _, selector := range candidates {
		if ctx.Err() != nil {
			break
		}
		elements, err := page.QueryElements(ctx, selector)
		if err != nil {
			d.logger.Debug("candidate query failed",
				zap.String("selector", selector), zap.Error(err))
			continue
		}
		for _, el := range elements {
			if !el.IsVisible(ctx, 0) {
				continue
			}
			evidence = append(evidence, d.describe(ctx, selector, el))
			if len(evidence) >= evidenceTarget {
				break scan
			}
		}
	}

	det := Detection{
		HasBanner:  len(evidence) > 0,
		Confidence: min(float64(len(evidence))/float64(evidenceTarget), 1.0),
		Domain:     domain,
		Evidence:   evidence,
	}

	d.logger.Debug("detection complete",
		zap.String("domain", domain),
		zap.Bool("has_banner", det.HasBanner),
		zap.Float64("confidence", det.Confidence),
		zap.Int("evidence", len(evidence)))
	return det
}

// describe records what was matched; field-level failures degrade to empty
// values rather than dropping the evidence.
func (d *Detector) describe(ctx context.Context, selector string, el browser.Element) Evidence {
	ev := Evidence{Selector: selector}
	if text, err := el.Text(ctx); err == nil {
		ev.Text = truncateText(text, evidenceTextLimit)
	}
	if tag, err := el.TagName(ctx); err == nil {
		ev.Tag = tag
	}
	if box, err := el.BoundingBox(ctx); err == nil {
		ev.Box = box
	}
	return ev
}

// truncateText cuts the string at the byte limit without splitting a
// multibyte rune; banner text is frequently non-ASCII.
func truncateText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
