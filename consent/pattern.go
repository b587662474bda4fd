package consent

import (
	"net/url"
	"strings"
	"time"
)

// ActionType is the closed set of dismissal actions a learned pattern can
// carry. Unknown strings in old store rows decode to ActionClick.
type ActionType int

const (
	// ActionClick is a single mouse click on the matched element.
	ActionClick ActionType = iota
	// ActionHoverClick hovers the element, pauses briefly, then clicks.
	ActionHoverClick
)

// String returns the persisted wire form of the action.
func (a ActionType) String() string {
	switch a {
	case ActionHoverClick:
		return "hover_click"
	default:
		return "click"
	}
}

// ParseAction decodes a persisted action string. ok is false for unknown
// values, which callers should treat as ActionClick.
func ParseAction(s string) (ActionType, bool) {
	switch s {
	case "click":
		return ActionClick, true
	case "hover_click":
		return ActionHoverClick, true
	default:
		return ActionClick, false
	}
}

// Score priors. A brand-new pattern has only one observation, which is too
// little signal for the empirical ratio; first outcomes get fixed priors and
// every later outcome recomputes the exact success ratio.
const (
	// PriorFirstSuccess is the score assigned when a pattern is created by a
	// successful attempt.
	PriorFirstSuccess = 0.8
	// PriorFirstFailure is the score assigned when a pattern is created by a
	// failed attempt.
	PriorFirstFailure = 0.2
	// ScoreFloor is the neutral score for a pattern with no observations.
	ScoreFloor = 0.5
)

// PatternMetadata is the opaque discovery blob stored alongside a pattern.
type PatternMetadata struct {
	DiscoveredAt    time.Time `json:"discovered_at"`
	DiscoveryMethod string    `json:"discovery_method"`
	SelectorClass   string    `json:"selector_class"`
}

// Pattern is a learned (domain, selector, action) triple with empirical
// outcome counters and a derived effectiveness score. Patterns are created on
// the first observed outcome for a key and mutated in place afterwards.
type Pattern struct {
	ID                 uint            `gorm:"primaryKey" json:"-"`
	Domain             string          `gorm:"size:255;uniqueIndex:idx_pattern_key;index" json:"domain"`
	Selector           string          `gorm:"size:512;uniqueIndex:idx_pattern_key" json:"selector"`
	Action             string          `gorm:"size:32;uniqueIndex:idx_pattern_key" json:"action"`
	SuccessCount       int             `json:"success_count"`
	FailureCount       int             `json:"failure_count"`
	EffectivenessScore float64         `json:"effectiveness_score"`
	LastUsed           time.Time       `json:"last_used"`
	Metadata           PatternMetadata `gorm:"serializer:json" json:"metadata"`
}

// ActionType decodes the persisted action string.
func (p Pattern) ActionType() ActionType {
	a, _ := ParseAction(p.Action)
	return a
}

// recompute refreshes EffectivenessScore from the counters. Only meaningful
// once at least one outcome is recorded; creation uses the priors instead.
func (p *Pattern) recompute() {
	total := p.SuccessCount + p.FailureCount
	if total == 0 {
		p.EffectivenessScore = ScoreFloor
		return
	}
	p.EffectivenessScore = float64(p.SuccessCount) / float64(total)
}

// applyOutcome increments the matching counter, recomputes the score and
// stamps LastUsed.
func (p *Pattern) applyOutcome(success bool, now time.Time) {
	if success {
		p.SuccessCount++
	} else {
		p.FailureCount++
	}
	p.recompute()
	p.LastUsed = now
}

// newPattern builds a pattern from its first observed outcome, applying the
// creation priors.
func newPattern(domain, selector string, action ActionType, success bool, method string, now time.Time) Pattern {
	p := Pattern{
		Domain:   domain,
		Selector: selector,
		Action:   action.String(),
		LastUsed: now,
		Metadata: PatternMetadata{
			DiscoveredAt:    now,
			DiscoveryMethod: method,
			SelectorClass:   ClassifySelector(selector),
		},
	}
	if success {
		p.SuccessCount = 1
		p.EffectivenessScore = PriorFirstSuccess
	} else {
		p.FailureCount = 1
		p.EffectivenessScore = PriorFirstFailure
	}
	return p
}

// DomainBehavior is a descriptive per-domain observation. It is loaded for
// observability only; the cascade never consults it.
type DomainBehavior struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	Domain       string    `gorm:"size:255;uniqueIndex:idx_behavior_key" json:"domain"`
	BehaviorType string    `gorm:"size:64;uniqueIndex:idx_behavior_key" json:"behavior_type"`
	Description  string    `json:"description"`
	SuccessRate  float64   `json:"success_rate"`
	LastSeen     time.Time `json:"last_seen"`
	UsageCount   int       `json:"usage_count"`
}

// NormalizeDomain maps a URL to its cache partition key: the lowercase host
// with any leading "www." stripped. Two URLs differing only by scheme, path
// or www-prefix normalize identically. Returns "" when no host can be found.
func NormalizeDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}
	return strings.TrimPrefix(host, "www.")
}

// ClassifySelector tags a selector for pattern analysis: id, class, text,
// aria, plain button/link tag, or complex.
func ClassifySelector(selector string) string {
	switch {
	case strings.HasPrefix(selector, "#"):
		return "id"
	case strings.HasPrefix(selector, "."):
		return "class"
	case strings.Contains(selector, ":has-text("):
		return "text_based"
	case strings.Contains(selector, "[aria-label"):
		return "aria_label"
	case strings.HasPrefix(selector, "button"):
		return "button_tag"
	case strings.HasPrefix(selector, "a"):
		return "link_tag"
	default:
		return "complex"
	}
}
