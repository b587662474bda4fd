package consent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type feedbackRecord struct {
	domain   string
	selector string
	action   ActionType
	success  bool
}

type cascadeHarness struct {
	cascade  *Cascade
	cache    *DomainCache
	feedback []feedbackRecord
	attempts map[string][]attemptStatus
}

func newCascadeHarness() *cascadeHarness {
	h := &cascadeHarness{
		cache:    NewDomainCache(0, zap.NewNop()),
		attempts: make(map[string][]attemptStatus),
	}
	feedback := func(ctx context.Context, domain, selector string, action ActionType, success bool) {
		h.feedback = append(h.feedback, feedbackRecord{domain, selector, action, success})
	}
	observe := func(tier string, status attemptStatus) {
		h.attempts[tier] = append(h.attempts[tier], status)
	}
	h.cascade = newCascade(h.cache, feedback, observe, 0, 0, zap.NewNop())
	return h
}

func TestCascadeLearnedPatternWins(t *testing.T) {
	h := newCascadeHarness()
	h.cache.Hydrate(map[string][]Pattern{
		"example.com": {testPattern("example.com", "#accept", 0.8)},
	})

	page := newFakePage()
	el := page.add("#accept", &fakeElement{visible: true, text: "Accept"})

	reason, handled := h.cascade.Run(context.Background(), page, "example.com")

	assert.True(t, handled)
	assert.Equal(t, "learned_pattern_click", reason)
	assert.Equal(t, 1, el.clicks)
	require.Len(t, h.feedback, 1)
	assert.Equal(t, feedbackRecord{"example.com", "#accept", ActionClick, true}, h.feedback[0])
	assert.Equal(t, []attemptStatus{attemptClicked}, h.attempts["learned"])
}

func TestCascadeLearnedHoverClick(t *testing.T) {
	h := newCascadeHarness()
	h.cascade.hoverPause = 0
	p := testPattern("example.com", ".overlay-accept", 0.8)
	p.Action = "hover_click"
	h.cache.Hydrate(map[string][]Pattern{"example.com": {p}})

	page := newFakePage()
	el := page.add(".overlay-accept", &fakeElement{visible: true})

	reason, handled := h.cascade.Run(context.Background(), page, "example.com")

	assert.True(t, handled)
	assert.Equal(t, "learned_pattern_hover_click", reason)
	assert.Equal(t, 1, el.hovers)
	assert.Equal(t, 1, el.clicks)
	require.Len(t, h.feedback, 1)
	assert.Equal(t, ActionHoverClick, h.feedback[0].action)
}

// Ranking decides attempt order: the higher-score pattern is tried first even
// when both would succeed.
func TestCascadeLearnedTriesHighestScoreFirst(t *testing.T) {
	h := newCascadeHarness()
	h.cache.Hydrate(map[string][]Pattern{
		"example.com": {
			testPattern("example.com", ".second", 0.6),
			testPattern("example.com", "#first", 0.9),
		},
	})

	page := newFakePage()
	first := page.add("#first", &fakeElement{visible: true})
	second := page.add(".second", &fakeElement{visible: true})

	_, handled := h.cascade.Run(context.Background(), page, "example.com")

	assert.True(t, handled)
	assert.Equal(t, 1, first.clicks)
	assert.Equal(t, 0, second.clicks)
}

// Every failed learned candidate is recorded before the tier falls through;
// failures are data for the next ranking, not silent skips.
func TestCascadeLearnedFailuresFeedBack(t *testing.T) {
	h := newCascadeHarness()
	h.cache.Hydrate(map[string][]Pattern{
		"example.com": {
			testPattern("example.com", "#gone", 0.9),
			testPattern("example.com", ".hidden", 0.7),
		},
	})

	page := newFakePage()
	page.add(".hidden", &fakeElement{visible: false})
	page.add("#accept-cookies", &fakeElement{visible: true})

	reason, handled := h.cascade.Run(context.Background(), page, "example.com")

	assert.True(t, handled)
	assert.Equal(t, "fallback_click", reason)

	require.Len(t, h.feedback, 3)
	assert.Equal(t, feedbackRecord{"example.com", "#gone", ActionClick, false}, h.feedback[0])
	assert.Equal(t, feedbackRecord{"example.com", ".hidden", ActionClick, false}, h.feedback[1])
	assert.Equal(t, feedbackRecord{"example.com", "#accept-cookies", ActionClick, true}, h.feedback[2])

	assert.Equal(t, []attemptStatus{attemptNotFound, attemptNotVisible}, h.attempts["learned"])
}

func TestCascadeFallbackPriorityOrder(t *testing.T) {
	h := newCascadeHarness()

	page := newFakePage()
	specific := page.add("#onetrust-accept-btn-handler", &fakeElement{visible: true})
	generic := page.add("button[class*='accept']", &fakeElement{visible: true})

	reason, handled := h.cascade.Run(context.Background(), page, "example.com")

	assert.True(t, handled)
	assert.Equal(t, "fallback_click", reason)
	assert.Equal(t, 1, specific.clicks)
	assert.Equal(t, 0, generic.clicks, "lower-priority fallback must not be tried after a hit")
}

func TestCascadeKeywordScan(t *testing.T) {
	h := newCascadeHarness()

	page := newFakePage()
	page.add(clickableSelector, &fakeElement{visible: true, text: "Read more", tag: "a"})
	el := page.add(clickableSelector, &fakeElement{visible: true, text: "Got it!", tag: "button", fingerprint: "#banner-close"})

	reason, handled := h.cascade.Run(context.Background(), page, "example.com")

	assert.True(t, handled)
	assert.Equal(t, "text_detection_got it", reason)
	assert.Equal(t, 1, el.clicks)
	require.Len(t, h.feedback, 1)
	assert.Equal(t, feedbackRecord{"example.com", "#banner-close", ActionClick, true}, h.feedback[0])
	assert.Equal(t, []attemptStatus{attemptClicked}, h.attempts["keyword"])
}

// Keyword matching is case-insensitive on the element text, and falls back to
// the tag name when no stable fingerprint exists.
func TestCascadeKeywordFingerprintFallback(t *testing.T) {
	h := newCascadeHarness()

	page := newFakePage()
	page.add(clickableSelector, &fakeElement{visible: true, text: "ACCEPT COOKIES", tag: "button"})

	reason, handled := h.cascade.Run(context.Background(), page, "example.com")

	assert.True(t, handled)
	assert.Equal(t, "text_detection_accept", reason)
	require.Len(t, h.feedback, 1)
	assert.Equal(t, "button", h.feedback[0].selector)
}

func TestCascadeKeywordSkipsInvisible(t *testing.T) {
	h := newCascadeHarness()

	page := newFakePage()
	hidden := page.add(clickableSelector, &fakeElement{visible: false, text: "Accept"})

	reason, handled := h.cascade.Run(context.Background(), page, "example.com")

	assert.False(t, handled)
	assert.Equal(t, "no_suitable_element_found", reason)
	assert.Equal(t, 0, hidden.clicks)
	assert.Empty(t, h.feedback)
}

func TestCascadeExhaustion(t *testing.T) {
	h := newCascadeHarness()

	page := newFakePage()
	reason, handled := h.cascade.Run(context.Background(), page, "example.com")

	assert.False(t, handled)
	assert.Equal(t, "no_suitable_element_found", reason)
	assert.Empty(t, h.feedback)
}

// A click that errors mid-tier moves on to the next candidate instead of
// aborting the run.
func TestCascadeClickErrorContinues(t *testing.T) {
	h := newCascadeHarness()

	page := newFakePage()
	page.add("#accept-cookies", &fakeElement{visible: true, clickErr: errors.New("element detached")})
	ok := page.add("#acceptCookies", &fakeElement{visible: true})

	reason, handled := h.cascade.Run(context.Background(), page, "example.com")

	assert.True(t, handled)
	assert.Equal(t, "fallback_click", reason)
	assert.Equal(t, 1, ok.clicks)
	assert.Contains(t, h.attempts["fallback"], attemptError)
}

func TestCascadeStopsOnCancelledContext(t *testing.T) {
	h := newCascadeHarness()
	h.cache.Hydrate(map[string][]Pattern{
		"example.com": {testPattern("example.com", "#accept", 0.8)},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	page := newFakePage()
	page.add("#accept", &fakeElement{visible: true})

	reason, handled := h.cascade.Run(ctx, page, "example.com")

	assert.False(t, handled)
	assert.Equal(t, "no_suitable_element_found", reason)
	assert.Empty(t, h.feedback)
	assert.Empty(t, page.queries)
}
