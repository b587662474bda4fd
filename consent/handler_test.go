package consent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T, store *PatternStore) *Handler {
	t.Helper()
	h, err := NewHandler(store, DefaultOptions(), nil, zap.NewNop())
	require.NoError(t, err)
	return h
}

func TestHandleConsentNoBanner(t *testing.T) {
	store := newTestStore(t)
	h := newTestHandler(t, store)

	page := newFakePage()
	result, err := h.HandleConsent(context.Background(), page, "https://example.com")

	require.NoError(t, err)
	assert.True(t, result.Handled)
	assert.Equal(t, "no_banner_detected", result.Reason)

	// An empty page learns nothing.
	count, err := store.PatternCount()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestHandleConsentLearnedPattern(t *testing.T) {
	store := newTestStore(t)
	_, err := store.UpsertOutcome("example.com", "#accept", ActionClick, true)
	require.NoError(t, err)

	h := newTestHandler(t, store)

	page := newFakePage()
	el := page.add("#accept", &fakeElement{visible: true, text: "Accept cookies", tag: "button"})

	result, err := h.HandleConsent(context.Background(), page, "https://www.example.com/article")
	require.NoError(t, err)

	assert.True(t, result.Handled)
	assert.Equal(t, "learned_pattern_click", result.Reason)
	assert.Equal(t, 1, el.clicks)

	// The success flowed through to the store: s=2, f=0, exact ratio.
	byDomain, err := store.LoadPatterns(0.0)
	require.NoError(t, err)
	require.Len(t, byDomain["example.com"], 1)
	p := byDomain["example.com"][0]
	assert.Equal(t, 2, p.SuccessCount)
	assert.Equal(t, 1.0, p.EffectivenessScore)
}

func TestHandleConsentFallbackLearnsNewPattern(t *testing.T) {
	store := newTestStore(t)
	h := newTestHandler(t, store)

	page := newFakePage()
	// Detection evidence plus a framework accept button for Tier 2.
	page.add("[class*='cookie']", &fakeElement{visible: true, text: "We value your privacy"})
	el := page.add("#accept-cookies", &fakeElement{visible: true, text: "Accept", tag: "button"})

	result, err := h.HandleConsent(context.Background(), page, "https://example.com")
	require.NoError(t, err)

	assert.True(t, result.Handled)
	assert.Equal(t, "fallback_click", result.Reason)
	assert.Equal(t, 1, el.clicks)

	byDomain, err := store.LoadPatterns(0.0)
	require.NoError(t, err)
	require.Len(t, byDomain["example.com"], 1)
	p := byDomain["example.com"][0]
	assert.Equal(t, "#accept-cookies", p.Selector)
	assert.Equal(t, 1, p.SuccessCount)
	assert.Equal(t, PriorFirstSuccess, p.EffectivenessScore)

	// The new pattern is immediately available in the cache for the next call.
	ranked := h.Cache().Ranked("example.com")
	require.Len(t, ranked, 1)
	assert.Equal(t, "#accept-cookies", ranked[0].Selector)
}

func TestHandleConsentKeywordScan(t *testing.T) {
	store := newTestStore(t)
	h := newTestHandler(t, store)

	page := newFakePage()
	page.add("[id*='consent']", &fakeElement{visible: true, text: "Cookie notice"})
	el := page.add(clickableSelector, &fakeElement{visible: true, text: "Got it", tag: "button", fingerprint: "#notice-dismiss"})

	result, err := h.HandleConsent(context.Background(), page, "https://example.com")
	require.NoError(t, err)

	assert.True(t, result.Handled)
	assert.Equal(t, "text_detection_got it", result.Reason)
	assert.Equal(t, 1, el.clicks)

	byDomain, err := store.LoadPatterns(0.0)
	require.NoError(t, err)
	require.Len(t, byDomain["example.com"], 1)
	assert.Equal(t, "#notice-dismiss", byDomain["example.com"][0].Selector)
}

func TestHandleConsentExhaustion(t *testing.T) {
	store := newTestStore(t)
	h := newTestHandler(t, store)

	page := newFakePage()
	// Banner evidence but nothing clickable anywhere.
	page.add("[id*='cookie']", &fakeElement{visible: true, text: "Cookies!"})

	result, err := h.HandleConsent(context.Background(), page, "https://example.com")
	require.NoError(t, err)

	assert.False(t, result.Handled)
	assert.Equal(t, "no_suitable_element_found", result.Reason)
}

// A learned pattern whose element disappeared is demoted: its failure lands
// in the store as the exact ratio and drops its rank below the threshold on
// the next hydration.
func TestHandleConsentDemotesStalePattern(t *testing.T) {
	store := newTestStore(t)
	_, err := store.UpsertOutcome("example.com", "#gone", ActionClick, true)
	require.NoError(t, err)

	h := newTestHandler(t, store)

	page := newFakePage()
	page.add("[id*='cookie']", &fakeElement{visible: true, text: "banner"})

	result, err := h.HandleConsent(context.Background(), page, "https://example.com")
	require.NoError(t, err)
	assert.False(t, result.Handled)

	byDomain, err := store.LoadPatterns(0.0)
	require.NoError(t, err)
	require.Len(t, byDomain["example.com"], 1)
	p := byDomain["example.com"][0]
	assert.Equal(t, 1, p.SuccessCount)
	assert.Equal(t, 1, p.FailureCount)
	assert.InDelta(t, 0.5, p.EffectivenessScore, 1e-9)
}

// Store and cache enforce the retention cap together: a burst of new learned
// patterns leaves both sides at the cap, not just the store.
func TestFeedbackHonorsRetentionCap(t *testing.T) {
	store, err := OpenStore(StoreConfig{Path: ":memory:", MaxPatternsPerDomain: 2}, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	h, err := NewHandler(store, DefaultOptions(), nil, zap.NewNop())
	require.NoError(t, err)

	for _, sel := range []string{".a", ".b", ".c", ".d"} {
		h.feedback(context.Background(), "example.com", sel, ActionClick, true)
	}

	count, err := store.PatternCount()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Len(t, h.Cache().Ranked("example.com"), 2)
	assert.Equal(t, 2, h.Cache().Len())
}

func TestNewHandlerLoadsBehaviors(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.RecordBehavior("example.com", "delayed_banner", "banner appears after 2s", 0.9))
	require.NoError(t, store.RecordBehavior("example.com", "flaky_dismiss", "sometimes reappears", 0.1))

	h := newTestHandler(t, store)

	behaviors := h.Behaviors("example.com")
	require.Len(t, behaviors, 1, "behaviors at or below the score floor stay out")
	assert.Equal(t, "delayed_banner", behaviors[0].BehaviorType)

	assert.Empty(t, h.Behaviors("other.org"))
}

// Deadline expiry is its own terminal outcome: a cut-off detection must not
// masquerade as a no-banner success.
func TestHandleConsentDeadlineExpiry(t *testing.T) {
	store := newTestStore(t)
	h := newTestHandler(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	page := newFakePage()
	page.add("[id*='cookie']", &fakeElement{visible: true, text: "banner"})

	result, err := h.HandleConsent(ctx, page, "https://example.com")
	require.NoError(t, err)

	assert.False(t, result.Handled)
	assert.Equal(t, "deadline_exceeded", result.Reason)
	assert.Empty(t, page.queries)

	count, err := store.PatternCount()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestNewHandlerHydratesAboveThreshold(t *testing.T) {
	store := newTestStore(t)
	_, err := store.UpsertOutcome("example.com", "#strong", ActionClick, true)
	require.NoError(t, err)
	_, err = store.UpsertOutcome("example.com", ".weak", ActionClick, false)
	require.NoError(t, err)

	h := newTestHandler(t, store)

	ranked := h.Cache().Ranked("example.com")
	require.Len(t, ranked, 1, "patterns at or below the threshold stay out of the cache")
	assert.Equal(t, "#strong", ranked[0].Selector)
}

func TestHandlerStatsPassthrough(t *testing.T) {
	store := newTestStore(t)
	_, err := store.UpsertOutcome("example.com", "#accept", ActionClick, true)
	require.NoError(t, err)

	h := newTestHandler(t, store)

	domain, err := h.DomainStats("example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), domain.PatternCount)

	global, err := h.GlobalStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), global.DomainsLearned)
}
