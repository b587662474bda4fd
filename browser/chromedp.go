package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrStaleElement is returned when an element handle no longer resolves,
// typically after a navigation replaced the document.
var ErrStaleElement = errors.New("element handle is stale")

// visibilityPollInterval is how often IsVisible re-checks while waiting.
const visibilityPollInterval = 100 * time.Millisecond

// ChromePage implements Page over a dedicated headless Chrome instance
// driven through the DevTools protocol.
type ChromePage struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	config      Config
	logger      *zap.Logger
	mu          sync.Mutex
}

// NewChromePage launches a Chrome instance and returns a page handle bound
// to a fresh browser tab.
func NewChromePage(config Config, logger *zap.Logger) (*ChromePage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.WindowSize(config.ViewportWidth, config.ViewportHeight),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(config.UserAgent))
	}
	if config.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(config.ProxyURL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	p := &ChromePage{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
		config:      config,
		logger:      logger.With(zap.String("component", "chrome_page")),
	}

	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	p.logger.Info("chrome started",
		zap.Bool("headless", config.Headless),
		zap.Int("viewport_w", config.ViewportWidth),
		zap.Int("viewport_h", config.ViewportHeight))

	return p, nil
}

// run executes actions against the page's browser context, honoring any
// deadline carried by the caller's context.
func (p *ChromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx := p.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(runCtx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads the URL and waits for the page load event.
func (p *ChromePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger.Debug("navigating", zap.String("url", url))
	return p.run(ctx, chromedp.Navigate(url))
}

// CurrentURL returns the page's current location.
func (p *ChromePage) CurrentURL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var url string
	if err := p.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("get location: %w", err)
	}
	return url, nil
}

// Title returns the document title.
func (p *ChromePage) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var title string
	if err := p.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("get title: %w", err)
	}
	return title, nil
}

// hasTextRe matches Playwright-style "tag:has-text('Label')" selectors.
var hasTextRe = regexp.MustCompile(`^(.+?):has-text\('(.*)'\)$`)

// parseHasText splits a "base:has-text('label')" selector into its base
// selector and label. ok is false for plain CSS selectors.
func parseHasText(selector string) (base, label string, ok bool) {
	m := hasTextRe.FindStringSubmatch(selector)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// QueryElements returns handles for all elements matching the selector.
// ":has-text" selectors are evaluated as a base query plus a substring match
// on each element's visible text; the DOM itself never sees the pseudo-class.
func (p *ChromePage) QueryElements(ctx context.Context, selector string) ([]Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queryElements(ctx, selector)
}

func (p *ChromePage) queryElements(ctx context.Context, selector string) ([]Element, error) {
	query := selector
	label := ""
	if base, l, ok := parseHasText(selector); ok {
		query, label = base, l
	}

	var nodes []*cdp.Node
	err := p.run(ctx, chromedp.Nodes(query, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", query, err)
	}

	elements := make([]Element, 0, len(nodes))
	for _, node := range nodes {
		el := &chromeElement{page: p, node: node}
		if label != "" {
			text, err := el.Text(ctx)
			if err != nil || !strings.Contains(text, label) {
				continue
			}
		}
		elements = append(elements, el)
	}
	return elements, nil
}

// Click clicks the first element matching the selector.
func (p *ChromePage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, _, ok := parseHasText(selector); ok {
		els, err := p.queryElements(ctx, selector)
		if err != nil {
			return err
		}
		if len(els) == 0 {
			return fmt.Errorf("click %q: no matching element", selector)
		}
		return els[0].Click(ctx)
	}
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

// Fill clears and types text into the first element matching the selector.
func (p *ChromePage) Fill(ctx context.Context, selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.run(ctx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

// WaitVisible blocks until the selector matches a visible element or the
// timeout elapses.
func (p *ChromePage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, _, ok := parseHasText(selector); ok {
		for {
			els, err := p.queryElements(waitCtx, selector)
			if err == nil {
				for _, el := range els {
					if el.IsVisible(waitCtx, 0) {
						return nil
					}
				}
			}
			select {
			case <-waitCtx.Done():
				return fmt.Errorf("wait visible %q: %w", selector, waitCtx.Err())
			case <-time.After(visibilityPollInterval):
			}
		}
	}
	return p.run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// Screenshot captures the full viewport as PNG bytes.
func (p *ChromePage) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// Evaluate runs a JavaScript expression and unmarshals the result into out.
func (p *ChromePage) Evaluate(ctx context.Context, js string, out any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.run(ctx, chromedp.Evaluate(js, out))
}

// Close shuts down the tab and the Chrome instance behind it.
func (p *ChromePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger.Info("closing chrome")
	p.cancel()
	p.allocCancel()
	return nil
}

// =============================================================================
// Element handles
// =============================================================================

// chromeElement is an Element backed by a DevTools node ID. Handles go stale
// on navigation; operations on stale handles return ErrStaleElement.
type chromeElement struct {
	page *ChromePage
	node *cdp.Node
}

const (
	jsIsVisible = `function() {
		const style = window.getComputedStyle(this);
		if (style.display === 'none' || style.visibility === 'hidden' || style.opacity === '0') {
			return false;
		}
		const rect = this.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	}`

	jsText = `function() {
		return (this.innerText || this.textContent || '').trim();
	}`

	jsTagName = `function() {
		return this.tagName.toLowerCase();
	}`

	jsBoundingBox = `function() {
		const rect = this.getBoundingClientRect();
		if (rect.width === 0 && rect.height === 0) {
			return null;
		}
		return {x: rect.x, y: rect.y, width: rect.width, height: rect.height};
	}`

	jsFingerprint = `function() {
		if (this.id) {
			return '#' + this.id;
		}
		if (this.className && typeof this.className === 'string') {
			const cls = this.className.trim().split(/\s+/)[0];
			if (cls) {
				return '.' + cls;
			}
		}
		return this.tagName.toLowerCase();
	}`
)

// eval calls a JS function with the element bound as `this` and unmarshals
// the by-value result into out.
func (e *chromeElement) eval(ctx context.Context, fn string, out any) error {
	return e.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStaleElement, err)
		}
		res, exc, err := runtime.CallFunctionOn(fn).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		if out == nil || res == nil || res.Value == nil {
			return nil
		}
		return json.Unmarshal(res.Value, out)
	}))
}

// IsVisible reports whether the element is rendered. With a positive timeout
// it polls until visible or the timeout elapses.
func (e *chromeElement) IsVisible(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		var visible bool
		if err := e.eval(ctx, jsIsVisible, &visible); err == nil && visible {
			return true
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(visibilityPollInterval):
		}
	}
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	var text string
	if err := e.eval(ctx, jsText, &text); err != nil {
		return "", err
	}
	return text, nil
}

func (e *chromeElement) TagName(ctx context.Context) (string, error) {
	var tag string
	if err := e.eval(ctx, jsTagName, &tag); err != nil {
		return "", err
	}
	return tag, nil
}

func (e *chromeElement) BoundingBox(ctx context.Context) (*BoundingBox, error) {
	var box *BoundingBox
	if err := e.eval(ctx, jsBoundingBox, &box); err != nil {
		return nil, err
	}
	return box, nil
}

// Click dispatches a single mouse click on the element's node.
func (e *chromeElement) Click(ctx context.Context) error {
	return e.page.run(ctx, chromedp.MouseClickNode(e.node))
}

// Hover moves the mouse to the element's center.
func (e *chromeElement) Hover(ctx context.Context) error {
	box, err := e.BoundingBox(ctx)
	if err != nil {
		return err
	}
	if box == nil {
		return fmt.Errorf("hover: element has no layout box")
	}
	x := box.X + box.Width/2
	y := box.Y + box.Height/2
	return e.page.run(ctx, chromedp.MouseEvent(input.MouseMoved, x, y))
}

// Fingerprint derives the stable selector used to key learned patterns for
// elements found by text scan: id, else first class token, else tag name.
func (e *chromeElement) Fingerprint(ctx context.Context) (string, error) {
	var selector string
	if err := e.eval(ctx, jsFingerprint, &selector); err != nil {
		return "", err
	}
	return selector, nil
}
