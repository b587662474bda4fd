// Package browser provides a thin wrapper over a headless Chrome instance
// for page automation: navigation, element queries, clicks, form fills,
// screenshots and visibility waits.
package browser

import (
	"context"
	"time"
)

// BoundingBox represents element position and size in CSS pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Element is a handle to a single DOM element on a live page.
//
// All methods take a context; element handles become stale after navigation
// and any operation on a stale handle returns an error.
type Element interface {
	// IsVisible reports whether the element is currently rendered and
	// on-screen. With a positive timeout it polls until the element becomes
	// visible or the timeout elapses.
	IsVisible(ctx context.Context, timeout time.Duration) bool
	// Text returns the element's visible text content.
	Text(ctx context.Context) (string, error)
	// TagName returns the lowercase tag name (e.g. "button").
	TagName(ctx context.Context) (string, error)
	// BoundingBox returns the element's layout box, or nil if it has none.
	BoundingBox(ctx context.Context) (*BoundingBox, error)
	// Click dispatches a single mouse click on the element.
	Click(ctx context.Context) error
	// Hover moves the mouse over the element's center.
	Hover(ctx context.Context) error
	// Fingerprint derives a stable selector for the element:
	// "#id" if it has an id, else "." plus its first class token,
	// else its lowercase tag name.
	Fingerprint(ctx context.Context) (string, error)
}

// Page is the browser capability set consumed by the consent engine and
// exposed to callers. Implementations must be safe for sequential use from a
// single goroutine; concurrent use requires external synchronization.
type Page interface {
	// Navigate loads the given URL and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// CurrentURL returns the page's current location.
	CurrentURL(ctx context.Context) (string, error)
	// Title returns the document title.
	Title(ctx context.Context) (string, error)
	// QueryElements returns handles for all elements matching the selector.
	// Selectors of the form "tag:has-text('Label')" match elements of the
	// base selector whose visible text contains the label.
	QueryElements(ctx context.Context, selector string) ([]Element, error)
	// Click clicks the first element matching the selector.
	Click(ctx context.Context, selector string) error
	// Fill clears and types text into the first element matching the selector.
	Fill(ctx context.Context, selector, text string) error
	// WaitVisible blocks until the selector matches a visible element or the
	// timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// Screenshot captures the full viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// Evaluate runs a JavaScript expression and unmarshals the result into out.
	Evaluate(ctx context.Context, js string, out any) error
	// Close releases the page and its browser resources.
	Close() error
}

// Config configures the Chrome instance backing a page.
type Config struct {
	Headless       bool          `yaml:"headless" json:"headless"`
	ViewportWidth  int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" json:"viewport_height"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent,omitempty"`
	ProxyURL       string        `yaml:"proxy_url" json:"proxy_url,omitempty"`
}

// DefaultConfig returns sensible defaults for headless automation.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Timeout:        60 * time.Second,
	}
}
