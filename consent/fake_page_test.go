package consent

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/consentflow/browser"
)

// fakeElement is a scripted DOM element for cascade and detector tests.
type fakeElement struct {
	text        string
	tag         string
	fingerprint string
	visible     bool
	clickErr    error
	clicks      int
	hovers      int
}

func (e *fakeElement) IsVisible(ctx context.Context, timeout time.Duration) bool {
	return e.visible
}

func (e *fakeElement) Text(ctx context.Context) (string, error) { return e.text, nil }

func (e *fakeElement) TagName(ctx context.Context) (string, error) {
	if e.tag == "" {
		return "div", nil
	}
	return e.tag, nil
}

func (e *fakeElement) BoundingBox(ctx context.Context) (*browser.BoundingBox, error) {
	if !e.visible {
		return nil, nil
	}
	return &browser.BoundingBox{X: 10, Y: 10, Width: 100, Height: 40}, nil
}

func (e *fakeElement) Click(ctx context.Context) error {
	if e.clickErr != nil {
		return e.clickErr
	}
	e.clicks++
	return nil
}

func (e *fakeElement) Hover(ctx context.Context) error {
	e.hovers++
	return nil
}

func (e *fakeElement) Fingerprint(ctx context.Context) (string, error) {
	if e.fingerprint == "" {
		return "", errors.New("no stable selector")
	}
	return e.fingerprint, nil
}

// fakePage maps selector strings to scripted elements. Selectors not present
// in the map match nothing; selectors in failures return a query error.
type fakePage struct {
	elements map[string][]*fakeElement
	failures map[string]error
	queries  []string
}

func newFakePage() *fakePage {
	return &fakePage{
		elements: make(map[string][]*fakeElement),
		failures: make(map[string]error),
	}
}

func (p *fakePage) add(selector string, el *fakeElement) *fakeElement {
	p.elements[selector] = append(p.elements[selector], el)
	return el
}

func (p *fakePage) QueryElements(ctx context.Context, selector string) ([]browser.Element, error) {
	p.queries = append(p.queries, selector)
	if err, ok := p.failures[selector]; ok {
		return nil, err
	}
	els := make([]browser.Element, 0, len(p.elements[selector]))
	for _, el := range p.elements[selector] {
		els = append(els, el)
	}
	return els, nil
}

func (p *fakePage) Navigate(ctx context.Context, url string) error { return nil }

func (p *fakePage) CurrentURL(ctx context.Context) (string, error) { return "", nil }

func (p *fakePage) Title(ctx context.Context) (string, error) { return "", nil }

func (p *fakePage) Click(ctx context.Context, selector string) error { return nil }

func (p *fakePage) Fill(ctx context.Context, selector, s string) error { return nil }

func (p *fakePage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) { return nil, nil }

func (p *fakePage) Evaluate(ctx context.Context, js string, out any) error { return nil }

func (p *fakePage) Close() error { return nil }
