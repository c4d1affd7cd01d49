package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"webpatrol/internal/patrol"
)

// elementQueryJS inspects every element matching a selector, optionally
// scoped to the subtree of a root selector, and returns the structured
// view the check engine consumes. Selector logic stays on the Go side;
// the page only ever executes this one query shape.
const elementQueryJS = `
(sel, rootSel) => {
	let root = document;
	if (rootSel) {
		root = document.querySelector(rootSel);
		if (!root) return [];
	}
	const nodes = Array.from(root.querySelectorAll(sel)).slice(0, 50);
	return nodes.map((el) => {
		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		const visible = style.display !== 'none' &&
			style.visibility !== 'hidden' &&
			style.opacity !== '0' &&
			rect.width > 0 && rect.height > 0;
		const isImg = el.tagName === 'IMG';
		return {
			tag: el.tagName.toLowerCase(),
			text: (el.innerText || el.value || '').slice(0, 512),
			visible,
			enabled: !el.disabled,
			top: rect.top + window.scrollY,
			left: rect.left + window.scrollX,
			width: rect.width,
			height: rect.height,
			fontSize: parseFloat(style.fontSize) || 0,
			imageComplete: isImg ? !!el.complete : false,
			naturalWidth: isImg ? (el.naturalWidth || 0) : 0,
			naturalHeight: isImg ? (el.naturalHeight || 0) : 0
		};
	});
}
`

const nearbyTextJS = `
(sel) => {
	const el = document.querySelector(sel);
	if (!el) return '';
	const block = el.closest('section, article, div') || el.parentElement || el;
	return (block.innerText || '').slice(0, 1024);
}
`

const jsonLDJS = `
() => Array.from(document.querySelectorAll('script[type="application/ld+json"]'))
	.map((s) => s.textContent || '')
	.filter((t) => t.trim() !== '')
	.slice(0, 10)
`

type elementInfo struct {
	Tag           string  `json:"tag"`
	Text          string  `json:"text"`
	Visible       bool    `json:"visible"`
	Enabled       bool    `json:"enabled"`
	Top           float64 `json:"top"`
	Left          float64 `json:"left"`
	Width         float64 `json:"width"`
	Height        float64 `json:"height"`
	FontSize      float64 `json:"fontSize"`
	ImageComplete bool    `json:"imageComplete"`
	NaturalWidth  float64 `json:"naturalWidth"`
	NaturalHeight float64 `json:"naturalHeight"`
}

// rodPage adapts one rod tab to the engine's page capability.
type rodPage struct {
	page   *rod.Page
	closed atomic.Bool
}

func newRodPage(ctx context.Context, page *rod.Page) *rodPage {
	p := &rodPage{page: page}
	go func() {
		// Flips the liveness flag on renderer crash. The wait also
		// returns on context teardown, at which point the tab is gone
		// anyway.
		wait := page.Context(ctx).WaitEvent(&proto.InspectorTargetCrashed{})
		wait()
		p.closed.Store(true)
	}()
	return p
}

// Navigate loads url under the option's settle strategy and reports the
// document response status.
func (p *rodPage) Navigate(ctx context.Context, url string, opt patrol.NavOptions) (int, error) {
	tp := p.page.Context(ctx).Timeout(opt.Timeout)
	defer tp.CancelTimeout()

	var status int
	waitStatus := tp.EachEvent(func(ev *proto.NetworkResponseReceived) bool {
		if ev.Type != proto.NetworkResourceTypeDocument {
			return false
		}
		status = ev.Response.Status
		return true
	})

	var settle func() error
	switch opt.WaitUntil {
	case patrol.WaitNetworkIdle:
		idle := tp.WaitRequestIdle(300*time.Millisecond, nil, nil, nil)
		settle = func() error { idle(); return nil }
	case patrol.WaitDOMReady:
		wait := tp.WaitEvent(&proto.PageDomContentEventFired{})
		settle = func() error { wait(); return nil }
	default:
		settle = tp.WaitLoad
	}

	if err := tp.Navigate(url); err != nil {
		return 0, fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := settle(); err != nil {
		return 0, fmt.Errorf("settle (%s) for %s: %w", opt.WaitUntil, url, err)
	}
	if err := tp.GetContext().Err(); err != nil {
		return 0, fmt.Errorf("navigation timeout (%s) for %s: %w", opt.WaitUntil, url, err)
	}

	waitStatus()
	return status, nil
}

func (p *rodPage) Wait(d time.Duration) {
	time.Sleep(d)
}

func (p *rodPage) Scroll(ctx context.Context, deltaY float64) error {
	return p.page.Context(ctx).Mouse.Scroll(0, deltaY, 1)
}

func (p *rodPage) Query(ctx context.Context, sel string) ([]patrol.Element, error) {
	return p.query(ctx, sel, "")
}

func (p *rodPage) QueryWithin(ctx context.Context, rootSel, sel string) ([]patrol.Element, error) {
	return p.query(ctx, sel, rootSel)
}

func (p *rodPage) query(ctx context.Context, sel, rootSel string) ([]patrol.Element, error) {
	var infos []elementInfo
	if err := p.evalJSON(ctx, elementQueryJS, []interface{}{sel, rootSel}, &infos); err != nil {
		return nil, fmt.Errorf("query %q: %w", sel, err)
	}

	els := make([]patrol.Element, len(infos))
	for i, info := range infos {
		els[i] = patrol.Element{
			Selector:      sel,
			Tag:           info.Tag,
			Text:          info.Text,
			Visible:       info.Visible,
			Enabled:       info.Enabled,
			Top:           info.Top,
			Left:          info.Left,
			Width:         info.Width,
			Height:        info.Height,
			FontSize:      info.FontSize,
			ImageComplete: info.ImageComplete,
			NaturalWidth:  info.NaturalWidth,
			NaturalHeight: info.NaturalHeight,
		}
	}
	return els, nil
}

func (p *rodPage) NearbyText(ctx context.Context, sel string) (string, error) {
	var text string
	if err := p.evalJSON(ctx, nearbyTextJS, []interface{}{sel}, &text); err != nil {
		return "", fmt.Errorf("nearby text %q: %w", sel, err)
	}
	return text, nil
}

func (p *rodPage) JSONLD(ctx context.Context) ([]string, error) {
	var blobs []string
	if err := p.evalJSON(ctx, jsonLDJS, nil, &blobs); err != nil {
		return nil, fmt.Errorf("jsonld scripts: %w", err)
	}
	return blobs, nil
}

func (p *rodPage) Click(ctx context.Context, sel string) error {
	el, err := p.page.Context(ctx).Element(sel)
	if err != nil {
		return fmt.Errorf("element not found: %w", err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) BodyChildCount(ctx context.Context) (int, error) {
	var count int
	js := `() => document.body ? document.body.childElementCount : 0`
	if err := p.evalJSON(ctx, js, nil, &count); err != nil {
		return 0, fmt.Errorf("body child count: %w", err)
	}
	return count, nil
}

func (p *rodPage) IsClosed() bool {
	return p.closed.Load()
}

func (p *rodPage) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.page.Close()
}

// Screenshot captures the page as PNG. Used by the evidence capturer,
// not part of the engine's page interface.
func (p *rodPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(fullPage, nil)
}

// evalJSON runs an in-page function and decodes its JSON result.
func (p *rodPage) evalJSON(ctx context.Context, js string, args []interface{}, out interface{}) error {
	res, err := p.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return err
	}
	if res == nil || res.Value.Nil() {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal eval result: %w", err)
	}
	return json.Unmarshal(raw, out)
}
