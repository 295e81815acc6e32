package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/turnstile-solver-go/internal/humanize"
)

const requestIdleWindow = 500 * time.Millisecond

// keys maps the names the solver uses to rod key codes.
var keys = map[string]input.Key{
	"Tab":   input.Tab,
	"Space": input.Space,
	"Enter": input.Enter,
}

// Page adapts a rod page to the evaluator, pointer and keyboard interfaces
// the detector and strategies consume. Operations on one Page must not run
// concurrently.
type Page struct {
	page    *rod.Page
	browser *Browser
}

// Rod exposes the underlying rod page.
func (p *Page) Rod() *rod.Page {
	return p.page
}

// EvalJSON runs a function expression with arg and returns the JSON text it
// produced.
func (p *Page) EvalJSON(ctx context.Context, script string, arg interface{}) (string, error) {
	var opts *rod.EvalOptions
	if arg == nil {
		opts = rod.Eval(script)
	} else {
		opts = rod.Eval(script, arg)
	}
	res, err := p.page.Context(ctx).Evaluate(opts)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// WaitIdle waits for the load event and then for network quiescence, giving
// up after timeout.
func (p *Page) WaitIdle(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pg := p.page.Context(ctx)
	if err := pg.WaitLoad(); err != nil {
		return err
	}
	pg.WaitRequestIdle(requestIdleWindow, nil, nil, nil)()
	return ctx.Err()
}

// Navigate loads url. A failed load event is logged, not returned.
func (p *Page) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil {
		log.Warn().Err(err).Msg("WaitLoad failed, continuing anyway")
	}
	return nil
}

// Reload reloads the current document.
func (p *Page) Reload(ctx context.Context) error {
	pg := p.page.Context(ctx)
	if err := pg.Reload(); err != nil {
		return err
	}
	if err := pg.WaitLoad(); err != nil {
		log.Debug().Err(err).Msg("WaitLoad after reload failed")
	}
	return nil
}

// URL returns the current document URL, or "" if the page is gone.
func (p *Page) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Position implements humanize.Pointer.
func (p *Page) Position() humanize.Point {
	pt := p.page.Mouse.Position()
	return humanize.Point{X: pt.X, Y: pt.Y}
}

// MoveTo implements humanize.Pointer.
func (p *Page) MoveTo(ctx context.Context, pt humanize.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Mouse.MoveTo(proto.NewPoint(pt.X, pt.Y))
}

// Click implements humanize.Pointer.
func (p *Page) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Mouse.Click(proto.InputMouseButtonLeft, 1)
}

// Press sends one named key ("Tab", "Space", "Enter").
func (p *Page) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, ok := keys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	return p.page.Keyboard.Press(k)
}

// FrameTargets returns the boxes of elements inside the index-th iframe
// matching frameSelector that match any of targets, in target order.
func (p *Page) FrameTargets(ctx context.Context, frameSelector string, index int, targets []string) ([]humanize.Box, error) {
	iframes, err := p.page.Context(ctx).Elements(frameSelector)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, el := range iframes {
			_ = el.Release()
		}
	}()
	if index < 0 || index >= len(iframes) {
		return nil, fmt.Errorf("iframe %s[%d] not found", frameSelector, index)
	}

	frame, err := iframes[index].Frame()
	if err != nil {
		return nil, fmt.Errorf("failed to enter iframe: %w", err)
	}
	frame = frame.Context(ctx)

	var boxes []humanize.Box
	for _, sel := range targets {
		els, err := frame.Elements(sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			if b, ok := elementBox(el); ok {
				boxes = append(boxes, b)
			}
			_ = el.Release()
		}
	}
	return boxes, nil
}

func elementBox(el *rod.Element) (humanize.Box, bool) {
	shape, err := el.Shape()
	if err != nil || shape == nil || len(shape.Quads) == 0 {
		return humanize.Box{}, false
	}
	r := shape.Box()
	if r == nil {
		return humanize.Box{}, false
	}
	b := humanize.Box{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
	return b, !b.Empty()
}

// OpenTab opens url in a new stealth tab of the same browser.
func (p *Page) OpenTab(ctx context.Context, url string) (*Page, error) {
	tab, err := p.browser.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	if err := tab.Navigate(ctx, url); err != nil {
		_ = tab.Close()
		return nil, err
	}
	return tab, nil
}

// Close closes the tab.
func (p *Page) Close() error {
	return p.page.Close()
}
