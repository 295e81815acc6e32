package solver

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Rorqualx/turnstile-solver-go/internal/humanize"
	"github.com/Rorqualx/turnstile-solver-go/internal/patterns"
)

type staticCatalog struct{ c *patterns.Catalog }

func (s staticCatalog) Get() *patterns.Catalog { return s.c }

// fakePage is a scripted page. Each detection pass consumes the next entry
// of passes; the last entry repeats.
type fakePage struct {
	passes    [][]map[string]interface{}
	passCalls int

	results   map[string]interface{}
	responses map[string]func(arg interface{}) interface{}
	calls     map[string]int
	args      map[string][]interface{}

	pos        humanize.Point
	moves      int
	clicks     int
	keys       []string
	reloads    int
	frameBoxes []humanize.Box
	navErr     error
	navigated  string
	url        string
}

func newFakePage(passes ...[]map[string]interface{}) *fakePage {
	return &fakePage{
		passes:    passes,
		results:   map[string]interface{}{},
		responses: map[string]func(interface{}) interface{}{},
		calls:     map[string]int{},
		args:      map[string][]interface{}{},
		url:       "https://site.test/login",
	}
}

func (p *fakePage) EvalJSON(_ context.Context, script string, arg interface{}) (string, error) {
	p.calls[script]++
	p.args[script] = append(p.args[script], arg)

	var v interface{}
	switch {
	case script == patterns.DetectScript:
		var records []map[string]interface{}
		if len(p.passes) > 0 {
			records = p.passes[min(p.passCalls, len(p.passes)-1)]
		}
		p.passCalls++
		if records == nil {
			records = []map[string]interface{}{}
		}
		v = map[string]interface{}{
			"records": records,
			"errors":  []interface{}{},
			"others":  map[string]int{"recaptcha": 0, "hcaptcha": 0},
		}
	case p.responses[script] != nil:
		v = p.responses[script](arg)
	default:
		r, ok := p.results[script]
		if !ok {
			return "null", nil
		}
		v = r
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func (p *fakePage) Position() humanize.Point { return p.pos }

func (p *fakePage) MoveTo(ctx context.Context, pt humanize.Point) error {
	p.pos = pt
	p.moves++
	return ctx.Err()
}

func (p *fakePage) Click(ctx context.Context) error {
	p.clicks++
	return ctx.Err()
}

func (p *fakePage) Press(_ context.Context, key string) error {
	p.keys = append(p.keys, key)
	return nil
}

func (p *fakePage) FrameTargets(_ context.Context, _ string, _ int, _ []string) ([]humanize.Box, error) {
	if p.frameBoxes == nil {
		return nil, errors.New("no frame")
	}
	return p.frameBoxes, nil
}

func (p *fakePage) Reload(context.Context) error {
	p.reloads++
	return nil
}

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) Navigate(_ context.Context, url string) error {
	if p.navErr != nil {
		return p.navErr
	}
	p.navigated = url
	p.url = url
	return nil
}

func widget(selector, kind, sitekey string, visible bool) map[string]interface{} {
	attrs := map[string]string{}
	if sitekey != "" {
		attrs["data-sitekey"] = sitekey
	}
	return map[string]interface{}{
		"selector":   selector,
		"index":      0,
		"kind":       kind,
		"tag":        "div",
		"attributes": attrs,
		"box":        map[string]float64{"x": 100, "y": 200, "width": 300, "height": 65},
		"visible":    visible,
		"text":       "",
		"className":  "cf-turnstile",
	}
}

// stubStrategy returns a fixed error and records the targets it saw.
type stubStrategy struct {
	name    string
	err     error
	targets []Target
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Attempt(_ context.Context, _ Page, t Target) error {
	s.targets = append(s.targets, t)
	return s.err
}
