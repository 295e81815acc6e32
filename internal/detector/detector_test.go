package detector

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Rorqualx/turnstile-solver-go/internal/humanize"
	"github.com/Rorqualx/turnstile-solver-go/internal/patterns"
)

type staticCatalog struct{ c *patterns.Catalog }

func (s staticCatalog) Get() *patterns.Catalog { return s.c }

// fakePage answers each known script with a canned JSON value.
type fakePage struct {
	results map[string]interface{}
	errs    map[string]error
	calls   map[string]int
}

func newFakePage() *fakePage {
	return &fakePage{
		results: map[string]interface{}{
			patterns.ReadyStateScript:     "complete",
			patterns.DetectScript:         detectOutput{},
			patterns.NetworkScript:        []NetworkHit{},
			patterns.FallbackDetectScript: fallbackOutput{},
		},
		errs:  map[string]error{},
		calls: map[string]int{},
	}
}

func (p *fakePage) EvalJSON(_ context.Context, script string, _ interface{}) (string, error) {
	p.calls[script]++
	if err := p.errs[script]; err != nil {
		return "", err
	}
	v, ok := p.results[script]
	if !ok {
		return "null", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func newTestDetector() *Detector {
	return New(staticCatalog{patterns.Get()}, Config{ReadyTimeout: 200 * time.Millisecond, ReadyPoll: 10 * time.Millisecond})
}

func TestDetect_EmptyPage(t *testing.T) {
	page := newFakePage()
	res, err := newTestDetector().Detect(context.Background(), page)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.Found() || len(res.Widgets) != 0 {
		t.Errorf("expected no widgets, got %+v", res.Widgets)
	}
	if page.calls[patterns.FallbackDetectScript] != 1 {
		t.Error("fallback probe should run when nothing matched")
	}
}

func TestDetect_Widgets(t *testing.T) {
	page := newFakePage()
	page.results[patterns.DetectScript] = detectOutput{
		Records: []rawRecord{
			{
				Selector: "div.cf-turnstile", Kind: KindContainer, Tag: "div", Visible: true,
				Attributes: map[string]string{"data-sitekey": "1xABCDEF1234567890ABCDEF12345678", "class": "cf-turnstile"},
				Box:        humanize.Box{X: 100, Y: 100, Width: 300, Height: 65},
			},
			{
				Selector: `iframe[src*="challenges.cloudflare.com"]`, Kind: KindIframe, Tag: "iframe", Visible: true,
				Attributes: map[string]string{"src": "https://challenges.cloudflare.com/cdn-cgi/challenge-platform/turnstile/if/ov2"},
				Box:        humanize.Box{X: 104, Y: 103, Width: 300, Height: 65},
			},
			{
				Selector: ".cf-turnstile", Kind: KindContainer, Tag: "div", Visible: false,
				Attributes: map[string]string{"class": "cf-turnstile hidden"},
			},
			{
				Selector: `script[src*="challenges.cloudflare.com"]`, Kind: KindScript, Tag: "script", Visible: false,
				Attributes: map[string]string{"src": "https://challenges.cloudflare.com/turnstile/v0/api.js"},
			},
		},
		Errors: []SelectorError{{Selector: "div:bogus(", Message: "not a valid selector"}},
		Others: OtherCaptchas{Recaptcha: 1},
	}

	res, err := newTestDetector().Detect(context.Background(), page)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(res.Widgets) != 2 {
		t.Fatalf("expected 2 widgets (overlapping container+iframe merged, hidden container dropped), got %d: %+v", len(res.Widgets), res.Widgets)
	}
	if res.Widgets[0].Kind != KindContainer {
		t.Errorf("highest confidence widget should be the sitekey container, got %s", res.Widgets[0].Kind)
	}
	if res.Widgets[1].Kind != KindScript || res.Widgets[1].Visible {
		t.Errorf("script record should be kept hidden, got %+v", res.Widgets[1])
	}
	if len(res.SelectorErrors) != 1 {
		t.Errorf("selector errors should be reported, got %v", res.SelectorErrors)
	}
	if res.Others.Recaptcha != 1 {
		t.Errorf("Others = %+v", res.Others)
	}
	if page.calls[patterns.FallbackDetectScript] != 0 {
		t.Error("fallback probe must not run when selectors matched")
	}
	for i := 1; i < len(res.Widgets); i++ {
		if res.Widgets[i].Confidence > res.Widgets[i-1].Confidence {
			t.Error("widgets not sorted by descending confidence")
		}
	}
}

func TestDetect_Fallback(t *testing.T) {
	page := newFakePage()
	page.results[patterns.NetworkScript] = []NetworkHit{{URL: "https://challenges.cloudflare.com/turnstile/v0/api.js", Type: "script"}}
	page.results[patterns.FallbackDetectScript] = fallbackOutput{
		Found:  true,
		Method: "data-sitekey",
		Elements: []fallbackElement{
			{Tag: "div", Sitekey: "1xABCDEF1234567890ABCDEF12345678", ClassName: "x-widget"},
		},
	}

	res, err := newTestDetector().Detect(context.Background(), page)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.FallbackMethod != "data-sitekey" {
		t.Errorf("FallbackMethod = %q", res.FallbackMethod)
	}
	if len(res.Widgets) != 2 {
		t.Fatalf("expected network and fallback records, got %+v", res.Widgets)
	}
	top := res.Widgets[0]
	if top.Selector != "fallback:data-sitekey" || top.Sitekey() == "" {
		t.Errorf("top record = %+v", top)
	}
	for _, w := range res.Widgets {
		if w.Visible || w.Clickable() {
			t.Errorf("fallback record must not be clickable: %+v", w)
		}
		if w.Confidence > nonVisualCap {
			t.Errorf("fallback confidence too high: %v", w.Confidence)
		}
	}
}

func TestDetect_NotReadyProceeds(t *testing.T) {
	page := newFakePage()
	page.results[patterns.ReadyStateScript] = "loading"

	start := time.Now()
	res, err := newTestDetector().Detect(context.Background(), page)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res == nil {
		t.Fatal("nil result")
	}
	if page.calls[patterns.ReadyStateScript] < 2 {
		t.Error("readyState should be polled")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("ready wait not bounded")
	}
}

func TestDetect_ScriptFailure(t *testing.T) {
	page := newFakePage()
	page.errs[patterns.DetectScript] = errors.New("target closed")
	if _, err := newTestDetector().Detect(context.Background(), page); err == nil {
		t.Error("expected error when the page cannot be evaluated")
	}
}

func TestDetect_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestDetector().Detect(ctx, newFakePage()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
