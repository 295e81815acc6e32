package solver

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Rorqualx/turnstile-solver-go/internal/detector"
	"github.com/Rorqualx/turnstile-solver-go/internal/patterns"
	"github.com/Rorqualx/turnstile-solver-go/internal/types"
)

const (
	keyA = "1xABCDEF1234567890ABCDEF1234567890"
	keyB = "0x9F3B7C1D5E2A8B4C6D0E1F2A3B4C5D"
)

func testMachine(strategies ...Strategy) *Machine {
	det := detector.New(staticCatalog{patterns.Get()}, detector.Config{})
	return NewMachine(det, nil, strategies, Config{MaxAttempts: 3, BackoffStep: time.Millisecond, ReloadAttempts: 2})
}

func TestMachine_NoWidgetsIsResolved(t *testing.T) {
	page := newFakePage()
	s := &stubStrategy{name: "stub"}

	rep := testMachine(s).Run(context.Background(), page)

	if !rep.Resolved() {
		t.Fatalf("outcome = %s, want resolved (%v)", rep.Outcome, rep.Details)
	}
	if len(s.targets) != 0 {
		t.Errorf("strategy ran %d times on an empty page", len(s.targets))
	}
	if rep.Attempts != 1 || rep.Widgets != 0 {
		t.Errorf("attempts=%d widgets=%d, want 1 and 0", rep.Attempts, rep.Widgets)
	}
	want := []State{StateDetecting, StateResolved}
	if len(rep.Transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", rep.Transitions, want)
	}
	for i := range want {
		if rep.Transitions[i] != want[i] {
			t.Errorf("transitions = %v, want %v", rep.Transitions, want)
		}
	}
}

func TestMachine_SolveThenVerify(t *testing.T) {
	page := newFakePage(
		[]map[string]interface{}{widget("div.cf-turnstile", "container", keyA, true)},
		nil,
	)
	s := &stubStrategy{name: "stub"}

	rep := testMachine(s).Run(context.Background(), page)

	if !rep.Resolved() {
		t.Fatalf("outcome = %s (%v)", rep.Outcome, rep.Details)
	}
	if rep.Strategy != "stub" {
		t.Errorf("strategy = %q", rep.Strategy)
	}
	if len(s.targets) != 1 || s.targets[0].Sitekey != keyA || s.targets[0].PageURL != page.url {
		t.Errorf("targets = %+v", s.targets)
	}
	seen := map[State]bool{}
	for _, st := range rep.Transitions {
		seen[st] = true
	}
	for _, st := range []State{StateDetecting, StateExtracting, StateSolving, StateVerifying, StateResolved} {
		if !seen[st] {
			t.Errorf("missing transition %s in %v", st, rep.Transitions)
		}
	}
}

func TestMachine_AllSolvedIsResolved(t *testing.T) {
	w := widget("div.cf-turnstile", "container", keyA, true)
	w["text"] = "Success!"
	page := newFakePage([]map[string]interface{}{w})
	s := &stubStrategy{name: "stub"}

	rep := testMachine(s).Run(context.Background(), page)
	if !rep.Resolved() || len(s.targets) != 0 {
		t.Errorf("outcome=%s strategy calls=%d", rep.Outcome, len(s.targets))
	}
}

func TestMachine_RetriesWithReload(t *testing.T) {
	page := newFakePage([]map[string]interface{}{widget("div.cf-turnstile", "container", keyA, true)})
	s := &stubStrategy{name: "stub", err: types.ErrTurnstileFailed}

	rep := testMachine(s).Run(context.Background(), page)

	if rep.Resolved() {
		t.Fatal("expected unresolved")
	}
	if rep.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", rep.Attempts)
	}
	if page.reloads != 2 {
		t.Errorf("reloads = %d, want 2", page.reloads)
	}
	if len(s.targets) != 3 {
		t.Errorf("strategy calls = %d, want 3", len(s.targets))
	}
	if got := rep.Transitions[len(rep.Transitions)-1]; got != StateUnresolved {
		t.Errorf("last transition = %s", got)
	}
}

func TestMachine_ErrorWidgetsFirst(t *testing.T) {
	normal := widget("div.cf-turnstile", "container", keyA, true)
	errored := widget("#other", "container", keyB, true)
	errored["box"] = map[string]float64{"x": 600, "y": 600, "width": 300, "height": 65}
	errored["text"] = "Error. Having trouble?"
	page := newFakePage([]map[string]interface{}{normal, errored}, nil)
	s := &stubStrategy{name: "stub"}

	testMachine(s).Run(context.Background(), page)

	if len(s.targets) != 2 {
		t.Fatalf("strategy calls = %d, want 2", len(s.targets))
	}
	if s.targets[0].Sitekey != keyB || s.targets[0].Widget.State != detector.StateError {
		t.Errorf("first target = %+v, want the errored widget", s.targets[0])
	}
}

func TestMachine_SameSitekeySolvedOnce(t *testing.T) {
	field := widget("input[name=\"cf-turnstile-response\"]", "response-field", keyA, false)
	container := widget("div.cf-turnstile", "container", keyA, true)
	page := newFakePage([]map[string]interface{}{container, field}, nil)
	s := &stubStrategy{name: "stub"}

	testMachine(s).Run(context.Background(), page)
	if len(s.targets) != 1 {
		t.Errorf("strategy calls = %d, want 1", len(s.targets))
	}
}

func TestMachine_PageSitekeyForBareWidget(t *testing.T) {
	page := newFakePage(
		[]map[string]interface{}{widget(`iframe[src*="challenges.cloudflare.com"]`, "iframe", "", true)},
		nil,
	)
	page.results[patterns.PageHTMLScript] = `<div class="cf-turnstile" data-sitekey="` + keyA + `"></div>`
	s := &stubStrategy{name: "stub"}

	testMachine(s).Run(context.Background(), page)

	if len(s.targets) != 1 || s.targets[0].Sitekey != keyA {
		t.Errorf("targets = %+v, want page sitekey", s.targets)
	}
}

func TestMachine_SkipsWidgetWithoutSitekey(t *testing.T) {
	page := newFakePage([]map[string]interface{}{widget("div.cf-turnstile", "container", "", true)})
	page.results[patterns.PageHTMLScript] = "<html><body></body></html>"
	s := &stubStrategy{name: "stub"}

	m := testMachine(s)
	m.config.MaxAttempts = 1
	rep := m.Run(context.Background(), page)

	if rep.Resolved() || len(s.targets) != 0 {
		t.Errorf("outcome=%s calls=%d", rep.Outcome, len(s.targets))
	}
	found := false
	for _, d := range rep.Details {
		if strings.Contains(d, "no sitekey") {
			found = true
		}
	}
	if !found {
		t.Errorf("details = %v", rep.Details)
	}
}

func TestMachine_DemoKeyMarkedUnsolvable(t *testing.T) {
	page := newFakePage([]map[string]interface{}{widget("div.cf-turnstile", "container", "1x00000000000000000000AA", true)}, nil)
	s := &stubStrategy{name: "stub"}

	testMachine(s).Run(context.Background(), page)
	if len(s.targets) != 1 {
		t.Fatalf("strategy calls = %d", len(s.targets))
	}
	if s.targets[0].Solvable() || !s.targets[0].Validation.IsDemo {
		t.Errorf("demo key target = %+v", s.targets[0].Validation)
	}
}

func TestMachine_Cancelled(t *testing.T) {
	page := newFakePage([]map[string]interface{}{widget("div.cf-turnstile", "container", keyA, true)})
	s := &stubStrategy{name: "stub", err: types.ErrTurnstileFailed}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMachine(detector.New(staticCatalog{patterns.Get()}, detector.Config{}), nil, []Strategy{s}, Config{MaxAttempts: 5, BackoffStep: time.Hour})
	rep := m.Run(ctx, page)
	if rep.Resolved() || rep.Attempts > 1 {
		t.Errorf("outcome=%s attempts=%d", rep.Outcome, rep.Attempts)
	}
}

func TestFirstSuccess(t *testing.T) {
	fail := &stubStrategy{name: "fail", err: types.ErrTurnstileFailed}
	disabled := &stubStrategy{name: "off", err: types.ErrStrategyDisabled}
	ok := &stubStrategy{name: "ok"}
	never := &stubStrategy{name: "never"}
	target := Target{Widget: detector.WidgetRecord{Selector: "div.cf-turnstile"}, Sitekey: keyA}

	name, attempts, err := FirstSuccess(context.Background(), []Strategy{fail, disabled, ok, never}, newFakePage(), target)
	if err != nil {
		t.Fatalf("FirstSuccess: %v", err)
	}
	if name != "ok" {
		t.Errorf("name = %q", name)
	}
	if len(never.targets) != 0 {
		t.Error("strategies after the first success must not run")
	}
	if len(attempts) != 2 || attempts[0].Success || !attempts[1].Success {
		t.Errorf("attempts = %+v", attempts)
	}
}

func TestFirstSuccess_AllFail(t *testing.T) {
	a := &stubStrategy{name: "a", err: types.ErrNoClickTarget}
	b := &stubStrategy{name: "b", err: types.ErrCaptchaNoProviders}
	target := Target{Widget: detector.WidgetRecord{Selector: "#w"}}

	_, attempts, err := FirstSuccess(context.Background(), []Strategy{a, b}, newFakePage(), target)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, types.ErrNoClickTarget) || !errors.Is(err, types.ErrCaptchaNoProviders) {
		t.Errorf("error should wrap every failure: %v", err)
	}
	var se *types.StrategyError
	if !errors.As(err, &se) || se.Selector != "#w" {
		t.Errorf("expected StrategyError, got %v", err)
	}
	if len(attempts) != 2 {
		t.Errorf("attempts = %d", len(attempts))
	}
}

func TestOrchestrator(t *testing.T) {
	t.Run("navigation failure", func(t *testing.T) {
		page := newFakePage()
		page.navErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
		rep := NewOrchestrator(testMachine(), time.Second).Solve(context.Background(), page, "https://nope.test")
		if rep.Resolved() || len(rep.Details) == 0 {
			t.Errorf("report = %+v", rep)
		}
	})

	t.Run("empty page", func(t *testing.T) {
		page := newFakePage()
		rep := NewOrchestrator(testMachine(), 0).Solve(context.Background(), page, "https://x.test/")
		if !rep.Resolved() {
			t.Errorf("outcome = %s", rep.Outcome)
		}
		if page.navigated != "https://x.test/" || rep.URL != "https://x.test/" {
			t.Errorf("navigated=%q url=%q", page.navigated, rep.URL)
		}
		if rep.Block != nil {
			t.Errorf("block = %+v", rep.Block)
		}
	})

	t.Run("geo blocked", func(t *testing.T) {
		page := newFakePage()
		page.results[patterns.PageHTMLScript] = "<html><body><h1>Error code: 1009</h1></body></html>"
		rep := NewOrchestrator(testMachine(), 0).Solve(context.Background(), page, "https://x.test/")
		if rep.Resolved() || rep.Block == nil || rep.Block.Code != "CF_1009" {
			t.Fatalf("report = %+v", rep)
		}
		if page.calls[patterns.DetectScript] != 0 {
			t.Error("detection ran on a geo-blocked page")
		}
	})

	t.Run("rate limited page still solved", func(t *testing.T) {
		page := newFakePage()
		page.results[patterns.PageHTMLScript] = "<p>Too many requests, slow down</p>"
		rep := NewOrchestrator(testMachine(), 0).Solve(context.Background(), page, "https://x.test/")
		if !rep.Resolved() || rep.Block == nil || rep.Block.Code != "TOO_MANY_REQUESTS" {
			t.Errorf("report = %+v", rep)
		}
	})
}
