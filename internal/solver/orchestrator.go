package solver

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/turnstile-solver-go/internal/metrics"
	"github.com/Rorqualx/turnstile-solver-go/internal/patterns"
	"github.com/Rorqualx/turnstile-solver-go/internal/ratelimit"
)

// Navigator is a page that can be pointed at a URL.
type Navigator interface {
	Page
	Navigate(ctx context.Context, url string) error
}

// Orchestrator loads the target page and runs the state machine on it.
type Orchestrator struct {
	machine    *Machine
	navTimeout time.Duration
}

// NewOrchestrator creates an orchestrator. navTimeout bounds the initial
// navigation; zero means no extra bound.
func NewOrchestrator(machine *Machine, navTimeout time.Duration) *Orchestrator {
	return &Orchestrator{machine: machine, navTimeout: navTimeout}
}

// Solve navigates page to url and clears its widgets. A navigation failure
// yields an Unresolved report rather than an error.
func (o *Orchestrator) Solve(ctx context.Context, page Navigator, url string) *Report {
	start := time.Now()
	log.Info().Str("url", url).Strs("strategies", o.machine.Strategies()).Msg("Starting solve")

	if err := o.navigate(ctx, page, url); err != nil {
		rep := &Report{Outcome: StateUnresolved, URL: url, Transitions: []State{StateUnresolved}}
		rep.note("navigation failed: %v", err)
		rep.Duration = time.Since(start)
		o.finish(rep)
		return rep
	}

	block := checkBlock(ctx, page)
	if block != nil && !block.Retryable() {
		rep := &Report{Outcome: StateUnresolved, URL: url, Transitions: []State{StateUnresolved}, Block: block}
		rep.note("page is blocked: %s", block.Description)
		rep.Duration = time.Since(start)
		o.finish(rep)
		return rep
	}

	rep := o.machine.Run(ctx, page)
	rep.Block = block
	rep.Duration = time.Since(start)
	o.finish(rep)
	return rep
}

func (o *Orchestrator) navigate(ctx context.Context, page Navigator, url string) error {
	if o.navTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.navTimeout)
		defer cancel()
	}
	return page.Navigate(ctx, url)
}

// checkBlock looks for a Cloudflare block page behind the navigation. Only
// geo blocks stop the run; the machine still tries the others since widgets
// often sit on the same page.
func checkBlock(ctx context.Context, page Page) *ratelimit.Info {
	var markup string
	if err := patterns.Run(ctx, page, patterns.PageHTMLScript, nil, &markup); err != nil || markup == "" {
		return nil
	}
	info := ratelimit.Detect(0, markup)
	if !info.Detected {
		return nil
	}
	log.Warn().
		Str("code", info.Code).
		Str("category", string(info.Category)).
		Dur("suggested_delay", info.SuggestedDelay).
		Msg("Block page detected")
	return &info
}

func (o *Orchestrator) finish(rep *Report) {
	metrics.RecordSolve(string(rep.Outcome), rep.Duration)
	ev := log.Info()
	if !rep.Resolved() {
		ev = log.Warn()
	}
	ev.Str("outcome", string(rep.Outcome)).
		Int("attempts", rep.Attempts).
		Int("widgets", rep.Widgets).
		Str("strategy", rep.Strategy).
		Dur("duration", rep.Duration).
		Msg("Solve finished")
}
