package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/turnstile-solver-go/internal/detector"
	"github.com/Rorqualx/turnstile-solver-go/internal/humanize"
	"github.com/Rorqualx/turnstile-solver-go/internal/patterns"
	"github.com/Rorqualx/turnstile-solver-go/internal/ratelimit"
	"github.com/Rorqualx/turnstile-solver-go/internal/sitekey"
)

// State is a step of the solve state machine.
type State string

// Machine states.
const (
	StateDetecting  State = "detecting"
	StateExtracting State = "extracting"
	StateSolving    State = "solving"
	StateVerifying  State = "verifying"
	StateResolved   State = "resolved"
	StateUnresolved State = "unresolved"
)

// Detector runs one detection pass.
type Detector interface {
	Detect(ctx context.Context, page patterns.Evaluator) (*detector.Result, error)
}

// Config controls the outer retry loop.
type Config struct {
	MaxAttempts int
	// BackoffStep is multiplied by the attempt number: 2s, 4s, 6s...
	BackoffStep time.Duration
	// ReloadAttempts is how many final attempts start with a page reload.
	ReloadAttempts int
}

// DefaultConfig returns five attempts with 2s linear backoff and reloads on
// the last two.
func DefaultConfig() Config {
	return Config{MaxAttempts: 5, BackoffStep: 2 * time.Second, ReloadAttempts: 2}
}

// Report is the outcome of a machine run.
type Report struct {
	Outcome     State           `json:"outcome"`
	URL         string          `json:"url,omitempty"`
	Attempts    int             `json:"attempts"`
	Widgets     int             `json:"widgets"`
	Strategy    string          `json:"strategy,omitempty"`
	Transitions []State         `json:"transitions"`
	Strategies  []Attempt       `json:"strategies,omitempty"`
	Details     []string        `json:"details"`
	Block       *ratelimit.Info `json:"block,omitempty"`
	Duration    time.Duration   `json:"duration"`
}

// Resolved reports whether the page ended with no pending widget.
func (r *Report) Resolved() bool {
	return r.Outcome == StateResolved
}

func (r *Report) enter(s State) {
	r.Transitions = append(r.Transitions, s)
}

func (r *Report) note(format string, args ...interface{}) {
	r.Details = append(r.Details, fmt.Sprintf(format, args...))
}

// Machine walks Detecting, Extracting, Solving and Verifying until the page
// is resolved or the attempts run out.
type Machine struct {
	detector   Detector
	scanner    *patterns.Scanner
	strategies []Strategy
	config     Config
}

// NewMachine creates a state machine. scanner may be nil, in which case
// widgets without their own sitekey are only matched by regex over the page
// markup.
func NewMachine(det Detector, scanner *patterns.Scanner, strategies []Strategy, config Config) *Machine {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if config.ReloadAttempts < 0 {
		config.ReloadAttempts = 0
	}
	return &Machine{detector: det, scanner: scanner, strategies: strategies, config: config}
}

// Strategies returns the strategy names in the order they are tried.
func (m *Machine) Strategies() []string {
	names := make([]string, len(m.strategies))
	for i, s := range m.strategies {
		names[i] = s.Name()
	}
	return names
}

// Run clears the widgets on page. It never returns an error: failures are
// recorded in the report and the outcome is Unresolved.
func (m *Machine) Run(ctx context.Context, page Page) *Report {
	start := time.Now()
	rep := &Report{Outcome: StateUnresolved, URL: page.URL()}
	defer func() { rep.Duration = time.Since(start) }()

	for attempt := 0; attempt < m.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := m.config.BackoffStep * time.Duration(attempt)
			log.Debug().Int("attempt", attempt+1).Dur("backoff", wait).Msg("Retrying solve")
			if err := humanize.Sleep(ctx, wait); err != nil {
				rep.note("cancelled: %v", err)
				break
			}
			if attempt >= m.config.MaxAttempts-m.config.ReloadAttempts {
				if err := page.Reload(ctx); err != nil {
					rep.note("attempt %d: reload failed: %v", attempt+1, err)
				} else {
					rep.note("attempt %d: page reloaded", attempt+1)
				}
			}
		}
		rep.Attempts = attempt + 1

		if m.pass(ctx, page, rep, attempt) {
			rep.Outcome = StateResolved
			rep.enter(StateResolved)
			return rep
		}
		if ctx.Err() != nil {
			rep.note("cancelled: %v", ctx.Err())
			break
		}
	}

	rep.enter(StateUnresolved)
	return rep
}

// pass runs one Detecting→Verifying cycle and reports whether the page is
// resolved.
func (m *Machine) pass(ctx context.Context, page Page, rep *Report, attempt int) bool {
	rep.enter(StateDetecting)
	res, err := m.detector.Detect(ctx, page)
	if err != nil {
		rep.note("attempt %d: detection failed: %v", attempt+1, err)
		return false
	}
	rep.Widgets = len(res.Widgets)
	if !res.Found() {
		rep.note("attempt %d: no widgets detected", attempt+1)
		return true
	}
	pending := res.Pending()
	if len(pending) == 0 {
		rep.note("attempt %d: all %d widgets already solved", attempt+1, len(res.Widgets))
		return true
	}

	rep.enter(StateExtracting)
	targets := m.extract(ctx, page, detector.Prioritize(pending), rep, attempt)

	rep.enter(StateSolving)
	solved := make(map[string]bool)
	for _, t := range targets {
		if t.Sitekey != "" && solved[t.Sitekey] {
			continue
		}
		name, attempts, err := FirstSuccess(ctx, m.strategies, page, t)
		rep.Strategies = append(rep.Strategies, attempts...)
		if err != nil {
			rep.note("attempt %d: %s unsolved: %v", attempt+1, t.Widget.Selector, err)
			if ctx.Err() != nil {
				return false
			}
			continue
		}
		rep.Strategy = name
		rep.note("attempt %d: %s solved by %s", attempt+1, t.Widget.Selector, name)
		if t.Sitekey != "" {
			solved[t.Sitekey] = true
		}
	}

	rep.enter(StateVerifying)
	res, err = m.detector.Detect(ctx, page)
	if err != nil {
		rep.note("attempt %d: verification failed: %v", attempt+1, err)
		return false
	}
	left := res.Pending()
	if len(left) == 0 {
		return true
	}
	rep.note("attempt %d: %d widgets still pending", attempt+1, len(left))
	return false
}

// extract turns pending widgets into targets. Widgets without a sitekey of
// their own borrow the first one found in the page markup; widgets that end
// up with none are skipped.
func (m *Machine) extract(ctx context.Context, page Page, widgets []detector.WidgetRecord, rep *Report, attempt int) []Target {
	pageURL := page.URL()
	var (
		pageKey    string
		pageKeySet bool
	)

	targets := make([]Target, 0, len(widgets))
	for _, w := range widgets {
		key := w.Sitekey()
		if key == "" {
			if !pageKeySet {
				pageKey = m.pageSitekey(ctx, page)
				pageKeySet = true
			}
			key = pageKey
		}
		if key == "" {
			rep.note("attempt %d: %s skipped: no sitekey", attempt+1, w.Selector)
			continue
		}

		t := Target{
			Widget:     w,
			Sitekey:    key,
			Action:     w.Action(),
			CData:      w.CData(),
			PageURL:    pageURL,
			Validation: sitekey.Validate(key, pageURL),
		}
		if t.Validation.Rejected() {
			log.Warn().
				Str("sitekey", prefix(key, 12)).
				Str("reason", t.Validation.Reason).
				Msg("Widget sitekey failed validation, only in-page interaction will be tried")
		}
		targets = append(targets, t)
	}
	return targets
}

// pageSitekey scans the rendered markup for a sitekey.
func (m *Machine) pageSitekey(ctx context.Context, page Page) string {
	var markup string
	if err := patterns.Run(ctx, page, patterns.PageHTMLScript, nil, &markup); err != nil {
		log.Debug().Err(err).Msg("Failed to read page markup")
		return ""
	}
	if m.scanner != nil {
		if res := m.scanner.Scan(markup); len(res.SitekeysFound) > 0 {
			return res.SitekeysFound[0]
		}
	}
	if keys := sitekey.Extract(markup); len(keys) > 0 {
		return keys[0]
	}
	return ""
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
