// Package solver decides how to clear the Turnstile widgets on a page. It
// drives detection, tries the solving strategies for each widget in order and
// verifies the result, retrying with backoff.
package solver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/turnstile-solver-go/internal/detector"
	"github.com/Rorqualx/turnstile-solver-go/internal/humanize"
	"github.com/Rorqualx/turnstile-solver-go/internal/metrics"
	"github.com/Rorqualx/turnstile-solver-go/internal/patterns"
	"github.com/Rorqualx/turnstile-solver-go/internal/sitekey"
	"github.com/Rorqualx/turnstile-solver-go/internal/types"
)

// Page is the live page the solver works against. Calls are never made
// concurrently.
type Page interface {
	patterns.Evaluator
	humanize.Pointer
	Press(ctx context.Context, key string) error
	FrameTargets(ctx context.Context, frameSelector string, index int, targets []string) ([]humanize.Box, error)
	Reload(ctx context.Context) error
	URL() string
}

// Target is one widget prepared for solving.
type Target struct {
	Widget     detector.WidgetRecord
	Sitekey    string
	Action     string
	CData      string
	PageURL    string
	Validation sitekey.Result
}

// Solvable reports whether programmatic strategies may use the sitekey.
func (t Target) Solvable() bool {
	return t.Sitekey != "" && !t.Validation.Rejected()
}

// Strategy is one way of clearing a widget. Attempt returns nil only when
// the widget was solved.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, page Page, target Target) error
}

// Attempt records one strategy run for the report.
type Attempt struct {
	Strategy string        `json:"strategy"`
	Selector string        `json:"selector"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// FirstSuccess runs strategies in order and stops at the first one that
// succeeds. A failing strategy never stops the ones after it. The returned
// error wraps every failure.
func FirstSuccess(ctx context.Context, strategies []Strategy, page Page, target Target) (string, []Attempt, error) {
	var (
		attempts []Attempt
		errs     []error
	)
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		start := time.Now()
		err := s.Attempt(ctx, page, target)
		a := Attempt{
			Strategy: s.Name(),
			Selector: target.Widget.Selector,
			Success:  err == nil,
			Duration: time.Since(start),
		}
		if errors.Is(err, types.ErrStrategyDisabled) {
			log.Debug().Str("strategy", s.Name()).Msg("Strategy disabled, skipping")
			continue
		}
		metrics.RecordStrategy(s.Name(), err == nil)

		if err == nil {
			attempts = append(attempts, a)
			log.Info().
				Str("strategy", s.Name()).
				Str("selector", target.Widget.Selector).
				Dur("duration", a.Duration).
				Msg("Widget solved")
			return s.Name(), attempts, nil
		}

		a.Error = err.Error()
		attempts = append(attempts, a)
		errs = append(errs, types.NewStrategyError(s.Name(), target.Widget.Selector, err))
		log.Debug().Err(err).Str("strategy", s.Name()).Msg("Strategy failed, trying next")
	}

	if len(errs) == 0 {
		return "", attempts, fmt.Errorf("no strategy available for %s", target.Widget.Selector)
	}
	return "", attempts, errors.Join(errs...)
}

// waitForToken polls the page for a solution token until one appears or
// timeout elapses.
func waitForToken(ctx context.Context, page patterns.Evaluator, timeout, interval time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		var token string
		if err := patterns.Run(ctx, page, patterns.ResponseTokenScript, nil, &token); err == nil && token != "" {
			return token, nil
		}
		if err := humanize.Sleep(ctx, interval); err != nil {
			return "", err
		}
	}
}
