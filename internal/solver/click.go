package solver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/turnstile-solver-go/internal/detector"
	"github.com/Rorqualx/turnstile-solver-go/internal/humanize"
	"github.com/Rorqualx/turnstile-solver-go/internal/patterns"
	"github.com/Rorqualx/turnstile-solver-go/internal/types"
)

// ClickConfig tunes the in-page interaction strategy.
type ClickConfig struct {
	Mouse humanize.MouseConfig
	// Tabs is how many Tab presses precede Space in the keyboard fallback.
	Tabs     int
	KeyDelay time.Duration
	// VerifyWait bounds the wait for a token to appear after a click.
	VerifyWait time.Duration
	VerifyPoll time.Duration
	// RefreshSettle is the pause after clicking a refresh control.
	RefreshSettle time.Duration
}

// DefaultClickConfig returns the production pacing.
func DefaultClickConfig() ClickConfig {
	return ClickConfig{
		Mouse:         humanize.DefaultMouseConfig(),
		Tabs:          10,
		KeyDelay:      200 * time.Millisecond,
		VerifyWait:    5 * time.Second,
		VerifyPoll:    500 * time.Millisecond,
		RefreshSettle: 2 * time.Second,
	}
}

// ClickStrategy interacts with the widget in place: a refresh click for
// errored widgets, then a human-like pointer click on the checkbox (inside
// the challenge iframe when there is one), then a keyboard fallback.
type ClickStrategy struct {
	catalog patterns.CatalogSource
	config  ClickConfig
}

// NewClickStrategy creates the click strategy.
func NewClickStrategy(catalog patterns.CatalogSource, config ClickConfig) *ClickStrategy {
	if config.VerifyPoll <= 0 {
		config.VerifyPoll = DefaultClickConfig().VerifyPoll
	}
	return &ClickStrategy{catalog: catalog, config: config}
}

// Name implements Strategy.
func (s *ClickStrategy) Name() string { return "click" }

type locateArg struct {
	Selector string `json:"selector"`
	Index    int    `json:"index"`
}

type refreshArg struct {
	Selector  string   `json:"selector"`
	Index     int      `json:"index"`
	Selectors []string `json:"selectors"`
	Texts     []string `json:"texts"`
}

// Attempt implements Strategy.
func (s *ClickStrategy) Attempt(ctx context.Context, page Page, target Target) error {
	w := target.Widget
	if w.State == detector.StateSuccess {
		return fmt.Errorf("%w: widget already solved", types.ErrNoClickTarget)
	}
	if !w.Clickable() {
		return types.ErrNoClickTarget
	}

	cat := s.catalog.Get()
	mouse := humanize.NewMouseWithConfig(page, s.config.Mouse)

	if w.State == detector.StateError {
		if err := s.refresh(ctx, page, mouse, w, cat); err != nil {
			log.Debug().Err(err).Str("selector", w.Selector).Msg("No refresh control clicked")
		}
	}

	clicked, err := s.pointerClick(ctx, page, mouse, w, cat)
	if err != nil && ctx.Err() != nil {
		return err
	}
	if !clicked {
		log.Debug().Err(err).Str("selector", w.Selector).Msg("Pointer click unavailable, using keyboard")
		if err := s.keyboard(ctx, page); err != nil {
			return err
		}
	}

	if _, err := waitForToken(ctx, page, s.config.VerifyWait, s.config.VerifyPoll); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return types.ErrTurnstileFailed
	}
	return nil
}

// refresh clicks the retry control of an errored widget.
func (s *ClickStrategy) refresh(ctx context.Context, page Page, mouse *humanize.Mouse, w detector.WidgetRecord, cat *patterns.Catalog) error {
	var box *humanize.Box
	arg := refreshArg{
		Selector:  w.Selector,
		Index:     w.Index,
		Selectors: cat.RefreshControls.Selectors,
		Texts:     cat.RefreshControls.Texts,
	}
	if err := patterns.Run(ctx, page, patterns.RefreshControlScript, arg, &box); err != nil {
		return err
	}
	if box == nil {
		return errors.New("no refresh control found")
	}
	if err := mouse.ClickBox(ctx, *box); err != nil {
		return err
	}
	log.Info().Str("selector", w.Selector).Msg("Clicked refresh control on errored widget")
	return humanize.Sleep(ctx, s.config.RefreshSettle)
}

// pointerClick clicks the best target for w. It reports false with the
// reason when nothing could be clicked.
func (s *ClickStrategy) pointerClick(ctx context.Context, page Page, mouse *humanize.Mouse, w detector.WidgetRecord, cat *patterns.Catalog) (bool, error) {
	if w.Kind == detector.KindIframe {
		boxes, err := page.FrameTargets(ctx, w.Selector, w.Index, cat.FrameClickTargets)
		if err != nil {
			log.Debug().Err(err).Msg("Failed to read iframe click targets")
		}
		for _, b := range boxes {
			if err := mouse.ClickBox(ctx, b); err == nil {
				log.Info().Str("selector", w.Selector).Msg("Clicked control inside challenge iframe")
				return true, nil
			}
		}
	}

	var box *humanize.Box
	if err := patterns.Run(ctx, page, patterns.LocateScript, locateArg{Selector: w.Selector, Index: w.Index}, &box); err != nil {
		return false, err
	}
	if box == nil {
		return false, types.ErrNoClickTarget
	}

	// A Turnstile iframe without a reachable checkbox is clicked near its
	// left edge, where the checkbox renders.
	if w.Kind == detector.KindIframe && box.Width > 60 {
		box.Width = 60
	}
	if err := mouse.ClickBox(ctx, *box); err != nil {
		return false, err
	}
	log.Info().Str("selector", w.Selector).Msg("Clicked Turnstile widget")
	return true, nil
}

// keyboard tabs through the page and presses Space on the focused control.
func (s *ClickStrategy) keyboard(ctx context.Context, page Page) error {
	for i := 0; i < s.config.Tabs; i++ {
		if err := page.Press(ctx, "Tab"); err != nil {
			log.Debug().Err(err).Int("tab", i).Msg("Tab press failed")
		}
		if err := humanize.Sleep(ctx, s.config.KeyDelay); err != nil {
			return err
		}
	}
	if err := page.Press(ctx, "Space"); err != nil {
		return fmt.Errorf("space press failed: %w", err)
	}
	log.Info().Int("tabs", s.config.Tabs).Msg("Sent keyboard Tab+Space for Turnstile")
	return nil
}
