package solver

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/turnstile-solver-go/internal/captcha"
	"github.com/Rorqualx/turnstile-solver-go/internal/types"
)

// APIStrategy submits the widget to the third-party providers and injects
// the returned token.
type APIStrategy struct {
	chain *captcha.Chain
}

// NewAPIStrategy creates the provider strategy.
func NewAPIStrategy(chain *captcha.Chain) *APIStrategy {
	return &APIStrategy{chain: chain}
}

// Name implements Strategy.
func (s *APIStrategy) Name() string { return "solving_api" }

// Attempt implements Strategy.
func (s *APIStrategy) Attempt(ctx context.Context, page Page, target Target) error {
	if s.chain == nil || !s.chain.HasProviders() {
		return types.ErrStrategyDisabled
	}
	if !target.Solvable() {
		return fmt.Errorf("%w: %s", types.ErrWidgetNotSolvable, target.Validation.Reason)
	}

	res, err := s.chain.Solve(ctx, &captcha.TurnstileRequest{
		SiteKey: target.Sitekey,
		PageURL: target.PageURL,
		Action:  target.Action,
		CData:   target.CData,
	})
	if err != nil {
		return err
	}

	injected, err := captcha.InjectToken(ctx, page, res.Token)
	if err != nil {
		return err
	}
	log.Info().
		Str("provider", res.Provider).
		Dur("solve_time", res.SolveTime).
		Int("fields", injected.Fields).
		Msg("Injected provider token")
	return nil
}
