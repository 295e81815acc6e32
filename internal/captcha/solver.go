// Package captcha submits Turnstile challenges to third-party solving
// services and injects the returned tokens into pages.
package captcha

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/turnstile-solver-go/internal/config"
	"github.com/Rorqualx/turnstile-solver-go/internal/metrics"
	"github.com/Rorqualx/turnstile-solver-go/internal/types"
)

// CaptchaSolver is a remote "submit site+key, poll for token" service.
type CaptchaSolver interface {
	// Name returns the provider name (e.g., "2captcha", "capsolver").
	Name() string

	// SolveTurnstile submits the challenge and polls until a token arrives,
	// the provider gives up, or the poll budget runs out.
	SolveTurnstile(ctx context.Context, req *TurnstileRequest) (*TurnstileResult, error)

	// Balance retrieves the current account balance from the provider.
	Balance(ctx context.Context) (float64, error)

	// IsConfigured returns true if the provider has API credentials.
	IsConfigured() bool
}

// TurnstileRequest contains the parameters needed to solve a Turnstile challenge.
type TurnstileRequest struct {
	SiteKey string
	PageURL string
	Action  string
	CData   string
}

// TurnstileResult contains the solution from a CAPTCHA solver.
type TurnstileResult struct {
	Token     string
	SolveTime time.Duration
	Cost      float64
	Provider  string
	TaskID    string
}

// Chain tries providers in order until one returns a token.
type Chain struct {
	providers []CaptchaSolver
	metrics   *Metrics
}

// ChainConfig contains configuration for a Chain.
type ChainConfig struct {
	Providers []CaptchaSolver
	// Primary names the provider tried first; the rest keep their order.
	Primary string
	Metrics *Metrics
}

// NewChain creates a provider chain.
func NewChain(cfg ChainConfig) *Chain {
	providers := make([]CaptchaSolver, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if strings.EqualFold(p.Name(), cfg.Primary) {
			providers = append([]CaptchaSolver{p}, providers...)
		} else {
			providers = append(providers, p)
		}
	}
	m := cfg.Metrics
	if m == nil {
		m = NewMetrics()
	}
	return &Chain{providers: providers, metrics: m}
}

// NewChainFromConfig builds both providers from cfg. Providers without an
// API key are kept but skipped when solving.
func NewChainFromConfig(cfg *config.Config) *Chain {
	poll := PollConfig{Interval: cfg.CaptchaPollInterval, MaxPolls: cfg.CaptchaMaxPolls}
	return NewChain(ChainConfig{
		Providers: []CaptchaSolver{
			NewCapSolverSolver(CapSolverConfig{APIKey: cfg.CaptchaCapSolverAPIKey, Poll: poll}),
			NewTwoCaptchaSolver(TwoCaptchaConfig{APIKey: cfg.Captcha2CaptchaAPIKey, Poll: poll}),
		},
		Primary: cfg.CaptchaPrimaryProvider,
	})
}

// Providers returns the chain's providers in the order they are tried.
func (c *Chain) Providers() []CaptchaSolver {
	return c.providers
}

// HasProviders returns true if at least one provider is configured.
func (c *Chain) HasProviders() bool {
	for _, p := range c.providers {
		if p.IsConfigured() {
			return true
		}
	}
	return false
}

// Metrics returns the chain's usage tracker.
func (c *Chain) Metrics() *Metrics {
	return c.metrics
}

// Solve asks each configured provider in turn for a token.
func (c *Chain) Solve(ctx context.Context, req *TurnstileRequest) (*TurnstileResult, error) {
	if req == nil || req.SiteKey == "" {
		return nil, types.ErrSitekeyMissing
	}

	log.Info().
		Str("sitekey", prefix(req.SiteKey, 10)).
		Str("url", req.PageURL).
		Msg("Attempting external CAPTCHA solve")

	var lastErr error
	for _, provider := range c.providers {
		if !provider.IsConfigured() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		result, err := provider.SolveTurnstile(ctx, req)
		elapsed := time.Since(start)

		if err != nil {
			log.Warn().
				Err(err).
				Str("provider", provider.Name()).
				Dur("duration", elapsed).
				Msg("External solver failed, trying next provider")
			lastErr = err
			c.metrics.RecordAttempt(provider.Name(), false, 0, elapsed)
			c.metrics.RecordError(provider.Name(), err.Error())
			continue
		}

		log.Info().
			Str("provider", provider.Name()).
			Dur("solve_time", result.SolveTime).
			Float64("cost", result.Cost).
			Msg("External solver succeeded")
		c.metrics.RecordAttempt(provider.Name(), true, result.Cost, result.SolveTime)
		return result, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all providers failed, last error: %w", lastErr)
	}
	return nil, types.ErrCaptchaNoProviders
}

// Balances queries every configured provider. Failures are logged and omitted.
func (c *Chain) Balances(ctx context.Context) map[string]float64 {
	out := make(map[string]float64)
	for _, p := range c.providers {
		if !p.IsConfigured() {
			continue
		}
		b, err := p.Balance(ctx)
		if err != nil {
			log.Warn().Err(err).Str("provider", p.Name()).Msg("Failed to fetch balance")
			c.metrics.RecordError(p.Name(), err.Error())
			continue
		}
		c.metrics.UpdateBalance(p.Name(), b)
		out[p.Name()] = b
	}
	return out
}

func recordProvider(provider string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.RecordProviderSolve(provider, status)
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
