package solver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/turnstile-solver-go/internal/captcha"
	"github.com/Rorqualx/turnstile-solver-go/internal/localserver"
	"github.com/Rorqualx/turnstile-solver-go/internal/patterns"
	"github.com/Rorqualx/turnstile-solver-go/internal/types"
)

// Tab is a secondary page used to host the local solving page.
type Tab interface {
	patterns.Evaluator
	Close() error
}

// TabOpener opens url in a new tab of the browser driving the target page.
type TabOpener func(ctx context.Context, url string) (Tab, error)

// ServerStrategy solves the widget on the local solving server: it opens the
// server's page for the sitekey in a new tab, waits for the token to be
// posted back and injects it into the target page.
type ServerStrategy struct {
	server   *localserver.Server
	open     TabOpener
	wait     time.Duration
	interval time.Duration
}

// NewServerStrategy creates the local server strategy. The server is
// started on first use if it is not running.
func NewServerStrategy(server *localserver.Server, open TabOpener, wait, interval time.Duration) *ServerStrategy {
	if wait <= 0 {
		wait = 30 * time.Second
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &ServerStrategy{server: server, open: open, wait: wait, interval: interval}
}

// Name implements Strategy.
func (s *ServerStrategy) Name() string { return "local_server" }

// Attempt implements Strategy.
func (s *ServerStrategy) Attempt(ctx context.Context, page Page, target Target) error {
	if s.server == nil || s.open == nil {
		return types.ErrStrategyDisabled
	}
	if !target.Solvable() {
		return fmt.Errorf("%w: %s", types.ErrWidgetNotSolvable, target.Validation.Reason)
	}
	if !s.server.Running() {
		if err := s.server.Start(); err != nil {
			return err
		}
	}

	tab, err := s.open(ctx, s.server.SolveURL(target.Sitekey, target.PageURL, target.Action, target.CData))
	if err != nil {
		return fmt.Errorf("failed to open solving page: %w", err)
	}
	defer func() {
		if err := tab.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close solving tab")
		}
	}()

	var id string
	if err := patterns.Run(ctx, tab, patterns.SessionIDScript, nil, &id); err != nil {
		return fmt.Errorf("failed to read session id: %w", err)
	}
	if id == "" {
		return errors.New("solving page did not create a session")
	}
	log.Debug().Str("session_id", id).Msg("Waiting for local solving session")

	token, err := localserver.NewClient(s.server.BaseURL()).WaitForToken(ctx, id, s.interval, s.wait)
	if err != nil {
		return err
	}

	if _, err := captcha.InjectToken(ctx, page, token); err != nil {
		return err
	}
	return nil
}
