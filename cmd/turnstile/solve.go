package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Rorqualx/turnstile-solver-go/internal/browser"
	"github.com/Rorqualx/turnstile-solver-go/internal/captcha"
	"github.com/Rorqualx/turnstile-solver-go/internal/config"
	"github.com/Rorqualx/turnstile-solver-go/internal/detector"
	"github.com/Rorqualx/turnstile-solver-go/internal/localserver"
	"github.com/Rorqualx/turnstile-solver-go/internal/patterns"
	"github.com/Rorqualx/turnstile-solver-go/internal/security"
	"github.com/Rorqualx/turnstile-solver-go/internal/solver"
)

type solveOptions struct {
	noServer bool
	noAPI    bool
	proxy    string
}

func newSolveCmd(cfg *config.Config) *cobra.Command {
	var opts solveOptions
	cmd := &cobra.Command{
		Use:   "solve <url>",
		Short: "Open url in Chrome and clear its Turnstile widgets",
		Long: "Launches Chrome with the stealth profile, loads the page and runs detection,\n" +
			"solving and verification. Exits 0 when resolved, 2 when widgets remain and\n" +
			"1 when the browser could not be started.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return solve(cmd.Context(), cfg, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&cfg.Headless, "headless", cfg.Headless, "run Chrome headless")
	cmd.Flags().IntVar(&cfg.SolveMaxAttempts, "attempts", cfg.SolveMaxAttempts, "outer solve attempts")
	cmd.Flags().BoolVar(&opts.noServer, "no-server", false, "skip the local solving server strategy")
	cmd.Flags().BoolVar(&opts.noAPI, "no-api", false, "skip the third-party solving API strategy")
	cmd.Flags().StringVar(&opts.proxy, "proxy", "", "proxy server URL for Chrome")
	return cmd
}

func solve(parent context.Context, cfg *config.Config, target string, opts solveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	if err := security.ValidateTargetURL(target); err != nil {
		return &exitError{code: exitFatal, msg: fmt.Sprintf("target %q: %v", target, err)}
	}
	if err := security.ValidateProxyURL(opts.proxy); err != nil {
		return &exitError{code: exitFatal, msg: err.Error()}
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog := loadCatalog(cfg)
	defer catalog.Close()

	launch := browser.OptionsFrom(cfg)
	launch.ProxyURL = opts.proxy
	b, err := browser.Launch(ctx, launch)
	if err != nil {
		log.Error().Err(err).Msg("Browser launch failed")
		return &exitError{code: exitFatal, msg: err.Error()}
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Debug().Err(err).Msg("Browser close failed")
		}
	}()

	page, err := b.NewPage(ctx)
	if err != nil {
		return &exitError{code: exitFatal, msg: err.Error()}
	}

	strategies := []solver.Strategy{solver.NewClickStrategy(catalog, solver.DefaultClickConfig())}

	if !opts.noServer {
		srv := localserver.New(localserver.ConfigFrom(cfg), nil)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		strategies = append(strategies, solver.NewServerStrategy(srv, openTab(page), cfg.ServerSolveWait, cfg.ServerPollInterval))
	}

	if !opts.noAPI && cfg.HasCaptchaFallback() {
		strategies = append(strategies, solver.NewAPIStrategy(captcha.NewChainFromConfig(cfg)))
	}

	det := detector.New(catalog, detector.Config{
		ReadyTimeout: cfg.DetectIdleTimeout,
		ReadyPoll:    200 * time.Millisecond,
	})
	machine := solver.NewMachine(det, patterns.NewScanner(catalog, cfg.SignaturesPath), strategies, solver.Config{
		MaxAttempts:    cfg.SolveMaxAttempts,
		BackoffStep:    cfg.SolveBackoffStep,
		ReloadAttempts: 2,
	})

	rep := solver.NewOrchestrator(machine, cfg.NavigationTimeout).Solve(ctx, page, target)
	if err := printJSON(os.Stdout, rep); err != nil {
		return err
	}
	if !rep.Resolved() {
		return &exitError{code: exitNegative, msg: "page unresolved"}
	}
	return nil
}

// openTab opens solving pages next to page.
func openTab(page *browser.Page) solver.TabOpener {
	return func(ctx context.Context, url string) (solver.Tab, error) {
		tab, err := page.OpenTab(ctx, url)
		if err != nil {
			return nil, err
		}
		return tab, nil
	}
}
