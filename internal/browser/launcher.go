// Package browser launches Chrome through rod and adapts its pages to the
// detector and solver interfaces.
package browser

import (
	"context"
	"fmt"
	"runtime"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/turnstile-solver-go/internal/config"
	"github.com/Rorqualx/turnstile-solver-go/internal/security"
	"github.com/Rorqualx/turnstile-solver-go/internal/types"
)

// Options controls how Chrome is started.
type Options struct {
	Headless    bool
	BrowserPath string
	ProxyURL    string
}

// OptionsFrom extracts launch options from the application config.
func OptionsFrom(cfg *config.Config) Options {
	return Options{Headless: cfg.Headless, BrowserPath: cfg.BrowserPath}
}

// Browser is a launched Chrome instance.
type Browser struct {
	rod  *rod.Browser
	opts Options
}

// Launch starts Chrome and connects to it over CDP. Failure here is the one
// fatal error in a solve run.
func Launch(ctx context.Context, opts Options) (*Browser, error) {
	if err := security.ValidateProxyURL(opts.ProxyURL); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrBrowserLaunch, err)
	}
	l := newLauncher(opts).Context(ctx)

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrBrowserLaunch, err)
	}

	b := rod.New().Context(ctx).ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("%w: %v", types.ErrBrowserConnect, err)
	}

	ev := log.Debug().Str("url", u).Bool("headless", opts.Headless)
	if opts.ProxyURL != "" {
		ev = ev.Str("proxy", security.RedactProxyURL(opts.ProxyURL))
	}
	ev.Msg("Browser launched")
	return &Browser{rod: b, opts: opts}, nil
}

// newLauncher builds the Chrome command line: no automation switches, a
// realistic window and software WebGL.
func newLauncher(opts Options) *launcher.Launcher {
	l := launcher.New()
	if opts.BrowserPath != "" {
		l = l.Bin(opts.BrowserPath)
	}

	if opts.Headless {
		l = l.Set("headless", "new")
	} else {
		// rod launches headless unless told otherwise.
		l = l.Headless(false)
	}

	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")

	if opts.ProxyURL != "" {
		l = l.Set("proxy-server", opts.ProxyURL)
	}

	l = l.Set("force-webrtc-ip-handling-policy", "disable_non_proxied_udp").
		Set("disable-blink-features", "AutomationControlled").
		Delete("enable-automation").
		Set("disable-features", "Translate,TranslateUI,WebRtcHideLocalIpsWithMdns").
		Set("use-gl", "swiftshader").
		Set("use-angle", "swiftshader").
		Set("enable-unsafe-swiftshader").
		Set("accept-lang", "en-US,en;q=0.9").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("disable-search-engine-choice-screen").
		Set("window-size", "1920,1080").
		Set("mute-audio")

	if runtime.GOARCH == "arm64" || runtime.GOARCH == "arm" {
		l = l.Set("disable-gpu-compositing")
	}
	return l
}

// NewPage opens a blank tab with the stealth profile applied.
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := stealth.Page(b.rod)
	if err != nil {
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}
	return &Page{page: p, browser: b}, nil
}

// Close shuts the browser down.
func (b *Browser) Close() error {
	return b.rod.Close()
}
