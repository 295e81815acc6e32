package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Rorqualx/turnstile-solver-go/internal/config"
	"github.com/Rorqualx/turnstile-solver-go/internal/dashboard"
	"github.com/Rorqualx/turnstile-solver-go/internal/patterns"
	"github.com/Rorqualx/turnstile-solver-go/internal/ratelimit"
	"github.com/Rorqualx/turnstile-solver-go/internal/security"
	"github.com/Rorqualx/turnstile-solver-go/internal/sitekey"
	"github.com/Rorqualx/turnstile-solver-go/pkg/version"
)

const (
	maxMarkupSize = 10 * 1024 * 1024
	fetchTimeout  = 30 * time.Second
)

type extractReport struct {
	Source   string               `json:"source"`
	Scan     *patterns.ScanResult `json:"scan"`
	Sitekeys []sitekey.Result     `json:"sitekeys"`
	Block    *ratelimit.Info      `json:"block,omitempty"`
}

func newExtractCmd(cfg *config.Config) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "extract <url|file|->",
		Short: "Scan static markup for Turnstile traces and sitekeys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			rep, err := extract(ctx, cfg, args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), rep)
			}
			fmt.Fprintln(cmd.OutOrStdout(), dashboard.RenderScan(rep.Source, rep.Scan, rep.Sitekeys))
			if rep.Block != nil {
				fmt.Fprintln(cmd.OutOrStdout(), dashboard.RenderBlock(*rep.Block))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON instead of a styled report")
	return cmd
}

func extract(ctx context.Context, cfg *config.Config, source string) (*extractReport, error) {
	markup, pageURL, status, err := loadMarkup(ctx, source)
	if err != nil {
		return nil, err
	}

	catalog := loadCatalog(cfg)
	defer catalog.Close()

	res := patterns.NewScanner(catalog, cfg.SignaturesPath).Scan(markup)

	rep := &extractReport{Source: source, Scan: res, Sitekeys: []sitekey.Result{}}
	seen := make(map[string]bool)
	for _, k := range append(append([]string{}, res.SitekeysFound...), sitekey.Extract(markup)...) {
		if seen[k] {
			continue
		}
		seen[k] = true
		rep.Sitekeys = append(rep.Sitekeys, sitekey.Validate(k, pageURL))
	}
	if block := ratelimit.Detect(status, markup); block.Detected {
		rep.Block = &block
	}
	return rep, nil
}

// loadMarkup reads an http(s) URL, a file, or stdin for "-". The page URL
// and HTTP status are only set for URLs.
func loadMarkup(ctx context.Context, source string) (markup, pageURL string, status int, err error) {
	if security.ValidateTargetURL(source) == nil {
		markup, status, err = fetch(ctx, source)
		return markup, source, status, err
	}

	var data []byte
	if source == "-" {
		data, err = io.ReadAll(io.LimitReader(os.Stdin, maxMarkupSize))
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to read %s: %w", source, err)
	}
	return string(data), "", 0, nil
}

// fetch downloads a page. Challenge pages are often served with 403, so
// error statuses are logged and the body is still scanned.
func fetch(ctx context.Context, pageURL string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", version.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Warn().Int("status", resp.StatusCode).Str("url", security.RedactURL(pageURL)).Msg("Page returned an error status, scanning anyway")
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMarkupSize))
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to read %s: %w", pageURL, err)
	}
	return strings.ToValidUTF8(string(body), ""), resp.StatusCode, nil
}
