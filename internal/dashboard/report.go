package dashboard

import (
	"fmt"
	"strings"

	"github.com/Rorqualx/turnstile-solver-go/internal/patterns"
	"github.com/Rorqualx/turnstile-solver-go/internal/ratelimit"
	"github.com/Rorqualx/turnstile-solver-go/internal/sitekey"
)

// RenderValidation formats a sitekey classification for the terminal.
func RenderValidation(res sitekey.Result) string {
	verdict := okStyle.Render("VALID")
	switch {
	case res.IsDemo:
		verdict = badStyle.Render("DEMO")
	case res.IsFake:
		verdict = badStyle.Render("FAKE")
	}

	lines := []string{
		titleStyle.Render(res.Sitekey),
		field("Verdict", verdict),
		field("Type", res.Type),
		field("Confidence", fmt.Sprintf("%d", res.Confidence)),
		field("Entropy", fmt.Sprintf("%.3f", res.EntropyScore)),
	}
	if res.Reason != "" {
		lines = append(lines, field("Reason", res.Reason))
	}
	if res.Domain != "" {
		lines = append(lines, field("Domain", res.Domain))
	}
	for _, w := range res.Warnings {
		lines = append(lines, field("Warning", warnStyle.Render(w)))
	}
	for _, n := range res.Notes {
		lines = append(lines, field("Note", dimStyle.Render(n)))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// RenderScan formats a static markup scan and the validation of each
// sitekey it found.
func RenderScan(source string, res *patterns.ScanResult, keys []sitekey.Result) string {
	found := badStyle.Render("no")
	if res.HasTurnstile {
		found = okStyle.Render("yes")
	}

	lines := []string{
		titleStyle.Render(source),
		field("Turnstile", found),
		field("Confidence", fmt.Sprintf("%d", res.ConfidenceScore)),
		field("Rules", res.RulesSource),
		field("Categories", strings.Join(res.Categories, ", ")),
	}

	if len(res.Detections) > 0 {
		lines = append(lines, "", headStyle.Render("Detections"))
		for _, d := range res.Detections {
			lines = append(lines, fmt.Sprintf("%s %s %s",
				d.Rule, dimStyle.Render("["+d.Category+"/"+d.Confidence+"]"), d.Description))
			for _, s := range d.Strings {
				lines = append(lines, dimStyle.Render(fmt.Sprintf("  %s @%d: %s", s.Identifier, s.Offset, short(s.MatchedData, 60))))
			}
		}
	}

	if len(keys) > 0 {
		lines = append(lines, "", headStyle.Render("Sitekeys"))
		for _, k := range keys {
			style := okStyle
			if k.Rejected() {
				style = badStyle
			}
			lines = append(lines, fmt.Sprintf("%s  %s (%d)", k.Sitekey, style.Render(k.Type), k.Confidence))
		}
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// RenderBlock formats a detected block page.
func RenderBlock(info ratelimit.Info) string {
	lines := []string{
		badStyle.Render("Blocked: " + info.Description),
		field("Code", info.Code),
		field("Category", string(info.Category)),
	}
	if info.Retryable() {
		lines = append(lines, field("Retry after", info.SuggestedDelay.String()))
	} else {
		lines = append(lines, field("Retry after", dimStyle.Render("retrying will not help")))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}
