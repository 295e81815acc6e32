package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/turnstile-solver-go/internal/humanize"
	"github.com/Rorqualx/turnstile-solver-go/internal/metrics"
	"github.com/Rorqualx/turnstile-solver-go/internal/patterns"
)

// Confidence assigned to records produced by the fallback probes.
const (
	fallbackConfidence        = 0.2
	fallbackSitekeyConfidence = 0.3
	networkConfidence         = 0.1
)

// queryOrder is the order selector groups are handed to the page. An element
// matched by an earlier group is not reported again by a later one.
var queryOrder = []TagKind{KindResponseField, KindScript, KindIframe, KindContainer}

// IdleWaiter is implemented by pages that can wait for network quiescence.
type IdleWaiter interface {
	WaitIdle(ctx context.Context, timeout time.Duration) error
}

// Config tunes the readiness wait that precedes every pass.
type Config struct {
	// ReadyTimeout bounds the wait for network idle and readyState=complete.
	// Detection proceeds when it expires.
	ReadyTimeout time.Duration
	// ReadyPoll is the readyState polling interval.
	ReadyPoll time.Duration
}

// DefaultConfig returns the default readiness settings.
func DefaultConfig() Config {
	return Config{
		ReadyTimeout: 10 * time.Second,
		ReadyPoll:    200 * time.Millisecond,
	}
}

// SelectorError is a catalog selector the page refused to evaluate.
type SelectorError struct {
	Selector string `json:"selector"`
	Message  string `json:"message"`
}

// OtherCaptchas counts non-Turnstile challenges seen on the page.
type OtherCaptchas struct {
	Recaptcha int `json:"recaptcha"`
	Hcaptcha  int `json:"hcaptcha"`
}

// NetworkHit is a loaded resource matching a catalog network pattern.
type NetworkHit struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// Result is one detection pass.
type Result struct {
	Widgets        []WidgetRecord  `json:"widgets"`
	Others         OtherCaptchas   `json:"others"`
	SelectorErrors []SelectorError `json:"selector_errors,omitempty"`
	Network        []NetworkHit    `json:"network,omitempty"`
	FallbackMethod string          `json:"fallback_method,omitempty"`
	Duration       time.Duration   `json:"duration"`
}

// Found reports whether any widget was detected. Confidence plays no part.
func (r *Result) Found() bool {
	return len(r.Widgets) > 0
}

// Pending returns the widgets that still block the page.
func (r *Result) Pending() []WidgetRecord {
	var out []WidgetRecord
	for _, w := range r.Widgets {
		if w.Pending() {
			out = append(out, w)
		}
	}
	return out
}

// Detector runs detection passes against live pages.
type Detector struct {
	catalog patterns.CatalogSource
	config  Config
}

// New creates a detector reading selectors from catalog.
func New(catalog patterns.CatalogSource, config Config) *Detector {
	if config.ReadyPoll <= 0 {
		config.ReadyPoll = DefaultConfig().ReadyPoll
	}
	return &Detector{catalog: catalog, config: config}
}

type rawRecord struct {
	Selector        string            `json:"selector"`
	Index           int               `json:"index"`
	Kind            TagKind           `json:"kind"`
	Tag             string            `json:"tag"`
	Attributes      map[string]string `json:"attributes"`
	Box             humanize.Box      `json:"box"`
	Visible         bool              `json:"visible"`
	Text            string            `json:"text"`
	AncestorText    []string          `json:"ancestorText"`
	ClassName       string            `json:"className"`
	HasCheckbox     bool              `json:"hasCheckbox"`
	CheckboxChecked bool              `json:"checkboxChecked"`
	CheckboxBox     *humanize.Box     `json:"checkboxBox"`
}

type detectOutput struct {
	Records []rawRecord     `json:"records"`
	Errors  []SelectorError `json:"errors"`
	Others  OtherCaptchas   `json:"others"`
}

type detectArg struct {
	Kinds  []TagKind           `json:"kinds"`
	Groups map[string][]string `json:"groups"`
}

type fallbackElement struct {
	Tag       string `json:"tag"`
	ClassName string `json:"className"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Src       string `json:"src"`
	Sitekey   string `json:"sitekey"`
}

type fallbackOutput struct {
	Found    bool              `json:"found"`
	Method   string            `json:"method"`
	Elements []fallbackElement `json:"elements"`
}

// Detect waits for the page to settle and returns every widget found, deduplicated
// and sorted by descending confidence. An empty result is a normal outcome.
// An error means the page could not be evaluated at all.
func (d *Detector) Detect(ctx context.Context, page patterns.Evaluator) (*Result, error) {
	start := time.Now()
	cat := d.catalog.Get()

	d.waitReady(ctx, page)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out detectOutput
	arg := detectArg{Kinds: queryOrder, Groups: cat.SelectorGroups()}
	if err := patterns.Run(ctx, page, patterns.DetectScript, arg, &out); err != nil {
		return nil, fmt.Errorf("detection script failed: %w", err)
	}

	res := &Result{Others: out.Others, SelectorErrors: out.Errors}
	for _, e := range out.Errors {
		log.Debug().Str("selector", e.Selector).Str("error", e.Message).Msg("Skipping selector that failed in page")
	}

	records := make([]WidgetRecord, 0, len(out.Records))
	for _, raw := range out.Records {
		if !raw.Visible && (raw.Kind == KindContainer || raw.Kind == KindIframe) {
			continue
		}
		records = append(records, buildRecord(raw, cat))
	}

	if len(records) == 0 {
		records = d.fallback(ctx, page, cat, res)
	}

	records = Dedupe(records)
	SortByConfidence(records)
	res.Widgets = records
	res.Duration = time.Since(start)

	kinds := make([]string, len(records))
	for i, w := range records {
		kinds[i] = string(w.Kind)
	}
	metrics.RecordDetection(kinds, res.Duration)

	ev := log.Debug().Int("widgets", len(records)).Dur("duration", res.Duration)
	if res.FallbackMethod != "" {
		ev = ev.Str("fallback", res.FallbackMethod)
	}
	if out.Others.Recaptcha > 0 || out.Others.Hcaptcha > 0 {
		ev = ev.Int("recaptcha", out.Others.Recaptcha).Int("hcaptcha", out.Others.Hcaptcha)
	}
	ev.Msg("Detection pass complete")

	return res, nil
}

func buildRecord(raw rawRecord, cat *patterns.Catalog) WidgetRecord {
	attrs := raw.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	w := WidgetRecord{
		Selector:    raw.Selector,
		Index:       raw.Index,
		Kind:        raw.Kind,
		Tag:         raw.Tag,
		Attributes:  attrs,
		Box:         raw.Box,
		Visible:     raw.Visible,
		HasCheckbox: raw.HasCheckbox,
		CheckboxBox: raw.CheckboxBox,
	}
	w.State = classifyState(stateInput{
		Kind:            raw.Kind,
		Text:            raw.Text,
		AncestorText:    raw.AncestorText,
		ClassName:       raw.ClassName,
		CheckboxChecked: raw.CheckboxChecked,
		Value:           attrs["value"],
	}, cat.States)
	w.Confidence = Score(w, cat)
	return w
}

// waitReady blocks until the page is idle and complete or the ready timeout
// elapses. Failures here are logged and ignored.
func (d *Detector) waitReady(ctx context.Context, page patterns.Evaluator) {
	if d.config.ReadyTimeout <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, d.config.ReadyTimeout)
	defer cancel()

	if w, ok := page.(IdleWaiter); ok {
		if err := w.WaitIdle(ctx, d.config.ReadyTimeout); err != nil {
			log.Debug().Err(err).Msg("Network idle wait ended early")
		}
	}

	for {
		var state string
		err := patterns.Run(ctx, page, patterns.ReadyStateScript, nil, &state)
		if err == nil && state == "complete" {
			return
		}
		if err := humanize.Sleep(ctx, d.config.ReadyPoll); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				log.Debug().Str("ready_state", state).Msg("Page not ready before timeout, detecting anyway")
			}
			return
		}
	}
}

// fallback runs the network and broad script probes. Records it returns are
// hidden, low-confidence script records that can be solved by sitekey but
// never clicked.
func (d *Detector) fallback(ctx context.Context, page patterns.Evaluator, cat *patterns.Catalog, res *Result) []WidgetRecord {
	var records []WidgetRecord

	if len(cat.Network) > 0 {
		var hits []NetworkHit
		if err := patterns.Run(ctx, page, patterns.NetworkScript, cat.Network, &hits); err != nil {
			log.Debug().Err(err).Msg("Network probe failed")
		}
		res.Network = hits
		for _, h := range hits {
			records = append(records, WidgetRecord{
				Selector:   "network:" + h.Type,
				Kind:       KindScript,
				Tag:        h.Type,
				Attributes: map[string]string{"src": h.URL},
				State:      StateNormal,
				Confidence: networkConfidence,
			})
		}
	}

	var fb fallbackOutput
	if err := patterns.Run(ctx, page, patterns.FallbackDetectScript, nil, &fb); err != nil {
		log.Debug().Err(err).Msg("Fallback probe failed")
		return records
	}
	if !fb.Found {
		return records
	}
	res.FallbackMethod = fb.Method

	selector := "fallback:" + fb.Method
	if len(fb.Elements) == 0 {
		return append(records, WidgetRecord{
			Selector:   selector,
			Kind:       KindScript,
			Attributes: map[string]string{},
			State:      StateNormal,
			Confidence: fallbackConfidence,
		})
	}
	for i, el := range fb.Elements {
		attrs := map[string]string{}
		for k, v := range map[string]string{
			"id": el.ID, "name": el.Name, "class": el.ClassName, "src": el.Src, "data-sitekey": el.Sitekey,
		} {
			if v != "" {
				attrs[k] = v
			}
		}
		conf := fallbackConfidence
		if el.Sitekey != "" {
			conf = fallbackSitekeyConfidence
		}
		records = append(records, WidgetRecord{
			Selector:   selector,
			Index:      i,
			Kind:       KindScript,
			Tag:        el.Tag,
			Attributes: attrs,
			State:      StateNormal,
			Confidence: conf,
		})
	}
	return records
}
