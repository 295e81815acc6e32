// Package detector finds Turnstile widgets in a live page and describes each
// one as a WidgetRecord.
package detector

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"github.com/Rorqualx/turnstile-solver-go/internal/humanize"
)

// State is a widget's interaction state.
type State string

// Widget states.
const (
	StateNormal  State = "normal"
	StateLoading State = "loading"
	StateError   State = "error"
	StateSuccess State = "success"
)

// TagKind is the catalog group that matched an element.
type TagKind string

// Tag kinds, in the order the detector queries them.
const (
	KindResponseField TagKind = "response-field"
	KindScript        TagKind = "script"
	KindIframe        TagKind = "iframe"
	KindContainer     TagKind = "container"
)

// dedupeDistance is how close, in pixels on both axes, two visible records
// must be to count as the same widget.
const dedupeDistance = 10

// WidgetRecord is one detected widget. Records are produced fresh on every
// detection pass and describe the page as it was at that moment.
type WidgetRecord struct {
	Selector    string            `json:"selector_matched"`
	Index       int               `json:"index"`
	Kind        TagKind           `json:"tag_kind"`
	Tag         string            `json:"tag"`
	Attributes  map[string]string `json:"attributes"`
	Box         humanize.Box      `json:"bounding_box"`
	Visible     bool              `json:"visible"`
	State       State             `json:"state"`
	Confidence  float64           `json:"confidence"`
	HasCheckbox bool              `json:"has_checkbox"`
	CheckboxBox *humanize.Box     `json:"checkbox_box,omitempty"`
}

// Sitekey returns the widget's data-sitekey, if any.
func (w WidgetRecord) Sitekey() string {
	return w.Attributes["data-sitekey"]
}

// Action returns the widget's data-action, if any.
func (w WidgetRecord) Action() string {
	return w.Attributes["data-action"]
}

// CData returns the widget's data-cdata, if any.
func (w WidgetRecord) CData() string {
	return w.Attributes["data-cdata"]
}

// Clickable reports whether the widget may be targeted by a pointer click.
// Solved widgets are never clickable.
func (w WidgetRecord) Clickable() bool {
	if !w.Visible || w.State == StateSuccess {
		return false
	}
	return w.Kind == KindContainer || w.Kind == KindIframe
}

// Pending reports whether the widget still blocks the page: it is not solved
// and is either on screen or a response field awaiting a token.
func (w WidgetRecord) Pending() bool {
	return w.State != StateSuccess && (w.Visible || w.Kind == KindResponseField)
}

func (w WidgetRecord) hiddenKey() string {
	return strings.Join([]string{
		string(w.Kind),
		w.Attributes["src"],
		w.Attributes["name"],
		w.Attributes["id"],
		w.Sitekey(),
	}, "|")
}

// better reports whether a should replace b when both describe one widget.
func better(a, b WidgetRecord) bool {
	if a.HasCheckbox != b.HasCheckbox {
		return a.HasCheckbox
	}
	return a.Confidence > b.Confidence
}

// Dedupe collapses records that describe the same widget. Visible records
// within dedupeDistance of each other on both axes are merged, preferring the
// one with a checkbox and then the higher confidence. Hidden records merge when
// kind, src, name, id and sitekey all agree. Order of first appearance is kept.
func Dedupe(records []WidgetRecord) []WidgetRecord {
	out := make([]WidgetRecord, 0, len(records))
	hidden := make(map[string]int)

	for _, r := range records {
		if !r.Visible {
			key := r.hiddenKey()
			if i, ok := hidden[key]; ok {
				if better(r, out[i]) {
					out[i] = r
				}
				continue
			}
			hidden[key] = len(out)
			out = append(out, r)
			continue
		}

		merged := false
		for i := range out {
			o := out[i]
			if !o.Visible {
				continue
			}
			if math.Abs(o.Box.X-r.Box.X) < dedupeDistance && math.Abs(o.Box.Y-r.Box.Y) < dedupeDistance {
				if better(r, o) {
					out[i] = r
				}
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, r)
		}
	}
	return out
}

// SortByConfidence orders records by descending confidence, keeping the
// relative order of ties.
func SortByConfidence(records []WidgetRecord) {
	slices.SortStableFunc(records, func(a, b WidgetRecord) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
}

var statePriority = map[State]int{
	StateError:   0,
	StateNormal:  1,
	StateLoading: 2,
	StateSuccess: 3,
}

// Prioritize returns a copy of records in solving order: errored widgets
// first since they need remediation, then normal, loading and solved ones.
// Within a state, widgets with a checkbox come first, then higher confidence.
func Prioritize(records []WidgetRecord) []WidgetRecord {
	out := slices.Clone(records)
	slices.SortStableFunc(out, func(a, b WidgetRecord) int {
		if c := cmp.Compare(statePriority[a.State], statePriority[b.State]); c != 0 {
			return c
		}
		if a.HasCheckbox != b.HasCheckbox {
			if a.HasCheckbox {
				return -1
			}
			return 1
		}
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	return out
}
