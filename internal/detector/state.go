package detector

import (
	"strings"

	"github.com/Rorqualx/turnstile-solver-go/internal/patterns"
)

// stateInput is what the page reports about an element for state purposes.
type stateInput struct {
	Kind            TagKind
	Text            string
	AncestorText    []string
	ClassName       string
	CheckboxChecked bool
	Value           string
}

// classifyState derives a widget's state. Error wording in any of the five
// nearest ancestors wins; otherwise the element's own text decides. A checked
// checkbox or a filled response field means the widget is solved.
func classifyState(in stateInput, kw patterns.StateKeywords) State {
	if strings.Contains(strings.ToLower(in.ClassName), "error") {
		return StateError
	}

	text := in.Text
	for _, t := range in.AncestorText {
		if containsAny(t, kw.Error) {
			text = t
			break
		}
	}

	switch {
	case containsAny(text, kw.Error):
		return StateError
	case in.CheckboxChecked:
		return StateSuccess
	case in.Kind == KindResponseField && in.Value != "":
		return StateSuccess
	case containsAny(text, kw.Loading):
		return StateLoading
	case containsAny(text, kw.Success):
		return StateSuccess
	}
	return StateNormal
}

func containsAny(text string, words []string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, w := range words {
		if w != "" && strings.Contains(lower, strings.ToLower(w)) {
			return true
		}
	}
	return false
}
