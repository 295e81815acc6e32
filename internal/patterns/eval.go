package patterns

import (
	"context"
	"encoding/json"
	"fmt"
)

// Evaluator runs a script in a live page. Scripts are function expressions
// taking one argument and returning JSON.stringify(result); the raw JSON text
// is handed back.
type Evaluator interface {
	EvalJSON(ctx context.Context, script string, arg interface{}) (string, error)
}

// Run evaluates script and decodes its JSON result into out.
func Run(ctx context.Context, ev Evaluator, script string, arg interface{}, out interface{}) error {
	raw, err := ev.EvalJSON(ctx, script, arg)
	if err != nil {
		return err
	}
	if raw == "" {
		return fmt.Errorf("script returned no result")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to decode script result: %w", err)
	}
	return nil
}
