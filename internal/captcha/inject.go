package captcha

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/turnstile-solver-go/internal/patterns"
	"github.com/Rorqualx/turnstile-solver-go/internal/types"
)

// InjectResult reports which delivery paths accepted the token.
type InjectResult struct {
	Fields         int  `json:"fields"`
	API            bool `json:"api"`
	Callback       bool `json:"callback"`
	WindowCallback bool `json:"window_callback"`
}

// OK reports whether any path accepted the token.
func (r InjectResult) OK() bool {
	return r.Fields > 0 || r.API || r.Callback || r.WindowCallback
}

// InjectToken delivers token to the page through every known path: response
// fields, the turnstile JS object, data-callback handlers and common global
// callbacks. All paths run; a failing path does not stop the others.
func InjectToken(ctx context.Context, ev patterns.Evaluator, token string) (InjectResult, error) {
	var res InjectResult
	if token == "" {
		return res, fmt.Errorf("%w: empty token", types.ErrCaptchaTokenInjection)
	}

	if err := patterns.Run(ctx, ev, patterns.InjectFieldsScript, token, &res.Fields); err != nil {
		log.Debug().Err(err).Msg("Response field injection failed")
	}
	steps := []struct {
		name   string
		script string
		out    *bool
	}{
		{"api", patterns.InjectAPIScript, &res.API},
		{"callback", patterns.InjectCallbackScript, &res.Callback},
		{"window_callback", patterns.InjectWindowCallbackScript, &res.WindowCallback},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := patterns.Run(ctx, ev, s.script, token, s.out); err != nil {
			log.Debug().Err(err).Str("method", s.name).Msg("Token injection method failed")
		}
	}

	if !res.OK() {
		return res, types.ErrCaptchaTokenInjection
	}
	log.Debug().
		Int("fields", res.Fields).
		Bool("api", res.API).
		Bool("callback", res.Callback).
		Bool("window_callback", res.WindowCallback).
		Msg("Token injected")
	return res, nil
}
