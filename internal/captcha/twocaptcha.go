package captcha

import (
	"context"

	"github.com/Rorqualx/turnstile-solver-go/internal/types"
)

const twoCaptchaBaseURL = "https://api.2captcha.com"

// TwoCaptchaSolver implements CaptchaSolver for the 2Captcha API.
type TwoCaptchaSolver struct {
	api *taskAPI
}

// TwoCaptchaConfig contains configuration for 2Captcha.
type TwoCaptchaConfig struct {
	APIKey  string
	Poll    PollConfig
	BaseURL string // Override for testing
}

// NewTwoCaptchaSolver creates a new 2Captcha client.
func NewTwoCaptchaSolver(cfg TwoCaptchaConfig) *TwoCaptchaSolver {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = twoCaptchaBaseURL
	}
	s := &TwoCaptchaSolver{}
	s.api = newTaskAPI(s.Name(), cfg.APIKey, baseURL, cfg.Poll, s.handleError)
	return s
}

// Name returns the provider name.
func (s *TwoCaptchaSolver) Name() string {
	return "2captcha"
}

// IsConfigured returns true if API key is set.
func (s *TwoCaptchaSolver) IsConfigured() bool {
	return s.api.apiKey != ""
}

// SolveTurnstile solves a Turnstile challenge with a TurnstileTaskProxyless task.
func (s *TwoCaptchaSolver) SolveTurnstile(ctx context.Context, req *TurnstileRequest) (*TurnstileResult, error) {
	task := map[string]interface{}{
		"type":       "TurnstileTaskProxyless",
		"websiteURL": req.PageURL,
		"websiteKey": req.SiteKey,
	}
	if req.Action != "" {
		task["action"] = req.Action
	}
	if req.CData != "" {
		task["data"] = req.CData
	}
	return s.api.solve(ctx, task, req)
}

// Balance retrieves the current account balance.
func (s *TwoCaptchaSolver) Balance(ctx context.Context) (float64, error) {
	return s.api.balance(ctx)
}

// handleError converts 2Captcha error codes to appropriate error types.
func (s *TwoCaptchaSolver) handleError(code, description, taskID string) error {
	switch code {
	case "ERROR_ZERO_BALANCE":
		return types.NewCaptchaBalanceError(s.Name())
	case "ERROR_NO_SLOT_AVAILABLE":
		return types.NewCaptchaRejectedError(s.Name(), code, "no workers available, try again later")
	case "ERROR_WRONG_GOOGLEKEY", "ERROR_WRONG_SITEKEY":
		return types.NewCaptchaRejectedError(s.Name(), code, "invalid sitekey")
	case "ERROR_CAPTCHA_UNSOLVABLE":
		return types.NewCaptchaRejectedError(s.Name(), code, "captcha could not be solved")
	case "ERROR_BAD_DUPLICATES":
		return types.NewCaptchaRejectedError(s.Name(), code, "too many duplicate requests")
	case "ERROR_KEY_DOES_NOT_EXIST", "ERROR_WRONG_USER_KEY":
		return types.NewCaptchaRejectedError(s.Name(), code, "invalid API key")
	default:
		return providerError(s.Name(), "2Captcha", code, description, taskID)
	}
}
