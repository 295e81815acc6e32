package captcha

import (
	"context"

	"github.com/Rorqualx/turnstile-solver-go/internal/types"
)

const capSolverBaseURL = "https://api.capsolver.com"

// CapSolverSolver implements CaptchaSolver for the CapSolver API.
type CapSolverSolver struct {
	api *taskAPI
}

// CapSolverConfig contains configuration for CapSolver.
type CapSolverConfig struct {
	APIKey  string
	Poll    PollConfig
	BaseURL string // Override for testing
}

// NewCapSolverSolver creates a new CapSolver client.
func NewCapSolverSolver(cfg CapSolverConfig) *CapSolverSolver {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = capSolverBaseURL
	}
	s := &CapSolverSolver{}
	s.api = newTaskAPI(s.Name(), cfg.APIKey, baseURL, cfg.Poll, s.handleError)
	return s
}

// Name returns the provider name.
func (s *CapSolverSolver) Name() string {
	return "capsolver"
}

// IsConfigured returns true if API key is set.
func (s *CapSolverSolver) IsConfigured() bool {
	return s.api.apiKey != ""
}

// SolveTurnstile solves a Turnstile challenge with an AntiTurnstileTaskProxyLess task.
func (s *CapSolverSolver) SolveTurnstile(ctx context.Context, req *TurnstileRequest) (*TurnstileResult, error) {
	task := map[string]interface{}{
		"type":       "AntiTurnstileTaskProxyLess",
		"websiteURL": req.PageURL,
		"websiteKey": req.SiteKey,
	}
	if req.Action != "" || req.CData != "" {
		meta := map[string]string{}
		if req.Action != "" {
			meta["action"] = req.Action
		}
		if req.CData != "" {
			meta["cdata"] = req.CData
		}
		task["metadata"] = meta
	}
	return s.api.solve(ctx, task, req)
}

// Balance retrieves the current account balance.
func (s *CapSolverSolver) Balance(ctx context.Context) (float64, error) {
	return s.api.balance(ctx)
}

// handleError converts CapSolver error codes to appropriate error types.
func (s *CapSolverSolver) handleError(code, description, taskID string) error {
	switch code {
	case "ERROR_ZERO_BALANCE":
		return types.NewCaptchaBalanceError(s.Name())
	case "ERROR_NO_AVAILABLE_WORKERS":
		return types.NewCaptchaRejectedError(s.Name(), code, "no workers available, try again later")
	case "ERROR_INVALID_TASK_DATA", "ERROR_WRONG_WEBSITEKEY":
		return types.NewCaptchaRejectedError(s.Name(), code, "invalid sitekey or task data")
	case "ERROR_CAPTCHA_UNSOLVABLE":
		return types.NewCaptchaRejectedError(s.Name(), code, "captcha could not be solved")
	case "ERROR_KEY_DENIED", "ERROR_INVALID_CLIENTKEY":
		return types.NewCaptchaRejectedError(s.Name(), code, "invalid API key")
	case "ERROR_TASK_NOT_FOUND":
		return types.NewCaptchaRejectedError(s.Name(), code, "task not found or expired")
	default:
		return providerError(s.Name(), "CapSolver", code, description, taskID)
	}
}
