package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/Rorqualx/turnstile-solver-go/internal/types"
)

// Both providers speak the same createTask/getTaskResult/getBalance JSON
// protocol and differ only in task shape and error vocabulary.
const (
	pathCreateTask = "/createTask"
	pathGetResult  = "/getTaskResult"
	pathGetBalance = "/getBalance"

	maxAPIResponse = 1 << 20
)

// PollConfig bounds result polling.
type PollConfig struct {
	Interval time.Duration
	MaxPolls int
}

// DefaultPollConfig polls every 5s up to 60 times.
func DefaultPollConfig() PollConfig {
	return PollConfig{Interval: 5 * time.Second, MaxPolls: 60}
}

func (p PollConfig) withDefaults() PollConfig {
	d := DefaultPollConfig()
	if p.Interval <= 0 {
		p.Interval = d.Interval
	}
	if p.MaxPolls <= 0 {
		p.MaxPolls = d.MaxPolls
	}
	return p
}

type taskAPI struct {
	provider string
	apiKey   string
	baseURL  string
	poll     PollConfig
	http     *http.Client
	errorFor func(code, description, taskID string) error
}

func newTaskAPI(provider, apiKey, baseURL string, poll PollConfig, errorFor func(code, description, taskID string) error) *taskAPI {
	return &taskAPI{
		provider: provider,
		apiKey:   apiKey,
		baseURL:  baseURL,
		poll:     poll.withDefaults(),
		http:     &http.Client{Timeout: 30 * time.Second},
		errorFor: errorFor,
	}
}

// call POSTs body to path and returns the parsed response. A non-zero
// errorId becomes a typed error.
func (a *taskAPI) call(ctx context.Context, path string, body map[string]interface{}, taskID string) (gjson.Result, error) {
	body["clientKey"] = a.apiKey
	payload, err := json.Marshal(body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponse))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to read response: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("invalid JSON response (HTTP %d)", resp.StatusCode)
	}

	res := gjson.ParseBytes(raw)
	if res.Get("errorId").Int() != 0 {
		return res, a.errorFor(res.Get("errorCode").String(), res.Get("errorDescription").String(), taskID)
	}
	return res, nil
}

// solve creates a task and polls for its token.
func (a *taskAPI) solve(ctx context.Context, task map[string]interface{}, req *TurnstileRequest) (*TurnstileResult, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("%s API key not configured", a.provider)
	}
	start := time.Now()

	created, err := a.call(ctx, pathCreateTask, map[string]interface{}{"task": task}, "")
	if err != nil {
		recordProvider(a.provider, err)
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	taskID := created.Get("taskId")
	if !taskID.Exists() {
		err := fmt.Errorf("%s returned no task id", a.provider)
		recordProvider(a.provider, err)
		return nil, err
	}

	log.Debug().
		Str("provider", a.provider).
		Str("task_id", taskID.String()).
		Str("sitekey", prefix(req.SiteKey, 10)).
		Msg("Solver task created")

	res, err := a.pollResult(ctx, taskID)
	recordProvider(a.provider, err)
	if err != nil {
		return nil, err
	}

	return &TurnstileResult{
		Token:     res.Get("solution.token").String(),
		SolveTime: time.Since(start),
		Cost:      res.Get("cost").Float(),
		Provider:  a.provider,
		TaskID:    taskID.String(),
	}, nil
}

// pollResult waits one interval before each getTaskResult call.
func (a *taskAPI) pollResult(ctx context.Context, taskID gjson.Result) (gjson.Result, error) {
	ticker := time.NewTicker(a.poll.Interval)
	defer ticker.Stop()

	// Keep the provider's id type: 2Captcha uses integers, CapSolver strings.
	id := json.RawMessage(taskID.Raw)

	for i := 0; i < a.poll.MaxPolls; i++ {
		select {
		case <-ctx.Done():
			return gjson.Result{}, ctx.Err()
		case <-ticker.C:
		}

		res, err := a.call(ctx, pathGetResult, map[string]interface{}{"taskId": id}, taskID.String())
		if err != nil {
			return gjson.Result{}, err
		}

		switch res.Get("status").String() {
		case "ready":
			if res.Get("solution.token").String() == "" {
				return gjson.Result{}, fmt.Errorf("received ready status but no token")
			}
			return res, nil
		case "failed":
			return gjson.Result{}, types.NewCaptchaRejectedError(a.provider, "failed", "task failed")
		default:
			log.Debug().
				Str("provider", a.provider).
				Str("task_id", taskID.String()).
				Int("poll", i+1).
				Msg("Solver task still processing")
		}
	}
	return gjson.Result{}, types.NewCaptchaTimeoutError(a.provider, taskID.String())
}

func (a *taskAPI) balance(ctx context.Context) (float64, error) {
	if a.apiKey == "" {
		return 0, fmt.Errorf("%s API key not configured", a.provider)
	}
	res, err := a.call(ctx, pathGetBalance, map[string]interface{}{}, "")
	if err != nil {
		return 0, err
	}
	return res.Get("balance").Float(), nil
}

// providerError is the fallback for codes a provider does not special-case.
func providerError(provider, label, code, description, taskID string) error {
	msg := description
	if msg == "" {
		msg = code
	}
	return &types.CaptchaError{
		Provider: provider,
		TaskID:   taskID,
		Code:     code,
		Message:  fmt.Sprintf("%s error: %s", label, msg),
		Err:      types.ErrCaptchaSolverRejected,
	}
}
