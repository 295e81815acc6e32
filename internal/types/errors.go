// Package types provides shared errors for the detection and solving pipeline.
package types

import "errors"

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Browser errors
	ErrBrowserLaunch  = errors.New("failed to launch browser")
	ErrBrowserConnect = errors.New("failed to connect to browser")
	ErrPageClosed     = errors.New("page is closed")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionTimeout  = errors.New("timed out waiting for session token")

	// Sitekey errors
	ErrSitekeyMissing = errors.New("sitekey is required")
	ErrSitekeyDemo    = errors.New("demo or placeholder sitekey")
	ErrSitekeyFormat  = errors.New("invalid sitekey format")
	ErrURLMissing     = errors.New("url is required")

	// Strategy errors
	ErrNoClickTarget     = errors.New("no clickable turnstile target")
	ErrStrategyDisabled  = errors.New("strategy disabled")
	ErrWidgetNotSolvable = errors.New("widget has no sitekey")
	ErrTurnstileFailed   = errors.New("turnstile verification failed")

	// CAPTCHA solver errors
	ErrCaptchaSolverTimeout  = errors.New("captcha solver timed out")
	ErrCaptchaSolverRejected = errors.New("captcha task was rejected")
	ErrCaptchaSolverBalance  = errors.New("insufficient solver balance")
	ErrCaptchaTokenInjection = errors.New("failed to inject captcha token")
	ErrCaptchaNoProviders    = errors.New("no captcha solver providers configured")

	// Signature errors
	ErrSignatureCompile = errors.New("signature rules failed to compile")
)

// CaptchaError provides detailed information about CAPTCHA solving failures.
// It implements the error interface and supports error unwrapping.
type CaptchaError struct {
	Provider string // Provider name: "2captcha", "capsolver"
	TaskID   string // Task ID from the provider (for debugging)
	Code     string // Error code from the provider
	Message  string // Human-readable error message
	Err      error  // Underlying error (for unwrapping)
}

// Error implements the error interface.
func (e *CaptchaError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CaptchaError) Unwrap() error {
	return e.Err
}

// NewCaptchaTimeoutError creates an error for CAPTCHA solve timeout.
func NewCaptchaTimeoutError(provider, taskID string) *CaptchaError {
	return &CaptchaError{
		Provider: provider,
		TaskID:   taskID,
		Code:     "timeout",
		Message:  "CAPTCHA solving timed out waiting for solution from " + provider,
		Err:      ErrCaptchaSolverTimeout,
	}
}

// NewCaptchaRejectedError creates an error when CAPTCHA task is rejected.
func NewCaptchaRejectedError(provider, code, reason string) *CaptchaError {
	return &CaptchaError{
		Provider: provider,
		Code:     code,
		Message:  "CAPTCHA task rejected by " + provider + ": " + reason,
		Err:      ErrCaptchaSolverRejected,
	}
}

// NewCaptchaBalanceError creates an error for insufficient balance.
func NewCaptchaBalanceError(provider string) *CaptchaError {
	return &CaptchaError{
		Provider: provider,
		Code:     "insufficient_balance",
		Message:  "Insufficient balance in " + provider + " account",
		Err:      ErrCaptchaSolverBalance,
	}
}

// SitekeyError reports why a sitekey was refused at a server boundary.
type SitekeyError struct {
	Sitekey string
	Reason  string
	Err     error
}

// Error implements the error interface.
func (e *SitekeyError) Error() string {
	return e.Err.Error() + ": " + e.Reason
}

// Unwrap returns the underlying error.
func (e *SitekeyError) Unwrap() error {
	return e.Err
}

// StrategyError records which solving strategy failed against which widget.
type StrategyError struct {
	Strategy string
	Selector string
	Err      error
}

// Error implements the error interface.
func (e *StrategyError) Error() string {
	msg := e.Strategy + " strategy failed"
	if e.Selector != "" {
		msg += " on " + e.Selector
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *StrategyError) Unwrap() error {
	return e.Err
}

// NewStrategyError wraps err with the strategy and widget it came from.
func NewStrategyError(strategy, selector string, err error) *StrategyError {
	return &StrategyError{Strategy: strategy, Selector: selector, Err: err}
}
