package localserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/turnstile-solver-go/internal/types"
)

// Client polls a running solving server for session status.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Status fetches one session record. Unknown ids return types.ErrSessionNotFound.
func (c *Client) Status(ctx context.Context, id string) (Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status?session="+url.QueryEscape(id), nil)
	if err != nil {
		return Session{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Session{}, types.ErrSessionNotFound
	default:
		return Session{}, fmt.Errorf("unexpected status %d from solving server", resp.StatusCode)
	}

	var sess Session
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&sess); err != nil {
		return Session{}, fmt.Errorf("failed to decode session: %w", err)
	}
	return sess, nil
}

// WaitForToken polls every interval until the session completes or timeout
// elapses. Transient request errors are logged and polling continues; an
// unknown session ends the wait immediately.
func (c *Client) WaitForToken(ctx context.Context, id string, interval, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sess, err := c.Status(ctx, id)
		switch {
		case err == nil && sess.Completed():
			return sess.TokenValue(), nil
		case errors.Is(err, types.ErrSessionNotFound):
			return "", err
		case err != nil && ctx.Err() == nil:
			log.Debug().Err(err).Str("session", id).Msg("Session poll failed")
		}

		select {
		case <-ctx.Done():
			return "", types.ErrSessionTimeout
		case <-ticker.C:
		}
	}
}
