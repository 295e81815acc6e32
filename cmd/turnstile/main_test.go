package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Rorqualx/turnstile-solver-go/internal/config"
	"github.com/Rorqualx/turnstile-solver-go/internal/sitekey"
)

const realKey = "1xABCDEF1234567890ABCDEF1234567890"

const widgetPage = `<html><body>
<div class="cf-turnstile" data-sitekey="` + realKey + `"></div>
<script src="https://challenges.cloudflare.com/turnstile/v0/api.js" async defer></script>
</body></html>`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	root := newRootCmd(config.Load())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func exitCode(err error) int {
	var ee *exitError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ee):
		return ee.code
	default:
		return exitFatal
	}
}

func TestValidateCmd(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		wantCode int
		check    func(sitekey.Result) bool
	}{
		{"demo key", "1x00000000000000000000AA", exitNegative, func(r sitekey.Result) bool { return r.IsDemo }},
		{"placeholder", "YOUR_SITE_KEY", exitNegative, func(r sitekey.Result) bool { return r.IsFake }},
		{"plausible key", realKey, exitOK, func(r sitekey.Result) bool { return r.IsValid }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "validate", "--json", tt.key)
			if got := exitCode(err); got != tt.wantCode {
				t.Errorf("exit code = %d, want %d (%v)", got, tt.wantCode, err)
			}
			var res sitekey.Result
			if err := json.Unmarshal([]byte(out), &res); err != nil {
				t.Fatalf("invalid JSON output %q: %v", out, err)
			}
			if !tt.check(res) {
				t.Errorf("unexpected classification %+v", res)
			}
		})
	}
}

func TestExtractCmd_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, []byte(widgetPage), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "extract", "--json", path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	var rep extractReport
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if !rep.Scan.HasTurnstile {
		t.Error("expected Turnstile to be detected")
	}
	if len(rep.Sitekeys) != 1 || rep.Sitekeys[0].Sitekey != realKey {
		t.Errorf("sitekeys = %+v", rep.Sitekeys)
	}
}

func TestExtractCmd_URL(t *testing.T) {
	var ua string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(widgetPage))
	}))
	defer ts.Close()

	out, err := execute(t, "extract", "--json", ts.URL+"/login")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	var rep extractReport
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if ua == "" {
		t.Error("fetch should send a browser user agent")
	}
	if len(rep.Sitekeys) != 1 || !strings.HasPrefix(rep.Sitekeys[0].Domain, "127.0.0.1") {
		t.Errorf("sitekeys = %+v", rep.Sitekeys)
	}
	if rep.Block != nil {
		t.Errorf("challenge page reported as blocked: %+v", rep.Block)
	}
}

func TestExtractCmd_RateLimited(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("<html><body>slow down</body></html>"))
	}))
	defer ts.Close()

	out, err := execute(t, "extract", "--json", ts.URL)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	var rep extractReport
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if rep.Block == nil || rep.Block.Code != "HTTP_429" {
		t.Errorf("block = %+v", rep.Block)
	}
}

func TestExtractCmd_MissingFile(t *testing.T) {
	_, err := execute(t, "extract", filepath.Join(t.TempDir(), "missing.html"))
	if exitCode(err) != exitFatal {
		t.Errorf("exit code = %d, want %d", exitCode(err), exitFatal)
	}
}

func TestSolveCmd_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"relative target", []string{"solve", "example.com/login"}},
		{"file target", []string{"solve", "file:///etc/hosts"}},
		{"bad proxy", []string{"solve", "https://example.com", "--proxy", "ftp://proxy.test"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if exitCode(err) != exitFatal {
				t.Errorf("exit code = %d, want %d (%v)", exitCode(err), exitFatal, err)
			}
		})
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	if code := run([]string{"no-such-command"}); code != exitFatal {
		t.Errorf("exit code = %d, want %d", code, exitFatal)
	}
}
