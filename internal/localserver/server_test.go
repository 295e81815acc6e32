package localserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/Rorqualx/turnstile-solver-go/internal/assets"
	"github.com/Rorqualx/turnstile-solver-go/internal/middleware"
	"github.com/Rorqualx/turnstile-solver-go/internal/types"
)

const realKey = "1xABCDEF1234567890ABCDEF1234567890"

var sessionAttr = regexp.MustCompile(`data-session-id="([^"]+)"`)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(Config{Host: "127.0.0.1", Port: 0}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func get(t *testing.T, rawURL string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(rawURL)
	if err != nil {
		t.Fatalf("GET %s: %v", rawURL, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func solve(t *testing.T, ts *httptest.Server, params url.Values) (*http.Response, string) {
	t.Helper()
	return get(t, ts.URL+"/solve?"+params.Encode())
}

func decodeError(t *testing.T, body string) middleware.ErrorResponse {
	t.Helper()
	var e middleware.ErrorResponse
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		t.Fatalf("error body is not JSON: %v\n%s", err, body)
	}
	return e
}

func TestSolve_Rejections(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name    string
		params  url.Values
		wantErr string
	}{
		{"missing sitekey", url.Values{"url": {"https://x.test"}}, errMissingSitekey},
		{"demo key", url.Values{"sitekey": {"1x00000000000000000000AA"}, "url": {"https://x.test"}}, errDemoSitekey},
		{"other demo key", url.Values{"sitekey": {"3x00000000000000000000FF"}, "url": {"https://x.test"}}, errDemoSitekey},
		{"placeholder", url.Values{"sitekey": {"YOUR_SITE_KEY"}, "url": {"https://x.test"}}, errFakeSitekey},
		{"bad prefix", url.Values{"sitekey": {"2xABCDEF1234567890ABCDEF"}, "url": {"https://x.test"}}, errSitekeyFormat},
		{"too short", url.Values{"sitekey": {"1xABC"}, "url": {"https://x.test"}}, errSitekeyFormat},
		{"missing url", url.Values{"sitekey": {realKey}}, errMissingURL},
		{"relative url", url.Values{"sitekey": {realKey}, "url": {"x.test/login"}}, errBadURL},
		{"script url", url.Values{"sitekey": {realKey}, "url": {"javascript:alert(1)"}}, errBadURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := solve(t, ts, tt.params)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			e := decodeError(t, body)
			if e.Error != tt.wantErr || e.Message == "" {
				t.Errorf("error = %+v, want %q", e, tt.wantErr)
			}
		})
	}
}

func TestSolve_CreatesSession(t *testing.T) {
	srv, ts := newTestServer(t)

	params := url.Values{"sitekey": {realKey}, "url": {"https://x.test"}, "action": {"login"}, "cdata": {"abc"}}
	resp, body := solve(t, ts, params)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(body, `data-sitekey="`+realKey+`"`) {
		t.Error("page does not embed the sitekey")
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing permissive CORS header")
	}

	m := sessionAttr.FindStringSubmatch(body)
	if m == nil {
		t.Fatal("page has no session id")
	}
	sess, ok := srv.Session(m[1])
	if !ok {
		t.Fatalf("session %s not stored", m[1])
	}
	if sess.Sitekey != realKey || sess.Action != "login" || sess.CData != "abc" || sess.Status != StatusWaiting {
		t.Errorf("session = %+v", sess)
	}

	_, body2 := solve(t, ts, params)
	m2 := sessionAttr.FindStringSubmatch(body2)
	if m2 == nil || m2[1] == m[1] {
		t.Errorf("second solve did not get a fresh session id")
	}
}

func TestSolve_PurgesOldSessions(t *testing.T) {
	now := time.Now()
	store := NewStore()
	store.now = func() time.Time { return now }
	old := store.Create(SessionRequest{Sitekey: realKey})
	now = now.Add(2 * time.Hour)

	srv := New(Config{SessionMaxAge: time.Hour}, store)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, _ := solve(t, ts, url.Values{"sitekey": {realKey}, "url": {"https://x.test"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, ok := store.Get(old.ID); ok {
		t.Error("expired session survived /solve")
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func postToken(t *testing.T, ts *httptest.Server, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/token", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /token: %v", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(respBody)
}

func TestToken(t *testing.T) {
	srv, ts := newTestServer(t)
	sess := srv.Store().Create(SessionRequest{Sitekey: realKey, URL: "https://x.test"})

	resp, _ := postToken(t, ts, `{"sessionId":"unknown","token":"tok","timestamp":1}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", resp.StatusCode)
	}
	resp, _ = postToken(t, ts, `{"sessionId":"../`+sess.ID+`","token":"tok","timestamp":1}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("malformed session status = %d, want 404", resp.StatusCode)
	}

	resp, body := postToken(t, ts, `{"sessionId":"`+sess.ID+`","token":"first-token","timestamp":1}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var ack tokenAck
	if err := json.Unmarshal([]byte(body), &ack); err != nil || !ack.Success || ack.Message != "Token received" {
		t.Errorf("ack = %+v (%v)", ack, err)
	}

	resp, _ = postToken(t, ts, `{"sessionId":"`+sess.ID+`","token":"second-token","timestamp":2}`)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("duplicate status = %d, want 200", resp.StatusCode)
	}

	got, _ := srv.Session(sess.ID)
	if got.Status != StatusCompleted || got.TokenValue() != "first-token" {
		t.Errorf("session = %+v", got)
	}
}

func TestToken_BadInput(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"not json", `{not json`, errBadJSON},
		{"missing token", `{"sessionId":"x"}`, errMissingToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postToken(t, ts, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			if e := decodeError(t, body); e.Error != tt.wantErr {
				t.Errorf("error = %q, want %q", e.Error, tt.wantErr)
			}
		})
	}
}

func TestStatusAndSessionRoutes(t *testing.T) {
	srv, ts := newTestServer(t)
	sess := srv.Store().Create(SessionRequest{Sitekey: realKey, URL: "https://x.test"})

	for _, path := range []string{"/status?session=" + sess.ID, "/session/" + sess.ID} {
		resp, body := get(t, ts.URL+path)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", path, resp.StatusCode)
		}
		var got map[string]interface{}
		if err := json.Unmarshal([]byte(body), &got); err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if got["id"] != sess.ID || got["status"] != "waiting" {
			t.Errorf("%s = %v", path, got)
		}
		if v, ok := got["token"]; !ok || v != nil {
			t.Errorf("%s token = %v, want null", path, v)
		}
	}

	for _, path := range []string{"/status?session=nope", "/status", "/session/nope", "/status?session=..%2Fetc"} {
		resp, body := get(t, ts.URL+path)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, resp.StatusCode)
		}
		if e := decodeError(t, body); e.Error != errNotFound {
			t.Errorf("%s error = %q", path, e.Error)
		}
	}
}

func TestStaticPages(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := get(t, ts.URL+"/test")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, assets.TestSitekey) {
		t.Errorf("/test = %d, demo key present %v", resp.StatusCode, strings.Contains(body, assets.TestSitekey))
	}

	resp, body = get(t, ts.URL+"/")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "/solve") {
		t.Errorf("/ = %d", resp.StatusCode)
	}

	resp, _ = get(t, ts.URL+"/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("/nope = %d, want 404", resp.StatusCode)
	}
}

func TestPreflight(t *testing.T) {
	_, ts := newTestServer(t)
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/token", nil)
	req.Header.Set("Origin", "https://target.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Methods") == "" {
		t.Error("missing Allow-Methods")
	}
}

func TestServer_StartAndClient(t *testing.T) {
	srv := New(Config{Host: "127.0.0.1", Port: 0}, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Shutdown(context.Background())

	if !srv.Running() {
		t.Fatal("Running() = false after Start")
	}
	if err := srv.Start(); err != nil {
		t.Errorf("second Start() error = %v", err)
	}

	solveURL := srv.SolveURL(realKey, "https://x.test", "login", "")
	if !strings.HasPrefix(solveURL, srv.BaseURL()+"/solve?") || !strings.Contains(solveURL, "action=login") || strings.Contains(solveURL, "cdata") {
		t.Errorf("SolveURL() = %q", solveURL)
	}

	sess := srv.Store().Create(SessionRequest{Sitekey: realKey, URL: "https://x.test"})
	client := NewClient(srv.BaseURL())

	go func() {
		time.Sleep(50 * time.Millisecond)
		srv.Store().Complete(sess.ID, "polled-token")
	}()
	tok, err := client.WaitForToken(context.Background(), sess.ID, 10*time.Millisecond, 2*time.Second)
	if err != nil {
		t.Fatalf("WaitForToken() error = %v", err)
	}
	if tok != "polled-token" {
		t.Errorf("token = %q", tok)
	}

	if _, err := client.Status(context.Background(), "missing"); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("Status(missing) error = %v", err)
	}

	if len(srv.AllSessions()) != 1 {
		t.Errorf("AllSessions() = %d", len(srv.AllSessions()))
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if srv.Running() {
		t.Error("Running() = true after Shutdown")
	}
}

func TestClient_WaitTimeout(t *testing.T) {
	srv, ts := newTestServer(t)
	sess := srv.Store().Create(SessionRequest{Sitekey: realKey})

	_, err := NewClient(ts.URL).WaitForToken(context.Background(), sess.ID, 10*time.Millisecond, 60*time.Millisecond)
	if !errors.Is(err, types.ErrSessionTimeout) {
		t.Fatalf("error = %v, want ErrSessionTimeout", err)
	}
}

func TestStatsRoute(t *testing.T) {
	srv, ts := newTestServer(t)
	sess := srv.Store().Create(SessionRequest{Sitekey: realKey, URL: "https://x.test/login"})
	srv.Store().Complete(sess.ID, "tok")

	resp, body := get(t, ts.URL+"/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got struct {
		Sessions int `json:"sessions"`
		Domains  []struct {
			Domain      string  `json:"domain"`
			Sessions    int64   `json:"sessions"`
			Tokens      int64   `json:"tokens"`
			SuccessRate float64 `json:"success_rate"`
		} `json:"domains"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, body)
	}
	if got.Sessions != 1 || len(got.Domains) != 1 {
		t.Fatalf("stats = %+v", got)
	}
	d := got.Domains[0]
	if d.Domain != "x.test" || d.Sessions != 1 || d.Tokens != 1 || d.SuccessRate != 1 {
		t.Errorf("domain = %+v", d)
	}
}
