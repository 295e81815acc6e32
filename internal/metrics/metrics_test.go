package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	return w.Body.String()
}

func TestSetBuildInfo(t *testing.T) {
	SetBuildInfo("1.0.0", "go1.24")

	body := scrape(t)
	if !strings.Contains(body, `turnstile_build_info{go_version="go1.24",version="1.0.0"} 1`) {
		t.Error("Expected build info with labels")
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	RecordHTTPRequest("/solve", http.StatusBadRequest, 2*time.Millisecond)
	RecordHTTPRequest("/token", http.StatusOK, time.Millisecond)

	body := scrape(t)
	if !strings.Contains(body, `turnstile_http_requests_total{route="/solve",status="400"}`) {
		t.Error("Expected /solve 400 counter")
	}
	if !strings.Contains(body, "turnstile_http_request_duration_seconds") {
		t.Error("Expected request duration histogram")
	}
}

func TestRecordDetection(t *testing.T) {
	RecordDetection(nil, 100*time.Millisecond)
	RecordDetection([]string{"container", "iframe"}, 200*time.Millisecond)

	body := scrape(t)
	for _, want := range []string{
		`turnstile_detections_total{result="empty"}`,
		`turnstile_detections_total{result="found"}`,
		`turnstile_widgets_detected_total{kind="iframe"}`,
		"turnstile_detection_duration_seconds_count",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected %s in output", want)
		}
	}
}

func TestRecordStrategyAndSolve(t *testing.T) {
	RecordStrategy("click", false)
	RecordStrategy("local-server", true)
	RecordSolve("resolved", 3*time.Second)

	body := scrape(t)
	for _, want := range []string{
		`turnstile_strategy_attempts_total{outcome="failure",strategy="click"}`,
		`turnstile_strategy_attempts_total{outcome="success",strategy="local-server"}`,
		`turnstile_solve_outcomes_total{outcome="resolved"}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected %s in output", want)
		}
	}
}

func TestSessionAndTokenMetrics(t *testing.T) {
	UpdateSessionMetrics(5)
	RecordToken("accepted")
	RecordProviderSolve("capsolver", "success")

	body := scrape(t)
	if !strings.Contains(body, "turnstile_local_sessions 5") {
		t.Error("Expected local_sessions to be 5")
	}
	if !strings.Contains(body, `turnstile_tokens_received_total{result="accepted"}`) {
		t.Error("Expected token counter")
	}
	if !strings.Contains(body, `turnstile_provider_solves_total{provider="capsolver",status="success"}`) {
		t.Error("Expected provider counter")
	}
}

func TestStartMemoryCollector(t *testing.T) {
	stopCh := make(chan struct{})
	go StartMemoryCollector(50*time.Millisecond, stopCh)
	time.Sleep(150 * time.Millisecond)
	close(stopCh)

	body := scrape(t)
	if !strings.Contains(body, "turnstile_memory_usage_bytes") {
		t.Error("Expected memory metric")
	}
	if !strings.Contains(body, "turnstile_goroutines") {
		t.Error("Expected goroutine metric")
	}
}
