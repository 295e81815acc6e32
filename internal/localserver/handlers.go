package localserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/turnstile-solver-go/internal/assets"
	"github.com/Rorqualx/turnstile-solver-go/internal/metrics"
	"github.com/Rorqualx/turnstile-solver-go/internal/middleware"
	"github.com/Rorqualx/turnstile-solver-go/internal/security"
	"github.com/Rorqualx/turnstile-solver-go/internal/sitekey"
	"github.com/Rorqualx/turnstile-solver-go/internal/stats"
	"github.com/Rorqualx/turnstile-solver-go/internal/types"
)

const maxTokenBody = 64 * 1024

// Error headlines returned in the "error" field.
const (
	errMissingSitekey = "Missing required parameter: sitekey"
	errDemoSitekey    = "Invalid sitekey - Demo/Test key not supported"
	errFakeSitekey    = "Invalid sitekey - Placeholder or test pattern"
	errSitekeyFormat  = "Invalid sitekey format"
	errMissingURL     = "Missing URL parameter"
	errBadURL         = "Invalid URL parameter"
	errNotFound       = "Session not found"
	errBadJSON        = "Invalid JSON data"
	errMissingToken   = "Missing token"
)

// tokenSubmission is the body the solving page posts to /token.
type tokenSubmission struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
	Timestamp int64  `json:"timestamp"`
}

// tokenAck is the /token response.
type tokenAck struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /solve", s.handleSolve)
	mux.HandleFunc("GET /test", s.handleTest)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /session/{id}", s.handleSession)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /token", s.handleToken)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found", "No route for "+r.Method+" "+r.URL.Path)
	})

	return middleware.Chain(
		middleware.Recovery,
		middleware.Logging,
		middleware.CORS(middleware.CORSConfig{AllowedOrigins: s.cfg.AllowedOrigins}),
		middleware.NoStore,
	)(mux)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := assets.RenderIndexPage(assets.IndexPageData{
		Version:  s.cfg.Version,
		Sessions: s.store.Len(),
		BaseURL:  s.BaseURL(),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to render index page")
		middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to render page")
		return
	}
	writeHTML(w, page)
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	page, err := assets.RenderTestPage()
	if err != nil {
		log.Error().Err(err).Msg("Failed to render test page")
		middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to render page")
		return
	}
	writeHTML(w, page)
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := SessionRequest{
		Sitekey: strings.TrimSpace(q.Get("sitekey")),
		URL:     strings.TrimSpace(q.Get("url")),
		Action:  q.Get("action"),
		CData:   q.Get("cdata"),
	}

	if status, code, msg := checkSolveRequest(req); status != 0 {
		log.Debug().Str("error", code).Str("sitekey", prefix(req.Sitekey, 20)).Msg("Rejected solve request")
		middleware.WriteError(w, status, code, msg)
		return
	}

	s.store.Cleanup(s.cfg.SessionMaxAge)
	sess := s.store.Create(req)

	page, err := assets.RenderSolvePage(assets.SolvePageData{
		SessionID: sess.ID,
		Sitekey:   sess.Sitekey,
		TargetURL: sess.URL,
		Action:    sess.Action,
		CData:     sess.CData,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to render solve page")
		middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to render page")
		return
	}

	log.Info().
		Str("session", sess.ID).
		Str("sitekey", prefix(sess.Sitekey, 20)).
		Str("url", security.RedactURL(sess.URL)).
		Msg("Created solving session")
	writeHTML(w, page)
}

// checkSolveRequest returns a non-zero status with the error headline and
// detail when the request must be refused.
func checkSolveRequest(req SessionRequest) (int, string, string) {
	if req.Sitekey == "" {
		return http.StatusBadRequest, errMissingSitekey, "The sitekey query parameter is required"
	}

	v := sitekey.Validate(req.Sitekey, req.URL)
	switch {
	case v.IsDemo:
		return http.StatusBadRequest, errDemoSitekey,
			fmt.Sprintf("Sitekey '%s' is a demo/test key that won't work for real solving", req.Sitekey)
	case v.Type == sitekey.TypeInvalidFormat || v.Type == sitekey.TypeInvalidHex:
		return http.StatusBadRequest, errSitekeyFormat,
			"Real Turnstile sitekeys start with '1x' or '0x' and are 20+ characters: " + v.Reason
	case v.IsFake:
		return http.StatusBadRequest, errFakeSitekey, v.Reason
	}

	if req.URL == "" {
		return http.StatusBadRequest, errMissingURL, "The url parameter is required for Turnstile domain validation"
	}
	if err := security.ValidateTargetURL(req.URL); err != nil {
		return http.StatusBadRequest, errBadURL, fmt.Sprintf("url '%s': %v", req.URL, err)
	}
	return 0, "", ""
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeSession(w, r.URL.Query().Get("session"))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.writeSession(w, r.PathValue("id"))
}

func (s *Server) writeSession(w http.ResponseWriter, id string) {
	if !security.ValidSessionID(id) {
		middleware.WriteError(w, http.StatusNotFound, errNotFound, "No session with that id")
		return
	}
	sess, ok := s.store.Get(id)
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, errNotFound, "No session with id '"+id+"'")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, sess)
}

// domainStatsView is one /stats entry.
type domainStatsView struct {
	stats.DomainStats
	AvgTokenMs  int64   `json:"avg_token_ms"`
	SuccessRate float64 `json:"success_rate"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	all := s.store.DomainStats()
	out := make([]domainStatsView, len(all))
	for i, d := range all {
		out[i] = domainStatsView{DomainStats: d, AvgTokenMs: d.AvgTokenTime().Milliseconds(), SuccessRate: d.SuccessRate()}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.store.Len(),
		"domains":  out,
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var sub tokenSubmission
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTokenBody))
	if err == nil {
		err = json.Unmarshal(body, &sub)
	}
	if err != nil {
		metrics.RecordToken("invalid")
		middleware.WriteError(w, http.StatusBadRequest, errBadJSON, "Body must be JSON {sessionId, token, timestamp}")
		return
	}
	if sub.Token == "" {
		metrics.RecordToken("invalid")
		middleware.WriteError(w, http.StatusBadRequest, errMissingToken, "The token field is required")
		return
	}

	var accepted bool
	err = types.ErrSessionNotFound
	if security.ValidSessionID(sub.SessionID) {
		_, accepted, err = s.store.Complete(sub.SessionID, sub.Token)
	}
	if errors.Is(err, types.ErrSessionNotFound) {
		metrics.RecordToken("unknown_session")
		middleware.WriteError(w, http.StatusNotFound, errNotFound, "No session with id '"+sub.SessionID+"'")
		return
	}

	if !accepted {
		metrics.RecordToken("duplicate")
		log.Debug().Str("session", sub.SessionID).Msg("Ignoring token for already completed session")
		middleware.WriteJSON(w, http.StatusOK, tokenAck{Success: true, Message: "Session already completed"})
		return
	}

	metrics.RecordToken("accepted")
	log.Info().
		Str("session", sub.SessionID).
		Str("token", prefix(sub.Token, 20)).
		Msg("Token received")
	middleware.WriteJSON(w, http.StatusOK, tokenAck{Success: true, Message: "Token received"})
}

func writeHTML(w http.ResponseWriter, page []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
