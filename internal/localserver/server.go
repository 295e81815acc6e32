package localserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/turnstile-solver-go/internal/config"
	"github.com/Rorqualx/turnstile-solver-go/internal/stats"
	"github.com/Rorqualx/turnstile-solver-go/pkg/version"
)

// Config controls the listener and session retention.
type Config struct {
	Host           string
	Port           int
	SessionMaxAge  time.Duration
	AllowedOrigins []string
	Version        string
}

// ConfigFrom extracts the server settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Host:           cfg.Host,
		Port:           cfg.Port,
		SessionMaxAge:  cfg.SessionMaxAge,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Version:        version.Full(),
	}
}

// Server is the local solving server. Its accept loop runs on a background
// goroutine so callers can poll it while it serves the solving page.
type Server struct {
	cfg     Config
	store   *Store
	handler http.Handler

	mu   sync.Mutex
	srv  *http.Server
	addr string
	done chan struct{}
	err  error
}

// New creates a server over store. A nil store gets a fresh one.
func New(cfg Config, store *Store) *Server {
	if store == nil {
		store = NewStore()
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.SessionMaxAge <= 0 {
		cfg.SessionMaxAge = time.Hour
	}
	s := &Server{cfg: cfg, store: store}
	s.handler = s.routes()
	return s
}

// Handler returns the full middleware-wrapped route table.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Store returns the session table.
func (s *Server) Store() *Store {
	return s.store
}

// Start binds the listener and serves in the background. Calling Start on a
// running server is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("failed to listen on %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.srv = srv
	s.addr = ln.Addr().String()
	s.done = make(chan struct{})
	s.err = nil

	done := s.done
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", ln.Addr().String()).Msg("Local solving server stopped")
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()

	log.Info().Str("url", "http://"+s.addr).Msg("Local solving server started")
	return nil
}

// Running reports whether the accept loop is active.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Done is closed when the accept loop exits. Nil before Start.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the error that stopped the accept loop, if any.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Shutdown stops accepting and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	select {
	case <-done:
	case <-ctx.Done():
	}
	log.Info().Msg("Local solving server stopped")
	return err
}

// BaseURL returns the server's root URL, using the bound address once started.
func (s *Server) BaseURL() string {
	s.mu.Lock()
	addr := s.addr
	s.mu.Unlock()
	if addr == "" {
		addr = net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	}
	return "http://" + addr
}

// SolveURL builds the /solve link for the given widget parameters.
func (s *Server) SolveURL(sitekey, targetURL, action, cdata string) string {
	q := url.Values{}
	q.Set("sitekey", sitekey)
	q.Set("url", targetURL)
	if action != "" {
		q.Set("action", action)
	}
	if cdata != "" {
		q.Set("cdata", cdata)
	}
	return s.BaseURL() + "/solve?" + q.Encode()
}

// Session returns one session record.
func (s *Server) Session(id string) (Session, bool) {
	return s.store.Get(id)
}

// DomainStats returns per-domain session outcomes, busiest first.
func (s *Server) DomainStats() []stats.DomainStats {
	return s.store.DomainStats()
}

// AllSessions returns every session, oldest first.
func (s *Server) AllSessions() []Session {
	return s.store.All()
}
