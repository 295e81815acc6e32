package middleware

import (
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/turnstile-solver-go/internal/metrics"
	"github.com/Rorqualx/turnstile-solver-go/internal/security"
)

// maskIP keeps the /24 (IPv4) or /48 (IPv6) network of a remote address.
func maskIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return "[redacted]"
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4.Mask(net.CIDRMask(24, 32)).String() + "/24"
	}
	return ip.Mask(net.CIDRMask(48, 128)).String() + "/48"
}

// IsClientGone reports whether err is a write to a connection the client
// already closed.
func IsClientGone(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, net.ErrClosed)
}

// responseWriter captures the status code and swallows writes to clients
// that hung up.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	gone        bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if rw.gone {
		return len(b), nil
	}
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	if err != nil && IsClientGone(err) {
		rw.gone = true
		return len(b), nil
	}
	return n, err
}

// Flush implements http.Flusher.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Logging logs each request and records it in the HTTP metrics. Client IPs
// are masked and secrets redacted.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(route, wrapped.statusCode, duration)

		evt := log.Info()
		if r.Method == http.MethodOptions || r.URL.Path == "/status" {
			evt = log.Debug()
		}
		evt.
			Str("method", r.Method).
			Str("path", security.RedactURL(r.URL.String())).
			Str("remote_addr", maskIP(r.RemoteAddr)).
			Int("status", wrapped.statusCode).
			Bool("client_gone", wrapped.gone).
			Dur("duration", duration).
			Msg("Request completed")
	})
}
