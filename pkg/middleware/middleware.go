// Package middleware provides HTTP middleware for the resolver server.
package middleware

import (
	"bufio"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"media-resolver-go/pkg/config"
	"media-resolver-go/pkg/logging"
)

// Chain combines multiple middleware into a single handler.
func Chain(handler http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// RequestID adds a unique request ID to each request.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		r.Header.Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// Logging logs HTTP requests with timing information.
func Logging(log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			requestID := r.Header.Get("X-Request-ID")
			reqLog := log.RequestLogger(r.Method, r.URL.Path, r.RemoteAddr, requestID)

			reqLog.Debug("request started")

			next.ServeHTTP(wrapped, r.WithContext(reqLog.WithContext(r.Context())))

			duration := time.Since(start)
			reqLog.WithDuration(duration).Debug("request completed",
				"status", wrapped.statusCode,
				"bytes", wrapped.bytesWritten,
			)
		})
	}
}

// CORS adds CORS headers to responses.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CheckPassword reports whether r carries the API password in the
// api_password query parameter, a bearer token or X-API-Password.
// An empty password allows everything.
func CheckPassword(r *http.Request, password string) bool {
	if password == "" {
		return true
	}
	candidates := []string{
		r.URL.Query().Get("api_password"),
		r.Header.Get("X-API-Password"),
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		candidates = append(candidates, strings.TrimPrefix(auth, "Bearer "))
	}
	for _, c := range candidates {
		if c != "" && subtle.ConstantTimeCompare([]byte(c), []byte(password)) == 1 {
			return true
		}
	}
	return false
}

// Auth checks API password authentication.
func Auth(cfg *config.Config, log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.APIPassword == "" || isPublicEndpoint(r.URL.Path) || CheckPassword(r, cfg.APIPassword) {
				next.ServeHTTP(w, r)
				return
			}

			log.Warn("unauthorized request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
}

// Recovery recovers from panics and logs them.
func Recovery(log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("panic recovered",
						"error", err,
						"path", r.URL.Path,
						"method", r.Method,
					)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Hijack lets party sockets upgrade through the wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// isPublicEndpoint returns true for endpoints that don't require auth.
// Stremio clients cannot send headers, so the addon stays public.
func isPublicEndpoint(path string) bool {
	publicPaths := []string{
		"/",
		"/api/info",
		"/metrics",
		"/favicon.ico",
	}
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return strings.HasPrefix(path, "/stremio/")
}
