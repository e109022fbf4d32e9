package web

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"netmaster/internal/apperr"
	"netmaster/internal/auth"
	"netmaster/internal/logger"
	"netmaster/internal/ratelimit"
)

type contextKey string

const (
	requestIDKey    contextKey = "request_id"
	RequestIDHeader            = "X-Request-ID"
)

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 64 {
			u, err := uuid.NewV7()
			if err != nil {
				u = uuid.New()
			}
			id = u.String()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func recovery(logger *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered",
						"panic", rec,
						"path", r.URL.Path,
						"request_id", RequestIDFrom(r.Context()),
						"stack", string(debug.Stack()),
					)
					writeError(w, apperr.New(apperr.KindInternal, "internal", "internal server error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func logMiddleware(logger *logger.Logger, clientIP func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: 200}
			next.ServeHTTP(ww, r)
			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.status,
				"bytes", ww.size,
				"remote_ip", clientIP(r),
				"request_id", RequestIDFrom(r.Context()),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.size += n
	return n, err
}

func (s *statusWriter) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// basicAuth rejects every request without valid credentials. The response
// is identical for unknown users and wrong passwords.
func basicAuth(a *auth.Authenticator, logger *logger.Logger, clientIP func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || !a.Check(user, pass) {
				logger.Warn("authentication failed", "remote_ip", clientIP(r), "path", r.URL.Path)
				w.Header().Set("WWW-Authenticate", `Basic realm="`+auth.Realm+`"`)
				writeError(w, apperr.New(apperr.KindAuthentication, "unauthorized", "valid credentials are required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit keys the limiter by route group and client address.
func rateLimit(l ratelimit.Limiter, group string, limit ratelimit.Limit, logger *logger.Logger, clientIP func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			d, err := l.Allow(r.Context(), group+":"+ip, limit)
			if err != nil {
				// fail open
				logger.Error("rate limiter unavailable", "err", err)
				next.ServeHTTP(w, r)
				return
			}
			if !d.Allowed {
				logger.Warn("rate limit exceeded", "remote_ip", ip, "group", group, "reason", d.Reason)
				retry := int(ratelimit.RetryAfter.Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeJSONStatus(w, http.StatusTooManyRequests, errorBody{
					Error:      "Rate limit exceeded",
					Message:    d.Reason,
					RetryAfter: retry,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIPFunc returns the peer address, or the first X-Forwarded-For /
// X-Real-IP entry when the collector sits behind a trusted proxy.
func clientIPFunc(trustProxy bool) func(*http.Request) string {
	return func(r *http.Request) string {
		if trustProxy {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
					return ip
				}
			}
			if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
				return xri
			}
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}
