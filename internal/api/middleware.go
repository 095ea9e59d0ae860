package api

import (
	"context"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/tasklane-core/internal/auth"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const ctxKeyRequest contextKey = "request"

// requestMeta follows one request through the middleware chain. Later
// middleware fill in what they learn (client address, authenticated user)
// so the access log line written on the way out carries it.
type requestMeta struct {
	id    string
	start time.Time
	addr  string
	user  *auth.User
}

func metaFrom(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyRequest).(*requestMeta) //nolint:errcheck // type assertion, not error
	return m
}

func requestIDFrom(ctx context.Context) string {
	if m := metaFrom(ctx); m != nil {
		return m.id
	}
	return ""
}

// requestStartFrom returns when the request arrived, or now if unknown.
// The failure delay floor is measured from here.
func requestStartFrom(ctx context.Context) time.Time {
	if m := metaFrom(ctx); m != nil {
		return m.start
	}
	return time.Now()
}

// userFromContext returns the user resolved by authMiddleware.
func userFromContext(ctx context.Context) *auth.User {
	if m := metaFrom(ctx); m != nil {
		return m.user
	}
	return nil
}

// accessLogMiddleware opens the request record and logs one line per
// request once the handler returns. A client-supplied X-Request-ID is
// reused; otherwise a UUID is generated.
func (s *Server) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := &requestMeta{id: r.Header.Get("X-Request-ID"), start: time.Now()}
		if meta.id == "" {
			meta.id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", meta.id)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), ctxKeyRequest, meta)))

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(meta.start).Milliseconds(),
			"request_id", meta.id,
		}
		if meta.addr != "" {
			attrs = append(attrs, "remote_addr", meta.addr)
		}
		if meta.user != nil {
			attrs = append(attrs, "user_id", meta.user.ID)
			if meta.user.RequestToken != nil {
				attrs = append(attrs, "pair_id", meta.user.RequestToken.ID)
			}
		}
		s.logger.Info("http request", attrs...)
	})
}

// recoveryMiddleware turns a handler panic into a 500. An unknown
// permission key panics in the Authorisor and lands here.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", requestIDFrom(r.Context()),
				)
				writeInternalError(w, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Header sets advertised when the config leaves them empty. The elevation
// header must be listed or browsers cannot re-authenticate.
const (
	defaultCORSMethods = "GET, POST, PUT, DELETE, OPTIONS"
	defaultCORSHeaders = "Authorization, Content-Type, X-Request-ID, " + elevationHeader
)

// corsMiddleware answers preflights and sets CORS headers for allowed
// origins. The config is read per request.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.isAllowedOrigin(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", joinOr(s.cfg.CORS.AllowedMethods, defaultCORSMethods))
			h.Set("Access-Control-Allow-Headers", joinOr(s.cfg.CORS.AllowedHeaders, defaultCORSHeaders))
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin reports whether origin may call the API. An empty allow
// list admits every origin (dev mode).
func (s *Server) isAllowedOrigin(origin string) bool {
	origins := s.cfg.CORS.AllowedOrigins
	return len(origins) == 0 || slices.Contains(origins, "*") || slices.Contains(origins, origin)
}

// maxRequestBodySize caps JSON bodies at 1 MB.
const maxRequestBodySize = 1 << 20

func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// clientAddrMiddleware records the client address for security events and
// turns away clients the anti-hammering guard has blocked.
func (s *Server) clientAddrMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := clientAddr(r)
		if m := metaFrom(r.Context()); m != nil {
			m.addr = addr
		}
		ctx := auth.WithRemoteAddr(r.Context(), addr)

		if s.guard != nil && addr != "" && s.guard.Blocked(ctx, addr) {
			s.metrics.authFailure("blocked")
			writeError(w, http.StatusForbidden, ErrCodeBlocked, "too many failed attempts")
			return
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientAddr returns the host part of r.RemoteAddr.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// authMiddleware resolves the bearer access token and attaches the user,
// with RequestToken set to the presented pair, to the request.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.bearerUser(r, auth.TokenAccess)
		if err != nil {
			s.writeAuthError(w, r, err)
			return
		}

		meta := metaFrom(r.Context())
		if meta == nil {
			meta = &requestMeta{id: uuid.NewString(), start: time.Now()}
			r = r.WithContext(context.WithValue(r.Context(), ctxKeyRequest, meta))
		}
		meta.user = user
		next.ServeHTTP(w, r)
	})
}

// bearerUser parses the Authorization header and verifies the token as kind.
func (s *Server) bearerUser(r *http.Request, kind auth.TokenKind) (*auth.User, error) {
	token, err := auth.ParseBearer(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}
	return s.authn.VerifyToken(r.Context(), token, kind)
}

// statusWriter captures the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func joinOr(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	return strings.Join(values, ", ")
}
