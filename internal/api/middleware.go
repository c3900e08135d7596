package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mabruquaye/cardpay/internal/auth"
	"github.com/mabruquaye/cardpay/internal/logging"
)

type principalKey struct{}

// PrincipalFrom returns the resolved caller identity. Handlers behind the
// auth middleware can rely on it being present.
func PrincipalFrom(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(principalKey{}).(*auth.Principal)
	if p == nil {
		return &auth.Principal{}
	}
	return p
}

// WithPrincipal stashes a principal on the context. Exported for tests.
func WithPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// AuthMiddleware resolves the bearer token into a principal or rejects the
// request with 401.
func AuthMiddleware(resolver auth.Resolver) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			token = strings.TrimSpace(token)
			if !ok || token == "" {
				respondJSON(w, http.StatusUnauthorized,
					errorBody{Error: "unauthorized", Message: "missing bearer token"},
					r.Method, r.URL.Path)
				return
			}

			p, err := resolver.Resolve(token)
			if err != nil {
				respondJSON(w, http.StatusUnauthorized,
					errorBody{Error: "unauthorized", Message: "invalid bearer token"},
					r.Method, r.URL.Path)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware emits one structured line per request.
func LoggingMiddleware(logger *logging.Logger) mux.MiddlewareFunc {
	logger = logger.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
