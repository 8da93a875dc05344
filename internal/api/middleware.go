/**
 * @description
 * Authentication and request logging middleware for the ledger-service.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5/middleware: Request ids and response wrapping.
 * - go.uber.org/zap: Structured access logs.
 */
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/transfa/ledger-service/internal/app"
	"go.uber.org/zap"
)

type contextKey string

// TellerIDContextKey is the key used to store the authenticated teller in the request context.
const TellerIDContextKey = contextKey("tellerID")

// TokenVerifier validates teller tokens.
type TokenVerifier interface {
	VerifyToken(token string) (*app.TellerClaims, error)
}

// TellerFromContext returns the employee id placed in ctx by TellerAuthMiddleware.
func TellerFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(TellerIDContextKey).(string)
	return id, ok && id != ""
}

// TellerAuthMiddleware requires a valid teller bearer token.
func TellerAuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			claims, err := verifier.VerifyToken(strings.TrimSpace(tokenString))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), TellerIDContextKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InternalAuthMiddleware guards administrative routes with the shared internal API key.
// An empty required key rejects every request.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Internal-API-Key")
			if requiredKey == "" || provided == "" ||
				subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger writes one structured access log line per request.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()

			defer func() {
				logger.Info("request served",
					zap.String("component", "http"),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("took", time.Since(started)),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
