package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apperrors "licenseledger/internal/errors"
	"licenseledger/internal/infrastructure"
)

// APIKeyHeader is the header carrying the shared API key
const APIKeyHeader = "X-API-Key"

// APIKeyAuth gates the API behind a shared key carried in the X-API-Key
// header. Comparison is constant time so response timing leaks nothing
// about key prefixes.
func APIKeyAuth(key string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			presented := r.Header.Get(APIKeyHeader)

			if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				logger.WarnContext(ctx, "rejected request with invalid API key",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)

				traceID := infrastructure.GetTraceID(ctx)
				problem := apperrors.ProblemFromStatus(http.StatusUnauthorized,
					"A valid X-API-Key header is required", traceID)
				render.Render(w, r, problem)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
