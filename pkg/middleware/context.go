package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/campaign-engine/pkg/logger"
)

const (
	HeaderTenancyID = "X-Tenancy-ID"
	HeaderUserID    = "X-User-ID"
)

// RequestLogger copies the tenancy and user headers into the context and
// stores a logger enriched with them (plus correlation and trace IDs) for
// downstream handlers to fetch with logger.FromContext.
//
// Mount it after RequestLogging and Tracing.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := r.Header.Get(HeaderUserID); id != "" {
				ctx = logger.WithUserID(ctx, id)
			}
			if id := r.Header.Get(HeaderTenancyID); id != "" {
				ctx = logger.WithTenancyID(ctx, id)
			}

			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
