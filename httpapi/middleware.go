package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ajiwo/callquota"
	"github.com/ajiwo/callquota/identity"
)

// RemainingHeader reports the caller's remaining budget on gated responses.
const RemainingHeader = "X-Quota-Remaining"

// Middleware gates next behind an availability check for the caller's
// resolved identity. Exhausted budgets answer 429, store outages 503; the
// distinction matters because the first is a friendly "no calls remaining"
// and the second a "try again later".
//
// The middleware only checks; recording consumption stays with the
// call-initiation flow, which knows when a session actually ended.
func Middleware(tracker *callquota.Tracker, resolver *identity.Resolver, logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := resolver.Resolve(identity.FromRequest(r))

		decision, err := tracker.CheckAvailable(r.Context(), id)
		if err != nil {
			if errors.Is(err, callquota.ErrStoreUnavailable) {
				logger.Error("quota check failed, denying request", "error", err)
				http.Error(w, "quota service unavailable, try again later", http.StatusServiceUnavailable)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set(RemainingHeader, strconv.FormatInt(decision.Remaining, 10))

		if !decision.Allowed {
			http.Error(w, "no calls remaining", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
