package server

import "net/http"

// concurrencyLimiter bounds the number of in-flight requests with a
// buffered channel acting as a semaphore — the same shape as the cluster
// coordinator's command channel, generalized from "mediate access to
// shared state" to "mediate access to a capacity limit". A request that
// can't acquire a slot gets 429 rather than queuing indefinitely, matching
// spec §5's max_concurrent_requests.
func concurrencyLimiter(max int) func(http.Handler) http.Handler {
	sem := make(chan struct{}, max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
				next.ServeHTTP(w, r)
			default:
				writeError(w, http.StatusTooManyRequests, "rate_limit_error", "too many concurrent requests")
			}
		})
	}
}
