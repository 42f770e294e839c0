package web

import (
	"net/http"

	"github.com/JonMunkholm/ledgerbridge/internal/core"
)

// withRequestInfo records the client address and user agent on the request
// context for the audit log. r.RemoteAddr has already been rewritten by
// TrustedRealIP.
func withRequestInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := core.WithRequestInfo(r.Context(), core.RequestInfo{
			IPAddress: r.RemoteAddr,
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
