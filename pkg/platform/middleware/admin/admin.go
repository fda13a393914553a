// Package admin guards operator routes with a shared token.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "keyregistry/pkg/domain-errors"
	"keyregistry/pkg/platform/httputil"
	request "keyregistry/pkg/platform/middleware/request"
)

// HeaderAdminToken carries the operator token.
const HeaderAdminToken = "X-Admin-Token"

// RequireAdminToken demands the operator token in addition to the caller's
// governance role. An empty expected token disables the check.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	expected := []byte(expectedToken)
	return func(next http.Handler) http.Handler {
		if len(expected) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sent := []byte(r.Header.Get(HeaderAdminToken))
			if subtle.ConstantTimeCompare(sent, expected) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			logger.WarnContext(ctx, "admin token rejected",
				"path", r.URL.Path,
				"request_id", request.GetRequestID(ctx),
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
		})
	}
}
