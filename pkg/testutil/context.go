package testutil

import (
	"net/http"

	id "keyregistry/pkg/domain"
	"keyregistry/pkg/requestcontext"
)

// WithCaller attaches an authenticated caller the way the auth middleware
// would.
func WithCaller(req *http.Request, caller id.Address) *http.Request {
	return req.WithContext(requestcontext.WithCaller(req.Context(), caller))
}
