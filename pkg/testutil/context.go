package testutil

import (
	"context"
	"net/http"
)

// WithContextValue stands in for middleware that populates the request
// context, such as the client IP.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), key, value))
}
