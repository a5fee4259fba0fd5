// Package shield provides the HTTP middleware in front of the docshot API:
// security headers, request tracing, body limits and Basic Auth.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(logger) {
//	    r.Use(mw)
//	}
//	r.With(shield.BasicAuth(hash, "docshot")).Get("/api/targets", h)
package shield

import (
	"log/slog"
	"net/http"
)

// Stack returns the middleware applied to every API route, in order:
// SecurityHeaders, MaxBody, TraceID.
func Stack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		SecurityHeaders(APIHeaders()),
		MaxBody(64 * 1024),
		TraceID(logger),
	}
}

// MaxBody limits every request body to maxBytes.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
