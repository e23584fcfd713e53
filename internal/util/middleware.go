package util

import "net/http"

// WithHTTPStack wraps a service router with the shared middleware chain:
// request id, request log, security headers, CORS.
func WithHTTPStack(service string, next http.Handler) http.Handler {
	return WithRequestID(WithRequestLog(service, WithSecurityHeaders(WithCORS(next))))
}
