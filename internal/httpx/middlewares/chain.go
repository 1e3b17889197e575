// Package middlewares holds the request-interception layer: ambient
// middlewares (request id, logging, recover, CORS, security headers,
// rate limiting) and the authentication gateway every inbound request
// passes through.
package middlewares

import "net/http"

// Middleware decorates an http.Handler.
type Middleware func(http.Handler) http.Handler
