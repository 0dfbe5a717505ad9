// Package security provides hardening middleware for the HTTP API.
package security

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// staticHeaders are applied to every response. The API serves JSON only, so
// the CSP forbids all content loading and framing outright.
var staticHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Referrer-Policy":         "strict-origin-when-cross-origin",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	"Permissions-Policy":      "geolocation=(), microphone=(), camera=()",
}

// HeadersMiddleware sets the standard security headers on all responses.
func HeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		for name, value := range staticHeaders {
			c.Header(name, value)
		}
		c.Next()
	}
}

// CORSMiddleware handles cross-origin requests. An empty allow-list permits
// any origin; a wildcard entry does the same but without credentials, since
// wildcard plus credentials is forbidden by the CORS spec.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	wildcard := allowed["*"]

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if len(allowed) == 0 || wildcard || allowed[origin] {
			if origin != "" {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			c.Header("Access-Control-Max-Age", "86400")
			if !wildcard {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
