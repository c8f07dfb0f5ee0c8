/**
 * @description
 * This file contains custom middleware for the HTTP router. The settlement
 * surface is internal-only: every data endpoint requires the shared internal
 * API key carried in the X-Internal-Api-Key header.
 *
 * @dependencies
 * - crypto/subtle, net/http: Standard Go libraries.
 */

package api

import (
	"crypto/subtle"
	"net/http"
)

// InternalAuthMiddleware creates a middleware that validates the internal
// API key on every request.
func InternalAuthMiddleware(internalAPIKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-Internal-Api-Key")
			if key == "" {
				http.Error(w, "internal API key required", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(internalAPIKey)) != 1 {
				http.Error(w, "invalid internal API key", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
