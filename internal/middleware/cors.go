// Package middleware provides HTTP middleware for the control API.
package middleware

import "net/http"

// controlMethods lists every method the control API serves.
const controlMethods = "GET, POST, PUT, OPTIONS"

// CORS returns middleware admitting the configured origins. Credentials
// are only allowed for origins listed explicitly: pairing
// Allow-Credentials with a wildcard-echoed origin enables CSRF.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			var wildcard, explicit bool
			for _, o := range allowedOrigins {
				if o == origin {
					explicit = true
					break
				}
				if o == "*" {
					wildcard = true
				}
			}

			if explicit || wildcard {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", controlMethods)
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				if explicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
