package xhttp

import (
	"net/http"
	"strings"
)

// AllowAllCORS lets any origin call the listed methods, preflight included.
func AllowAllCORS(methods ...string) func(http.Handler) http.Handler {
	allowed := strings.Join(append([]string{http.MethodOptions}, methods...), ", ")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Methods", allowed)
				w.Header().Set("Access-Control-Allow-Origin", "*")
				w.Header().Set("Vary", "Origin, Access-Control-Request-Method")
				if r.Method == http.MethodOptions { // preflight request
					w.WriteHeader(http.StatusOK)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
