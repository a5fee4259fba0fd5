package shield

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// BasicAuth requires HTTP Basic credentials whose password matches the
// bcrypt hash. The user name is not checked. An empty hash disables auth.
func BasicAuth(hash, realm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if hash == "" {
			return next
		}
		h := []byte(hash)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, pass, ok := r.BasicAuth()
			if !ok || bcrypt.CompareHashAndPassword(h, []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`", charset="UTF-8"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
