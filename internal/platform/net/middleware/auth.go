package middleware

import (
	"net/http"

	pnet "shinga/internal/platform/net"
)

// WriteFunc writes body as the response with status
type WriteFunc func(w http.ResponseWriter, status int, body any)

// AuthPort authenticates a request and names the caller
type AuthPort interface {
	Parse(r *http.Request) (userID string, err error)
}

// Auth rejects requests p cannot authenticate and records the caller on the
// context; a nil port lets everything through
func Auth(p AuthPort, write WriteFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if p == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid, err := p.Parse(r)
			if err != nil {
				status, body := pnet.Failure(err, pnet.RequestID(r.Context()))
				write(w, status, body)
				return
			}
			next.ServeHTTP(w, r.WithContext(pnet.WithUser(r.Context(), uid)))
		})
	}
}
