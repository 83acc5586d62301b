package httpkit

import (
	"net/http"

	perr "shinga/internal/platform/errors"
	pnet "shinga/internal/platform/net"
)

// User returns the caller recorded by Auth, Unauthorized on open routes
func User(r *http.Request) (string, error) {
	if uid := pnet.UserID(r.Context()); uid != "" {
		return uid, nil
	}
	return "", perr.Unauthorizedf("anonymous request")
}
