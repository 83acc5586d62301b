// Package httpkit provides handler and routing helpers that alias the platform http package
// use these from modules so they do not import internal/platform/net/http directly
package httpkit

import (
	"net/http"

	phttp "shinga/internal/platform/net/http"
	"shinga/internal/platform/net/http/bind"
)

type (
	// Response is the HTTP response type; return one from a handler to pick the status
	Response = phttp.Response

	// Router is a re-export of the platform router seam
	Router = phttp.Router

	// StructLevel is handed to struct validation rules
	StructLevel = bind.StructLevel
)

// RegisterStructValidation adds a body rule reported under tag with message msg
func RegisterStructValidation(fn func(StructLevel), tag, msg string, types ...any) {
	bind.RegisterStructValidation(fn, tag, msg, types...)
}

// Call adapts a handler that takes no JSON body
func Call(fn func(*http.Request) (any, error)) phttp.Handler {
	return phttp.Handle(func(r *http.Request) phttp.Response {
		out, err := fn(r)
		if err != nil {
			return phttp.Error(err)
		}
		if resp, ok := out.(phttp.Response); ok {
			return resp
		}
		return phttp.OK(out)
	})
}
