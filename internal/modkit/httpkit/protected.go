package httpkit

import "shinga/internal/platform/net/middleware"

// Protected groups routes under bearer auth
// a nil port leaves the group open
func Protected(r Router, p middleware.AuthPort, fn func(Router)) {
	r.Group(func(gr Router) {
		gr.Use(Auth(p))
		fn(gr)
	})
}
