package httpx

import "net/http"

// Middleware is a standard net/http middleware.
type Middleware func(http.Handler) http.Handler

// Chain composes middlewares. Chain(a, b, c)(h) returns a(b(c(h))).
//
// Nil middlewares are ignored.
func Chain(mws ...Middleware) Middleware {
	snapshot := make([]Middleware, 0, len(mws))
	for _, mw := range mws {
		if mw != nil {
			snapshot = append(snapshot, mw)
		}
	}
	return func(h http.Handler) http.Handler {
		if h == nil {
			panic("httpx: nil endpoint handler")
		}
		for i := len(snapshot) - 1; i >= 0; i-- {
			h = snapshot[i](h)
		}
		return h
	}
}

// Wrap applies middlewares to h.
func Wrap(h http.Handler, mws ...Middleware) http.Handler {
	return Chain(mws...)(h)
}
