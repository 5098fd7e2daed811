// Package httpx provides the net/http middlewares used around the ops endpoints.
//
//   - Chain / Wrap compose middlewares.
//   - Recover keeps the server alive when a handler panics and logs the panic through slog.
//   - TokenGuard admits only requests carrying a known token, typically for write endpoints.
//
// Minimal usage:
//
//	h := httpx.Wrap(mux,
//		httpx.Recover(logger),
//		httpx.TokenGuard(tokens, httpx.WithGuardedMethods(http.MethodPost)),
//	)
package httpx
