package httpx

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// DefaultTokenHeader is the default header name for TokenGuard.
const DefaultTokenHeader = "X-Access-Token"

// DenyReason describes why TokenGuard denied a request. It never contains the token.
type DenyReason string

const (
	DenyReasonTokenMissing    DenyReason = "token-missing"
	DenyReasonTokenAmbiguous  DenyReason = "token-ambiguous"
	DenyReasonTokenSetEmpty   DenyReason = "token-set-empty"
	DenyReasonTokenNotAllowed DenyReason = "token-not-allowed"
)

// GuardOption configures TokenGuard.
type GuardOption func(*guardConfig)

type guardConfig struct {
	header  string
	methods map[string]struct{}
	log     *slog.Logger
}

// WithTokenHeader sets the header carrying the token. Blank names are ignored.
func WithTokenHeader(name string) GuardOption {
	return func(c *guardConfig) {
		if name = strings.TrimSpace(name); name != "" {
			c.header = name
		}
	}
}

// WithGuardedMethods limits the guard to the given methods; other methods pass through.
// By default every method is guarded.
func WithGuardedMethods(methods ...string) GuardOption {
	return func(c *guardConfig) {
		if c.methods == nil {
			c.methods = make(map[string]struct{}, len(methods))
		}
		for _, m := range methods {
			c.methods[strings.ToUpper(m)] = struct{}{}
		}
	}
}

// WithGuardLogger sets the logger used for denied requests. Default is slog.Default().
func WithGuardLogger(l *slog.Logger) GuardOption {
	return func(c *guardConfig) { c.log = l }
}

// TokenGuard returns a middleware that admits requests carrying one of tokens and answers
// 403 Forbidden otherwise.
//
// Blank tokens are ignored. With no usable token every guarded request is denied.
func TokenGuard(tokens []string, opts ...GuardOption) Middleware {
	cfg := guardConfig{header: DefaultTokenHeader}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.log == nil {
		cfg.log = slog.Default()
	}
	set := make([][]byte, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			set = append(set, []byte(t))
		}
	}

	check := func(r *http.Request) (bool, DenyReason) {
		if len(set) == 0 {
			return false, DenyReasonTokenSetEmpty
		}
		vs := r.Header.Values(cfg.header)
		switch {
		case len(vs) == 0 || strings.TrimSpace(vs[0]) == "":
			return false, DenyReasonTokenMissing
		case len(vs) > 1:
			return false, DenyReasonTokenAmbiguous
		}
		got := []byte(strings.TrimSpace(vs[0]))
		for _, want := range set {
			if subtle.ConstantTimeCompare(got, want) == 1 {
				return true, ""
			}
		}
		return false, DenyReasonTokenNotAllowed
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			panic("httpx: nil next handler")
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.methods != nil {
				if _, guarded := cfg.methods[r.Method]; !guarded {
					next.ServeHTTP(w, r)
					return
				}
			}
			if ok, reason := check(r); !ok {
				cfg.log.Warn("httpx: request denied", "method", r.Method, "path", r.URL.Path, "reason", string(reason))
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
