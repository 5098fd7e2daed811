package safego

import "log/slog"

type config struct {
	name string
	tags []Tag

	finally []func()

	onPanic     PanicHandler
	panicPolicy PanicPolicy
	logger      *slog.Logger
}

// Option configures a single Go/Run call.
type Option func(*config)

func defaultConfig() config {
	return config{panicPolicy: RecoverAndReport}
}

// WithName sets the name carried by reports.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithTag appends a single tag.
func WithTag(key, value string) Option {
	return func(c *config) {
		c.tags = append(c.tags, Tag{Key: key, Value: value})
	}
}

// WithTags appends tags (preserving order).
func WithTags(tags ...Tag) Option {
	return func(c *config) {
		if len(tags) == 0 {
			return
		}
		c.tags = append(c.tags, tags...)
	}
}

// WithFinally registers a function to be called when execution finishes. Finalizers run LIFO.
func WithFinally(fn func()) Option {
	return func(c *config) {
		if fn == nil {
			return
		}
		c.finally = append(c.finally, fn)
	}
}

// WithPanicHandler sets the panic handler. If not set, panics are logged.
//
// Panics in the handler are contained and logged.
func WithPanicHandler(h PanicHandler) Option {
	return func(c *config) { c.onPanic = h }
}

// WithPanicPolicy sets the panic handling policy.
func WithPanicPolicy(p PanicPolicy) Option {
	return func(c *config) { c.panicPolicy = p }
}

// WithLogger sets the logger used when no panic handler is configured.
// Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}
