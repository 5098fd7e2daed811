// Package safego runs functions with panic containment and reporting.
//
// It is used by rt/task to run Startup and Loop hooks on a task's execution context, and by
// rt/kernel to run watchdog handlers, where an unrecovered panic would otherwise take down the
// whole process.
//
// Run executes synchronously and reports whether fn panicked:
//
//	if safego.Run(ctx, step, safego.WithName("blink")) {
//		// step panicked; the panic was reported and recovered
//	}
//
// # Panic policy
//
// By default, safego uses RecoverAndReport: it recovers panics and reports them via
// WithPanicHandler if provided, otherwise through the configured slog.Logger (slog.Default()
// when none is set).
//
// RepanicAfterReport reports and then panics again with the same value. RecoverOnly recovers
// without reporting.
//
// # Finalizers
//
// WithFinally functions always run (on success, panic, and repanic) in LIFO order. A panicking
// finalizer is contained and reported; it is not rethrown.
//
// Nil context: if ctx is nil, safego treats it as context.Background().
package safego
