package safego

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Run executes fn synchronously and reports whether it panicked.
//
// Under RepanicAfterReport, Run does not return normally when fn panics.
// If ctx is nil, it is treated as context.Background().
func Run(ctx context.Context, fn func(context.Context), opts ...Option) (panicked bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	c := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}

	// Always run finalizers (LIFO), even when we repanic.
	defer runFinalizers(ctx, &c)

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		panicked = true
		if c.panicPolicy == RecoverOnly {
			return
		}
		c.report(ctx, PanicInfo{
			Name:  c.name,
			Tags:  cloneTags(c.tags),
			Value: p,
			Stack: debug.Stack(),
		})
		if c.panicPolicy == RepanicAfterReport {
			panic(p)
		}
	}()

	fn(ctx)
	return false
}

func runFinalizers(ctx context.Context, c *config) {
	for i := len(c.finally) - 1; i >= 0; i-- {
		fn := c.finally[i]
		func() {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				c.report(ctx, PanicInfo{
					Name:  c.name,
					Tags:  cloneTags(c.tags),
					Value: fmt.Sprintf("safego: finalizer panicked: %v", p),
					Stack: debug.Stack(),
				})
			}()
			fn()
		}()
	}
}

func cloneTags(tags []Tag) []Tag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]Tag, len(tags))
	copy(out, tags)
	return out
}
