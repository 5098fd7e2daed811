package safego

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

func (c *config) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

func (c *config) report(ctx context.Context, info PanicInfo) {
	if c.onPanic != nil {
		c.callPanicHandlerNoPanic(ctx, info)
		return
	}
	logPanic(ctx, c.log(), info)
}

func (c *config) callPanicHandlerNoPanic(ctx context.Context, info PanicInfo) {
	defer func() {
		if p := recover(); p != nil {
			logPanic(ctx, c.log(), PanicInfo{
				Name:  info.Name,
				Tags:  info.Tags,
				Value: fmt.Sprintf("safego: panic handler panicked: %v", p),
				Stack: debug.Stack(),
			})
		}
	}()
	c.onPanic(ctx, info)
}

func logPanic(ctx context.Context, l *slog.Logger, info PanicInfo) {
	attrs := make([]slog.Attr, 0, 4)
	if info.Name != "" {
		attrs = append(attrs, slog.String("name", info.Name))
	}
	if len(info.Tags) > 0 {
		tags := make([]any, 0, len(info.Tags))
		for _, t := range info.Tags {
			tags = append(tags, slog.String(t.Key, t.Value))
		}
		attrs = append(attrs, slog.Group("tags", tags...))
	}
	attrs = append(attrs,
		slog.String("value", fmt.Sprint(info.Value)),
		slog.String("stack", string(info.Stack)),
	)
	l.LogAttrs(ctx, slog.LevelError, "safego: panic", attrs...)
}
