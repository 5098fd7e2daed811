package task

import (
	"context"
	"fmt"
	"time"

	"github.com/evan-idocoding/zrtos/rt/safego"
)

// trampoline is the kernel entry point shared by all tasks. arg is the *Task passed to
// CreateTask by Start.
func trampoline(ctx context.Context, arg any) {
	t, ok := arg.(*Task)
	if !ok || t == nil {
		panic(fmt.Sprintf("task: trampoline called with %T", arg))
	}
	t.run(ctx)
}

func (t *Task) run(ctx context.Context) {
	t.exec.Store(&ctx)

	opts := []safego.Option{
		safego.WithName(t.name),
		safego.WithTags(t.tags...),
		safego.WithPanicPolicy(t.panicPolicy),
		safego.WithLogger(t.log),
	}
	if t.onPanic != nil {
		opts = append(opts, safego.WithPanicHandler(t.onPanic))
	}

	startup := func(context.Context) { t.r.Startup(t) }
	loop := func(context.Context) { t.r.Loop(t) }

	if safego.Run(ctx, startup, opts...) {
		t.fault("startup panicked")
		return
	}
	t.startupDone.Store(true)

	// A deleted task stops here at the latest; usually it never returns from Sleep.
	for ctx.Err() == nil {
		if safego.Run(ctx, loop, opts...) {
			t.fault("loop panicked")
			return
		}
		t.loops.Add(1)
		t.lastLoop.Store(time.Now().UnixNano())
	}
}

func (t *Task) fault(reason string) {
	t.mu.Lock()
	if t.state == StateRunning {
		t.state = StateFaulted
	}
	t.lastError = reason
	t.mu.Unlock()
	t.log.Error("task faulted", "reason", reason)
}
