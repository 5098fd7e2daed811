package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evan-idocoding/zrtos/rt/kernel"
	"github.com/evan-idocoding/zrtos/rt/safego"
)

// Task is a recurring unit of work backed by exactly one kernel task.
//
// Its configuration is fixed by New. Start creates the kernel task, Delete removes it.
// Start and Delete must not race each other on the same Task.
type Task struct {
	k kernel.Kernel
	r Runner

	name      string
	priority  kernel.Priority
	stackSize uint32
	affinity  kernel.CoreID

	tags        []safego.Tag
	onPanic     safego.PanicHandler
	panicPolicy safego.PanicPolicy
	log         *slog.Logger

	mu        sync.Mutex
	state     State
	handle    kernel.Handle
	startedAt time.Time
	lastError string

	// exec is the execution context handed over by the kernel; only the task itself uses it.
	exec atomic.Pointer[context.Context]

	startupDone atomic.Bool
	loops       atomic.Uint64
	lastLoop    atomic.Int64 // unix nanos
}

// New creates a Task. It does not talk to the kernel and does not validate its arguments;
// invalid values are reported by Start.
//
// r may be nil, in which case Default is used. A nil kernel panics.
func New(k kernel.Kernel, name string, r Runner, opts ...Option) *Task {
	if k == nil {
		panic("task: New called with nil kernel.Kernel")
	}
	if r == nil {
		r = Default{}
	}
	c := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	log := c.logger
	if log == nil {
		log = slog.Default()
	}
	return &Task{
		k:           k,
		r:           r,
		name:        name,
		priority:    c.priority,
		stackSize:   c.stackSize,
		affinity:    c.affinity,
		tags:        cloneTags(c.tags),
		onPanic:     c.onPanic,
		panicPolicy: c.panicPolicy,
		log:         log.With("task", name),
		state:       StateUnstarted,
	}
}

// Name returns the configured name.
func (t *Task) Name() string { return t.name }

// Priority returns the configured priority.
func (t *Task) Priority() kernel.Priority { return t.priority }

// StackSize returns the configured stack size in bytes.
func (t *Task) StackSize() uint32 { return t.stackSize }

// Affinity returns the configured core affinity.
func (t *Task) Affinity() kernel.CoreID { return t.affinity }

// Handle returns the kernel handle, if the task has been started and not deleted.
func (t *Task) Handle() (kernel.Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handle, t.handle != kernel.NoHandle
}

// State returns the lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start asks the kernel to create the task. Startup and Loop then run on the new execution
// context, concurrently with the caller.
//
// On failure the error wraps ErrAdmission and the kernel's error, the task stays
// unstarted and Start may be retried. Start returns ErrAlreadyStarted while a kernel task
// exists, and ErrDeleted after Delete.
func (t *Task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StateDeleted:
		return ErrDeleted
	case StateRunning, StateFaulted:
		return ErrAlreadyStarted
	}

	h, err := t.k.CreateTask(trampoline, t.name, t.stackSize, t, t.priority, t.affinity)
	if err == nil && h == kernel.NoHandle {
		err = errors.New("kernel returned no handle")
	}
	if err != nil {
		t.lastError = err.Error()
		t.log.Warn("task admission failed",
			"priority", t.priority,
			"stack_size", t.stackSize,
			"core", t.affinity,
			"err", err,
		)
		return fmt.Errorf("%w: %q: %w", ErrAdmission, t.name, err)
	}

	t.handle = h
	t.state = StateRunning
	t.startedAt = time.Now()
	t.log.Debug("task started", "handle", h, "priority", t.priority, "core", t.affinity)
	return nil
}

// Delete removes the kernel task if there is one. The task is abruptly stopped; no hook runs.
//
// Delete is idempotent and safe on a task that was never started. After Delete the task is
// in StateDeleted for good.
//
// Calling Delete from the task's own hooks is allowed; the hook keeps running until its next
// Sleep, which does not return.
func (t *Task) Delete() {
	t.mu.Lock()
	h := t.handle
	t.handle = kernel.NoHandle
	t.state = StateDeleted
	t.mu.Unlock()

	if h == kernel.NoHandle {
		return
	}
	t.k.DeleteTask(h)
	t.log.Debug("task deleted", "handle", h)
}

// Sleep suspends the task for at least d, rounded up to the kernel tick, and lets other tasks
// run. Sleep(0) only yields.
//
// Sleep must only be called from the task's own Startup and Loop: it delays on the task's
// execution context. Once the task is deleted, Sleep does not return; the calling goroutine
// is terminated by the kernel, whichever goroutine that is.
func (t *Task) Sleep(d time.Duration) {
	ctx := context.Background()
	if p := t.exec.Load(); p != nil {
		ctx = *p
	}
	t.k.Delay(ctx, t.k.DurationToTicks(d))
}

// Status returns a snapshot of the task.
func (t *Task) Status() Status {
	t.mu.Lock()
	st := Status{
		Name:      t.name,
		Priority:  t.priority,
		StackSize: t.stackSize,
		Affinity:  t.affinity,
		State:     t.state,
		Handle:    t.handle,
		StartedAt: t.startedAt,
		LastError: t.lastError,
	}
	t.mu.Unlock()

	st.StartupDone = t.startupDone.Load()
	st.Loops = t.loops.Load()
	if ns := t.lastLoop.Load(); ns != 0 {
		st.LastLoop = time.Unix(0, ns)
	}
	return st
}

func cloneTags(tags []safego.Tag) []safego.Tag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]safego.Tag, len(tags))
	copy(out, tags)
	return out
}
