// Package kerneltest provides a recording kernel.Kernel for unit tests.
package kerneltest

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/evan-idocoding/zrtos/rt/kernel"
)

// CreateCall records the arguments of a CreateTask call.
type CreateCall struct {
	Name      string
	StackSize uint32
	Arg       any
	Priority  kernel.Priority
	Affinity  kernel.CoreID

	Handle kernel.Handle // NoHandle when the call failed
	Err    error
}

type fakeTask struct {
	ctx    context.Context
	cancel context.CancelFunc

	delays    uint64
	lastDelay kernel.Ticks
}

type handleKey struct{}

// Fake is a kernel.Kernel that records calls and runs entries on goroutines.
//
// Delay does not sleep: it yields the goroutine, or waits on the gate channel when one is
// configured. A deleted task's goroutine exits at its next Delay, as with kernel.Sim.
type Fake struct {
	cores    int
	tickRate uint32
	gate     <-chan struct{}

	mu       sync.Mutex
	next     kernel.Handle
	failNext []error
	live     map[kernel.Handle]*fakeTask
	creates  []CreateCall
	deletes  []kernel.Handle
	counts   map[kernel.Handle]*fakeTask // survives deletion for assertions

	wg sync.WaitGroup
}

var _ kernel.Kernel = (*Fake)(nil)

// Option configures NewFake.
type Option func(*Fake)

// WithCores sets the core count used to validate affinity. Default is 2.
func WithCores(n int) Option { return func(f *Fake) { f.cores = n } }

// WithTickRate sets the rate used by DurationToTicks. Default is 1000 Hz.
func WithTickRate(hz uint32) Option { return func(f *Fake) { f.tickRate = hz } }

// WithDelayGate makes every Delay wait for a receive from ch (or task deletion).
func WithDelayGate(ch <-chan struct{}) Option { return func(f *Fake) { f.gate = ch } }

// NewFake creates a Fake.
func NewFake(opts ...Option) *Fake {
	f := &Fake{
		cores:    2,
		tickRate: 1000,
		live:     make(map[kernel.Handle]*fakeTask),
		counts:   make(map[kernel.Handle]*fakeTask),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// FailNext makes the next CreateTask calls fail with the given errors, in order.
func (f *Fake) FailNext(errs ...error) {
	f.mu.Lock()
	f.failNext = append(f.failNext, errs...)
	f.mu.Unlock()
}

// CreateTask implements kernel.Kernel.
func (f *Fake) CreateTask(entry kernel.EntryFunc, name string, stackSize uint32, arg any, priority kernel.Priority, affinity kernel.CoreID) (kernel.Handle, error) {
	call := CreateCall{Name: name, StackSize: stackSize, Arg: arg, Priority: priority, Affinity: affinity}

	f.mu.Lock()
	switch {
	case len(f.failNext) > 0:
		call.Err = f.failNext[0]
		f.failNext = f.failNext[1:]
	case entry == nil:
		call.Err = kernel.ErrNilEntry
	case affinity != kernel.NoAffinity && (affinity < 0 || int(affinity) >= f.cores):
		call.Err = kernel.ErrInvalidCore
	}
	if call.Err != nil {
		f.creates = append(f.creates, call)
		f.mu.Unlock()
		return kernel.NoHandle, call.Err
	}

	f.next++
	h := f.next
	ft := &fakeTask{}
	ft.ctx, ft.cancel = context.WithCancel(context.WithValue(context.Background(), handleKey{}, h))
	f.live[h] = ft
	f.counts[h] = ft
	call.Handle = h
	f.creates = append(f.creates, call)
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		defer f.DeleteTask(h)
		entry(ft.ctx, arg)
	}()
	return h, nil
}

// DeleteTask implements kernel.Kernel. Only deletions of live tasks are recorded.
func (f *Fake) DeleteTask(h kernel.Handle) {
	f.mu.Lock()
	ft, ok := f.live[h]
	if ok {
		delete(f.live, h)
		f.deletes = append(f.deletes, h)
	}
	f.mu.Unlock()
	if ok {
		ft.cancel()
	}
}

// Delay implements kernel.Kernel.
func (f *Fake) Delay(ctx context.Context, n kernel.Ticks) {
	if ctx == nil {
		ctx = context.Background()
	}
	h, _ := ctx.Value(handleKey{}).(kernel.Handle)

	f.mu.Lock()
	ft := f.counts[h]
	if ft != nil {
		ft.delays++
		ft.lastDelay = n
	}
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
		}
	} else {
		runtime.Gosched()
	}
	if ft != nil && ft.ctx.Err() != nil {
		runtime.Goexit()
	}
}

// DurationToTicks implements kernel.Kernel, rounding up.
func (f *Fake) DurationToTicks(d time.Duration) kernel.Ticks {
	if d <= 0 {
		return 0
	}
	period := time.Second / time.Duration(f.tickRate)
	return kernel.Ticks((d + period - 1) / period)
}

// Creates returns all CreateTask calls, including failed ones.
func (f *Fake) Creates() []CreateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CreateCall(nil), f.creates...)
}

// Deletes returns the handles passed to DeleteTask that referred to live tasks.
func (f *Fake) Deletes() []kernel.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kernel.Handle(nil), f.deletes...)
}

// Alive reports whether h refers to a live task.
func (f *Fake) Alive(h kernel.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.live[h]
	return ok
}

// Delays returns the number of Delay calls made by task h and the ticks of the last one.
func (f *Fake) Delays(h kernel.Handle) (count uint64, last kernel.Ticks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ft := f.counts[h]
	if ft == nil {
		return 0, 0
	}
	return ft.delays, ft.lastDelay
}

// Close deletes all live tasks and waits for their goroutines, or until ctx is done.
func (f *Fake) Close(ctx context.Context) error {
	f.mu.Lock()
	hs := make([]kernel.Handle, 0, len(f.live))
	for h := range f.live {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		f.DeleteTask(h)
	}

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
