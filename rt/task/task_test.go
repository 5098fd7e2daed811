package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evan-idocoding/zrtos/rt/kernel"
	"github.com/evan-idocoding/zrtos/rt/kernel/kerneltest"
	"github.com/evan-idocoding/zrtos/rt/safego"
)

const waitFor = 2 * time.Second

func newFake(t *testing.T, opts ...kerneltest.Option) *kerneltest.Fake {
	t.Helper()
	f := kerneltest.NewFake(opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		require.NoError(t, f.Close(ctx))
	})
	return f
}

func newSim(t *testing.T, opts ...kernel.SimOption) *kernel.Sim {
	t.Helper()
	k := kernel.NewSim(append([]kernel.SimOption{kernel.WithTickRate(1000), kernel.WithCores(2)}, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		require.NoError(t, k.Shutdown(ctx))
	})
	return k
}

func TestNew_DefaultsAndNoKernelCall(t *testing.T) {
	t.Parallel()

	f := newFake(t)
	tk := New(f, "blink", nil)

	require.Equal(t, "blink", tk.Name())
	require.Equal(t, DefaultPriority, tk.Priority())
	require.Equal(t, DefaultStackSize, tk.StackSize())
	require.Equal(t, kernel.NoAffinity, tk.Affinity())
	require.Equal(t, StateUnstarted, tk.State())
	_, ok := tk.Handle()
	require.False(t, ok)
	require.Empty(t, f.Creates())
}

func TestNew_StoresOptionsVerbatim(t *testing.T) {
	t.Parallel()

	f := newFake(t)
	// Out-of-range values are accepted at construction.
	tk := New(f, "a-name-far-too-long-for-any-kernel", nil,
		WithPriority(99|kernel.PrivilegeBit),
		WithStackSize(1),
		WithAffinity(42),
	)
	require.Equal(t, "a-name-far-too-long-for-any-kernel", tk.Name())
	require.Equal(t, 99|kernel.PrivilegeBit, tk.Priority())
	require.EqualValues(t, 1, tk.StackSize())
	require.EqualValues(t, 42, tk.Affinity())
	require.Empty(t, f.Creates())
}

func TestNew_NilKernel_Panics(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() { New(nil, "x", nil) })
}

func TestStart_Success_PassesConfigAndSelf(t *testing.T) {
	t.Parallel()

	f := newFake(t)
	tk := New(f, "sensor", nil, WithPriority(7), WithStackSize(2048), WithAffinity(1))
	require.NoError(t, tk.Start())
	t.Cleanup(tk.Delete)

	h, ok := tk.Handle()
	require.True(t, ok)
	require.NotEqual(t, kernel.NoHandle, h)
	require.Equal(t, StateRunning, tk.State())

	calls := f.Creates()
	require.Len(t, calls, 1)
	require.Equal(t, "sensor", calls[0].Name)
	require.EqualValues(t, 2048, calls[0].StackSize)
	require.EqualValues(t, 7, calls[0].Priority)
	require.EqualValues(t, 1, calls[0].Affinity)
	require.Same(t, tk, calls[0].Arg)
	require.Equal(t, h, calls[0].Handle)
}

func TestStart_InvalidCore_FailsAndKeepsHandleAbsent(t *testing.T) {
	t.Parallel()

	f := newFake(t, kerneltest.WithCores(2))
	tk := New(f, "pinned", nil, WithAffinity(2))

	err := tk.Start()
	require.ErrorIs(t, err, ErrAdmission)
	require.ErrorIs(t, err, kernel.ErrInvalidCore)

	_, ok := tk.Handle()
	require.False(t, ok)
	require.Equal(t, StateUnstarted, tk.State())
	require.NotEmpty(t, tk.Status().LastError)
}

func TestStart_RetryAfterFailure(t *testing.T) {
	t.Parallel()

	f := newFake(t)
	f.FailNext(kernel.ErrNoMemory)
	tk := New(f, "retry", nil)

	err := tk.Start()
	require.ErrorIs(t, err, kernel.ErrNoMemory)
	require.Equal(t, StateUnstarted, tk.State())

	require.NoError(t, tk.Start())
	t.Cleanup(tk.Delete)
	require.Equal(t, StateRunning, tk.State())
	require.Len(t, f.Creates(), 2)
}

func TestStart_Twice_ReturnsErrAlreadyStarted(t *testing.T) {
	t.Parallel()

	f := newFake(t)
	tk := New(f, "once", nil)
	require.NoError(t, tk.Start())
	t.Cleanup(tk.Delete)

	require.ErrorIs(t, tk.Start(), ErrAlreadyStarted)
	require.Len(t, f.Creates(), 1)
}

func TestStart_AfterDelete_ReturnsErrDeleted(t *testing.T) {
	t.Parallel()

	f := newFake(t)
	tk := New(f, "gone", nil)
	require.NoError(t, tk.Start())
	tk.Delete()

	require.ErrorIs(t, tk.Start(), ErrDeleted)
	require.Len(t, f.Creates(), 1)

	unstarted := New(f, "never", nil)
	unstarted.Delete()
	require.ErrorIs(t, unstarted.Start(), ErrDeleted)
}

type recordingRunner struct {
	mu       sync.Mutex
	events   []string
	active   atomic.Int32
	overlaps atomic.Int32
	loops    atomic.Int64
}

func (r *recordingRunner) record(ev string) {
	r.mu.Lock()
	if len(r.events) < 64 {
		r.events = append(r.events, ev)
	}
	r.mu.Unlock()
}

func (r *recordingRunner) Startup(*Task) { r.record("startup") }

func (r *recordingRunner) Loop(t *Task) {
	if r.active.Add(1) > 1 {
		r.overlaps.Add(1)
	}
	defer r.active.Add(-1)
	r.record("loop")
	r.loops.Add(1)
	t.Sleep(time.Millisecond)
}

func (r *recordingRunner) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestRun_StartupOnceBeforeSequentialLoops(t *testing.T) {
	t.Parallel()

	k := newSim(t)
	r := &recordingRunner{}
	tk := New(k, "ordered", r)
	require.NoError(t, tk.Start())
	t.Cleanup(tk.Delete)

	require.Eventually(t, func() bool { return r.loops.Load() >= 10 }, waitFor, time.Millisecond)
	tk.Delete()

	events := r.snapshot()
	require.Equal(t, "startup", events[0])
	for i, ev := range events[1:] {
		require.Equalf(t, "loop", ev, "event %d", i+1)
	}
	require.Zero(t, r.overlaps.Load())

	st := tk.Status()
	require.True(t, st.StartupDone)
	require.GreaterOrEqual(t, st.Loops, uint64(9))
	require.False(t, st.LastLoop.IsZero())
}

func TestDefaultLoop_SleepsEveryIteration(t *testing.T) {
	t.Parallel()

	f := newFake(t)
	tk := New(f, "idle", Funcs{})
	require.NoError(t, tk.Start())
	t.Cleanup(tk.Delete)
	h, _ := tk.Handle()

	require.Eventually(t, func() bool { return tk.Status().Loops >= 5 }, waitFor, time.Millisecond)

	loops := tk.Status().Loops
	delays, last := f.Delays(h)
	require.GreaterOrEqual(t, delays, loops)
	require.Equal(t, f.DurationToTicks(DefaultLoopInterval), last)
}

func TestSleep_RoundsUpToTicks(t *testing.T) {
	t.Parallel()

	f := newFake(t, kerneltest.WithTickRate(100))
	var slept atomic.Bool
	tk := New(f, "ticks", Funcs{LoopFunc: func(t *Task) {
		t.Sleep(15 * time.Millisecond)
		slept.Store(true)
	}})
	require.NoError(t, tk.Start())
	t.Cleanup(tk.Delete)
	h, _ := tk.Handle()

	require.Eventually(t, slept.Load, waitFor, time.Millisecond)
	_, last := f.Delays(h)
	require.EqualValues(t, 2, last)
}

func TestDelete_Unstarted_NoKernelCall(t *testing.T) {
	t.Parallel()

	f := newFake(t)
	tk := New(f, "idle", nil)
	tk.Delete()
	tk.Delete()

	require.Empty(t, f.Deletes())
	require.Equal(t, StateDeleted, tk.State())
}

func TestDelete_Started_KernelForgetsTask(t *testing.T) {
	t.Parallel()

	f := newFake(t)
	tk := New(f, "victim", nil)
	require.NoError(t, tk.Start())
	h, _ := tk.Handle()
	require.True(t, f.Alive(h))

	tk.Delete()
	tk.Delete()

	require.False(t, f.Alive(h))
	require.Equal(t, []kernel.Handle{h}, f.Deletes())
	_, ok := tk.Handle()
	require.False(t, ok)
	require.Equal(t, StateDeleted, tk.State())
}

func TestDelete_OnSim_StopsLoopsAndFreesTask(t *testing.T) {
	t.Parallel()

	k := newSim(t)
	r := &recordingRunner{}
	tk := New(k, "victim", r)
	require.NoError(t, tk.Start())
	h, _ := tk.Handle()

	require.Eventually(t, func() bool { return r.loops.Load() >= 3 }, waitFor, time.Millisecond)
	tk.Delete()

	_, found := k.Lookup(h)
	require.False(t, found)

	// The goroutine exits at its next Sleep; afterwards no more iterations happen.
	require.Eventually(t, func() bool { return r.active.Load() == 0 }, waitFor, time.Millisecond)
	n := r.loops.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, n, r.loops.Load())
}

func TestDelete_FromOwnLoop(t *testing.T) {
	t.Parallel()

	f := newFake(t)
	var after atomic.Bool
	tk := New(f, "self", Funcs{LoopFunc: func(t *Task) {
		t.Delete()
		t.Sleep(time.Millisecond)
		after.Store(true)
	}})
	require.NoError(t, tk.Start())
	h := f.Creates()[0].Handle

	require.Eventually(t, func() bool { return !f.Alive(h) }, waitFor, time.Millisecond)
	require.Equal(t, StateDeleted, tk.State())
	require.False(t, after.Load())
	require.Zero(t, tk.Status().Loops)
}

func TestSleep_AfterDelete_EndsCallingGoroutine(t *testing.T) {
	t.Parallel()

	f := newFake(t)
	tk := New(f, "sleepy", nil)
	require.NoError(t, tk.Start())
	h, _ := tk.Handle()
	require.Eventually(t, func() bool {
		n, _ := f.Delays(h)
		return n > 0
	}, waitFor, time.Millisecond)
	tk.Delete()

	// Sleep delays on the task's execution context, so any caller is ended once the task is gone.
	var returned atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		tk.Sleep(0)
		returned.Store(true)
	}()

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Sleep neither returned nor ended the goroutine")
	}
	require.False(t, returned.Load())
}

func TestPanicInLoop_FaultsTask(t *testing.T) {
	t.Parallel()

	f := newFake(t)
	var reports atomic.Int64
	var got safego.PanicInfo
	var mu sync.Mutex
	tk := New(f, "crashy", Funcs{LoopFunc: func(*Task) { panic("sensor gone") }},
		WithTags(safego.Tag{Key: "bus", Value: "i2c0"}),
		WithPanicHandler(func(_ context.Context, info safego.PanicInfo) {
			mu.Lock()
			got = info
			mu.Unlock()
			reports.Add(1)
		}),
	)
	require.NoError(t, tk.Start())
	t.Cleanup(tk.Delete)

	require.Eventually(t, func() bool { return tk.State() == StateFaulted }, waitFor, time.Millisecond)
	require.EqualValues(t, 1, reports.Load())
	mu.Lock()
	require.Equal(t, "crashy", got.Name)
	require.Equal(t, "sensor gone", got.Value)
	require.Equal(t, []safego.Tag{{Key: "bus", Value: "i2c0"}}, got.Tags)
	mu.Unlock()

	st := tk.Status()
	require.True(t, st.StartupDone)
	require.Zero(t, st.Loops)
	require.Equal(t, "loop panicked", st.LastError)
	require.ErrorIs(t, tk.Start(), ErrAlreadyStarted)

	tk.Delete()
	require.Equal(t, StateDeleted, tk.State())
}

func TestPanicInStartup_NoLoops(t *testing.T) {
	t.Parallel()

	f := newFake(t)
	var loops atomic.Int64
	tk := New(f, "bad-init", Funcs{
		StartupFunc: func(*Task) { panic(errors.New("no config")) },
		LoopFunc:    func(*Task) { loops.Add(1) },
	}, WithPanicPolicy(safego.RecoverOnly))
	require.NoError(t, tk.Start())
	t.Cleanup(tk.Delete)

	require.Eventually(t, func() bool { return tk.State() == StateFaulted }, waitFor, time.Millisecond)
	require.False(t, tk.Status().StartupDone)
	require.Zero(t, loops.Load())
}

type countingRunner struct {
	startups atomic.Int64
	loops    atomic.Int64
}

func (r *countingRunner) Startup(*Task) { r.startups.Add(1) }

func (r *countingRunner) Loop(t *Task) {
	r.loops.Add(1)
	t.Sleep(time.Millisecond)
}

func TestTwoTasks_RunIndependently(t *testing.T) {
	t.Parallel()

	k := newSim(t)
	ra, rb := &countingRunner{}, &countingRunner{}
	a := New(k, "alpha", ra, WithPriority(2), WithStackSize(2048), WithAffinity(0))
	b := New(k, "beta", rb, WithPriority(9), WithStackSize(3072), WithAffinity(1))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, tk := range []*Task{a, b} {
		i, tk := i, tk
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = tk.Start()
		}()
	}
	wg.Wait()
	require.NoError(t, errors.Join(errs...))
	t.Cleanup(a.Delete)
	t.Cleanup(b.Delete)

	require.Eventually(t, func() bool {
		return ra.loops.Load() >= 5 && rb.loops.Load() >= 5
	}, waitFor, time.Millisecond)
	require.EqualValues(t, 1, ra.startups.Load())
	require.EqualValues(t, 1, rb.startups.Load())

	ha, _ := a.Handle()
	hb, _ := b.Handle()
	ia, ok := k.Lookup(ha)
	require.True(t, ok)
	ib, ok := k.Lookup(hb)
	require.True(t, ok)

	require.Equal(t, "alpha", ia.Name)
	require.EqualValues(t, 2, ia.Priority)
	require.EqualValues(t, 2048, ia.StackSize)
	require.EqualValues(t, 0, ia.Affinity)
	require.Equal(t, "beta", ib.Name)
	require.EqualValues(t, 9, ib.Priority)
	require.EqualValues(t, 3072, ib.StackSize)
	require.EqualValues(t, 1, ib.Affinity)
}

func TestSim_CoreOutOfRange(t *testing.T) {
	t.Parallel()

	k := newSim(t, kernel.WithCores(2))
	tk := New(k, "far", nil, WithAffinity(2))
	err := tk.Start()
	require.ErrorIs(t, err, ErrAdmission)
	require.ErrorIs(t, err, kernel.ErrInvalidCore)
	require.Empty(t, k.Tasks())
	require.EqualValues(t, 1, k.Stats().AdmissionFailures)
}

func TestSim_DefaultRunner_NeverTripsWatchdog(t *testing.T) {
	t.Parallel()

	var trips atomic.Int64
	k := newSim(t,
		kernel.WithWatchdog(20*time.Millisecond),
		kernel.WithWatchdogHandler(func(kernel.WatchdogEvent) { trips.Add(1) }),
	)
	tk := New(k, "idle", nil)
	require.NoError(t, tk.Start())
	t.Cleanup(tk.Delete)

	h, _ := tk.Handle()
	require.Eventually(t, func() bool {
		info, ok := k.Lookup(h)
		return ok && info.State == kernel.TaskBlocked
	}, waitFor, time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	require.Zero(t, trips.Load())
	require.Zero(t, k.Stats().WatchdogTrips)
}
