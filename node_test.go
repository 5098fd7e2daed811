package zrtos

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evan-idocoding/zrtos/rt/kernel"
	"github.com/evan-idocoding/zrtos/rt/kernel/kerneltest"
	"github.com/evan-idocoding/zrtos/rt/task"
)

const waitFor = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSpec(tasks ...TaskSpec) NodeSpec {
	return NodeSpec{
		SimOptions:      []kernel.SimOption{kernel.WithCores(2), kernel.WithTickRate(1000)},
		Tasks:           tasks,
		Logger:          discardLogger(),
		Signals:         SignalSpec{Disable: true},
		ShutdownTimeout: waitFor,
	}
}

func loopingTask(name string, loops *atomic.Int64) TaskSpec {
	return TaskSpec{
		Name: name,
		Runner: task.Funcs{LoopFunc: func(t *task.Task) {
			loops.Add(1)
			t.Sleep(time.Millisecond)
		}},
	}
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func serve(h http.Handler, method, target string, hdr http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(method, "http://node"+target, nil)
	for k, vs := range hdr {
		r.Header[k] = vs
	}
	h.ServeHTTP(w, r)
	return w
}

func TestNodeLifecycle(t *testing.T) {
	var loops atomic.Int64
	spec := testSpec(loopingTask("blink", &loops))
	spec.Ops = &OpsSpec{Addr: "127.0.0.1:0"}
	n := NewNode(spec)

	require.Nil(t, n.OpsAddr())
	require.NoError(t, n.Start(context.Background()))
	require.ErrorIs(t, n.Start(context.Background()), ErrAlreadyStarted)

	addr := n.OpsAddr()
	require.NotNil(t, addr)
	base := "http://" + addr.String()

	require.Eventually(t, func() bool { return loops.Load() >= 3 }, waitFor, time.Millisecond)

	code, body := get(t, base+"/tasks")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "task\tblink\tstate\trunning\n")

	code, _ = get(t, base+"/readyz")
	require.Equal(t, http.StatusOK, code)

	code, body = get(t, base+"/kernel")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "kernel\tcores\t2\n")

	code, body = get(t, base+"/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `zrtos_task_state{state="running",task="blink"} 1`)
	require.Contains(t, body, "go_goroutines")

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, n.Shutdown(ctx))
	require.NoError(t, n.Wait())

	tk, ok := n.Tasks.Lookup("blink")
	require.True(t, ok)
	require.Equal(t, task.StateDeleted, tk.State())

	_, err := http.Get(base + "/healthz")
	require.Error(t, err)

	// The node created the kernel, so the kernel is stopped too.
	_, err = n.Kernel.CreateTask(func(context.Context, any) {}, "late", kernel.DefaultMinStackSize, nil, 1, kernel.NoAffinity)
	require.ErrorIs(t, err, kernel.ErrStopped)
}

func TestNodeWaitBeforeStart(t *testing.T) {
	n := NewNode(testSpec())
	require.ErrorIs(t, n.Wait(), ErrNotStarted)
	require.NoError(t, n.Shutdown(context.Background()))
}

func TestNodeRunContextCanceled(t *testing.T) {
	var loops atomic.Int64
	n := NewNode(testSpec(loopingTask("worker", &loops)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- n.Run(ctx) }()

	require.Eventually(t, func() bool { return loops.Load() > 0 }, waitFor, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
}

func TestNodeStrictStart(t *testing.T) {
	spec := testSpec(TaskSpec{Name: "pinned", Options: []task.Option{task.WithAffinity(5)}})
	spec.StrictStart = true
	n := NewNode(spec)

	err := n.Start(context.Background())
	require.ErrorIs(t, err, task.ErrAdmission)
	require.ErrorIs(t, err, kernel.ErrInvalidCore)

	werr := n.Wait()
	require.ErrorIs(t, werr, task.ErrAdmission)
}

func TestNodeLenientStart(t *testing.T) {
	var loops atomic.Int64
	spec := testSpec(
		loopingTask("ok", &loops),
		TaskSpec{Name: "pinned", Options: []task.Option{task.WithAffinity(5)}},
	)
	spec.Ops = &OpsSpec{Addr: "127.0.0.1:0"}
	n := NewNode(spec)
	t.Cleanup(func() { _ = n.Shutdown(context.Background()) })

	require.NoError(t, n.Start(context.Background()))

	code, body := get(t, "http://"+n.OpsAddr().String()+"/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Contains(t, body, "pinned=unstarted")

	ok, _ := n.Tasks.Lookup("ok")
	require.Equal(t, task.StateRunning, ok.State())
}

func TestNodeProvidedKernelIsNotShutDown(t *testing.T) {
	f := kerneltest.NewFake(kerneltest.WithDelayGate(make(chan struct{})))
	t.Cleanup(func() { _ = f.Close(context.Background()) })

	spec := testSpec(TaskSpec{Name: "idle"})
	spec.Kernel = f
	n := NewNode(spec)
	require.Same(t, f, n.Kernel.(*kerneltest.Fake))

	require.NoError(t, n.Start(context.Background()))
	require.Len(t, f.Creates(), 1)
	h := f.Creates()[0].Handle

	require.NoError(t, n.Shutdown(context.Background()))
	require.Equal(t, []kernel.Handle{h}, f.Deletes())
}

func TestNodeWriteEndpointsRequireToken(t *testing.T) {
	spec := testSpec(TaskSpec{Name: "idle"})
	spec.Ops = &OpsSpec{Addr: "127.0.0.1:0", WriteTokens: []string{"secret"}, EnableTaskDelete: true}
	n := NewNode(spec)
	t.Cleanup(func() { _ = n.Shutdown(context.Background()) })
	h := n.OpsHandler

	w := serve(h, http.MethodPost, "/log/level?level=debug", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, slog.LevelInfo, n.LogLevelVar.Level())

	w = serve(h, http.MethodPost, "/log/level?level=debug", http.Header{"X-Access-Token": {"secret"}})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, slog.LevelDebug, n.LogLevelVar.Level())

	w = serve(h, http.MethodGet, "/log/level", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "log\tlevel\tdebug\n")

	w = serve(h, http.MethodPost, "/tasks/delete?name=idle", http.Header{"X-Access-Token": {"secret"}})
	require.Equal(t, http.StatusOK, w.Code)
	tk, _ := n.Tasks.Lookup("idle")
	require.Equal(t, task.StateDeleted, tk.State())
}

func TestNodeWritesDeniedWithoutTokens(t *testing.T) {
	spec := testSpec()
	spec.Ops = &OpsSpec{Addr: "127.0.0.1:0"}
	n := NewNode(spec)
	t.Cleanup(func() { _ = n.Shutdown(context.Background()) })

	w := serve(n.OpsHandler, http.MethodPost, "/log/level?level=error", http.Header{"X-Access-Token": {"anything"}})
	require.Equal(t, http.StatusForbidden, w.Code)

	// Task delete is not mounted unless enabled.
	w = serve(n.OpsHandler, http.MethodGet, "/tasks/delete?name=x", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestNodeHooks(t *testing.T) {
	var order []string
	spec := testSpec()
	spec.Hooks = NodeHooks{
		OnStart: []func(context.Context) error{
			func(context.Context) error { order = append(order, "start"); return nil },
		},
		OnShutdown: []func(context.Context) error{
			func(context.Context) error { order = append(order, "stop1"); return errors.New("boom") },
			func(context.Context) error { panic("stop2") },
		},
	}
	n := NewNode(spec)
	require.NoError(t, n.Start(context.Background()))

	err := n.Shutdown(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "OnShutdown[0]: boom")
	require.Contains(t, err.Error(), "OnShutdown[1]: panic: stop2")
	require.Equal(t, []string{"start", "stop1"}, order)
}

func TestNodeOnStartFailure(t *testing.T) {
	var loops atomic.Int64
	spec := testSpec(loopingTask("never", &loops))
	spec.Hooks.OnStart = []func(context.Context) error{
		func(context.Context) error { return errors.New("no flash") },
	}
	n := NewNode(spec)

	err := n.Start(context.Background())
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "zrtos: OnStart[0]: no flash"))
	require.Error(t, n.Wait())
	require.Zero(t, loops.Load())
}

func TestNewNodePanicsOnBadSpec(t *testing.T) {
	require.Panics(t, func() {
		NewNode(testSpec(TaskSpec{Name: "dup"}, TaskSpec{Name: "dup"}))
	})
	require.Panics(t, func() {
		NewNode(testSpec(TaskSpec{Name: "bad name"}))
	})
	require.Panics(t, func() {
		spec := testSpec()
		spec.Ops = &OpsSpec{Addr: " "}
		NewNode(spec)
	})
}
