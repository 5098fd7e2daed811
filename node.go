package zrtos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evan-idocoding/zrtos/httpx"
	"github.com/evan-idocoding/zrtos/ops"
	"github.com/evan-idocoding/zrtos/rt/kernel"
	"github.com/evan-idocoding/zrtos/rt/task"
)

var (
	// ErrAlreadyStarted indicates Start/Run was called more than once.
	ErrAlreadyStarted = errors.New("zrtos: node already started")
	// ErrNotStarted indicates Wait was called before Start.
	ErrNotStarted = errors.New("zrtos: node not started")
)

// Node runs a set of tasks on a kernel, with an optional ops HTTP server.
type Node struct {
	// Assembly outputs.
	Kernel      kernel.Kernel
	Tasks       *task.Group
	LogLevelVar *slog.LevelVar
	Registry    *prometheus.Registry
	OpsHandler  http.Handler // nil when Ops is not configured
	OpsServer   *http.Server // nil when Ops is not configured

	// --- internals ---

	log             *slog.Logger
	hooks           NodeHooks
	signals         SignalSpec
	shutdownTimeout time.Duration
	strictStart     bool
	ownKernel       bool

	mu         sync.Mutex
	started    bool
	stopping   bool
	listener   net.Listener
	primaryErr error

	shutdownOnce sync.Once
	doneCh       chan struct{}
	shutdownErr  error
	waitErr      error
}

// NewNode assembles a Node.
//
// Assembly errors (duplicate or invalid task names, bad ops spec) are fail-fast and panic.
// Runtime errors are returned from Start/Wait/Run/Shutdown.
func NewNode(spec NodeSpec) *Node {
	log := spec.Logger
	if log == nil {
		log = slog.Default()
	}
	lv := spec.LevelVar
	if lv == nil {
		lv = new(slog.LevelVar)
	}

	n := &Node{
		LogLevelVar:     lv,
		log:             log,
		hooks:           spec.Hooks,
		signals:         spec.Signals,
		shutdownTimeout: resolveDuration(spec.ShutdownTimeout, 30*time.Second),
		strictStart:     spec.StrictStart,
		doneCh:          make(chan struct{}),
	}

	// ---- kernel ----

	n.Kernel = spec.Kernel
	if n.Kernel == nil {
		opts := append([]kernel.SimOption{kernel.WithLogger(log)}, spec.SimOptions...)
		n.Kernel = kernel.NewSim(opts...)
		n.ownKernel = true
	}

	// ---- tasks ----

	n.Tasks = task.NewGroup()
	for i, ts := range spec.Tasks {
		opts := append([]task.Option{task.WithLogger(log)}, ts.Options...)
		if err := n.Tasks.Add(task.New(n.Kernel, ts.Name, ts.Runner, opts...)); err != nil {
			panic(fmt.Sprintf("zrtos: NodeSpec.Tasks[%d]: %v", i, err))
		}
	}

	// ---- metrics ----

	insp, _ := n.Kernel.(kernel.Inspector)
	n.Registry = prometheus.NewRegistry()
	n.Registry.MustRegister(
		ops.NewCollector(insp, n.Tasks),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewBuildInfoCollector(),
	)

	// ---- ops server ----

	if spec.Ops != nil {
		addr := strings.TrimSpace(spec.Ops.Addr)
		if addr == "" {
			panic("zrtos: NodeSpec.Ops: empty Addr")
		}
		n.OpsHandler = n.assembleOps(*spec.Ops, insp)
		n.OpsServer = &http.Server{
			Addr:              addr,
			Handler:           n.OpsHandler,
			ReadHeaderTimeout: defaultReadHeaderTimeout,
			IdleTimeout:       defaultIdleTimeout,
		}
	}
	return n
}

func (n *Node) assembleOps(spec OpsSpec, insp kernel.Inspector) http.Handler {
	mux := http.NewServeMux()

	checks := []ops.ReadyCheck{ops.TasksReadyCheck(n.Tasks)}
	if insp != nil {
		checks = append(checks, ops.KernelReadyCheck(insp, spec.MinHeapFree))
		mux.Handle("/kernel", ops.KernelTasksHandler(insp))
	}
	mux.Handle("/healthz", ops.HealthzHandler())
	mux.Handle("/readyz", ops.ReadyzHandler(checks))
	mux.Handle("/tasks", ops.TasksSnapshotHandler(n.Tasks))
	if spec.EnableTaskDelete {
		mux.Handle("/tasks/delete", ops.TaskDeleteHandler(n.Tasks))
	}
	mux.Handle("/log/level", ops.LogLevelHandler(n.LogLevelVar))
	mux.Handle("/metrics", promhttp.HandlerFor(n.Registry, promhttp.HandlerOpts{}))

	// Every write endpoint is a POST; without tokens they are all denied.
	return httpx.Wrap(mux,
		httpx.Recover(n.log),
		httpx.TokenGuard(spec.WriteTokens,
			httpx.WithGuardedMethods(http.MethodPost),
			httpx.WithGuardLogger(n.log),
		),
	)
}

// Run is equivalent to Start, then waiting for ctx, a signal or a fatal error, then Shutdown.
//
// It is NOT idempotent. If called after Start, it returns ErrAlreadyStarted.
func (n *Node) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := n.Start(ctx); err != nil {
		return err
	}

	sigCh, stopSignals := n.runSignalWatcher()
	defer stopSignals()

	select {
	case <-n.doneCh:
		return n.Wait()
	case <-ctx.Done():
		n.recordPrimary(ctx.Err())
		_ = n.Shutdown(context.Background())
		return n.Wait()
	case sig := <-sigCh:
		n.log.Info("signal received, shutting down", "signal", sig.String())
		_ = n.Shutdown(context.Background())
		return n.Wait()
	}
}

// Start runs the OnStart hooks, starts the ops server and starts all tasks.
//
// With StrictStart, any task admission failure fails Start and shuts the node down.
// Otherwise failures are logged and visible through /readyz and /tasks.
func (n *Node) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return ErrAlreadyStarted
	}
	n.started = true
	n.mu.Unlock()

	// 1) OnStart hooks.
	for i, h := range n.hooks.OnStart {
		if h == nil {
			continue
		}
		if err := safeCallHook(ctx, h); err != nil {
			err = fmt.Errorf("zrtos: OnStart[%d]: %w", i, err)
			n.recordPrimary(err)
			n.initiateShutdown()
			return err
		}
	}

	// 2) ops server, so a node with failing tasks can still be inspected.
	if n.OpsServer != nil {
		if err := n.startOpsServer(); err != nil {
			n.recordPrimary(err)
			n.initiateShutdown()
			return err
		}
	}

	// 3) tasks
	if err := n.Tasks.Start(); err != nil {
		if n.strictStart {
			n.recordPrimary(err)
			n.initiateShutdown()
			return err
		}
		n.log.Warn("some tasks failed to start", "err", err)
	}

	attrs := []any{"tasks", len(n.Tasks.Tasks())}
	if addr := n.OpsAddr(); addr != nil {
		attrs = append(attrs, "ops_addr", addr.String())
	}
	n.log.Info("node started", attrs...)
	return nil
}

// Wait waits until the node fully stops.
//
// It is idempotent. If Start was never called, it returns ErrNotStarted.
func (n *Node) Wait() error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return ErrNotStarted
	}
	n.mu.Unlock()

	<-n.doneCh

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.waitErr
}

// Shutdown triggers shutdown and waits for it, or until ctx is done. It is idempotent.
//
// If Start was never called, Shutdown still releases the kernel the node created.
func (n *Node) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	n.initiateShutdown()

	select {
	case <-n.doneCh:
		n.mu.Lock()
		defer n.mu.Unlock()
		return n.shutdownErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OpsAddr returns the bound address of the ops server, or nil before it listens.
func (n *Node) OpsAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return nil
	}
	return n.listener.Addr()
}

func (n *Node) startOpsServer() error {
	addr := n.OpsServer.Addr
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("zrtos: ops server listen %q: %w", addr, err)
	}
	n.mu.Lock()
	n.listener = ln
	n.mu.Unlock()

	go func() {
		err := n.OpsServer.Serve(ln)
		n.onServeExit(err)
	}()
	return nil
}

func (n *Node) onServeExit(err error) {
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}
	n.mu.Lock()
	stopping := n.stopping
	n.mu.Unlock()
	if stopping {
		return
	}
	err = fmt.Errorf("zrtos: ops server: %w", err)
	n.recordPrimary(err)
	if n.hooks.OnServeError != nil {
		n.hooks.OnServeError(err)
	}
	n.initiateShutdown()
}

func (n *Node) recordPrimary(err error) {
	if err == nil {
		return
	}
	n.mu.Lock()
	if n.primaryErr == nil {
		n.primaryErr = err
	}
	n.mu.Unlock()
}

func (n *Node) initiateShutdown() {
	n.shutdownOnce.Do(func() {
		go n.doShutdown()
	})
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

func (n *Node) doShutdown() {
	n.mu.Lock()
	n.stopping = true
	ln := n.listener
	n.mu.Unlock()

	ctx := context.Background()
	cancel := func() {}
	if n.shutdownTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), n.shutdownTimeout)
	}
	defer cancel()

	var errs []error

	// 1) ops server; only if it actually bound.
	if ln != nil {
		if err := n.OpsServer.Shutdown(ctx); err != nil {
			_ = n.OpsServer.Close()
			errs = append(errs, fmt.Errorf("ops server shutdown: %w", err))
		}
		_ = ln.Close()
	}

	// 2) tasks
	n.Tasks.Delete()

	// 3) kernel, when the node created it
	if sd, ok := n.Kernel.(shutdowner); ok && n.ownKernel {
		if err := sd.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kernel shutdown: %w", err))
		}
	}

	// 4) OnShutdown hooks (sequential; best-effort run all)
	for i, h := range n.hooks.OnShutdown {
		if h == nil {
			continue
		}
		if err := safeCallHook(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("OnShutdown[%d]: %w", i, err))
		}
	}

	shutdownErr := errors.Join(errs...)

	n.mu.Lock()
	n.shutdownErr = shutdownErr
	n.waitErr = errors.Join(n.primaryErr, shutdownErr)
	n.mu.Unlock()

	if shutdownErr != nil {
		n.log.Error("node stopped with errors", "err", shutdownErr)
	} else {
		n.log.Info("node stopped")
	}
	close(n.doneCh)
}

func (n *Node) runSignalWatcher() (<-chan os.Signal, func()) {
	if n.signals.Disable {
		return nil, func() {}
	}
	sigs := n.signals.Signals
	if len(sigs) == 0 {
		sigs = defaultSignals()
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	return ch, func() { signal.Stop(ch) }
}

// --- spec types ---

// NodeSpec describes a Node.
type NodeSpec struct {
	// Kernel runs the tasks. If nil, the node creates a kernel.Sim from SimOptions and shuts
	// it down on Shutdown. A provided kernel is left running.
	Kernel     kernel.Kernel
	SimOptions []kernel.SimOption

	// Tasks are created on Kernel in order and started by Start.
	Tasks []TaskSpec

	// StrictStart makes any task admission failure fail Start.
	StrictStart bool

	// Ops enables the ops HTTP server. nil disables it.
	Ops *OpsSpec

	// Logger is used by the node, its tasks and a node-created kernel. Default is slog.Default().
	Logger *slog.Logger

	// LevelVar is exposed on /log/level. It only has an effect if Logger's handler uses it.
	// If nil, a fresh LevelVar is created.
	LevelVar *slog.LevelVar

	// Signals controls whether Run listens for OS signals.
	//
	// If Disable is false and Signals is empty, Run uses SIGINT + SIGTERM on Unix and
	// os.Interrupt elsewhere.
	Signals SignalSpec

	// ShutdownTimeout bounds the whole shutdown. <= 0 means 30s.
	ShutdownTimeout time.Duration

	Hooks NodeHooks
}

// TaskSpec describes one task of a Node.
type TaskSpec struct {
	Name    string
	Runner  task.Runner // nil means task.Default
	Options []task.Option
}

// OpsSpec describes the ops HTTP server.
//
// Read endpoints: /healthz, /readyz, /tasks, /kernel, /log/level, /metrics.
// Write endpoints (POST): /log/level, /tasks/delete.
type OpsSpec struct {
	Addr string

	// WriteTokens are accepted in the X-Access-Token header of POST requests.
	// With no token, every write is denied.
	WriteTokens []string

	// EnableTaskDelete mounts /tasks/delete.
	EnableTaskDelete bool

	// MinHeapFree makes /readyz fail when the kernel has less free heap.
	MinHeapFree uint32
}

// SignalSpec controls signal handling in Run.
type SignalSpec struct {
	Disable bool
	Signals []os.Signal
}

// NodeHooks integrate external resources into the node lifecycle.
type NodeHooks struct {
	// OnStart runs before the ops server and the tasks start. Any error fails Start.
	OnStart []func(context.Context) error

	// OnShutdown runs last during shutdown. Errors are aggregated.
	OnShutdown []func(context.Context) error

	// OnServeError is called when the ops server exits unexpectedly. The node then shuts down.
	OnServeError func(err error)
}

// --- helpers ---

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultIdleTimeout       = 60 * time.Second
)

func resolveDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func safeCallHook(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}
