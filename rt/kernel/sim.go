package kernel

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Sim is a goroutine-backed Kernel.
//
// Each task runs on its own goroutine. Deleting a task cancels its context; the goroutine
// exits at its next Delay. A task that never calls Delay cannot be stopped, exactly as a
// non-yielding task on a real core.
//
// Sim is safe for concurrent use. Create it with NewSim.
type Sim struct {
	cfg    simConfig
	bootID string
	log    *slog.Logger

	mu       sync.Mutex
	tasks    map[Handle]*tcb
	next     Handle
	heapUsed uint32
	stopped  bool

	created  uint64
	deleted  uint64
	failures uint64
	trips    atomic.Uint64

	wg sync.WaitGroup // task goroutines

	wdLimiter *rate.Limiter
	wdStop    chan struct{}
	wdDone    chan struct{}
}

var _ Kernel = (*Sim)(nil)
var _ Inspector = (*Sim)(nil)

// tcb is a task control block.
type tcb struct {
	handle    Handle
	name      string
	priority  Priority
	stackSize uint32
	affinity  CoreID
	created   time.Time

	ctx    context.Context
	cancel context.CancelFunc

	blocked   atomic.Bool
	lastYield atomic.Int64 // unix nanos; zero until the first Delay (watchdog unarmed)
	yields    atomic.Uint64
	wdTrips   atomic.Uint64
	tripped   atomic.Bool // already reported for the current stall
}

type tcbKey struct{}

func tcbFrom(ctx context.Context) *tcb {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(tcbKey{}).(*tcb)
	return t
}

// NewSim creates a running Sim. Call Shutdown to stop its tasks and the watchdog.
func NewSim(opts ...SimOption) *Sim {
	cfg := defaultSimConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	log := cfg.logger
	if log == nil {
		log = slog.Default()
	}
	s := &Sim{
		cfg:    cfg,
		bootID: uuid.NewString(),
		tasks:  make(map[Handle]*tcb),
	}
	s.log = log.With("kernel", "sim", "boot_id", s.bootID)

	if cfg.watchdog > 0 {
		s.wdLimiter = rate.NewLimiter(rate.Every(time.Second), 5)
		s.wdStop = make(chan struct{})
		s.wdDone = make(chan struct{})
		go s.runWatchdog()
	}
	s.log.Debug("kernel started",
		"cores", cfg.cores,
		"tick_rate", cfg.tickRate,
		"heap_size", cfg.heapSize,
		"watchdog", cfg.watchdog,
	)
	return s
}

// BootID returns the random identifier assigned to this Sim.
func (s *Sim) BootID() string { return s.bootID }

// Cores returns the configured core count.
func (s *Sim) Cores() int { return s.cfg.cores }

// CreateTask implements Kernel.
func (s *Sim) CreateTask(entry EntryFunc, name string, stackSize uint32, arg any, priority Priority, affinity CoreID) (Handle, error) {
	s.mu.Lock()
	if err := s.admitLocked(entry, name, stackSize, affinity); err != nil {
		s.failures++
		s.mu.Unlock()
		s.log.Debug("task rejected", "task", name, "err", err)
		return NoHandle, err
	}

	if lvl := priority.Level(); lvl >= s.cfg.maxPriorities {
		clamped := Priority(s.cfg.maxPriorities-1) | (priority & PrivilegeBit)
		s.log.Debug("priority clamped", "task", name, "priority", priority, "clamped", clamped)
		priority = clamped
	}

	s.next++
	if s.next == NoHandle {
		s.next++
	}
	t := &tcb{
		handle:    s.next,
		name:      name,
		priority:  priority,
		stackSize: stackSize,
		affinity:  affinity,
		created:   time.Now(),
	}
	t.ctx, t.cancel = context.WithCancel(context.WithValue(context.Background(), tcbKey{}, t))
	s.tasks[t.handle] = t
	s.heapUsed += stackSize + tcbOverhead
	s.created++
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(t, entry, arg)

	s.log.Debug("task created",
		"task", name,
		"handle", t.handle,
		"priority", priority,
		"stack_size", stackSize,
		"core", affinity,
	)
	return t.handle, nil
}

func (s *Sim) admitLocked(entry EntryFunc, name string, stackSize uint32, affinity CoreID) error {
	switch {
	case entry == nil:
		return ErrNilEntry
	case s.stopped:
		return ErrStopped
	case len(name) >= s.cfg.maxNameLen:
		return fmt.Errorf("%w: %d bytes, limit %d", ErrNameTooLong, len(name), s.cfg.maxNameLen-1)
	case affinity != NoAffinity && (affinity < 0 || int(affinity) >= s.cfg.cores):
		return fmt.Errorf("%w: %d (cores=%d)", ErrInvalidCore, affinity, s.cfg.cores)
	case stackSize < s.cfg.minStackSize:
		return fmt.Errorf("%w: %d bytes, minimum %d", ErrStackTooSmall, stackSize, s.cfg.minStackSize)
	}
	need := uint64(stackSize) + uint64(tcbOverhead)
	if need > uint64(s.cfg.heapSize-s.heapUsed) {
		return fmt.Errorf("%w: need %d bytes, free %d", ErrNoMemory, need, s.cfg.heapSize-s.heapUsed)
	}
	return nil
}

func (s *Sim) run(t *tcb, entry EntryFunc, arg any) {
	returned := false
	defer s.wg.Done()
	defer func() {
		// Tasks must not return. A deleted task leaves through runtime.Goexit instead.
		if returned && t.ctx.Err() == nil {
			s.log.Error("task returned from its entry function", "task", t.name, "handle", t.handle)
		}
		s.remove(t)
	}()
	entry(t.ctx, arg)
	returned = true
}

// DeleteTask implements Kernel.
func (s *Sim) DeleteTask(h Handle) {
	if h == NoHandle {
		return
	}
	if t := s.remove(s.lookupTCB(h)); t != nil {
		s.log.Debug("task deleted", "task", t.name, "handle", h)
	}
}

func (s *Sim) lookupTCB(h Handle) *tcb {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[h]
}

// remove detaches t from the task table and cancels it. It returns nil if t was already gone.
func (s *Sim) remove(t *tcb) *tcb {
	if t == nil {
		return nil
	}
	s.mu.Lock()
	if s.tasks[t.handle] != t {
		s.mu.Unlock()
		t.cancel()
		return nil
	}
	delete(s.tasks, t.handle)
	s.heapUsed -= t.stackSize + tcbOverhead
	s.deleted++
	s.mu.Unlock()
	t.cancel()
	return t
}

// Delay implements Kernel.
//
// When ctx belongs to a task, Delay feeds the watchdog, marks the task blocked while it
// waits, and terminates the calling goroutine (runtime.Goexit) if the task was deleted.
// Called with any other context, Delay is a plain sleep that returns early when ctx is done.
func (s *Sim) Delay(ctx context.Context, n Ticks) {
	if ctx == nil {
		ctx = context.Background()
	}
	t := tcbFrom(ctx)
	if t != nil {
		t.blocked.Store(true)
	}

	if n == 0 {
		runtime.Gosched()
	} else {
		timer := time.NewTimer(durationFor(n, s.cfg.tickRate))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	if t == nil {
		return
	}
	t.yields.Add(1)
	t.lastYield.Store(time.Now().UnixNano())
	t.tripped.Store(false)
	t.blocked.Store(false)
	if t.ctx.Err() != nil {
		runtime.Goexit()
	}
}

// DurationToTicks implements Kernel.
func (s *Sim) DurationToTicks(d time.Duration) Ticks {
	return ticksFor(d, s.cfg.tickRate)
}

// Tasks implements Inspector. Tasks are ordered by handle.
func (s *Sim) Tasks() []TaskInfo {
	s.mu.Lock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.info())
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b TaskInfo) int { return cmp.Compare(a.Handle, b.Handle) })
	return out
}

// Lookup implements Inspector.
func (s *Sim) Lookup(h Handle) (TaskInfo, bool) {
	t := s.lookupTCB(h)
	if t == nil {
		return TaskInfo{}, false
	}
	return t.info(), true
}

// Stats implements Inspector.
func (s *Sim) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		BootID:            s.bootID,
		Cores:             s.cfg.cores,
		TickRate:          s.cfg.tickRate,
		HeapSize:          s.cfg.heapSize,
		HeapFree:          s.cfg.heapSize - s.heapUsed,
		Tasks:             len(s.tasks),
		Created:           s.created,
		Deleted:           s.deleted,
		AdmissionFailures: s.failures,
		WatchdogTrips:     s.trips.Load(),
	}
}

func (t *tcb) info() TaskInfo {
	st := TaskReady
	if t.blocked.Load() {
		st = TaskBlocked
	}
	var last time.Time
	if ns := t.lastYield.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return TaskInfo{
		Handle:        t.handle,
		Name:          t.name,
		Priority:      t.priority,
		StackSize:     t.stackSize,
		Affinity:      t.affinity,
		State:         st,
		Created:       t.created,
		LastYield:     last,
		Yields:        t.yields.Load(),
		WatchdogTrips: t.wdTrips.Load(),
	}
}

// Shutdown deletes all tasks, refuses new ones, and waits until every task goroutine has
// exited or ctx is done. Tasks that never Delay keep Shutdown waiting until ctx expires.
//
// Shutdown is safe to call multiple times.
func (s *Sim) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	first := !s.stopped
	s.stopped = true
	tasks := make([]*tcb, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		s.remove(t)
	}
	if first && s.wdStop != nil {
		close(s.wdStop)
		<-s.wdDone
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		if first {
			s.log.Debug("kernel stopped")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
