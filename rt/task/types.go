package task

import (
	"fmt"
	"time"

	"github.com/evan-idocoding/zrtos/rt/kernel"
)

const (
	// DefaultLoopInterval is how long Default.Loop sleeps per iteration.
	DefaultLoopInterval = time.Second
	// DefaultSleepInterval is a short sleep suitable for yielding inside a busy Loop.
	DefaultSleepInterval = 10 * time.Millisecond
)

// Runner supplies the behavior of a task.
//
// Startup runs once on the task's own execution context before the first Loop.
// Loop then runs repeatedly, never concurrently with itself. Loop must call Task.Sleep
// at least once per iteration unless the task is meant to monopolize its core.
type Runner interface {
	Startup(t *Task)
	Loop(t *Task)
}

// Default provides the default hooks. Embed it and override only what you need:
//
//	type blinker struct {
//		task.Default
//		on bool
//	}
//
//	func (b *blinker) Loop(t *task.Task) {
//		b.on = !b.on
//		t.Sleep(500 * time.Millisecond)
//	}
type Default struct{}

// Startup does nothing.
func (Default) Startup(*Task) {}

// Loop sleeps for DefaultLoopInterval.
func (Default) Loop(t *Task) { t.Sleep(DefaultLoopInterval) }

// Funcs adapts two functions to a Runner. A nil field falls back to Default.
type Funcs struct {
	StartupFunc func(t *Task)
	LoopFunc    func(t *Task)
}

// Startup implements Runner.
func (f Funcs) Startup(t *Task) {
	if f.StartupFunc == nil {
		Default{}.Startup(t)
		return
	}
	f.StartupFunc(t)
}

// Loop implements Runner.
func (f Funcs) Loop(t *Task) {
	if f.LoopFunc == nil {
		Default{}.Loop(t)
		return
	}
	f.LoopFunc(t)
}

// State is the lifecycle state of a Task.
type State int

const (
	// StateUnstarted: constructed, or Start failed. No kernel task exists.
	StateUnstarted State = iota
	// StateRunning: the kernel task exists and runs Startup, then Loop.
	StateRunning
	// StateFaulted: Startup or Loop panicked and the panic was recovered; the kernel task
	// has returned. Delete still releases the handle.
	StateFaulted
	// StateDeleted: terminal.
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateRunning:
		return "running"
	case StateFaulted:
		return "faulted"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is a point-in-time view of a Task.
type Status struct {
	Name      string
	Priority  kernel.Priority
	StackSize uint32
	Affinity  kernel.CoreID

	State  State
	Handle kernel.Handle

	// StartupDone is true once Startup has returned.
	StartupDone bool
	// Loops counts completed Loop iterations.
	Loops uint64

	StartedAt time.Time
	LastLoop  time.Time

	// LastError is the most recent admission failure or fault. It is not cleared by a later
	// successful Start.
	LastError string
}

// Snapshot is a point-in-time view of all tasks in a Group.
type Snapshot struct {
	Tasks []Status
}

// Get finds a task status by name.
func (s Snapshot) Get(name string) (Status, bool) {
	for _, st := range s.Tasks {
		if st.Name == name {
			return st, true
		}
	}
	return Status{}, false
}
