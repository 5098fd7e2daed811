package kernel

import (
	"context"
	"fmt"
	"time"
)

// Priority is a task scheduling priority. Higher values take precedence.
type Priority uint32

// PrivilegeBit marks a task as privileged when OR-ed into a Priority.
const PrivilegeBit Priority = 0x80000000

// Level returns the priority with PrivilegeBit cleared.
func (p Priority) Level() uint32 { return uint32(p &^ PrivilegeBit) }

// Privileged reports whether PrivilegeBit is set.
func (p Priority) Privileged() bool { return p&PrivilegeBit != 0 }

func (p Priority) String() string {
	if p.Privileged() {
		return fmt.Sprintf("%d|privileged", p.Level())
	}
	return fmt.Sprintf("%d", p.Level())
}

// CoreID selects the processing core a task is pinned to.
type CoreID int32

// NoAffinity lets the scheduler run the task on any core.
const NoAffinity CoreID = 0x7FFFFFFF

func (c CoreID) String() string {
	if c == NoAffinity {
		return "any"
	}
	return fmt.Sprintf("%d", int32(c))
}

// Handle identifies a live kernel task. NoHandle means absent.
type Handle uint32

// NoHandle is the zero Handle.
const NoHandle Handle = 0

// Ticks is a duration in scheduler ticks.
type Ticks uint32

// EntryFunc is the function a kernel task runs. ctx belongs to the task: it must be passed
// to Delay and is canceled when the task is deleted. arg is the value given to CreateTask.
type EntryFunc func(ctx context.Context, arg any)

// Kernel is the task service consumed by rt/task.
//
// Implementations must be safe for concurrent use.
type Kernel interface {
	// CreateTask creates a task and admits it to the ready state.
	// On failure it returns NoHandle and a non-nil error.
	CreateTask(entry EntryFunc, name string, stackSize uint32, arg any, priority Priority, affinity CoreID) (Handle, error)

	// DeleteTask removes the task. Unknown or already deleted handles are ignored.
	DeleteTask(h Handle)

	// Delay suspends the task owning ctx for at least n ticks. Delay(ctx, 0) yields.
	Delay(ctx context.Context, n Ticks)

	// DurationToTicks converts d to ticks, rounding up.
	DurationToTicks(d time.Duration) Ticks
}

// TaskState is the scheduling state reported by an Inspector.
type TaskState int

const (
	TaskReady TaskState = iota
	TaskBlocked
)

func (s TaskState) String() string {
	switch s {
	case TaskReady:
		return "ready"
	case TaskBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// TaskInfo describes a live task.
type TaskInfo struct {
	Handle    Handle
	Name      string
	Priority  Priority
	StackSize uint32
	Affinity  CoreID
	State     TaskState

	Created   time.Time
	LastYield time.Time

	Yields        uint64
	WatchdogTrips uint64
}

// Stats is a point-in-time summary of a kernel.
type Stats struct {
	BootID   string
	Cores    int
	TickRate uint32

	HeapSize uint32
	HeapFree uint32

	Tasks             int
	Created           uint64
	Deleted           uint64
	AdmissionFailures uint64
	WatchdogTrips     uint64
}

// Inspector is implemented by kernels that can list their tasks.
type Inspector interface {
	Tasks() []TaskInfo
	Lookup(h Handle) (TaskInfo, bool)
	Stats() Stats
}
