package kernel

import "errors"

var (
	// ErrNoMemory is returned by CreateTask when the heap cannot hold the task stack and control block.
	ErrNoMemory = errors.New("kernel: out of memory")
	// ErrInvalidCore is returned by CreateTask when the core index is outside [0, cores).
	ErrInvalidCore = errors.New("kernel: invalid core id")
	// ErrNameTooLong is returned by CreateTask when the task name exceeds the kernel limit.
	ErrNameTooLong = errors.New("kernel: task name too long")
	// ErrStackTooSmall is returned by CreateTask when the stack is below the kernel minimum.
	ErrStackTooSmall = errors.New("kernel: stack too small")
	// ErrNilEntry is returned by CreateTask when the entry function is nil.
	ErrNilEntry = errors.New("kernel: nil entry function")
	// ErrStopped is returned by CreateTask after Shutdown.
	ErrStopped = errors.New("kernel: stopped")
)
