// Package kernel defines the multitasking kernel service consumed by rt/task, and provides
// Sim, a goroutine-backed kernel that implements it.
//
// The surface is deliberately small:
//
//   - CreateTask: create a schedulable execution context and admit it to the ready state.
//   - DeleteTask: remove a task; its handle becomes invalid immediately.
//   - Delay: suspend the calling task for a number of ticks.
//   - DurationToTicks: convert wall time to scheduler ticks (rounded up).
//
// # Execution contexts
//
// An EntryFunc receives a context.Context that belongs to the task. It identifies the task to
// Delay and is canceled when the task is deleted. Tasks are expected to pass it back to Delay;
// Sim terminates a deleted task's goroutine at its next Delay.
//
// # Priorities and affinity
//
// Priority follows the FreeRTOS convention: higher values run first, and PrivilegeBit may be
// OR-ed in to request a privileged task. CoreID is either a core index or NoAffinity.
//
// # Sim
//
// Sim runs every task on its own goroutine. It enforces the admission rules of a small
// embedded kernel (heap budget, core count, name length, minimum stack) and supervises tasks
// with an optional task watchdog:
//
//	k := kernel.NewSim(kernel.WithCores(2), kernel.WithWatchdog(5*time.Second))
//	defer k.Shutdown(context.Background())
//
// Priorities are recorded and clamped but scheduling itself is left to the Go runtime.
package kernel
