// Package task provides the base abstraction for recurring units of work running under a
// preemptive, priority-based kernel (see rt/kernel).
//
// # Lifecycle
//
// A Task is built from a kernel, a name and a Runner. New only records the configuration;
// Start asks the kernel to create exactly one execution context:
//
//	k := kernel.NewSim()
//	t := task.New(k, "blink", &blinker{},
//		task.WithPriority(3),
//		task.WithStackSize(2048),
//		task.WithAffinity(1),
//	)
//	if err := t.Start(); err != nil {
//		// errors.Is(err, task.ErrAdmission); errors.Is(err, kernel.ErrInvalidCore) ...
//	}
//	defer t.Delete()
//
// Once scheduled, the kernel calls a shared entry point which runs Runner.Startup once and
// then Runner.Loop forever. There is no pause between iterations: Loop must call Task.Sleep
// to give the core away, or it starves lower priority tasks and trips the watchdog.
//
// States:
//
//	unstarted --Start ok--> running --Delete--> deleted
//	unstarted --Start failed--> unstarted
//	running --hook panicked--> faulted --Delete--> deleted
//
// Start while running returns ErrAlreadyStarted. Deleted is terminal: Start returns ErrDeleted.
//
// # Runners
//
// Embed Default to inherit the default hooks (Startup does nothing, Loop sleeps for
// DefaultLoopInterval) and override only what you need. Funcs adapts plain functions.
//
// # Ordering
//
// Startup completes before the first Loop, and Loop iterations never overlap. Nothing orders
// the caller's code after Start against Startup: hand data to the task before calling Start.
//
// # Deletion
//
// Delete asks the kernel to remove the task. It is abrupt: no hook runs. Delete on a task
// that was never started makes no kernel call.
//
// # Panics
//
// Startup and Loop run under rt/safego. By default a panic is logged, the task becomes
// StateFaulted and its kernel task returns. Use WithPanicPolicy(safego.RepanicAfterReport)
// to crash instead.
//
// # Groups
//
// Group keeps named tasks together so a process can start, inspect and delete them as one:
//
//	g := task.NewGroup()
//	g.MustAdd(task.New(k, "blink", &blinker{}))
//	g.MustAdd(task.New(k, "sensor", sensor))
//	if err := g.Start(); err != nil { ... }
//	defer g.Delete()
package task
