// Package zrtos assembles a runnable node: a kernel, a group of tasks, and an optional ops
// HTTP server for inspecting and operating them.
//
// The main entry point is NewNode. A node owns its kernel unless one is provided, starts every
// task on Start, and deletes them again on Shutdown.
//
// Lower-level building blocks live in subpackages:
//   - rt/kernel: the Kernel contract, tick conversion, and Sim, a goroutine-backed kernel
//     with admission control, a heap budget and a watchdog.
//   - rt/task: Task (startup once, then loop forever), Runner, and Group.
//   - rt/safego: panic containment for task hooks.
//   - ops: HTTP handlers for health, readiness, task and kernel snapshots, log level, and
//     a Prometheus collector.
//   - httpx: middleware for the ops server (panic recovery, token guard).
//
// # Quick start
//
//	n := zrtos.NewNode(zrtos.NodeSpec{
//		SimOptions: []kernel.SimOption{kernel.WithCores(2)},
//		Tasks: []zrtos.TaskSpec{{
//			Name: "blink",
//			Runner: task.Funcs{
//				LoopFunc: func(t *task.Task) {
//					toggleLED()
//					t.Sleep(500 * time.Millisecond)
//				},
//			},
//			Options: []task.Option{task.WithPriority(5), task.WithAffinity(0)},
//		}},
//		Ops: &zrtos.OpsSpec{Addr: "127.0.0.1:8081"},
//	})
//	if err := n.Run(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
// # Ops endpoints
//
// Read (GET/HEAD): /healthz, /readyz, /tasks, /kernel (when the kernel is a
// kernel.Inspector), /log/level, /metrics.
//
// Write (POST): /log/level?level=, and /tasks/delete?name= when OpsSpec.EnableTaskDelete is
// set. Writes require one of OpsSpec.WriteTokens in the X-Access-Token header; with no tokens
// configured, every write is denied.
//
// Text output is the default. Add ?format=json for JSON.
//
// # Lifecycle
//
// Start runs OnStart hooks, starts the ops server, then starts the tasks. By default a task
// that the kernel refuses is logged and reported by /readyz; with StrictStart it fails Start.
//
// Shutdown stops the ops server, deletes every task, shuts down a node-created kernel, then
// runs OnShutdown hooks. Errors are joined.
package zrtos
