// Package ops provides net/http handlers and Prometheus metrics for operating a task runtime.
//
// ops is designed to be mounted into your own routing tree. It does not choose routing
// paths, does not do authn/authz decisions, and does not start servers.
//
// # Formats
//
// Handlers render text by default. The default can be configured by options, and can be
// overridden per request by URL query:
//   - ?format=text
//   - ?format=json
//
// Text output is line-based and tab-separated, so it stays greppable. JSON output is
// structured and suitable for tooling.
//
// # What ops provides
//
//   - health: HealthzHandler, ReadyzHandler, TasksReadyCheck, KernelReadyCheck
//   - tasks: TasksSnapshotHandler, TaskDeleteHandler (rt/task integration)
//   - kernel: KernelTasksHandler (any kernel.Inspector)
//   - logging: LogLevelHandler (slog.LevelVar)
//   - metrics: Collector, a prometheus.Collector over a kernel and a task group
//
// # Security notes
//
// TaskDeleteHandler stops tasks for good. Mount it behind your own authentication and
// consider restricting it with WithTaskAllowNames or WithTaskAllowPrefixes.
package ops
