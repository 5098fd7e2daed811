package ops

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/evan-idocoding/zrtos/rt/task"
)

type taskOpsConfig struct {
	format Format
	guard  func(name string) bool
}

// TaskOption configures task ops handlers.
type TaskOption func(*taskOpsConfig)

// WithTaskDefaultFormat sets the default response format for task handlers.
//
// This default can be overridden per request by URL query (?format=json|text).
// Default is FormatText.
func WithTaskDefaultFormat(f Format) TaskOption {
	return func(c *taskOpsConfig) { c.format = f }
}

// WithTaskNameGuard appends a name guard.
//
// All guards are combined with AND. This applies to both read and write handlers:
// snapshots omit tasks whose name is not allowed.
func WithTaskNameGuard(fn func(name string) bool) TaskOption {
	return func(c *taskOpsConfig) {
		if fn == nil {
			return
		}
		prev := c.guard
		if prev == nil {
			c.guard = fn
			return
		}
		c.guard = func(name string) bool { return prev(name) && fn(name) }
	}
}

// WithTaskAllowPrefixes restricts task names to the provided prefixes.
//
// If no non-empty prefix is provided, this option denies all names.
func WithTaskAllowPrefixes(prefixes ...string) TaskOption {
	var ps []string
	for _, p := range prefixes {
		if p != "" {
			ps = append(ps, p)
		}
	}
	return WithTaskNameGuard(func(name string) bool {
		for _, p := range ps {
			if strings.HasPrefix(name, p) {
				return true
			}
		}
		return false
	})
}

// WithTaskAllowNames restricts task names to the provided explicit set.
//
// If no non-empty name is provided, this option denies all names.
func WithTaskAllowNames(names ...string) TaskOption {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n != "" {
			set[n] = struct{}{}
		}
	}
	return WithTaskNameGuard(func(name string) bool {
		_, ok := set[name]
		return ok
	})
}

func applyTaskOptions(opts []TaskOption) taskOpsConfig {
	cfg := taskOpsConfig{format: FormatText}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	cfg.format = normalizeFormat(cfg.format)
	return cfg
}

type taskStatusSnapshot struct {
	Name      string `json:"name"`
	Priority  uint32 `json:"priority"`
	Privilege bool   `json:"privileged,omitempty"`
	StackSize uint32 `json:"stack_size"`
	Core      string `json:"core"`

	State       string `json:"state"`
	Handle      uint32 `json:"handle,omitempty"`
	StartupDone bool   `json:"startup_done"`
	Loops       uint64 `json:"loops"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	LastLoop  *time.Time `json:"last_loop,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

type tasksSnapshotResponse struct {
	OK    bool                 `json:"ok"`
	Error string               `json:"error,omitempty"`
	Tasks []taskStatusSnapshot `json:"tasks,omitempty"`
}

// TasksSnapshotHandler returns a handler that outputs the status of every task in g.
//
// GET/HEAD only; other methods return 405.
func TasksSnapshotHandler(g *task.Group, opts ...TaskOption) http.Handler {
	if g == nil {
		panic("ops: nil task.Group")
	}
	cfg := applyTaskOptions(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := formatFromRequest(r, cfg.format)
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			writeReply(w, r, format, reply{
				code:   http.StatusMethodNotAllowed,
				errMsg: "method not allowed",
				body:   tasksSnapshotResponse{Error: "method not allowed"},
			})
			return
		}

		items := toTaskStatusSnapshots(g.Snapshot(), cfg.guard)
		writeReply(w, r, format, reply{
			code:   http.StatusOK,
			ok:     true,
			body:   tasksSnapshotResponse{OK: true, Tasks: items},
			render: func() string { return renderTasksSnapshotText(items) },
		})
	})
}

func toTaskStatusSnapshots(s task.Snapshot, guard func(name string) bool) []taskStatusSnapshot {
	if len(s.Tasks) == 0 {
		return nil
	}
	out := make([]taskStatusSnapshot, 0, len(s.Tasks))
	for _, st := range s.Tasks {
		if guard != nil && !guard(st.Name) {
			continue
		}
		out = append(out, taskStatusSnapshot{
			Name:        st.Name,
			Priority:    st.Priority.Level(),
			Privilege:   st.Priority.Privileged(),
			StackSize:   st.StackSize,
			Core:        st.Affinity.String(),
			State:       st.State.String(),
			Handle:      uint32(st.Handle),
			StartupDone: st.StartupDone,
			Loops:       st.Loops,
			StartedAt:   nonZeroTime(st.StartedAt),
			LastLoop:    nonZeroTime(st.LastLoop),
			LastError:   st.LastError,
		})
	}
	return out
}

func nonZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func renderTasksSnapshotText(tasks []taskStatusSnapshot) string {
	// Format: task\t<name>\t<field>\t<value>\n
	var lw lineWriter
	for _, st := range tasks {
		n := escapeTextField(st.Name)
		lw.line("task", n, "state", st.State)
		lw.line("task", n, "priority", strconv.FormatUint(uint64(st.Priority), 10))
		if st.Privilege {
			lw.line("task", n, "privileged", "true")
		}
		lw.line("task", n, "stack_size", strconv.FormatUint(uint64(st.StackSize), 10))
		lw.line("task", n, "core", st.Core)
		if st.Handle != 0 {
			lw.line("task", n, "handle", strconv.FormatUint(uint64(st.Handle), 10))
		}
		lw.line("task", n, "startup_done", strconv.FormatBool(st.StartupDone))
		lw.line("task", n, "loops", strconv.FormatUint(st.Loops, 10))
		if st.StartedAt != nil {
			lw.line("task", n, "started_at", st.StartedAt.Format(time.RFC3339Nano))
		}
		if st.LastLoop != nil {
			lw.line("task", n, "last_loop", st.LastLoop.Format(time.RFC3339Nano))
		}
		if st.LastError != "" {
			lw.line("task", n, "last_error", escapeTextField(st.LastError))
		}
	}
	return lw.String()
}

type taskDeleteResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	Name  string `json:"name,omitempty"`
	State string `json:"state,omitempty"`
}

// TaskDeleteHandler returns a handler that deletes a task of g.
//
// Input:
//   - POST only
//   - URL query: ?name=<task name>
//
// Output:
//   - 200 once the task is deleted (also when it already was)
//   - 400 missing name, 403 name not allowed, 404 task not found
func TaskDeleteHandler(g *task.Group, opts ...TaskOption) http.Handler {
	if g == nil {
		panic("ops: nil task.Group")
	}
	cfg := applyTaskOptions(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := formatFromRequest(r, cfg.format)
		fail := func(code int, name, msg string) {
			writeReply(w, r, format, reply{
				code:   code,
				errMsg: msg,
				body:   taskDeleteResponse{Error: msg, Name: name},
			})
		}

		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			fail(http.StatusMethodNotAllowed, "", "method not allowed")
			return
		}
		raw, _ := getQueryRequired(r, "name")
		name := strings.TrimSpace(raw)
		if name == "" {
			fail(http.StatusBadRequest, "", "missing name")
			return
		}
		if cfg.guard != nil && !cfg.guard(name) {
			fail(http.StatusForbidden, name, "name not allowed")
			return
		}
		t, found := g.Lookup(name)
		if !found {
			fail(http.StatusNotFound, name, "task not found")
			return
		}

		t.Delete()
		state := t.State().String()
		writeReply(w, r, format, reply{
			code: http.StatusOK,
			ok:   true,
			body: taskDeleteResponse{OK: true, Name: name, State: state},
			render: func() string {
				var lw lineWriter
				lw.line("task_delete", escapeTextField(name), "state", state)
				return lw.String()
			},
		})
	})
}
