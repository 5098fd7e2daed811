package ops

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/evan-idocoding/zrtos/rt/kernel"
	"github.com/evan-idocoding/zrtos/rt/task"
)

type healthConfig struct {
	format Format
}

// HealthOption configures HealthzHandler / ReadyzHandler.
type HealthOption func(*healthConfig)

// WithHealthDefaultFormat sets the default response format for health handlers.
//
// This default can be overridden per request by URL query (?format=json|text).
// Default is FormatText.
func WithHealthDefaultFormat(f Format) HealthOption {
	return func(c *healthConfig) { c.format = f }
}

func applyHealthOptions(opts []HealthOption) healthConfig {
	cfg := healthConfig{format: FormatText}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	cfg.format = normalizeFormat(cfg.format)
	return cfg
}

type healthResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// HealthzHandler returns a liveness handler. It always responds 200 OK for GET/HEAD.
func HealthzHandler(opts ...HealthOption) http.Handler {
	cfg := applyHealthOptions(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := formatFromRequest(r, cfg.format)
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			writeReply(w, r, format, reply{
				code:   http.StatusMethodNotAllowed,
				errMsg: "method not allowed",
				body:   healthResponse{Error: "method not allowed"},
			})
			return
		}
		writeReply(w, r, format, reply{
			code:   http.StatusOK,
			ok:     true,
			body:   healthResponse{OK: true},
			render: func() string { return "ok\n" },
		})
	})
}

// ReadyCheckFunc is a readiness check function. It returns nil when healthy.
type ReadyCheckFunc func(context.Context) error

// ReadyCheck is a named readiness check.
type ReadyCheck struct {
	Name    string
	Func    ReadyCheckFunc
	Timeout time.Duration // <= 0 means no extra timeout
}

// ReadyCheckResult is a single check execution result.
type ReadyCheckResult struct {
	Name     string        `json:"name"`
	OK       bool          `json:"ok"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	TimedOut bool          `json:"timed_out,omitempty"`
}

// ReadyzReport is a point-in-time readiness execution report.
type ReadyzReport struct {
	OK       bool               `json:"ok"`
	Duration time.Duration      `json:"duration"`
	Checks   []ReadyCheckResult `json:"checks,omitempty"`
}

// ReadyzHandler returns a readiness handler that runs checks sequentially.
//
// It responds 200 if all checks pass and 503 otherwise. GET/HEAD only.
func ReadyzHandler(checks []ReadyCheck, opts ...HealthOption) http.Handler {
	for i, c := range checks {
		if c.Name == "" {
			panic(fmt.Sprintf("ops: ready check[%d] has empty Name", i))
		}
		if c.Func == nil {
			panic(fmt.Sprintf("ops: ready check[%d] %q has nil Func", i, c.Name))
		}
	}
	cfg := applyHealthOptions(opts)
	snapshot := append([]ReadyCheck(nil), checks...)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := formatFromRequest(r, cfg.format)
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			rep := ReadyzReport{Checks: []ReadyCheckResult{{Name: "method", Error: "method not allowed"}}}
			writeReply(w, r, format, reply{
				code:   http.StatusMethodNotAllowed,
				errMsg: "method not allowed",
				body:   rep,
			})
			return
		}

		rep := RunReadyzChecks(r.Context(), snapshot)
		code := http.StatusOK
		if !rep.OK {
			code = http.StatusServiceUnavailable
		}
		// Failed reports still render their check lines in text mode.
		writeReply(w, r, format, reply{
			code:   code,
			ok:     true,
			body:   rep,
			render: func() string { return renderReadyText(rep) },
		})
	})
}

func renderReadyText(rep ReadyzReport) string {
	if rep.OK {
		return "ok\n"
	}
	var b strings.Builder
	for _, c := range rep.Checks {
		if c.OK {
			continue
		}
		b.WriteString("fail ")
		b.WriteString(escapeTextField(c.Name))
		if c.Error != "" {
			b.WriteString(": ")
			b.WriteString(escapeTextField(c.Error))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// RunReadyzChecks executes checks sequentially and returns a report.
func RunReadyzChecks(ctx context.Context, checks []ReadyCheck) ReadyzReport {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	out := ReadyzReport{OK: true, Checks: make([]ReadyCheckResult, 0, len(checks))}
	for _, c := range checks {
		cr := runOneCheck(ctx, c)
		out.Checks = append(out.Checks, cr)
		if !cr.OK {
			out.OK = false
		}
	}
	out.Duration = time.Since(start)
	return out
}

func runOneCheck(parent context.Context, c ReadyCheck) (cr ReadyCheckResult) {
	cr.Name = c.Name

	start := time.Now()
	ctx := parent
	cancel := func() {}
	if c.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, c.Timeout)
	}
	defer cancel()

	defer func() {
		cr.Duration = time.Since(start)
		if p := recover(); p != nil {
			cr.OK = false
			cr.Error = fmt.Sprintf("panic: %v", p)
		}
		if ctx.Err() == context.DeadlineExceeded {
			cr.TimedOut = true
			cr.OK = false
			if cr.Error == "" {
				cr.Error = "timeout"
			}
		}
	}()

	if err := c.Func(ctx); err != nil {
		cr.Error = err.Error()
		return cr
	}
	cr.OK = true
	return cr
}

// TasksReadyCheck fails while any task of g is unstarted or faulted.
// Deleted tasks are ignored.
func TasksReadyCheck(g *task.Group) ReadyCheck {
	if g == nil {
		panic("ops: nil task.Group")
	}
	return ReadyCheck{
		Name: "tasks",
		Func: func(context.Context) error {
			var bad []string
			for _, st := range g.Snapshot().Tasks {
				if st.State == task.StateUnstarted || st.State == task.StateFaulted {
					bad = append(bad, st.Name+"="+st.State.String())
				}
			}
			if len(bad) > 0 {
				return fmt.Errorf("not running: %s", strings.Join(bad, ", "))
			}
			return nil
		},
	}
}

// KernelReadyCheck fails when the kernel heap has less than minFree bytes left.
func KernelReadyCheck(k kernel.Inspector, minFree uint32) ReadyCheck {
	if k == nil {
		panic("ops: nil kernel.Inspector")
	}
	return ReadyCheck{
		Name: "kernel",
		Func: func(context.Context) error {
			st := k.Stats()
			if st.HeapFree < minFree {
				return fmt.Errorf("heap free %d bytes, want at least %d", st.HeapFree, minFree)
			}
			return nil
		},
	}
}
