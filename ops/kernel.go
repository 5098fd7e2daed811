package ops

import (
	"net/http"
	"strconv"
	"time"

	"github.com/evan-idocoding/zrtos/rt/kernel"
)

type kernelOpsConfig struct {
	format Format
}

// KernelOption configures KernelTasksHandler.
type KernelOption func(*kernelOpsConfig)

// WithKernelDefaultFormat sets the default response format. Default is FormatText.
func WithKernelDefaultFormat(f Format) KernelOption {
	return func(c *kernelOpsConfig) { c.format = f }
}

type kernelStats struct {
	BootID            string `json:"boot_id"`
	Cores             int    `json:"cores"`
	TickRate          uint32 `json:"tick_rate"`
	HeapSize          uint32 `json:"heap_size"`
	HeapFree          uint32 `json:"heap_free"`
	Tasks             int    `json:"tasks"`
	Created           uint64 `json:"created"`
	Deleted           uint64 `json:"deleted"`
	AdmissionFailures uint64 `json:"admission_failures"`
	WatchdogTrips     uint64 `json:"watchdog_trips"`
}

type kernelTask struct {
	Handle        uint32    `json:"handle"`
	Name          string    `json:"name"`
	Priority      string    `json:"priority"`
	StackSize     uint32    `json:"stack_size"`
	Core          string    `json:"core"`
	State         string    `json:"state"`
	Created       time.Time `json:"created"`
	LastYield     time.Time `json:"last_yield,omitempty"`
	Yields        uint64    `json:"yields"`
	WatchdogTrips uint64    `json:"watchdog_trips"`
}

type kernelResponse struct {
	OK     bool         `json:"ok"`
	Error  string       `json:"error,omitempty"`
	Kernel *kernelStats `json:"kernel,omitempty"`
	Tasks  []kernelTask `json:"tasks,omitempty"`
}

// KernelTasksHandler returns a handler that outputs kernel statistics and the kernel's view
// of every live task.
//
// GET/HEAD only; other methods return 405.
func KernelTasksHandler(k kernel.Inspector, opts ...KernelOption) http.Handler {
	if k == nil {
		panic("ops: nil kernel.Inspector")
	}
	cfg := kernelOpsConfig{format: FormatText}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	cfg.format = normalizeFormat(cfg.format)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := formatFromRequest(r, cfg.format)
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			writeReply(w, r, format, reply{
				code:   http.StatusMethodNotAllowed,
				errMsg: "method not allowed",
				body:   kernelResponse{Error: "method not allowed"},
			})
			return
		}

		resp := kernelResponse{OK: true, Kernel: toKernelStats(k.Stats())}
		for _, ti := range k.Tasks() {
			resp.Tasks = append(resp.Tasks, kernelTask{
				Handle:        uint32(ti.Handle),
				Name:          ti.Name,
				Priority:      ti.Priority.String(),
				StackSize:     ti.StackSize,
				Core:          ti.Affinity.String(),
				State:         ti.State.String(),
				Created:       ti.Created,
				LastYield:     ti.LastYield,
				Yields:        ti.Yields,
				WatchdogTrips: ti.WatchdogTrips,
			})
		}
		writeReply(w, r, format, reply{
			code:   http.StatusOK,
			ok:     true,
			body:   resp,
			render: func() string { return renderKernelText(resp) },
		})
	})
}

func toKernelStats(s kernel.Stats) *kernelStats {
	return &kernelStats{
		BootID:            s.BootID,
		Cores:             s.Cores,
		TickRate:          s.TickRate,
		HeapSize:          s.HeapSize,
		HeapFree:          s.HeapFree,
		Tasks:             s.Tasks,
		Created:           s.Created,
		Deleted:           s.Deleted,
		AdmissionFailures: s.AdmissionFailures,
		WatchdogTrips:     s.WatchdogTrips,
	}
}

func renderKernelText(resp kernelResponse) string {
	// kernel\t<field>\t<value>\n, then kernel_task\t<handle>\t<field>\t<value>\n
	var lw lineWriter
	if s := resp.Kernel; s != nil {
		lw.line("kernel", "boot_id", s.BootID)
		lw.line("kernel", "cores", strconv.Itoa(s.Cores))
		lw.line("kernel", "tick_rate", strconv.FormatUint(uint64(s.TickRate), 10))
		lw.line("kernel", "heap_size", strconv.FormatUint(uint64(s.HeapSize), 10))
		lw.line("kernel", "heap_free", strconv.FormatUint(uint64(s.HeapFree), 10))
		lw.line("kernel", "tasks", strconv.Itoa(s.Tasks))
		lw.line("kernel", "created", strconv.FormatUint(s.Created, 10))
		lw.line("kernel", "deleted", strconv.FormatUint(s.Deleted, 10))
		lw.line("kernel", "admission_failures", strconv.FormatUint(s.AdmissionFailures, 10))
		lw.line("kernel", "watchdog_trips", strconv.FormatUint(s.WatchdogTrips, 10))
	}
	for _, t := range resp.Tasks {
		h := strconv.FormatUint(uint64(t.Handle), 10)
		lw.line("kernel_task", h, "name", escapeTextField(t.Name))
		lw.line("kernel_task", h, "priority", t.Priority)
		lw.line("kernel_task", h, "stack_size", strconv.FormatUint(uint64(t.StackSize), 10))
		lw.line("kernel_task", h, "core", t.Core)
		lw.line("kernel_task", h, "state", t.State)
		lw.line("kernel_task", h, "yields", strconv.FormatUint(t.Yields, 10))
		if t.WatchdogTrips > 0 {
			lw.line("kernel_task", h, "watchdog_trips", strconv.FormatUint(t.WatchdogTrips, 10))
		}
	}
	return lw.String()
}
