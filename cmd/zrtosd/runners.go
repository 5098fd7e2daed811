package main

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/evan-idocoding/zrtos/internal/config"
	"github.com/evan-idocoding/zrtos/rt/task"
)

// Runner kinds accepted in the tasks section of the config.
const (
	kindIdle      = "idle"
	kindHeartbeat = "heartbeat"
	kindCounter   = "counter"
	kindSysmon    = "sysmon"
)

func newRunner(tc config.TaskConfig, log *slog.Logger) (task.Runner, error) {
	log = log.With("task", tc.Name, "kind", tc.Kind)
	interval := tc.Interval.Std()
	switch tc.Kind {
	case kindIdle:
		return task.Default{}, nil
	case kindHeartbeat:
		return &heartbeat{log: log, interval: orDefault(interval, time.Second)}, nil
	case kindCounter:
		return &counter{log: log, interval: orDefault(interval, 100*time.Millisecond)}, nil
	case kindSysmon:
		return &sysmon{log: log, interval: orDefault(interval, 10*time.Second)}, nil
	default:
		return nil, fmt.Errorf("unknown task kind %q (want one of: %s, %s, %s, %s)",
			tc.Kind, kindIdle, kindHeartbeat, kindCounter, kindSysmon)
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// heartbeat logs once per interval.
type heartbeat struct {
	task.Default
	log      *slog.Logger
	interval time.Duration
	beats    uint64
}

func (h *heartbeat) Loop(t *task.Task) {
	h.beats++
	h.log.Info("heartbeat", "beat", h.beats)
	t.Sleep(h.interval)
}

// counter increments a counter every interval and reports it at debug level.
type counter struct {
	log      *slog.Logger
	interval time.Duration
	n        atomic.Uint64
}

func (c *counter) Startup(*task.Task) {
	c.n.Store(0)
	c.log.Debug("counter reset")
}

func (c *counter) Loop(t *task.Task) {
	if v := c.n.Add(1); v%100 == 0 {
		c.log.Debug("counter", "value", v)
	}
	t.Sleep(c.interval)
}

// sysmon samples host CPU and memory usage.
type sysmon struct {
	log      *slog.Logger
	interval time.Duration
}

func (s *sysmon) Startup(*task.Task) {
	n, err := cpu.Counts(true)
	if err != nil {
		s.log.Warn("cpu count unavailable", "err", err)
		return
	}
	// Prime the CPU sampler so the first Loop reports a real delta.
	_, _ = cpu.Percent(0, false)
	s.log.Info("sysmon started", "host_cpus", n)
}

func (s *sysmon) Loop(t *task.Task) {
	attrs := make([]any, 0, 6)
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		attrs = append(attrs, "cpu_percent", pct[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		attrs = append(attrs, "mem_used_percent", vm.UsedPercent, "mem_free_bytes", vm.Free)
	}
	s.log.Info("host usage", attrs...)
	t.Sleep(s.interval)
}
