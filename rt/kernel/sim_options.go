package kernel

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// Sim defaults, modeled on a dual-core ESP32 running FreeRTOS.
const (
	DefaultTickRate      uint32 = 100
	DefaultHeapSize      uint32 = 320 * 1024
	DefaultMaxPriorities uint32 = 25
	DefaultMaxNameLen           = 16
	DefaultMinStackSize  uint32 = 768

	// tcbOverhead is charged against the heap for every task in addition to its stack.
	tcbOverhead uint32 = 352
)

// WatchdogEvent describes a task that did not yield within the watchdog timeout.
type WatchdogEvent struct {
	Handle Handle
	Name   string
	// Stalled is how long the task had been running without a Delay when the trip was detected.
	Stalled time.Duration
	// Trips is the task's trip count including this one.
	Trips uint64
}

type simConfig struct {
	cores         int
	tickRate      uint32
	heapSize      uint32
	maxPriorities uint32
	maxNameLen    int
	minStackSize  uint32

	watchdog   time.Duration
	onWatchdog func(WatchdogEvent)

	logger *slog.Logger
}

// SimOption configures NewSim.
type SimOption func(*simConfig)

// WithCores sets the number of processing cores. Values < 1 are ignored.
//
// Default is the host's logical CPU count.
func WithCores(n int) SimOption {
	return func(c *simConfig) {
		if n > 0 {
			c.cores = n
		}
	}
}

// WithTickRate sets the scheduler tick rate in Hz. Default is 100 (10ms ticks).
func WithTickRate(hz uint32) SimOption {
	return func(c *simConfig) {
		if hz > 0 {
			c.tickRate = hz
		}
	}
}

// WithHeapSize sets the heap budget shared by task stacks and control blocks.
func WithHeapSize(bytes uint32) SimOption {
	return func(c *simConfig) {
		if bytes > 0 {
			c.heapSize = bytes
		}
	}
}

// WithMaxPriorities sets the number of priority levels. Priorities at or above it are clamped.
func WithMaxPriorities(n uint32) SimOption {
	return func(c *simConfig) {
		if n > 0 {
			c.maxPriorities = n
		}
	}
}

// WithMaxNameLen sets the task name limit. Like configMAX_TASK_NAME_LEN it counts the
// terminator, so the longest accepted name is n-1 bytes.
func WithMaxNameLen(n int) SimOption {
	return func(c *simConfig) {
		if n > 1 {
			c.maxNameLen = n
		}
	}
}

// WithMinStackSize sets the smallest stack CreateTask accepts.
func WithMinStackSize(bytes uint32) SimOption {
	return func(c *simConfig) { c.minStackSize = bytes }
}

// WithWatchdog enables the task watchdog. A task is supervised from its first Delay on,
// and trips when it runs for longer than timeout without calling Delay.
//
// timeout <= 0 disables the watchdog (default).
func WithWatchdog(timeout time.Duration) SimOption {
	return func(c *simConfig) { c.watchdog = timeout }
}

// WithWatchdogHandler sets a function called on every watchdog trip.
// It runs on the watchdog goroutine and must not block.
func WithWatchdogHandler(fn func(WatchdogEvent)) SimOption {
	return func(c *simConfig) { c.onWatchdog = fn }
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) SimOption {
	return func(c *simConfig) { c.logger = l }
}

func defaultSimConfig() simConfig {
	return simConfig{
		cores:         hostCores(),
		tickRate:      DefaultTickRate,
		heapSize:      DefaultHeapSize,
		maxPriorities: DefaultMaxPriorities,
		maxNameLen:    DefaultMaxNameLen,
		minStackSize:  DefaultMinStackSize,
	}
}

func hostCores() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}
