package task

import (
	"log/slog"

	"github.com/evan-idocoding/zrtos/rt/kernel"
	"github.com/evan-idocoding/zrtos/rt/safego"
)

const (
	// DefaultPriority is the priority used when WithPriority is not given.
	DefaultPriority kernel.Priority = 5
	// DefaultStackSize is the stack size in bytes used when WithStackSize is not given.
	DefaultStackSize uint32 = 4096
	// DefaultAffinity lets the kernel run the task on any core.
	DefaultAffinity = kernel.NoAffinity
)

type config struct {
	priority  kernel.Priority
	stackSize uint32
	affinity  kernel.CoreID

	tags        []safego.Tag
	onPanic     safego.PanicHandler
	panicPolicy safego.PanicPolicy

	logger *slog.Logger
}

// Option configures New.
type Option func(*config)

func defaultConfig() config {
	return config{
		priority:    DefaultPriority,
		stackSize:   DefaultStackSize,
		affinity:    DefaultAffinity,
		panicPolicy: safego.RecoverAndReport,
	}
}

// WithPriority sets the scheduling priority. It may include kernel.PrivilegeBit.
// The value is passed to the kernel as is.
func WithPriority(p kernel.Priority) Option {
	return func(c *config) { c.priority = p }
}

// WithStackSize sets the stack size in bytes.
func WithStackSize(bytes uint32) Option {
	return func(c *config) { c.stackSize = bytes }
}

// WithAffinity pins the task to a core. Use kernel.NoAffinity to let the kernel choose.
// An out-of-range core is accepted here and rejected by Start.
func WithAffinity(core kernel.CoreID) Option {
	return func(c *config) { c.affinity = core }
}

// WithTags appends tags carried by panic reports.
func WithTags(tags ...safego.Tag) Option {
	return func(c *config) {
		if len(tags) == 0 {
			return
		}
		c.tags = append(c.tags, tags...)
	}
}

// WithPanicHandler sets the handler for panics raised by Startup or Loop.
// If not set, panics are logged.
func WithPanicHandler(h safego.PanicHandler) Option {
	return func(c *config) { c.onPanic = h }
}

// WithPanicPolicy sets how panics raised by Startup or Loop are handled.
// Default is safego.RecoverAndReport, which leaves the task Faulted.
// safego.RepanicAfterReport crashes the process, like an unhandled fault on a device.
func WithPanicPolicy(p safego.PanicPolicy) Option {
	return func(c *config) { c.panicPolicy = p }
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}
