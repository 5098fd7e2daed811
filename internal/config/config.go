// Package config loads zrtosd configuration from TOML or YAML files.
//
// The format is chosen by file extension:
//   - .toml: TOML
//   - .yaml, .yml, .json: YAML (JSON is a subset)
//
// Environment overrides are applied after the file:
//   - ZRTOS_OPS_ADDR: overrides ops.addr
//   - ZRTOS_OPS_TOKEN: appended to ops.write_tokens
//   - ZRTOS_LOG_LEVEL: overrides log.level
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"sigs.k8s.io/yaml"

	"github.com/evan-idocoding/zrtos/rt/kernel"
	"github.com/evan-idocoding/zrtos/rt/safego"
	"github.com/evan-idocoding/zrtos/rt/task"
)

// ErrUnsupportedFormat is returned by Load for an unknown file extension.
var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// Config is the zrtosd configuration.
type Config struct {
	Node   NodeConfig   `toml:"node" json:"node"`
	Kernel KernelConfig `toml:"kernel" json:"kernel"`
	Ops    OpsConfig    `toml:"ops" json:"ops"`
	Log    LogConfig    `toml:"log" json:"log"`
	Tasks  []TaskConfig `toml:"tasks" json:"tasks"`
}

// NodeConfig controls the node lifecycle.
type NodeConfig struct {
	// StrictStart fails startup when any task is refused by the kernel.
	StrictStart     bool     `toml:"strict_start" json:"strict_start"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" json:"shutdown_timeout"`
}

// KernelConfig configures the simulated kernel. Zero values keep the kernel defaults.
type KernelConfig struct {
	Cores         int      `toml:"cores" json:"cores"`
	TickRate      uint32   `toml:"tick_rate" json:"tick_rate"`
	HeapSize      uint32   `toml:"heap_size" json:"heap_size"`
	MaxPriorities uint32   `toml:"max_priorities" json:"max_priorities"`
	MinStackSize  uint32   `toml:"min_stack_size" json:"min_stack_size"`
	Watchdog      Duration `toml:"watchdog" json:"watchdog"`
}

// OpsConfig configures the ops HTTP server. An empty Addr disables it.
type OpsConfig struct {
	Addr             string   `toml:"addr" json:"addr"`
	WriteTokens      []string `toml:"write_tokens" json:"write_tokens"`
	EnableTaskDelete bool     `toml:"enable_task_delete" json:"enable_task_delete"`
	MinHeapFree      uint32   `toml:"min_heap_free" json:"min_heap_free"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" json:"level"`
	// Format is text or json.
	Format string `toml:"format" json:"format"`
}

// TaskConfig describes one task.
type TaskConfig struct {
	Name string `toml:"name" json:"name"`
	// Kind selects the runner implementation.
	Kind string `toml:"kind" json:"kind"`
	// Priority is the scheduling priority. Absent means the task default; 0 is valid.
	Priority   *uint32 `toml:"priority" json:"priority"`
	Privileged bool    `toml:"privileged" json:"privileged"`
	StackSize  uint32  `toml:"stack_size" json:"stack_size"`
	// Core pins the task. Absent means any core.
	Core     *int     `toml:"core" json:"core"`
	Interval Duration `toml:"interval" json:"interval"`
}

// Duration is a time.Duration written as a Go duration string ("250ms", "1m").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler. It serves both TOML and YAML/JSON.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a configuration with every default applied and no tasks.
func Default() *Config {
	return &Config{
		Node: NodeConfig{ShutdownTimeout: Duration(30 * time.Second)},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the file at path, applies environment overrides and defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := &Config{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("config: decode TOML %s: %w", path, err)
		}
	case ".yaml", ".yml", ".json":
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("config: decode YAML %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies ZRTOS_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("ZRTOS_OPS_ADDR")); v != "" {
		c.Ops.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("ZRTOS_OPS_TOKEN")); v != "" {
		c.Ops.WriteTokens = append(c.Ops.WriteTokens, v)
	}
	if v := strings.TrimSpace(os.Getenv("ZRTOS_LOG_LEVEL")); v != "" {
		c.Log.Level = v
	}
}

// SetDefaults fills zero values that have a non-zero default.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Node.ShutdownTimeout == 0 {
		c.Node.ShutdownTimeout = d.Node.ShutdownTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	for i := range c.Tasks {
		t := &c.Tasks[i]
		t.Name = strings.TrimSpace(t.Name)
		t.Kind = strings.ToLower(strings.TrimSpace(t.Kind))
		if t.Kind == "" {
			t.Kind = "idle"
		}
	}
}

// ValidationError is a problem with one configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every ValidationError found by Validate.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration. It returns ValidateErrors or nil.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		add("log.level", "invalid level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format", "invalid format %q, must be one of: text, json", c.Log.Format)
	}

	if c.Node.ShutdownTimeout < 0 {
		add("node.shutdown_timeout", "must not be negative")
	}
	if c.Kernel.Cores < 0 {
		add("kernel.cores", "must not be negative")
	}
	if c.Kernel.Watchdog < 0 {
		add("kernel.watchdog", "must not be negative")
	}

	seen := make(map[string]bool, len(c.Tasks))
	for i, t := range c.Tasks {
		field := fmt.Sprintf("tasks[%d]", i)
		switch {
		case t.Name == "":
			add(field+".name", "must not be empty")
		case seen[t.Name]:
			add(field+".name", "duplicate task name %q", t.Name)
		default:
			if err := task.ValidateName(t.Name); err != nil {
				add(field+".name", "%v", err)
			}
		}
		seen[t.Name] = true
		if t.Priority != nil && *t.Priority&uint32(kernel.PrivilegeBit) != 0 {
			add(field+".priority", "%d is out of range; use privileged = true", *t.Priority)
		}
		if t.Core != nil {
			switch c := *t.Core; {
			case c < 0:
				add(field+".core", "must not be negative")
			case c >= int(kernel.NoAffinity):
				add(field+".core", "%d is out of range (max %d); omit core for any core", c, int(kernel.NoAffinity)-1)
			}
		}
		if t.Interval < 0 {
			add(field+".interval", "must not be negative")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// SimOptions converts the kernel section to kernel.Sim options.
func (k KernelConfig) SimOptions() []kernel.SimOption {
	var opts []kernel.SimOption
	if k.Cores > 0 {
		opts = append(opts, kernel.WithCores(k.Cores))
	}
	if k.TickRate > 0 {
		opts = append(opts, kernel.WithTickRate(k.TickRate))
	}
	if k.HeapSize > 0 {
		opts = append(opts, kernel.WithHeapSize(k.HeapSize))
	}
	if k.MaxPriorities > 0 {
		opts = append(opts, kernel.WithMaxPriorities(k.MaxPriorities))
	}
	if k.MinStackSize > 0 {
		opts = append(opts, kernel.WithMinStackSize(k.MinStackSize))
	}
	if k.Watchdog > 0 {
		opts = append(opts, kernel.WithWatchdog(k.Watchdog.Std()))
	}
	return opts
}

// Options converts a task entry to task options. Absent or zero fields keep the task defaults.
func (t TaskConfig) Options() []task.Option {
	var opts []task.Option
	if t.Priority != nil || t.Privileged {
		p := task.DefaultPriority
		if t.Priority != nil {
			p = kernel.Priority(*t.Priority)
		}
		if t.Privileged {
			p |= kernel.PrivilegeBit
		}
		opts = append(opts, task.WithPriority(p))
	}
	if t.StackSize > 0 {
		opts = append(opts, task.WithStackSize(t.StackSize))
	}
	if t.Core != nil {
		opts = append(opts, task.WithAffinity(kernel.CoreID(*t.Core)))
	}
	opts = append(opts, task.WithTags(safego.Tag{Key: "kind", Value: t.Kind}))
	return opts
}
