// Command zrtosd runs a set of configured tasks on the simulated kernel and serves the ops
// endpoints.
//
// Usage:
//
//	zrtosd -config zrtosd.toml
//	zrtosd -config zrtosd.yaml -log-level debug
//
// Without -config a single heartbeat task runs with default settings.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/evan-idocoding/zrtos"
	"github.com/evan-idocoding/zrtos/internal/config"
)

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "zrtosd:", err)
		os.Exit(1)
	}
}

func run(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("zrtosd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("config", "", "path to a .toml or .yaml config file")
	level := fs.String("log-level", "", "override log.level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*path, *level)
	if err != nil {
		return err
	}

	lv := new(slog.LevelVar)
	if err := lv.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log := newLogger(stderr, cfg.Log.Format, lv)
	slog.SetDefault(log)

	spec, err := buildSpec(cfg, log, lv)
	if err != nil {
		return err
	}
	return zrtos.NewNode(spec).Run(context.Background())
}

func loadConfig(path, level string) (*config.Config, error) {
	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
		cfg.Tasks = []config.TaskConfig{{Name: "heartbeat", Kind: kindHeartbeat}}
		cfg.ApplyEnvOverrides()
	} else {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if level != "" {
		cfg.Log.Level = level
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, format string, lv *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lv}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func buildSpec(cfg *config.Config, log *slog.Logger, lv *slog.LevelVar) (zrtos.NodeSpec, error) {
	spec := zrtos.NodeSpec{
		SimOptions:      cfg.Kernel.SimOptions(),
		StrictStart:     cfg.Node.StrictStart,
		Logger:          log,
		LevelVar:        lv,
		ShutdownTimeout: cfg.Node.ShutdownTimeout.Std(),
	}
	for _, tc := range cfg.Tasks {
		r, err := newRunner(tc, log)
		if err != nil {
			return zrtos.NodeSpec{}, fmt.Errorf("task %q: %w", tc.Name, err)
		}
		spec.Tasks = append(spec.Tasks, zrtos.TaskSpec{Name: tc.Name, Runner: r, Options: tc.Options()})
	}
	if cfg.Ops.Addr != "" {
		spec.Ops = &zrtos.OpsSpec{
			Addr:             cfg.Ops.Addr,
			WriteTokens:      cfg.Ops.WriteTokens,
			EnableTaskDelete: cfg.Ops.EnableTaskDelete,
			MinHeapFree:      cfg.Ops.MinHeapFree,
		}
	}
	return spec, nil
}
