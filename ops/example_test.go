package ops_test

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"

	"github.com/evan-idocoding/zrtos/ops"
	"github.com/evan-idocoding/zrtos/rt/kernel"
	"github.com/evan-idocoding/zrtos/rt/task"
)

func ExampleHealthzHandler() {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ops.HealthzHandler().ServeHTTP(rr, req)

	fmt.Print(rr.Body.String())

	// Output:
	// ok
}

func ExampleLogLevelHandler() {
	lv := new(slog.LevelVar)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/?level=warn", nil)
	ops.LogLevelHandler(lv).ServeHTTP(rr, req)

	fmt.Print(rr.Body.String())

	// Output:
	// log	old_level	info
	// log	old_level_value	0
	// log	level	warn
	// log	level_value	4
}

func ExampleTasksSnapshotHandler() {
	k := kernel.NewSim(kernel.WithCores(1))
	defer k.Shutdown(context.Background())

	g := task.NewGroup()
	g.MustAdd(task.New(k, "job", nil))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ops.TasksSnapshotHandler(g).ServeHTTP(rr, req)

	fmt.Print(rr.Body.String())

	// Output:
	// task	job	state	unstarted
	// task	job	priority	5
	// task	job	stack_size	4096
	// task	job	core	any
	// task	job	startup_done	false
	// task	job	loops	0
}
