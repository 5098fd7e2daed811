package ops

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evan-idocoding/zrtos/rt/kernel"
	"github.com/evan-idocoding/zrtos/rt/task"
)

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, "http://example"+target, nil))
	return w
}

func newSim(t *testing.T, opts ...kernel.SimOption) *kernel.Sim {
	t.Helper()
	k := kernel.NewSim(append([]kernel.SimOption{kernel.WithCores(2), kernel.WithTickRate(1000)}, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, k.Shutdown(ctx))
	})
	return k
}

// newGroup returns a group with a started task "alpha" and an unstarted task "beta".
func newGroup(t *testing.T, k kernel.Kernel) *task.Group {
	t.Helper()
	g := task.NewGroup()
	g.MustAdd(task.New(k, "alpha", nil, task.WithPriority(3), task.WithAffinity(1)))
	g.MustAdd(task.New(k, "beta", nil, task.WithStackSize(2048)))
	t.Cleanup(g.Delete)
	a, _ := g.Lookup("alpha")
	require.NoError(t, a.Start())
	return g
}
