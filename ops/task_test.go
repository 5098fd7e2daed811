package ops

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evan-idocoding/zrtos/rt/task"
)

func TestTasksSnapshotHandler_Text(t *testing.T) {
	k := newSim(t)
	g := newGroup(t, k)

	w := serve(TasksSnapshotHandler(g), http.MethodGet, "/tasks")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()

	require.Contains(t, body, "task\talpha\tstate\trunning\n")
	require.Contains(t, body, "task\talpha\tpriority\t3\n")
	require.Contains(t, body, "task\talpha\tcore\t1\n")
	require.Contains(t, body, "task\talpha\tstarted_at\t")
	require.Contains(t, body, "task\tbeta\tstate\tunstarted\n")
	require.Contains(t, body, "task\tbeta\tstack_size\t2048\n")
	require.Contains(t, body, "task\tbeta\tcore\tany\n")
	require.NotContains(t, body, "task\tbeta\thandle")
	require.Less(t, strings.Index(body, "alpha"), strings.Index(body, "beta"))
}

func TestTasksSnapshotHandler_JSONAndGuard(t *testing.T) {
	k := newSim(t)
	g := newGroup(t, k)

	h := TasksSnapshotHandler(g, WithTaskDefaultFormat(FormatJSON), WithTaskAllowNames("alpha"))
	w := serve(h, http.MethodGet, "/tasks")
	require.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "application/json"))

	var got tasksSnapshotResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.True(t, got.OK)
	require.Len(t, got.Tasks, 1)
	require.Equal(t, "alpha", got.Tasks[0].Name)
	require.Equal(t, "running", got.Tasks[0].State)
	require.NotZero(t, got.Tasks[0].Handle)

	w = serve(TasksSnapshotHandler(g, WithTaskAllowPrefixes()), http.MethodGet, "/tasks")
	require.Empty(t, w.Body.String())

	w = serve(TasksSnapshotHandler(g), http.MethodPost, "/tasks")
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestTasksSnapshotHandler_JSONOmitsUnsetTimes(t *testing.T) {
	k := newSim(t)
	g := newGroup(t, k)

	w := serve(TasksSnapshotHandler(g, WithTaskDefaultFormat(FormatJSON)), http.MethodGet, "/tasks")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), "0001-01-01")

	var raw struct {
		Tasks []map[string]any `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	require.Len(t, raw.Tasks, 2)

	alpha, beta := raw.Tasks[0], raw.Tasks[1]
	require.Equal(t, "alpha", alpha["name"])
	require.Contains(t, alpha, "started_at")
	require.Equal(t, "beta", beta["name"])
	require.NotContains(t, beta, "started_at")
	require.NotContains(t, beta, "last_loop")
}

func TestTaskDeleteHandler(t *testing.T) {
	k := newSim(t)
	g := newGroup(t, k)
	h := TaskDeleteHandler(g, WithTaskAllowPrefixes("al", "be"))

	w := serve(h, http.MethodGet, "/tasks/delete?name=alpha")
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	require.Equal(t, "POST", w.Header().Get("Allow"))

	w = serve(h, http.MethodPost, "/tasks/delete")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "missing name\n", w.Body.String())

	w = serve(h, http.MethodPost, "/tasks/delete?name=%20%20")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(h, http.MethodPost, "/tasks/delete?name=gamma")
	require.Equal(t, http.StatusForbidden, w.Code)

	w = serve(h, http.MethodPost, "/tasks/delete?name=bert")
	require.Equal(t, http.StatusNotFound, w.Code)

	a, _ := g.Lookup("alpha")
	ah, _ := a.Handle()
	w = serve(h, http.MethodPost, "/tasks/delete?name=alpha")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "task_delete\talpha\tstate\tdeleted\n", w.Body.String())
	require.Equal(t, task.StateDeleted, a.State())
	_, alive := k.Lookup(ah)
	require.False(t, alive)

	// Deleting again is fine.
	w = serve(h, http.MethodPost, "/tasks/delete?name=alpha&format=json")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"ok":true,"name":"alpha","state":"deleted"}`, w.Body.String())
}
