package task

import (
	"errors"
	"fmt"
	"sync"
)

// Group holds named tasks and starts or deletes them together.
//
// It is safe for concurrent use. The zero value is ready to use.
type Group struct {
	mu     sync.Mutex
	tasks  []*Task
	names  map[string]*Task
	closed bool
}

// NewGroup creates an empty Group.
func NewGroup() *Group {
	return &Group{names: make(map[string]*Task)}
}

// Add registers t. Names must be valid (see ErrInvalidName) and unique within the group.
//
// Add does not start t. After Delete, Add returns ErrClosed.
func (g *Group) Add(t *Task) error {
	if t == nil {
		panic("task: Group.Add called with nil Task")
	}
	if err := ValidateName(t.name); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	if g.names == nil {
		g.names = make(map[string]*Task)
	}
	if _, exists := g.names[t.name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateName, t.name)
	}
	g.tasks = append(g.tasks, t)
	g.names[t.name] = t
	return nil
}

// MustAdd is like Add but panics on error. It returns t for chaining.
func (g *Group) MustAdd(t *Task) *Task {
	if err := g.Add(t); err != nil {
		panic(err)
	}
	return t
}

// Start starts every task that is still unstarted, in registration order.
//
// A failing task does not stop the others; all failures are joined in the returned error.
func (g *Group) Start() error {
	var errs []error
	for _, t := range g.Tasks() {
		if t.State() != StateUnstarted {
			continue
		}
		if err := t.Start(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Delete deletes every task and closes the group for further Add calls.
// It is safe to call multiple times.
func (g *Group) Delete() {
	g.mu.Lock()
	g.closed = true
	tasks := append([]*Task(nil), g.tasks...)
	g.mu.Unlock()

	for _, t := range tasks {
		t.Delete()
	}
}

// Lookup finds a task by name.
func (g *Group) Lookup(name string) (*Task, bool) {
	if g == nil || name == "" {
		return nil, false
	}
	g.mu.Lock()
	t, ok := g.names[name]
	g.mu.Unlock()
	return t, ok
}

// Tasks returns the registered tasks in registration order.
func (g *Group) Tasks() []*Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Task(nil), g.tasks...)
}

// Snapshot returns a point-in-time view of all tasks.
func (g *Group) Snapshot() Snapshot {
	tasks := g.Tasks()
	out := make([]Status, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Status())
	}
	return Snapshot{Tasks: out}
}
