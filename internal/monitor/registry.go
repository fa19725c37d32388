package monitor

import (
	"context"
	"sync"
)

// Task is the handle of one running monitor.
type Task struct {
	jobID  string
	cancel context.CancelFunc
	done   chan struct{}
}

// Done is closed when the monitor goroutine exits.
func (t *Task) Done() <-chan struct{} { return t.done }

// Registry tracks which jobs have an active monitor in this process.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Register inserts a task for jobID unless one is already present. The
// check and the insert happen under one lock.
func (r *Registry) Register(jobID string, cancel context.CancelFunc) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[jobID]; exists {
		return nil, false
	}
	t := &Task{jobID: jobID, cancel: cancel, done: make(chan struct{})}
	r.tasks[jobID] = t
	return t, true
}

// Deregister removes t if it is still the registered task for its job.
func (r *Registry) Deregister(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.tasks[t.jobID]; ok && cur == t {
		delete(r.tasks, t.jobID)
	}
}

// Cancel stops the job's monitor, if any. The entry is removed by the
// goroutine on exit.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	t, ok := r.tasks[jobID]
	r.mu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}

func (r *Registry) Has(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[jobID]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// CancelAll stops every task and returns them so callers can wait.
func (r *Registry) CancelAll() []*Task {
	r.mu.Lock()
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	r.mu.Unlock()
	for _, t := range out {
		t.cancel()
	}
	return out
}
