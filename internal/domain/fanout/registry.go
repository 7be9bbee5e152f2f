// Package fanout runs the secondary effects of a quest completion. Runs are
// persisted in task_runs by the completion transaction and executed here by a
// bounded worker pool; their outcome is written back to the same row.
package fanout

import (
	"context"
	"fmt"
	"sync"

	"github.com/questline/progression/internal/gateways/database/models"
)

type Task interface {
	Name() string
	Run(ctx context.Context, run *models.TaskRun) error
}

type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

func (r *Registry) Register(t Task) error {
	if t == nil {
		return fmt.Errorf("nil task")
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("task Name() is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[name]; exists {
		return fmt.Errorf("task already registered: %s", name)
	}
	r.tasks[name] = t
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Get(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	return t, ok
}

// Names lists registered tasks in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
