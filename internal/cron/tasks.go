package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/0xPuncker/pos-scheduler/pkg/types"
)

// WorkFunc performs one execution of a job and reports how many records it
// touched. The context is cancelled when the scheduler stops.
type WorkFunc func(ctx context.Context, job types.JobDefinition) (int64, error)

// TaskTable maps job names to their work functions. It is filled once at
// startup, before the scheduler is initialized.
type TaskTable struct {
	mu    sync.RWMutex
	tasks map[string]WorkFunc
}

func NewTaskTable() *TaskTable {
	return &TaskTable{tasks: make(map[string]WorkFunc)}
}

func (t *TaskTable) Register(name string, fn WorkFunc) error {
	if name == "" {
		return fmt.Errorf("task name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("task %s has no work function", name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.tasks[name]; exists {
		return fmt.Errorf("task %s already registered", name)
	}
	t.tasks[name] = fn
	return nil
}

// MustRegister is Register for wiring code where a duplicate is a programming error.
func (t *TaskTable) MustRegister(name string, fn WorkFunc) {
	if err := t.Register(name, fn); err != nil {
		panic(err)
	}
}

func (t *TaskTable) Lookup(name string) (WorkFunc, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.tasks[name]
	return fn, ok
}

func (t *TaskTable) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.tasks))
	for name := range t.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
