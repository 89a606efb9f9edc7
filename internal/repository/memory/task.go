package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/elsanchez/smart-publish/internal/domain"
	"github.com/elsanchez/smart-publish/internal/repository"
)

const defaultListLimit = 100

// TaskRepository is an in-memory repository.TaskRepository. Stored tasks
// are copies; callers never share memory with the repository.
type TaskRepository struct {
	mu    sync.RWMutex
	tasks map[string]*domain.PublishTask
}

var _ repository.TaskRepository = (*TaskRepository)(nil)

func NewTaskRepository() *TaskRepository {
	return &TaskRepository{tasks: make(map[string]*domain.PublishTask)}
}

func (r *TaskRepository) Create(_ context.Context, task *domain.PublishTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[task.ID]; ok {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	r.tasks[task.ID] = task.Clone()
	return nil
}

func (r *TaskRepository) GetByID(_ context.Context, id string) (*domain.PublishTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, repository.ErrNotFound)
	}
	return task.Clone(), nil
}

func (r *TaskRepository) Update(_ context.Context, task *domain.PublishTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[task.ID]; !ok {
		return fmt.Errorf("task %s: %w", task.ID, repository.ErrNotFound)
	}
	r.tasks[task.ID] = task.Clone()
	return nil
}

func (r *TaskRepository) List(_ context.Context, filter repository.TaskFilter) ([]*domain.PublishTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tasks []*domain.PublishTask
	for _, task := range r.tasks {
		if filter.State != "" && task.State != filter.State {
			continue
		}
		if filter.AccountID != 0 && task.AccountID != filter.AccountID {
			continue
		}
		tasks = append(tasks, task.Clone())
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (r *TaskRepository) ListUnfinished(_ context.Context) ([]*domain.PublishTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tasks []*domain.PublishTask
	for _, task := range r.tasks {
		if !task.State.IsTerminal() {
			tasks = append(tasks, task.Clone())
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (r *TaskRepository) CountByState(_ context.Context) (map[domain.TaskState]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[domain.TaskState]int)
	for _, task := range r.tasks {
		counts[task.State]++
	}
	return counts, nil
}

func (r *TaskRepository) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, task := range r.tasks {
		if task.State.IsTerminal() && task.UpdatedAt.Before(cutoff) {
			delete(r.tasks, id)
			n++
		}
	}
	return n, nil
}
