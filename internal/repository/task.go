package repository

import (
	"context"
	"time"

	"github.com/elsanchez/smart-publish/internal/domain"
)

// TaskFilter restringe los listados de tareas
type TaskFilter struct {
	State     domain.TaskState
	AccountID int64
	Limit     int
}

// TaskRepository define las operaciones sobre tareas de publicación
type TaskRepository interface {
	// CRUD básico
	Create(ctx context.Context, task *domain.PublishTask) error
	GetByID(ctx context.Context, id string) (*domain.PublishTask, error)
	Update(ctx context.Context, task *domain.PublishTask) error

	// Queries especializadas
	List(ctx context.Context, filter TaskFilter) ([]*domain.PublishTask, error)
	ListUnfinished(ctx context.Context) ([]*domain.PublishTask, error)
	CountByState(ctx context.Context) (map[domain.TaskState]int, error)

	// Limpieza
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
