package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/elsanchez/smart-publish/internal/domain"
	"github.com/elsanchez/smart-publish/internal/repository"
)

// defaultListLimit evita listados sin cota
const defaultListLimit = 100

// TaskRepository implementa repository.TaskRepository usando SQLite
type TaskRepository struct {
	db *sqlx.DB
}

// Compiletime check: asegura que implementa la interfaz
var _ repository.TaskRepository = (*TaskRepository)(nil)

// NewTaskRepository crea un nuevo repositorio de tareas
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// taskRow mapea la tabla SQL a struct Go.
// created_at y updated_at se guardan en nanosegundos para ordenar tareas del mismo segundo.
type taskRow struct {
	ID          string         `db:"id"`
	Fingerprint string         `db:"fingerprint"`
	ContentPath string         `db:"content_path"`
	AccountID   int64          `db:"account_id"`
	Platform    string         `db:"platform"`
	Title       string         `db:"title"`
	TagsJSON    string         `db:"tags"`
	State       string         `db:"state"`
	Attempts    int            `db:"attempts"`
	ScheduledAt sql.NullInt64  `db:"scheduled_at"`
	ErrorKind   sql.NullString `db:"error_kind"`
	ErrorReason sql.NullString `db:"error_reason"`
	RemoteID    sql.NullString `db:"remote_id"`
	RemoteURL   sql.NullString `db:"remote_url"`
	CreatedAt   int64          `db:"created_at"`
	UpdatedAt   int64          `db:"updated_at"`
}

// Create inserta una nueva tarea
func (r *TaskRepository) Create(ctx context.Context, task *domain.PublishTask) error {
	args, err := taskArgs(task)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO publish_tasks (
			id, fingerprint, content_path, account_id, platform, title, tags,
			state, attempts, scheduled_at, error_kind, error_reason,
			remote_id, remote_url, created_at, updated_at
		) VALUES (
			:id, :fingerprint, :content_path, :account_id, :platform, :title, :tags,
			:state, :attempts, :scheduled_at, :error_kind, :error_reason,
			:remote_id, :remote_url, :created_at, :updated_at
		)
	`

	if _, err := r.db.NamedExecContext(ctx, query, args); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	return nil
}

// GetByID obtiene una tarea por ID
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*domain.PublishTask, error) {
	var row taskRow

	query := `SELECT * FROM publish_tasks WHERE id = ?`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	return taskRowToDomain(&row)
}

// Update persiste estado, intentos, error y resultado de la tarea
func (r *TaskRepository) Update(ctx context.Context, task *domain.PublishTask) error {
	args, err := taskArgs(task)
	if err != nil {
		return err
	}

	query := `
		UPDATE publish_tasks
		SET state = :state, attempts = :attempts, scheduled_at = :scheduled_at,
		    error_kind = :error_kind, error_reason = :error_reason,
		    remote_id = :remote_id, remote_url = :remote_url, updated_at = :updated_at
		WHERE id = :id
	`

	result, err := r.db.NamedExecContext(ctx, query, args)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	return expectAffected(result, "task "+task.ID)
}

// List obtiene tareas ordenadas de más reciente a más antigua
func (r *TaskRepository) List(ctx context.Context, filter repository.TaskFilter) ([]*domain.PublishTask, error) {
	var (
		where []string
		args  []interface{}
		rows  []taskRow
	)

	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.AccountID != 0 {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT * FROM publish_tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	return taskRowsToDomain(rows)
}

// ListUnfinished obtiene las tareas que no llegaron a un estado terminal
func (r *TaskRepository) ListUnfinished(ctx context.Context) ([]*domain.PublishTask, error) {
	var rows []taskRow

	query := `
		SELECT * FROM publish_tasks
		WHERE state NOT IN (?, ?)
		ORDER BY created_at ASC
	`

	if err := r.db.SelectContext(ctx, &rows, query, string(domain.StateCompleted), string(domain.StateFailed)); err != nil {
		return nil, fmt.Errorf("list unfinished tasks: %w", err)
	}

	return taskRowsToDomain(rows)
}

// CountByState cuenta tareas agrupadas por estado
func (r *TaskRepository) CountByState(ctx context.Context) (map[domain.TaskState]int, error) {
	var rows []struct {
		State string `db:"state"`
		Count int    `db:"count"`
	}

	query := `SELECT state, COUNT(*) AS count FROM publish_tasks GROUP BY state`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}

	counts := make(map[domain.TaskState]int, len(rows))
	for _, row := range rows {
		counts[domain.TaskState(row.State)] = row.Count
	}

	return counts, nil
}

// DeleteFinishedBefore elimina tareas terminales sin cambios desde cutoff
func (r *TaskRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM publish_tasks
		WHERE state IN (?, ?) AND updated_at < ?
	`

	result, err := r.db.ExecContext(ctx, query,
		string(domain.StateCompleted), string(domain.StateFailed), cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete finished tasks: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return int(n), nil
}

// Helper: argumentos nombrados para INSERT/UPDATE
func taskArgs(task *domain.PublishTask) (map[string]interface{}, error) {
	tags := task.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}

	args := map[string]interface{}{
		"id":           task.ID,
		"fingerprint":  task.Fingerprint,
		"content_path": task.ContentPath,
		"account_id":   task.AccountID,
		"platform":     task.Platform,
		"title":        task.Title,
		"tags":         string(tagsJSON),
		"state":        string(task.State),
		"attempts":     task.Attempts,
		"scheduled_at": nil,
		"error_kind":   nil,
		"error_reason": nil,
		"remote_id":    nil,
		"remote_url":   nil,
		"created_at":   task.CreatedAt.UnixNano(),
		"updated_at":   task.UpdatedAt.UnixNano(),
	}

	if task.ScheduledAt != nil {
		args["scheduled_at"] = task.ScheduledAt.Unix()
	}
	if task.Error != nil {
		args["error_kind"] = string(task.Error.Kind)
		args["error_reason"] = task.Error.Reason
	}
	if task.Result != nil {
		args["remote_id"] = task.Result.RemoteID
		args["remote_url"] = task.Result.URL
	}

	return args, nil
}

// Helper: conversión row → domain
func taskRowToDomain(row *taskRow) (*domain.PublishTask, error) {
	task := &domain.PublishTask{
		ID:          row.ID,
		Fingerprint: row.Fingerprint,
		ContentPath: row.ContentPath,
		AccountID:   row.AccountID,
		Platform:    row.Platform,
		Title:       row.Title,
		State:       domain.TaskState(row.State),
		Attempts:    row.Attempts,
		CreatedAt:   time.Unix(0, row.CreatedAt),
		UpdatedAt:   time.Unix(0, row.UpdatedAt),
	}

	if err := json.Unmarshal([]byte(row.TagsJSON), &task.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}

	if row.ScheduledAt.Valid {
		t := time.Unix(row.ScheduledAt.Int64, 0)
		task.ScheduledAt = &t
	}

	if row.ErrorKind.Valid {
		task.Error = &domain.TaskError{
			Kind:   domain.ErrorKind(row.ErrorKind.String),
			Reason: row.ErrorReason.String,
		}
	}

	if row.RemoteID.Valid || row.RemoteURL.Valid {
		task.Result = &domain.PublishResult{
			RemoteID: row.RemoteID.String,
			URL:      row.RemoteURL.String,
		}
	}

	return task, nil
}

// Helper: conversión múltiples rows → domain
func taskRowsToDomain(rows []taskRow) ([]*domain.PublishTask, error) {
	tasks := make([]*domain.PublishTask, 0, len(rows))

	for i := range rows {
		task, err := taskRowToDomain(&rows[i])
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", rows[i].ID, err)
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}
