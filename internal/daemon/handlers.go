package daemon

import (
	"context"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/elsanchez/smart-publish/internal/auth"
	"github.com/elsanchez/smart-publish/internal/credentials"
	"github.com/elsanchez/smart-publish/internal/domain"
	"github.com/elsanchez/smart-publish/internal/publish"
	"github.com/elsanchez/smart-publish/internal/repository"
	"github.com/elsanchez/smart-publish/internal/stream"
)

// Publisher es la parte del orquestador que expone la API
type Publisher interface {
	Submit(ctx context.Context, req publish.Request) (*domain.PublishTask, error)
	SubmitBatch(ctx context.Context, batch publish.BatchRequest) ([]*domain.PublishTask, error)
	Get(ctx context.Context, id string) (*domain.PublishTask, error)
	List(ctx context.Context, filter repository.TaskFilter) ([]*domain.PublishTask, error)
	Cancel(ctx context.Context, id string) (*domain.PublishTask, error)
	Stats(ctx context.Context) (*publish.Stats, error)
}

// LoginStarter arranca logins interactivos
type LoginStarter interface {
	Start(platform, label string) (*domain.LoginSession, *stream.Subscription, error)
	Active() []domain.LoginSession
}

// AccountValidator comprueba la credencial de una cuenta
type AccountValidator interface {
	Validate(ctx context.Context, acc *domain.Account) auth.Result
}

// AccountImporter crea cuentas a partir de cookies externas
type AccountImporter interface {
	Import(ctx context.Context, opts credentials.ImportOptions) (*domain.Account, error)
}

// AccountExporter escribe la credencial como archivo de cookies
type AccountExporter interface {
	ExportByID(ctx context.Context, accountID int64, outputPath string) (int, error)
}

// CredentialRemover borra credenciales
type CredentialRemover interface {
	Delete(ctx context.Context, ref string) error
}

// Handlers maneja las peticiones del servidor
type Handlers struct {
	Publisher   Publisher
	Logins      LoginStarter
	Validator   AccountValidator
	Accounts    repository.AccountRepository
	Credentials CredentialRemover
	Importer    AccountImporter
	Exporter    AccountExporter
	Hub         *stream.Hub
	Logger      *log.Logger
}

// Ping responde al health check
func (h *Handlers) Ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

// StatsResponse agrupa las estadísticas del daemon
type StatsResponse struct {
	Tasks       *publish.Stats `json:"tasks"`
	Logins      int            `json:"active_logins"`
	Subscribers int            `json:"subscribers"`
	Dropped     int64          `json:"dropped_subscribers"`
}

// Stats maneja la petición de estadísticas
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Publisher.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Tasks:       stats,
		Logins:      len(h.Logins.Active()),
		Subscribers: h.Hub.Subscribers(),
		Dropped:     h.Hub.Dropped(),
	})
}

type taskResponse struct {
	Task  *domain.PublishTask `json:"task"`
	Error string              `json:"error,omitempty"`
}

type tasksResponse struct {
	Tasks []*domain.PublishTask `json:"tasks"`
	Count int                   `json:"count"`
}

type partialBatchResponse struct {
	Error string `json:"error"`
	tasksResponse
}

// Publish encola una publicación. Un duplicado responde 409 con la tarea
// ya fallida.
func (h *Handlers) Publish(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[publish.Request](w, r)
	if !ok {
		return
	}

	task, err := h.Publisher.Submit(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if task.Error != nil && task.Error.Kind == domain.KindDuplicateInProgress {
		writeJSON(w, http.StatusConflict, taskResponse{Task: task, Error: task.Error.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, taskResponse{Task: task})
}

// PublishBatch encola un lote; cada par tiene su propia tarea
func (h *Handlers) PublishBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[publish.BatchRequest](w, r)
	if !ok {
		return
	}

	tasks, err := h.Publisher.SubmitBatch(r.Context(), req)
	if err != nil && len(tasks) > 0 {
		// Las tareas ya lanzadas siguen en curso; el cliente necesita sus ids
		h.Logger.Error("batch partially submitted", "submitted", len(tasks), "err", err)
		writeJSON(w, http.StatusInternalServerError, partialBatchResponse{
			Error:         err.Error(),
			tasksResponse: tasksResponse{Tasks: tasks, Count: len(tasks)},
		})
		return
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, tasksResponse{Tasks: tasks, Count: len(tasks)})
}

// ListTasks lista las tareas recientes
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter repository.TaskFilter

	if s := q.Get("state"); s != "" {
		state, ok := domain.ParseTaskState(s)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown state: "+s)
			return
		}
		filter.State = state
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if s := q.Get("account_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid account_id")
			return
		}
		filter.AccountID = id
	}

	tasks, err := h.Publisher.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*domain.PublishTask{}
	}
	writeJSON(w, http.StatusOK, tasksResponse{Tasks: tasks, Count: len(tasks)})
}

// GetTask retorna el estado de una tarea
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.Publisher.Get(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Task: task})
}

// CancelTask cancela una tarea no terminal
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.Publisher.Cancel(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Task: task})
}
