package client

import (
	"encoding/json"
	"time"
)

// Cadence configura la publicación programada
type Cadence struct {
	Enabled   bool     `json:"enabled"`
	PerDay    int      `json:"per_day,omitempty"`
	Slots     []string `json:"slots,omitempty"`
	StartDays int      `json:"start_days,omitempty"`
}

// PublishRequest es el payload para publicar un archivo
type PublishRequest struct {
	ContentPath string     `json:"content_path"`
	AccountID   int64      `json:"account_id"`
	Title       string     `json:"title,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Cadence     *Cadence   `json:"cadence,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// BatchRequest es el payload de un lote: items explícitos o files × account_ids
type BatchRequest struct {
	Items      []PublishRequest `json:"items,omitempty"`
	Files      []string         `json:"files,omitempty"`
	AccountIDs []int64          `json:"account_ids,omitempty"`
	Title      string           `json:"title,omitempty"`
	Tags       []string         `json:"tags,omitempty"`
	Cadence    Cadence          `json:"cadence"`
}

// TaskError es el motivo de fallo de una tarea
type TaskError struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// TaskResult es la referencia remota de una publicación
type TaskResult struct {
	RemoteID string `json:"remote_id,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Task es una tarea de publicación
type Task struct {
	ID          string      `json:"id"`
	ContentPath string      `json:"content_path"`
	AccountID   int64       `json:"account_id"`
	Platform    string      `json:"platform"`
	Title       string      `json:"title"`
	Tags        []string    `json:"tags,omitempty"`
	State       string      `json:"state"`
	Attempts    int         `json:"attempts"`
	ScheduledAt *time.Time  `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Error       *TaskError  `json:"error,omitempty"`
	Result      *TaskResult `json:"result,omitempty"`
}

// IsTerminal indica si la tarea terminó
func (t *Task) IsTerminal() bool {
	return t.State == "completed" || t.State == "failed"
}

// Account es una cuenta de plataforma
type Account struct {
	ID             int64      `json:"id"`
	Platform       string     `json:"platform"`
	Label          string     `json:"label"`
	Status         string     `json:"status"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ImportRequest es el payload para importar cookies
type ImportRequest struct {
	FilePath string `json:"file_path,omitempty"`
	Browser  string `json:"browser,omitempty"`
	Platform string `json:"platform,omitempty"`
	Label    string `json:"label"`
	Force    bool   `json:"force,omitempty"`
}

// ValidateResult es el veredicto de una validación
type ValidateResult struct {
	Account *Account `json:"account"`
	Verdict string   `json:"verdict"`
	Reason  string   `json:"reason,omitempty"`
}

// Stats son las estadísticas del daemon
type Stats struct {
	Tasks struct {
		ByState     map[string]int `json:"by_state"`
		Workers     int            `json:"workers"`
		WorkersBusy int            `json:"workers_busy"`
		Running     int            `json:"running"`
	} `json:"tasks"`
	ActiveLogins int   `json:"active_logins"`
	Subscribers  int   `json:"subscribers"`
	Dropped      int64 `json:"dropped_subscribers"`
}

// LoginEvent es un evento del stream de login
type LoginEvent struct {
	Type      string `json:"-"`
	SessionID string `json:"session_id"`
	Platform  string `json:"platform"`
	Label     string `json:"label"`
	Challenge string `json:"challenge,omitempty"`
	AccountID int64  `json:"account_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Terminal indica si el evento cierra el login
func (e LoginEvent) Terminal() bool {
	return e.Type == "success" || e.Type == "failed" || e.Type == "timeout"
}

// Event es un evento de estado recibido por /events
type Event struct {
	Topic    string          `json:"topic"`
	Type     string          `json:"type"`
	Terminal bool            `json:"terminal"`
	Data     json.RawMessage `json:"data,omitempty"`
	At       time.Time       `json:"at"`
}

// TaskEvent decodifica el payload de un evento task_state
func (e Event) TaskEvent() (*TaskEventData, error) {
	var data TaskEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// TaskEventData es el payload de task_state
type TaskEventData struct {
	TaskID   string      `json:"task_id"`
	State    string      `json:"state"`
	Attempts int         `json:"attempts"`
	Error    *TaskError  `json:"error,omitempty"`
	Result   *TaskResult `json:"result,omitempty"`
}
