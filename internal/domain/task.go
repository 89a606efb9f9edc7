package domain

import "time"

// TaskState representa los estados posibles de una tarea de publicación
type TaskState string

const (
	StatePending        TaskState = "pending"
	StateAuthenticating TaskState = "authenticating"
	StateUploading      TaskState = "uploading"
	StateRetrying       TaskState = "retrying"
	StateScheduling     TaskState = "scheduling"
	StatePublishing     TaskState = "publishing"
	StateCompleted      TaskState = "completed"
	StateFailed         TaskState = "failed"
)

// AllStates en orden de avance
var AllStates = []TaskState{
	StatePending,
	StateAuthenticating,
	StateUploading,
	StateRetrying,
	StateScheduling,
	StatePublishing,
	StateCompleted,
	StateFailed,
}

// transitions define el grafo de estados. Sólo uploading <-> retrying forma ciclo.
var transitions = map[TaskState][]TaskState{
	StatePending:        {StateAuthenticating, StateFailed},
	StateAuthenticating: {StateUploading, StateFailed},
	StateUploading:      {StateRetrying, StateScheduling, StatePublishing, StateFailed},
	StateRetrying:       {StateUploading, StateFailed},
	StateScheduling:     {StatePublishing, StateFailed},
	StatePublishing:     {StateCompleted, StateFailed},
}

// CanTransition indica si el paso from -> to es válido
func CanTransition(from, to TaskState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal retorna true para completed y failed
func (s TaskState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ParseTaskState valida un estado recibido desde fuera
func ParseTaskState(s string) (TaskState, bool) {
	for _, st := range AllStates {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// PublishResult es la referencia remota devuelta por la plataforma
type PublishResult struct {
	RemoteID string `json:"remote_id,omitempty"`
	URL      string `json:"url,omitempty"`
}

// PublishTask representa una publicación de un archivo en una cuenta
type PublishTask struct {
	ID          string         `json:"id"`
	Fingerprint string         `json:"fingerprint"`
	ContentPath string         `json:"content_path"`
	AccountID   int64          `json:"account_id"`
	Platform    string         `json:"platform"`
	Title       string         `json:"title"`
	Tags        []string       `json:"tags,omitempty"`
	State       TaskState      `json:"state"`
	Attempts    int            `json:"attempts"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Error       *TaskError     `json:"error,omitempty"`
	Result      *PublishResult `json:"result,omitempty"`
}

// IsCompleted retorna true si la tarea terminó (con éxito o no)
func (t *PublishTask) IsCompleted() bool {
	return t.State.IsTerminal()
}

// IsActive retorna true si la tarea está en alguna fase de automatización
func (t *PublishTask) IsActive() bool {
	return !t.State.IsTerminal() && t.State != StatePending
}

// Clone devuelve una copia independiente de la tarea
func (t *PublishTask) Clone() *PublishTask {
	c := *t
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.ScheduledAt != nil {
		at := *t.ScheduledAt
		c.ScheduledAt = &at
	}
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return &c
}
