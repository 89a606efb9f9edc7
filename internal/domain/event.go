package domain

import "time"

// Tipos de eventos emitidos al hub de estado
const (
	EventTaskState = "task_state"
	EventChallenge = "challenge"
	EventSuccess   = "success"
	EventFailed    = "failed"
	EventTimeout   = "timeout"
)

// Event es una notificación de progreso para suscriptores
type Event struct {
	Topic    string    `json:"topic"`
	Type     string    `json:"type"`
	Terminal bool      `json:"terminal"`
	Data     any       `json:"data,omitempty"`
	At       time.Time `json:"at"`
}

// TaskTopic es el tópico de eventos de una tarea
func TaskTopic(id string) string { return "task:" + id }

// LoginTopic es el tópico de eventos de una sesión de login
func LoginTopic(id string) string { return "login:" + id }

// TaskEvent es el payload de EventTaskState
type TaskEvent struct {
	TaskID   string         `json:"task_id"`
	State    TaskState      `json:"state"`
	Attempts int            `json:"attempts"`
	Error    *TaskError     `json:"error,omitempty"`
	Result   *PublishResult `json:"result,omitempty"`
}

// LoginEvent es el payload de los eventos de login
type LoginEvent struct {
	SessionID string `json:"session_id"`
	Platform  string `json:"platform"`
	Label     string `json:"label"`
	Challenge string `json:"challenge,omitempty"`
	AccountID int64  `json:"account_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
