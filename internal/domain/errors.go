package domain

import "fmt"

// ErrorKind clasifica el motivo terminal de una tarea fallida
type ErrorKind string

const (
	KindDuplicateInProgress ErrorKind = "duplicate_in_progress"
	KindAuthRequired        ErrorKind = "auth_required"
	KindAuthProbeError      ErrorKind = "auth_probe_error"
	KindUploadFailed        ErrorKind = "upload_failed"
	KindUploadExhausted     ErrorKind = "upload_exhausted"
	KindScheduleFailed      ErrorKind = "schedule_failed"
	KindPublishFailed       ErrorKind = "publish_failed"
	KindCancelled           ErrorKind = "cancelled"
	KindTimeout             ErrorKind = "timeout"
	KindInterrupted         ErrorKind = "interrupted"
)

// TaskError acompaña a toda tarea en estado failed
type TaskError struct {
	Kind   ErrorKind `json:"kind"`
	Reason string    `json:"reason"`
}

func (e *TaskError) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// NewTaskError crea un TaskError con motivo formateado
func NewTaskError(kind ErrorKind, format string, args ...any) *TaskError {
	return &TaskError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}
