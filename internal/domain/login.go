package domain

import "time"

// LoginState representa la fase de una sesión de login interactiva
type LoginState string

const (
	LoginOpening      LoginState = "opening"
	LoginAwaitingScan LoginState = "awaiting_scan"
	LoginConfirmed    LoginState = "confirmed"
	LoginPersisted    LoginState = "persisted"
	LoginTimedOut     LoginState = "timed_out"
	LoginFailed       LoginState = "failed"
)

// IsTerminal retorna true cuando la sesión ya emitió su evento final
func (s LoginState) IsTerminal() bool {
	return s == LoginPersisted || s == LoginTimedOut || s == LoginFailed
}

// LoginSession es el estado observable de un login en curso
type LoginSession struct {
	ID        string     `json:"id"`
	Platform  string     `json:"platform"`
	Label     string     `json:"label"`
	State     LoginState `json:"state"`
	Reason    string     `json:"reason,omitempty"`
	StartedAt time.Time  `json:"started_at"`
}
