package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/elsanchez/smart-publish/internal/auth"
	"github.com/elsanchez/smart-publish/internal/automation"
	"github.com/elsanchez/smart-publish/internal/credentials"
	"github.com/elsanchez/smart-publish/internal/publish"
	"github.com/elsanchez/smart-publish/internal/repository"
)

// maxBodyBytes limita el cuerpo de las peticiones
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

// readJSON decodifica el cuerpo con límite de tamaño
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		}
		return v, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError traduce los errores de los servicios a códigos HTTP
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, publish.ErrTaskNotFound),
		errors.Is(err, publish.ErrAccountNotFound),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, credentials.ErrNoCredential):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, publish.ErrTaskFinished),
		errors.Is(err, auth.ErrLoginInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, publish.ErrInvalidRequest),
		errors.Is(err, automation.ErrUnsupportedPlatform):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.Logger.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// idParam lee un parámetro numérico de la ruta
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func requireField(w http.ResponseWriter, value, name string) bool {
	if value == "" {
		writeError(w, http.StatusBadRequest, name+" is required")
		return false
	}
	return true
}
