package daemon

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// APIPrefix es la raíz de todas las rutas
const APIPrefix = "/api/v1"

// NewRouter registra las rutas de la API
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(h.logRequests)

	r.Route(APIPrefix, func(r chi.Router) {
		r.Get("/ping", h.Ping)
		r.Get("/stats", h.Stats)

		// Publicación
		r.Post("/publish", h.Publish)
		r.Post("/publish/batch", h.PublishBatch)
		r.Get("/publish/tasks", h.ListTasks)
		r.Get("/publish/{taskId}", h.GetTask)
		r.Post("/publish/{taskId}/cancel", h.CancelTask)

		// Cuentas
		r.Get("/accounts", h.ListAccounts)
		r.Post("/accounts/import", h.ImportAccount)
		r.Post("/accounts/{id}/validate", h.ValidateAccount)
		r.Get("/accounts/{id}/export", h.ExportAccount)
		r.Delete("/accounts/{id}", h.DeleteAccount)

		// Streams
		r.Get("/login", h.Login)
		r.Get("/events", h.Events)
	})

	return r
}

// logRequests registra cada petición con su estado y duración
func (h *Handlers) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		h.Logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}
