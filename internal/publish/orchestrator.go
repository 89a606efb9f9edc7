// Package publish ejecuta las tareas de publicación: autenticación, subida
// con reintentos acotados, programación y confirmación.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/elsanchez/smart-publish/internal/auth"
	"github.com/elsanchez/smart-publish/internal/automation"
	"github.com/elsanchez/smart-publish/internal/dedup"
	"github.com/elsanchez/smart-publish/internal/domain"
	"github.com/elsanchez/smart-publish/internal/repository"
	"github.com/elsanchez/smart-publish/internal/schedule"
	"github.com/elsanchez/smart-publish/internal/stream"
)

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrTaskFinished    = errors.New("task already finished")
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidRequest  = errors.New("invalid publish request")

	errCancelled = errors.New("cancelled by client")
	errShutdown  = errors.New("orchestrator stopped")
)

// Config ajusta el orquestador
type Config struct {
	Workers          int
	MaxUploadRetries int
	RetryBackoff     time.Duration
	AuthRetryBackoff time.Duration
	UploadTimeout    time.Duration
	ScheduleTimeout  time.Duration
	ConfirmTimeout   time.Duration
	Retention        time.Duration
	CleanupInterval  time.Duration
	FingerprintMode  dedup.Mode
}

// DefaultConfig retorna los valores por defecto del orquestador
func DefaultConfig() Config {
	return Config{
		Workers:          3,
		MaxUploadRetries: 3,
		RetryBackoff:     2 * time.Second,
		AuthRetryBackoff: 3 * time.Second,
		UploadTimeout:    10 * time.Minute,
		ScheduleTimeout:  time.Minute,
		ConfirmTimeout:   3 * time.Minute,
		Retention:        24 * time.Hour,
		CleanupInterval:  time.Hour,
		FingerprintMode:  dedup.ModePath,
	}
}

// withDefaults completa los campos vacíos
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.MaxUploadRetries < 0 {
		c.MaxUploadRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.AuthRetryBackoff <= 0 {
		c.AuthRetryBackoff = d.AuthRetryBackoff
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = d.UploadTimeout
	}
	if c.ScheduleTimeout <= 0 {
		c.ScheduleTimeout = d.ScheduleTimeout
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = d.ConfirmTimeout
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.FingerprintMode == "" {
		c.FingerprintMode = d.FingerprintMode
	}
	return c
}

// CredentialValidator decide si la credencial de una cuenta sigue sirviendo
type CredentialValidator interface {
	Validate(ctx context.Context, acc *domain.Account) auth.Result
}

// CredentialStore da acceso a las credenciales de las cuentas
type CredentialStore interface {
	Load(ctx context.Context, ref string) ([]byte, error)
	Save(ctx context.Context, ref string, blob []byte) error
}

// Deduper evita publicar el mismo contenido dos veces a la vez
type Deduper interface {
	TryAcquire(fingerprint, holder string) bool
	Release(fingerprint, holder string)
}

// Deps agrupa los colaboradores del orquestador
type Deps struct {
	Tasks       repository.TaskRepository
	Accounts    repository.AccountRepository
	Validator   CredentialValidator
	Credentials CredentialStore
	Automations *automation.Registry
	Dedup       Deduper
	Schedule    *schedule.Calculator
	Hub         *stream.Hub
	Logger      *log.Logger
}

// Orchestrator gestiona el ciclo de vida de las tareas con workers paralelos
type Orchestrator struct {
	tasks       repository.TaskRepository
	accounts    repository.AccountRepository
	validator   CredentialValidator
	creds       CredentialStore
	automations *automation.Registry
	dedup       Deduper
	calc        *schedule.Calculator
	hub         *stream.Hub
	log         *log.Logger
	cfg         Config
	now         func() time.Time

	pool *semaphore.Weighted
	busy atomic.Int32

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[string]*run
	started bool
}

// New crea un orquestador detenido; Start lo pone en marcha
func New(cfg Config, deps Deps) *Orchestrator {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancelCause(context.Background())

	calc := deps.Schedule
	if calc == nil {
		calc = schedule.NewCalculator(schedule.DefaultSlots)
	}
	dd := deps.Dedup
	if dd == nil {
		dd = dedup.NewRegistry()
	}

	return &Orchestrator{
		tasks:       deps.Tasks,
		accounts:    deps.Accounts,
		validator:   deps.Validator,
		creds:       deps.Credentials,
		automations: deps.Automations,
		dedup:       dd,
		calc:        calc,
		hub:         deps.Hub,
		log:         deps.Logger,
		cfg:         cfg,
		now:         time.Now,
		pool:        semaphore.NewWeighted(int64(cfg.Workers)),
		ctx:         ctx,
		cancel:      cancel,
		running:     make(map[string]*run),
	}
}

// Start marca como interrumpidas las tareas que quedaron a medias y lanza
// el limpiador periódico
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already started")
	}
	o.started = true
	o.mu.Unlock()

	if err := o.recover(ctx); err != nil {
		return err
	}

	o.wg.Add(1)
	go o.janitor()

	o.log.Info("orchestrator started", "workers", o.cfg.Workers, "max_upload_retries", o.cfg.MaxUploadRetries)
	return nil
}

// Stop cancela las tareas en curso y espera a que terminen
func (o *Orchestrator) Stop() {
	o.log.Info("orchestrator stopping")
	// Bajo mu: launch no puede registrar un worker después de esto
	o.mu.Lock()
	o.cancel(errShutdown)
	o.mu.Unlock()
	o.wg.Wait()
	o.log.Info("orchestrator stopped")
}

// recover falla con interrupted las tareas no terminales de una ejecución anterior
func (o *Orchestrator) recover(ctx context.Context) error {
	unfinished, err := o.tasks.ListUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("list unfinished tasks: %w", err)
	}

	for _, task := range unfinished {
		task.State = domain.StateFailed
		task.Error = domain.NewTaskError(domain.KindInterrupted, "daemon restarted while task was running")
		task.UpdatedAt = o.now()
		if err := o.tasks.Update(ctx, task); err != nil {
			return fmt.Errorf("mark task %s interrupted: %w", task.ID, err)
		}
		o.publish(task)
	}

	if len(unfinished) > 0 {
		o.log.Warn("recovered interrupted tasks", "count", len(unfinished))
	}
	return nil
}

// janitor borra periódicamente las tareas terminales antiguas
func (o *Orchestrator) janitor() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.Cleanup(o.ctx); err != nil && o.ctx.Err() == nil {
				o.log.Error("cleanup failed", "err", err)
			}
		}
	}
}

// Cleanup elimina las tareas terminales fuera de la ventana de retención
func (o *Orchestrator) Cleanup(ctx context.Context) (int, error) {
	cutoff := o.now().Add(-o.cfg.Retention)
	n, err := o.tasks.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete finished tasks: %w", err)
	}
	if n > 0 {
		o.log.Info("removed expired tasks", "count", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// Get retorna el estado actual de una tarea
func (o *Orchestrator) Get(ctx context.Context, id string) (*domain.PublishTask, error) {
	task, err := o.tasks.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task, err
}

// List retorna las tareas recientes, las más nuevas primero
func (o *Orchestrator) List(ctx context.Context, filter repository.TaskFilter) ([]*domain.PublishTask, error) {
	return o.tasks.List(ctx, filter)
}

// Cancel falla la tarea con cancelled, libera su huella y aborta la sesión
// de automatización en curso
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*domain.PublishTask, error) {
	o.mu.Lock()
	r, ok := o.running[id]
	o.mu.Unlock()

	if !ok {
		task, err := o.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.IsCompleted() {
			return task, fmt.Errorf("%w: %s is %s", ErrTaskFinished, id, task.State)
		}
		// Tarea huérfana sin worker; sólo queda marcarla
		task.State = domain.StateFailed
		task.Error = domain.NewTaskError(domain.KindCancelled, "cancelled by client")
		task.UpdatedAt = o.now()
		if err := o.tasks.Update(ctx, task); err != nil {
			return nil, fmt.Errorf("cancel task %s: %w", id, err)
		}
		o.publish(task)
		return task, nil
	}

	if !o.fail(r, domain.NewTaskError(domain.KindCancelled, "cancelled by client")) {
		snap := r.snapshot()
		return snap, fmt.Errorf("%w: %s is %s", ErrTaskFinished, id, snap.State)
	}
	r.cancel(errCancelled)
	r.closeSession()

	o.log.Info("task cancelled", "task", id)
	return r.snapshot(), nil
}

// Stats cuenta tareas por estado y ocupación de workers
type Stats struct {
	ByState     map[domain.TaskState]int `json:"by_state"`
	Workers     int                      `json:"workers"`
	WorkersBusy int                      `json:"workers_busy"`
	Running     int                      `json:"running"`
}

// Stats retorna estadísticas de la cola
func (o *Orchestrator) Stats(ctx context.Context) (*Stats, error) {
	counts, err := o.tasks.CountByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	byState := make(map[domain.TaskState]int, len(domain.AllStates))
	for _, st := range domain.AllStates {
		byState[st] = counts[st]
	}

	o.mu.Lock()
	running := len(o.running)
	o.mu.Unlock()

	return &Stats{
		ByState:     byState,
		Workers:     o.cfg.Workers,
		WorkersBusy: int(o.busy.Load()),
		Running:     running,
	}, nil
}

func (o *Orchestrator) publish(task *domain.PublishTask) {
	if o.hub == nil {
		return
	}
	o.hub.Publish(domain.Event{
		Topic:    domain.TaskTopic(task.ID),
		Type:     domain.EventTaskState,
		Terminal: task.State.IsTerminal(),
		Data: domain.TaskEvent{
			TaskID:   task.ID,
			State:    task.State,
			Attempts: task.Attempts,
			Error:    task.Error,
			Result:   task.Result,
		},
	})
}
