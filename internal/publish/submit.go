package publish

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/elsanchez/smart-publish/internal/dedup"
	"github.com/elsanchez/smart-publish/internal/domain"
	"github.com/elsanchez/smart-publish/internal/repository"
	"github.com/elsanchez/smart-publish/internal/schedule"
)

// Request pide publicar un archivo en una cuenta
type Request struct {
	ContentPath string            `json:"content_path"`
	AccountID   int64             `json:"account_id"`
	Title       string            `json:"title,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Cadence     *schedule.Cadence `json:"cadence,omitempty"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
}

// BatchRequest agrupa varias publicaciones. Items explícitos, o el
// producto cruzado de Files por AccountIDs con título y tags comunes.
type BatchRequest struct {
	Items      []Request        `json:"items,omitempty"`
	Files      []string         `json:"files,omitempty"`
	AccountIDs []int64          `json:"account_ids,omitempty"`
	Title      string           `json:"title,omitempty"`
	Tags       []string         `json:"tags,omitempty"`
	Cadence    schedule.Cadence `json:"cadence"`
}

// Pairs expande el lote en orden: archivo por archivo, cada uno a todas
// las cuentas
func (b BatchRequest) Pairs() []Request {
	if len(b.Items) > 0 {
		return b.Items
	}
	pairs := make([]Request, 0, len(b.Files)*len(b.AccountIDs))
	for _, file := range b.Files {
		for _, id := range b.AccountIDs {
			pairs = append(pairs, Request{
				ContentPath: file,
				AccountID:   id,
				Title:       b.Title,
				Tags:        b.Tags,
			})
		}
	}
	return pairs
}

// prepared es una petición validada
type prepared struct {
	req         Request
	account     *domain.Account
	fingerprint string

	// repeated marca un par (huella, cuenta) que ya apareció antes en el lote
	repeated bool
}

// Submit registra una tarea y la encola. Un duplicado no es un error de la
// llamada: la tarea vuelve ya fallida con duplicate_in_progress.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*domain.PublishTask, error) {
	p, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	at := req.ScheduledAt
	if at == nil && req.Cadence != nil {
		times, err := o.calc.Calculate(1, *req.Cadence, o.now())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		at = times[0]
	}

	id := uuid.NewString()
	return o.launch(ctx, id, id, p, at)
}

// SubmitBatch crea una tarea por par (archivo, cuenta) con su hora de la
// cadencia. Todas comparten la reclamación de dedup del lote; un par
// repetido falla con duplicate_in_progress. Si un alta falla a mitad, las
// tareas ya lanzadas vuelven junto con el error.
func (o *Orchestrator) SubmitBatch(ctx context.Context, batch BatchRequest) ([]*domain.PublishTask, error) {
	pairs := batch.Pairs()
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: batch has no items", ErrInvalidRequest)
	}

	times, err := o.calc.Calculate(len(pairs), batch.Cadence, o.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	// Validación en paralelo; el hash de contenido puede ser lento
	preps := make([]*prepared, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for i, req := range pairs {
		g.Go(func() error {
			p, err := o.prepare(gctx, req)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			preps[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	batchID := "batch:" + uuid.NewString()
	seen := make(map[string]bool, len(preps))
	tasks := make([]*domain.PublishTask, 0, len(preps))
	for i, p := range preps {
		key := fmt.Sprintf("%s|%d", p.fingerprint, p.account.ID)
		p.repeated = seen[key]
		seen[key] = true

		task, err := o.launch(ctx, uuid.NewString(), batchID, p, times[i])
		if err != nil {
			return tasks, err
		}
		tasks = append(tasks, task)
	}

	o.log.Info("batch submitted", "batch", batchID, "tasks", len(tasks), "timed", batch.Cadence.Enabled)
	return tasks, nil
}

func (o *Orchestrator) prepare(ctx context.Context, req Request) (*prepared, error) {
	if strings.TrimSpace(req.ContentPath) == "" {
		return nil, fmt.Errorf("%w: content_path is required", ErrInvalidRequest)
	}
	if req.AccountID <= 0 {
		return nil, fmt.Errorf("%w: account_id is required", ErrInvalidRequest)
	}

	acc, err := o.accounts.GetByID(ctx, req.AccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrAccountNotFound, req.AccountID)
	}
	if err != nil {
		return nil, fmt.Errorf("load account %d: %w", req.AccountID, err)
	}

	fp, err := dedup.Fingerprint(req.ContentPath, o.cfg.FingerprintMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if req.Title == "" {
		base := filepath.Base(req.ContentPath)
		req.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	req.Tags = normalizeTags(req.Tags)

	return &prepared{req: req, account: acc, fingerprint: fp}, nil
}

// launch registra la ejecución, persiste la tarea en pending, intenta
// reclamar su huella y arranca el worker. La ejecución queda en running
// antes de existir en el repositorio, así Cancel siempre pasa por ella.
func (o *Orchestrator) launch(ctx context.Context, id, holder string, p *prepared, at *time.Time) (*domain.PublishTask, error) {
	now := o.now()
	task := &domain.PublishTask{
		ID:          id,
		Fingerprint: p.fingerprint,
		ContentPath: p.req.ContentPath,
		AccountID:   p.account.ID,
		Platform:    p.account.Platform,
		Title:       p.req.Title,
		Tags:        p.req.Tags,
		State:       domain.StatePending,
		ScheduledAt: at,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Un par repetido no comparte la reclamación: al fallar no debe soltarla
	if p.repeated {
		holder = id
	}
	r := o.newRun(task, holder)
	o.mu.Lock()
	o.running[task.ID] = r
	o.mu.Unlock()

	if err := o.tasks.Create(ctx, task); err != nil {
		o.forget(r)
		r.cancel(nil)
		return nil, fmt.Errorf("create task: %w", err)
	}
	o.announce(ctx, r)

	switch {
	case p.repeated:
		o.abandon(r, domain.NewTaskError(domain.KindDuplicateInProgress,
			"%s is listed more than once for account %d", task.ContentPath, task.AccountID))
		return r.snapshot(), nil
	case !o.acquire(r):
		o.abandon(r, domain.NewTaskError(domain.KindDuplicateInProgress,
			"%s is already being published by another task", task.ContentPath))
		return r.snapshot(), nil
	}

	o.mu.Lock()
	if o.ctx.Err() != nil {
		o.mu.Unlock()
		o.abandon(r, domain.NewTaskError(domain.KindInterrupted, "orchestrator is stopping"))
		return r.snapshot(), nil
	}
	o.wg.Add(1)
	o.mu.Unlock()

	o.log.Info("task submitted", "task", task.ID, "account", task.AccountID, "path", task.ContentPath, "scheduled", at != nil)

	go o.execute(r)
	return r.snapshot(), nil
}

// announce publica el pending recién creado. Un Cancel que llegó durante
// Create ya dejó la ejecución en failed; su Update pudo adelantarse a la
// fila, así que se vuelve a persistir el estado terminal.
func (o *Orchestrator) announce(ctx context.Context, r *run) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.task.State == domain.StatePending {
		o.publish(r.task.Clone())
		return
	}
	if err := o.tasks.Update(context.WithoutCancel(ctx), r.task.Clone()); err != nil {
		o.log.Error("persist task state", "task", r.task.ID, "state", r.task.State, "err", err)
	}
}

// acquire reclama la huella bajo r.mu. Una tarea ya terminal no reclama;
// una que termine después la libera en advance.
func (o *Orchestrator) acquire(r *run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.task.State.IsTerminal() {
		return false
	}
	return o.dedup.TryAcquire(r.task.Fingerprint, r.holder)
}

// abandon falla una tarea que nunca llegó a tener worker
func (o *Orchestrator) abandon(r *run, terr *domain.TaskError) {
	o.fail(r, terr)
	o.forget(r)
	r.cancel(nil)
}

func normalizeTags(tags []string) []string {
	var out []string
	for _, tag := range tags {
		tag = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(tag), "#"))
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
