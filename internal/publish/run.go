package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/elsanchez/smart-publish/internal/auth"
	"github.com/elsanchez/smart-publish/internal/automation"
	"github.com/elsanchez/smart-publish/internal/domain"
)

// saveSessionTimeout acota el guardado de la sesión tras publicar
const saveSessionTimeout = 30 * time.Second

// run es la ejecución en vuelo de una tarea
type run struct {
	holder string
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu      sync.Mutex
	task    *domain.PublishTask
	session automation.Session

	release sync.Once
}

func (o *Orchestrator) newRun(task *domain.PublishTask, holder string) *run {
	ctx, cancel := context.WithCancelCause(o.ctx)
	return &run{holder: holder, ctx: ctx, cancel: cancel, task: task.Clone()}
}

func (r *run) snapshot() *domain.PublishTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.task.Clone()
}

func (r *run) attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.task.Attempts
}

// attach registra la sesión viva; falla si la tarea ya terminó
func (r *run) attach(s automation.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.task.State.IsTerminal() {
		return false
	}
	r.session = s
	return true
}

func (r *run) closeSession() {
	r.mu.Lock()
	s := r.session
	r.session = nil
	r.mu.Unlock()

	if s != nil {
		s.Close()
	}
}

// advance valida y aplica una transición, la persiste y la publica. Al
// entrar en un estado terminal libera la huella, una sola vez por tarea.
func (o *Orchestrator) advance(r *run, to domain.TaskState, mutate func(*domain.PublishTask)) bool {
	r.mu.Lock()
	from := r.task.State
	if !domain.CanTransition(from, to) {
		r.mu.Unlock()
		return false
	}
	r.task.State = to
	if mutate != nil {
		mutate(r.task)
	}
	r.task.UpdatedAt = o.now()
	snap := r.task.Clone()

	// La huella queda libre antes de que nadie vea el estado terminal
	if to.IsTerminal() {
		r.release.Do(func() {
			o.dedup.Release(snap.Fingerprint, r.holder)
		})
	}

	if err := o.tasks.Update(context.WithoutCancel(r.ctx), snap); err != nil {
		o.log.Error("persist task state", "task", snap.ID, "state", to, "err", err)
	}
	o.publish(snap)
	r.mu.Unlock()

	o.log.Debug("task state", "task", snap.ID, "from", from, "to", to, "attempts", snap.Attempts)
	return true
}

func (o *Orchestrator) fail(r *run, terr *domain.TaskError) bool {
	ok := o.advance(r, domain.StateFailed, func(t *domain.PublishTask) {
		t.Error = terr
	})
	if ok {
		o.log.Warn("task failed", "task", r.task.ID, "kind", terr.Kind, "reason", terr.Reason)
	}
	return ok
}

func (o *Orchestrator) forget(r *run) {
	o.mu.Lock()
	delete(o.running, r.task.ID)
	o.mu.Unlock()
}

// interruption traduce la causa de cancelación de la tarea
func (o *Orchestrator) interruption(r *run) *domain.TaskError {
	if errors.Is(context.Cause(r.ctx), errShutdown) {
		return domain.NewTaskError(domain.KindInterrupted, "daemon stopped while task was running")
	}
	return domain.NewTaskError(domain.KindCancelled, "cancelled by client")
}

var phaseNames = map[domain.ErrorKind]string{
	domain.KindUploadFailed:   "upload",
	domain.KindScheduleFailed: "schedule",
	domain.KindPublishFailed:  "publish",
}

// classify asigna el tipo de error de una fase: cancelación, timeout de la
// fase o el fallo propio de la fase
func (o *Orchestrator) classify(r *run, phase context.Context, limit time.Duration, kind domain.ErrorKind, err error) *domain.TaskError {
	if r.ctx.Err() != nil {
		return o.interruption(r)
	}
	if phase != nil && errors.Is(phase.Err(), context.DeadlineExceeded) {
		return domain.NewTaskError(domain.KindTimeout, "%s phase exceeded %s", phaseNames[kind], limit)
	}
	return domain.NewTaskError(kind, "%v", err)
}

// execute espera un slot de worker y recorre las fases de la tarea
func (o *Orchestrator) execute(r *run) {
	defer o.wg.Done()
	defer o.forget(r)
	defer r.cancel(nil)

	if err := o.pool.Acquire(r.ctx, 1); err != nil {
		o.fail(r, o.interruption(r))
		return
	}
	defer o.pool.Release(1)

	o.busy.Add(1)
	defer o.busy.Add(-1)

	o.process(r)
}

func (o *Orchestrator) process(r *run) {
	task := r.snapshot()

	if !o.advance(r, domain.StateAuthenticating, nil) {
		return
	}

	acc, err := o.accounts.GetByID(r.ctx, task.AccountID)
	if err != nil {
		o.fail(r, o.classify(r, nil, 0, domain.KindAuthRequired, fmt.Errorf("load account %d: %w", task.AccountID, err)))
		return
	}
	if terr := o.authenticate(r, acc); terr != nil {
		o.fail(r, terr)
		return
	}

	adapter, err := o.automations.Get(acc.Platform)
	if err != nil {
		o.fail(r, domain.NewTaskError(domain.KindAuthProbeError, "%v", err))
		return
	}
	blob, err := o.creds.Load(r.ctx, acc.CredentialRef)
	if err != nil {
		o.fail(r, o.classify(r, nil, 0, domain.KindAuthRequired, fmt.Errorf("load credential: %w", err)))
		return
	}

	if !o.advance(r, domain.StateUploading, nil) {
		return
	}

	// El límite de la fase de subida cubre también abrir la sesión
	uctx, ucancel := context.WithTimeout(r.ctx, o.cfg.UploadTimeout)
	defer ucancel()

	sess, err := adapter.OpenSession(uctx, blob)
	if err != nil {
		o.fail(r, o.classify(r, uctx, o.cfg.UploadTimeout, domain.KindUploadFailed, fmt.Errorf("open session: %w", err)))
		return
	}
	if !r.attach(sess) {
		sess.Close()
		return
	}
	defer r.closeSession()

	if terr := o.upload(uctx, r, adapter, sess, task.ContentPath); terr != nil {
		o.fail(r, terr)
		return
	}
	ucancel()

	if task.ScheduledAt != nil {
		if !o.advance(r, domain.StateScheduling, nil) {
			return
		}
		if terr := o.schedule(r, adapter, sess, *task.ScheduledAt); terr != nil {
			o.fail(r, terr)
			return
		}
	}

	if !o.advance(r, domain.StatePublishing, nil) {
		return
	}
	ref, terr := o.confirm(r, adapter, sess, automation.Metadata{Title: task.Title, Tags: task.Tags})
	if terr != nil {
		o.fail(r, terr)
		return
	}

	o.saveSession(r, adapter, sess, acc)

	if o.advance(r, domain.StateCompleted, func(t *domain.PublishTask) {
		t.Result = &domain.PublishResult{RemoteID: ref.ID, URL: ref.URL}
	}) {
		o.log.Info("task completed", "task", task.ID, "remote_id", ref.ID, "attempts", r.attempts())
	}
}

// authenticate valida la credencial; un error del chequeo se reintenta una
// vez tras AuthRetryBackoff
func (o *Orchestrator) authenticate(r *run, acc *domain.Account) *domain.TaskError {
	var res auth.Result
	backoff := retry.WithMaxRetries(1, retry.NewConstant(o.cfg.AuthRetryBackoff))

	err := retry.Do(r.ctx, backoff, func(ctx context.Context) error {
		res = o.validator.Validate(ctx, acc)
		if res.Verdict == auth.VerdictError {
			return retry.RetryableError(errors.New(res.Reason))
		}
		return nil
	})
	if err != nil {
		if r.ctx.Err() != nil {
			return o.interruption(r)
		}
		return domain.NewTaskError(domain.KindAuthProbeError, "credential check failed: %s", res.Reason)
	}

	if res.Verdict == auth.VerdictInvalid {
		return domain.NewTaskError(domain.KindAuthRequired,
			"%s; log in again to %s account %q", res.Reason, acc.Platform, acc.Label)
	}
	return nil
}

// upload sube el archivo. ErrNeedsRetry lo vuelve a enviar hasta
// MaxUploadRetries veces pasando por retrying; ctx lleva el límite de
// UploadTimeout de toda la fase.
func (o *Orchestrator) upload(ctx context.Context, r *run, adapter automation.PlatformAutomation, sess automation.Session, path string) *domain.TaskError {
	limit := o.cfg.MaxUploadRetries
	backoff := retry.WithMaxRetries(uint64(limit), retry.NewConstant(o.cfg.RetryBackoff))

	first := true
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if !first && !o.advance(r, domain.StateUploading, nil) {
			return errors.New("task left the upload phase")
		}
		first = false

		err := adapter.UploadFile(ctx, sess, path)
		if err == nil || ctx.Err() != nil {
			return err
		}

		attempts := r.attempts()
		if attempts >= limit {
			return domain.NewTaskError(domain.KindUploadExhausted,
				"upload still failing after %d re-submissions: %v", attempts, err)
		}
		if !errors.Is(err, automation.ErrNeedsRetry) {
			return domain.NewTaskError(domain.KindUploadFailed, "%v", err)
		}

		if !o.advance(r, domain.StateRetrying, func(t *domain.PublishTask) { t.Attempts++ }) {
			return errors.New("task left the upload phase")
		}
		o.log.Warn("upload needs re-submission", "task", r.task.ID, "attempt", attempts+1, "max", limit, "err", err)
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}

	var terr *domain.TaskError
	if errors.As(err, &terr) {
		return terr
	}
	return o.classify(r, ctx, o.cfg.UploadTimeout, domain.KindUploadFailed, err)
}

func (o *Orchestrator) schedule(r *run, adapter automation.PlatformAutomation, sess automation.Session, at time.Time) *domain.TaskError {
	ctx, cancel := context.WithTimeout(r.ctx, o.cfg.ScheduleTimeout)
	defer cancel()

	if err := adapter.SetSchedule(ctx, sess, at); err != nil {
		return o.classify(r, ctx, o.cfg.ScheduleTimeout, domain.KindScheduleFailed, err)
	}
	return nil
}

func (o *Orchestrator) confirm(r *run, adapter automation.PlatformAutomation, sess automation.Session, meta automation.Metadata) (automation.RemoteRef, *domain.TaskError) {
	ctx, cancel := context.WithTimeout(r.ctx, o.cfg.ConfirmTimeout)
	defer cancel()

	ref, err := adapter.Confirm(ctx, sess, meta)
	if err != nil {
		return ref, o.classify(r, ctx, o.cfg.ConfirmTimeout, domain.KindPublishFailed, err)
	}
	return ref, nil
}

// saveSession guarda la sesión renovada; un fallo no afecta a la tarea
func (o *Orchestrator) saveSession(r *run, adapter automation.PlatformAutomation, sess automation.Session, acc *domain.Account) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), saveSessionTimeout)
	defer cancel()

	blob, err := adapter.SaveSession(ctx, sess)
	if err != nil {
		o.log.Warn("save session failed", "account", acc.ID, "err", err)
		return
	}
	if len(blob) == 0 {
		return
	}
	if err := o.creds.Save(ctx, acc.CredentialRef, blob); err != nil {
		o.log.Warn("store refreshed session failed", "account", acc.ID, "err", err)
	}
}
